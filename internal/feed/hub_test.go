package feed

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/tapmarket/internal/models"
)

func board(price models.Cents, crash bool) models.Board {
	return models.Board{
		Drinks: []models.Drink{{
			ID: 1, Name: "Pils", Category: models.CategoryAlcoholic,
			Price: price, BasePrice: 250, MinPrice: 180, MaxPrice: 400,
		}},
		Crash: crash,
		At:    time.Date(2026, 10, 18, 21, 0, 0, 0, time.UTC),
	}
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(raw, &msg))
	return msg
}

func TestHub_SendsLatestBoardOnConnect(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	hub.Publish(board(260, false))
	conn := dial(t, srv)

	msg := readMessage(t, conn)
	assert.Equal(t, "board", msg.Type)
	require.Len(t, msg.Data.Drinks, 1)
	assert.Equal(t, 2.6, msg.Data.Drinks[0].Price)
	assert.Equal(t, int64(260), msg.Data.Drinks[0].PriceCents)
	assert.False(t, msg.Data.Crash)
}

func TestHub_BroadcastsToAllSubscribers(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	hub.Publish(board(250, false))
	a := dial(t, srv)
	b := dial(t, srv)
	readMessage(t, a)
	readMessage(t, b)
	assert.Equal(t, 2, hub.Subscribers())

	hub.Publish(board(225, true))
	for _, conn := range []*websocket.Conn{a, b} {
		msg := readMessage(t, conn)
		assert.True(t, msg.Data.Crash)
		assert.Equal(t, int64(225), msg.Data.Drinks[0].PriceCents)
	}
}

func TestHub_RemovesDisconnectedSubscribers(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	hub.Publish(board(250, false))
	conn := dial(t, srv)
	readMessage(t, conn)
	require.Equal(t, 1, hub.Subscribers())

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_CloseDisconnects(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	hub.Publish(board(250, false))
	conn := dial(t, srv)
	readMessage(t, conn)

	hub.Close()
	assert.Equal(t, 0, hub.Subscribers())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)

	// Publishing after close is a no-op.
	hub.Publish(board(240, false))
}
