// Package client talks to a running tapmarket server over its HTTP API. The
// operator CLI uses it.
package client

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/rewired-gh/tapmarket/internal/models"
)

// Client provides access to the tapmarket API
type Client struct {
	http *resty.Client
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int    `json:"-"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Ticker is one entry of the strongest-drop list.
type Ticker struct {
	models.DrinkView
	Drop      float64 `json:"drop"`
	DropCents int64   `json:"drop_cents"`
}

// NewClient creates a client for the server at baseURL. Reads are retried
// on transport errors and 5xx answers; mutations are sent once.
func NewClient(baseURL string, timeout time.Duration) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(3 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if r == nil || r.Request == nil || r.Request.Method != http.MethodGet {
				return false
			}
			return err != nil || r.StatusCode() >= 500
		})
	return &Client{http: c}
}

func (c *Client) do(ctx context.Context, method, path string, body, result interface{}) error {
	apiErr := &APIError{}
	req := c.http.R().SetContext(ctx).SetError(apiErr)
	if body != nil {
		req.SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		apiErr.Status = resp.StatusCode()
		return apiErr
	}
	return nil
}

// Drinks returns the board.
func (c *Client) Drinks(ctx context.Context) ([]models.Drink, error) {
	var views []models.DrinkView
	if err := c.do(ctx, http.MethodGet, "/drinks", nil, &views); err != nil {
		return nil, fmt.Errorf("failed to fetch drinks: %w", err)
	}
	drinks := make([]models.Drink, 0, len(views))
	for _, v := range views {
		drinks = append(drinks, v.Drink())
	}
	return drinks, nil
}

// Market returns the crash flag.
func (c *Client) Market(ctx context.Context) (models.MarketStatus, error) {
	var status models.MarketStatus
	if err := c.do(ctx, http.MethodGet, "/market", nil, &status); err != nil {
		return status, fmt.Errorf("failed to fetch market status: %w", err)
	}
	return status, nil
}

// Ticker returns the drinks of category trading furthest below base price.
func (c *Client) Ticker(ctx context.Context, category models.Category, limit int) ([]Ticker, error) {
	var out []Ticker
	path := fmt.Sprintf("/ticker?category=%s&limit=%d", category, limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("failed to fetch ticker: %w", err)
	}
	return out, nil
}

// LogSale records qty units of a drink and returns the sale ID.
func (c *Client) LogSale(ctx context.Context, drinkID int64, qty int) (int64, error) {
	var out struct {
		ID int64 `json:"id"`
	}
	body := map[string]interface{}{"drink_id": drinkID, "qty": qty}
	if err := c.do(ctx, http.MethodPost, "/sales", body, &out); err != nil {
		return 0, fmt.Errorf("failed to log sale: %w", err)
	}
	return out.ID, nil
}

// SetPrice sets a drink's price in currency units and returns the stored price.
func (c *Client) SetPrice(ctx context.Context, drinkID int64, price float64) (models.Cents, error) {
	var out struct {
		Price float64 `json:"price"`
	}
	path := "/set-price/" + strconv.FormatInt(drinkID, 10)
	if err := c.do(ctx, http.MethodPost, path, map[string]float64{"price": price}, &out); err != nil {
		return 0, fmt.Errorf("failed to set price: %w", err)
	}
	return models.CentsFromFloat(out.Price), nil
}

// SetLocked freezes or releases a drink's price.
func (c *Client) SetLocked(ctx context.Context, drinkID int64, locked bool) error {
	path := "/lock-drink/" + strconv.FormatInt(drinkID, 10)
	if err := c.do(ctx, http.MethodPost, path, map[string]bool{"locked": locked}, nil); err != nil {
		return fmt.Errorf("failed to update lock: %w", err)
	}
	return nil
}

// SetCrash switches crash mode.
func (c *Client) SetCrash(ctx context.Context, crash bool) (bool, error) {
	var out struct {
		Crash bool `json:"crash"`
	}
	path := "/market/crash/" + strconv.FormatBool(crash)
	if err := c.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return false, fmt.Errorf("failed to switch crash mode: %w", err)
	}
	return out.Crash, nil
}

// History returns a drink's price points, oldest first. limit <= 0 asks for
// everything the server keeps.
func (c *Client) History(ctx context.Context, drinkID int64, limit int) ([]models.PricePoint, error) {
	var out []struct {
		PriceCents int64  `json:"price_cents"`
		TS         int64  `json:"ts"`
		Source     string `json:"source"`
	}
	path := "/history/" + strconv.FormatInt(drinkID, 10)
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("failed to fetch history of drink %d: %w", drinkID, err)
	}
	points := make([]models.PricePoint, 0, len(out))
	for _, p := range out {
		points = append(points, models.PricePoint{
			DrinkID: drinkID,
			Price:   models.Cents(p.PriceCents),
			At:      time.UnixMilli(p.TS),
			Source:  p.Source,
		})
	}
	return points, nil
}

// Sales returns the ledger since the given time.
func (c *Client) Sales(ctx context.Context, since time.Time) ([]models.Sale, error) {
	var out []struct {
		ID      int64 `json:"id"`
		DrinkID int64 `json:"drink_id"`
		Qty     int   `json:"qty"`
		TS      int64 `json:"ts"`
	}
	path := "/sales?since=" + strconv.FormatInt(since.UnixMilli(), 10)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("failed to fetch sales: %w", err)
	}
	sales := make([]models.Sale, 0, len(out))
	for _, s := range out {
		sales = append(sales, models.Sale{ID: s.ID, DrinkID: s.DrinkID, Qty: s.Qty, At: time.UnixMilli(s.TS)})
	}
	return sales, nil
}
