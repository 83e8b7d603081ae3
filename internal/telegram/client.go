// Package telegram sends operator alerts via the Telegram Bot API: pricing
// pass failures, recoveries, and crash-mode toggles.
//
// Messages use MarkdownV2 and are delivered with linear-backoff retries.
package telegram

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// sender is the part of the bot API the client uses.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Client handles Telegram notifications
type Client struct {
	bot            sender
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a new Telegram client
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	return newClient(bot, chatIDInt, maxRetries, retryDelayBase), nil
}

func newClient(bot sender, chatID int64, maxRetries int, retryDelayBase time.Duration) *Client {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}
	return &Client{
		bot:            bot,
		chatID:         chatID,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}
}

// SendError reports the first failure of a pricing pass.
func (c *Client) SendError(err error) error {
	return c.send(formatError(err, time.Now()))
}

// SendRecovery reports that passes succeed again after failures.
func (c *Client) SendRecovery(failures int) error {
	return c.send(formatRecovery(failures, time.Now()))
}

// SendCrash announces crash mode being switched on or off.
func (c *Client) SendCrash(crash bool, at time.Time) error {
	return c.send(formatCrash(crash, at))
}

func (c *Client) send(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2

	// Send with retry
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		_, err := c.bot.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
		if i < c.maxRetries-1 {
			time.Sleep(c.retryDelayBase * time.Duration(i+1))
		}
	}

	return fmt.Errorf("failed to send message after %d retries: %w", c.maxRetries, lastErr)
}

func formatError(err error, at time.Time) string {
	return fmt.Sprintf("⚠️ *Pricing pass failed*\n\n📅 %s\n\n`%s`\n\nPrices hold until the next successful tick\\.",
		escapeMarkdownV2(at.Format("2006-01-02 15:04:05")),
		escapeCode(err.Error()))
}

func formatRecovery(failures int, at time.Time) string {
	noun := "failure"
	if failures != 1 {
		noun = "failures"
	}
	return fmt.Sprintf("✅ *Pricing recovered*\n\n📅 %s\n\nBack to normal after %d consecutive %s\\.",
		escapeMarkdownV2(at.Format("2006-01-02 15:04:05")), failures, noun)
}

func formatCrash(crash bool, at time.Time) string {
	if crash {
		return fmt.Sprintf("📉 *Market crash\\!*\n\n📅 %s\n\nCrash mode is ON: prices fall each tick while demand lasts\\.",
			escapeMarkdownV2(at.Format("15:04:05")))
	}
	return fmt.Sprintf("📈 *Crash over*\n\n📅 %s\n\nCrash mode is OFF\\.",
		escapeMarkdownV2(at.Format("15:04:05")))
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2
func escapeMarkdownV2(text string) string {
	// Characters that need escaping in MarkdownV2:
	// _ * [ ] ( ) ~ ` > # + - = | { } . !
	var b strings.Builder
	b.Grow(len(text))
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}

// escapeCode escapes text placed inside a `code` span, where only ` and \
// are special.
func escapeCode(text string) string {
	r := strings.NewReplacer("\\", "\\\\", "`", "\\`")
	return r.Replace(text)
}
