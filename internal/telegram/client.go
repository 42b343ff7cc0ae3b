// Package telegram provides a client for sending notifications via Telegram Bot API.
// It formats fire risk alerts into MarkdownV2 messages and handles delivery
// with retry logic for reliability.
package telegram

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/firewatch/internal/models"
)

// sender is the subset of the bot API the client needs.
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
	return newClient(bot, chatID, maxRetries, retryDelayBase)
}

func newClient(bot sender, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

// SendAlert sends one alert. reading, when given, adds the sensor values.
func (c *Client) SendAlert(alert *models.Alert, reading *models.Reading) error {
	return c.send(formatAlertMessage(alert, reading))
}

// SendError reports that the feed source started failing.
func (c *Client) SendError(err error) error {
	return c.send(fmt.Sprintf("⚠️ *Sensor feed error*\n\n%s", escapeMarkdownV2(err.Error())))
}

// SendRecovery reports that the feed source recovered.
func (c *Client) SendRecovery(failures int, downtime time.Duration) error {
	return c.send(fmt.Sprintf("✅ *Sensor feed recovered* after %d failed cycles \\(%s\\)",
		failures, escapeMarkdownV2(formatDuration(downtime))))
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

// formatAlertMessage formats an alert into a Telegram message
func formatAlertMessage(alert *models.Alert, reading *models.Reading) string {
	var b strings.Builder

	icon := "🟠"
	title := "Fire Risk Warning"
	if alert.IsCritical() {
		icon = "🔥"
		title = "Fire Risk DANGER"
	}
	fmt.Fprintf(&b, "%s *%s*\n\n", icon, escapeMarkdownV2(title))
	fmt.Fprintf(&b, "%s\n\n", escapeMarkdownV2(alert.Message))
	fmt.Fprintf(&b, "🏷 Type: `%s`\n", alert.AlertType)
	fmt.Fprintf(&b, "📅 Detected: %s\n", escapeMarkdownV2(alert.CreatedAt.Format("2006-01-02 15:04:05")))

	if reading != nil {
		b.WriteString("\n")
		for _, f := range models.Fields {
			m := reading.Get(f)
			value := "n/a"
			if m.Valid {
				value = fmt.Sprintf("%.1f %s", m.Value, f.Unit())
			}
			fmt.Fprintf(&b, "• %s: %s\n", escapeMarkdownV2(f.Label()), escapeMarkdownV2(value))
		}
	}

	return b.String()
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2
func escapeMarkdownV2(text string) string {
	// Characters that need escaping in MarkdownV2:
	// _ * [ ] ( ) ~ ` > # + - = | { } . !
	var b strings.Builder
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	if hours := int(d.Hours()); hours >= 1 {
		return fmt.Sprintf("%dh", hours)
	}
	if mins := int(d.Minutes()); mins >= 1 {
		return fmt.Sprintf("%dm", mins)
	}
	return fmt.Sprintf("%ds", int(d.Seconds()))
}
