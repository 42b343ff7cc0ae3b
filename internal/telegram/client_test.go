package telegram

import (
	"errors"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/firewatch/internal/models"
)

// fakeBot records messages and fails the first failN sends.
type fakeBot struct {
	failN int
	calls int
	last  tgbotapi.MessageConfig
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	b.calls++
	if b.calls <= b.failN {
		return tgbotapi.Message{}, errors.New("Too Many Requests: retry after 1")
	}
	b.last = c.(tgbotapi.MessageConfig)
	return tgbotapi.Message{MessageID: b.calls}, nil
}

func testAlert() *models.Alert {
	danger := models.RiskDanger
	return &models.Alert{
		ID:        "a-1",
		Severity:  models.SeverityCritical,
		AlertType: "temperature_escalation",
		Message:   "DANGER fire risk: Temperature 45.0 °C (limit 40)",
		CreatedAt: time.Date(2026, 10, 14, 12, 30, 0, 0, time.UTC),
		Level:     &danger,
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		duration time.Duration
		expected string
	}{
		{1 * time.Hour, "1h"},
		{2 * time.Hour, "2h"},
		{30 * time.Minute, "30m"},
		{1 * time.Minute, "1m"},
		{9 * time.Second, "9s"},
	}

	for _, tt := range tests {
		result := formatDuration(tt.duration)
		if result != tt.expected {
			t.Errorf("formatDuration(%v) = %s, expected %s", tt.duration, result, tt.expected)
		}
	}
}

func TestEscapeMarkdownV2(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain text", "plain text"},
		{"45.0 °C (limit 40)", "45\\.0 °C \\(limit 40\\)"},
		{"co_level > 25!", "co\\_level \\> 25\\!"},
		{"a-b+c=d", "a\\-b\\+c\\=d"},
	}
	for _, tt := range tests {
		if got := escapeMarkdownV2(tt.in); got != tt.want {
			t.Errorf("escapeMarkdownV2(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatAlertMessage(t *testing.T) {
	reading := &models.Reading{
		Temperature: models.Value(45),
		Humidity:    models.Missing(),
		CO2Level:    models.Value(500),
		COLevel:     models.Value(3),
		H2Level:     models.Value(1),
	}

	msg := formatAlertMessage(testAlert(), reading)

	for _, want := range []string{
		"🔥 *Fire Risk DANGER*",
		"Temperature 45\\.0 °C \\(limit 40\\)",
		"`temperature_escalation`",
		"2026\\-10\\-14 12:30:00",
		"• Humidity: n/a",
		"• CO2 Level: 500\\.0 ppm",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
}

func TestFormatAlertMessage_Warning(t *testing.T) {
	a := testAlert()
	a.Severity = models.SeverityWarning
	msg := formatAlertMessage(a, nil)
	if !strings.HasPrefix(msg, "🟠 *Fire Risk Warning*") {
		t.Errorf("unexpected header: %s", msg)
	}
	if strings.Contains(msg, "•") {
		t.Error("expected no sensor lines without a reading")
	}
}

func TestSendAlert_Retries(t *testing.T) {
	bot := &fakeBot{failN: 2}
	c, err := newClient(bot, "12345", 3, time.Millisecond)
	if err != nil {
		t.Fatalf("newClient failed: %v", err)
	}

	if err := c.SendAlert(testAlert(), nil); err != nil {
		t.Fatalf("SendAlert failed: %v", err)
	}
	if bot.calls != 3 {
		t.Errorf("Expected 3 attempts, got %d", bot.calls)
	}
	if bot.last.ChatID != 12345 || bot.last.ParseMode != tgbotapi.ModeMarkdownV2 {
		t.Errorf("Unexpected message config: chat=%d mode=%s", bot.last.ChatID, bot.last.ParseMode)
	}
}

func TestSendAlert_GivesUp(t *testing.T) {
	bot := &fakeBot{failN: 10}
	c, _ := newClient(bot, "1", 2, time.Millisecond)

	err := c.SendAlert(testAlert(), nil)
	if err == nil {
		t.Fatal("Expected error after retries exhausted")
	}
	if bot.calls != 2 {
		t.Errorf("Expected 2 attempts, got %d", bot.calls)
	}
}

func TestSendErrorAndRecovery(t *testing.T) {
	bot := &fakeBot{}
	c, _ := newClient(bot, "1", 1, time.Millisecond)

	if err := c.SendError(errors.New("supabase error: status 503")); err != nil {
		t.Fatalf("SendError failed: %v", err)
	}
	if !strings.Contains(bot.last.Text, "status 503") {
		t.Errorf("unexpected error text: %s", bot.last.Text)
	}

	if err := c.SendRecovery(4, 12*time.Second); err != nil {
		t.Fatalf("SendRecovery failed: %v", err)
	}
	if !strings.Contains(bot.last.Text, "after 4 failed cycles \\(12s\\)") {
		t.Errorf("unexpected recovery text: %s", bot.last.Text)
	}
}

func TestNewClient_InvalidChatID(t *testing.T) {
	if _, err := newClient(&fakeBot{}, "not-a-number", 3, time.Second); err == nil {
		t.Error("Expected error for invalid chat ID")
	}
}
