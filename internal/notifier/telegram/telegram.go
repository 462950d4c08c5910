// Package telegram implements a Telegram Bot API notifier
package telegram

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/newthinker/signalflow/internal/alert"
	"github.com/newthinker/signalflow/internal/notifier"
)

const defaultAPIBase = "https://api.telegram.org"

// Telegram implements the Notifier interface for Telegram Bot API
type Telegram struct {
	botToken string
	chatID   string
	apiBase  string
	client   *http.Client
}

// New creates a new Telegram notifier
func New(botToken, chatID string) *Telegram {
	return &Telegram{
		botToken: botToken,
		chatID:   chatID,
		apiBase:  defaultAPIBase,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (t *Telegram) Name() string {
	return "telegram"
}

func (t *Telegram) Init(cfg notifier.Config) error {
	if token, ok := cfg.Params["bot_token"].(string); ok {
		t.botToken = token
	}
	if chatID, ok := cfg.Params["chat_id"].(string); ok {
		t.chatID = chatID
	}
	if base, ok := cfg.Params["api_base"].(string); ok {
		t.apiBase = base
	}

	if t.botToken == "" {
		return fmt.Errorf("telegram: bot_token is required")
	}
	if t.chatID == "" {
		return fmt.Errorf("telegram: chat_id is required")
	}
	if t.apiBase == "" {
		t.apiBase = defaultAPIBase
	}
	if t.client == nil {
		t.client = &http.Client{Timeout: 30 * time.Second}
	}

	return nil
}

func (t *Telegram) Send(a alert.Alert) error {
	return t.sendMessage(t.formatAlert(a))
}

func (t *Telegram) SendBatch(alerts []alert.Alert) error {
	if len(alerts) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("🚨 *%d Portfolio Alerts*\n\n", len(alerts)))

	for i, a := range alerts {
		sb.WriteString(t.formatAlert(a))
		if i < len(alerts)-1 {
			sb.WriteString("\n---\n\n")
		}
	}

	return t.sendMessage(sb.String())
}

func (t *Telegram) formatAlert(a alert.Alert) string {
	var sb strings.Builder

	emoji := "ℹ️"
	switch a.Severity {
	case alert.SeverityCritical:
		emoji = "🔴"
	case alert.SeverityWarning:
		emoji = "🟠"
	}

	sb.WriteString(fmt.Sprintf("%s *%s* - %s\n", emoji, a.Rule, a.Severity))
	sb.WriteString(fmt.Sprintf("📊 Value: %.4g\n", a.Value))

	if a.Message != "" {
		sb.WriteString(fmt.Sprintf("💡 %s\n", a.Message))
	}

	if len(a.Strategies) > 0 {
		sb.WriteString(fmt.Sprintf("🎯 Strategies: %s\n", strings.Join(a.Strategies, ", ")))
	}

	if len(a.Recommended) > 0 {
		sb.WriteString(fmt.Sprintf("🛠 Recommended: %s\n", strings.Join(a.Recommended, "; ")))
	}

	if a.AutoActioned {
		sb.WriteString(fmt.Sprintf("⚙️ Auto action: %s\n", a.AutoAction))
	}

	sb.WriteString(fmt.Sprintf("⏰ Time: %s", a.Time.Format("2006-01-02 15:04:05")))

	return sb.String()
}

func (t *Telegram) sendMessage(text string) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.botToken)

	payload := map[string]any{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telegram: failed to marshal payload: %w", err)
	}

	resp, err := t.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: failed to send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var result map[string]any
		json.NewDecoder(resp.Body).Decode(&result)
		return fmt.Errorf("telegram: API error (status %d): %v", resp.StatusCode, result)
	}

	return nil
}
