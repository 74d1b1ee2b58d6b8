package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"market-signal-core/internal/config"
)

// TelegramNotifier sends alerts via the Telegram bot API, grounded on
// koshedutech's TelegramNotifier and alerts.py's _send_telegram_alert
// payload shape.
type TelegramNotifier struct {
	botToken string
	chatID   string
	client   *http.Client
}

func NewTelegramNotifier(cfg config.TelegramConfig) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: cfg.BotToken,
		chatID:   cfg.ChatID,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramNotifier) Name() string { return "telegram" }

func (t *TelegramNotifier) Send(ctx context.Context, a Alert) error {
	text := fmt.Sprintf("*%s*\n\n%s", a.Title, a.Message)
	payload := map[string]interface{}{
		"chat_id":                  t.chatID,
		"text":                     text,
		"parse_mode":               "Markdown",
		"disable_web_page_preview": true,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}
	return nil
}

// SlackNotifier sends alerts via a Slack incoming webhook, grounded on
// alerts.py's _send_slack_alert attachment/color shape.
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
}

func NewSlackNotifier(cfg config.SlackConfig) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: cfg.WebhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *SlackNotifier) Name() string { return "slack" }

func severityColor(sev Severity) string {
	switch sev {
	case Info:
		return "#36a64f"
	case Warning:
		return "#ff9500"
	case Error:
		return "#ff0000"
	case Critical:
		return "#8b0000"
	default:
		return "#808080"
	}
}

func (s *SlackNotifier) Send(ctx context.Context, a Alert) error {
	payload := map[string]interface{}{
		"username":   "market-signal-core",
		"icon_emoji": ":rotating_light:",
		"attachments": []map[string]interface{}{
			{
				"color": severityColor(a.Severity),
				"title": a.Title,
				"text":  a.Message,
				"fields": []map[string]interface{}{
					{"title": "level", "value": string(a.Severity), "short": true},
					{"title": "component", "value": a.Component, "short": true},
					{"title": "timestamp", "value": a.Timestamp.Format(time.RFC3339), "short": true},
				},
				"footer": "market-signal-core",
				"ts":     a.Timestamp.Unix(),
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send slack message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// EmailNotifier sends alerts via SMTP, grounded directly on the
// teacher's internal/services/email.go SendEmail (net/smtp.SendMail +
// smtp.PlainAuth + manual RFC822 header construction).
type EmailNotifier struct {
	cfg config.EmailConfig
}

func NewEmailNotifier(cfg config.EmailConfig) *EmailNotifier {
	return &EmailNotifier{cfg: cfg}
}

func (e *EmailNotifier) Name() string { return "email" }

func (e *EmailNotifier) Send(ctx context.Context, a Alert) error {
	if e.cfg.Username == "" || e.cfg.Password == "" {
		return fmt.Errorf("email credentials not configured")
	}

	auth := smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.SMTPHost)
	to := strings.Join(e.cfg.Recipients, ",")

	msg := []byte(fmt.Sprintf("To: %s\r\n"+
		"From: %s <%s>\r\n"+
		"Subject: [%s] %s\r\n"+
		"Content-Type: text/plain; charset=UTF-8\r\n"+
		"\r\n"+
		"%s\r\n",
		to, e.cfg.FromName, e.cfg.FromAddress, strings.ToUpper(string(a.Severity)), a.Title, a.Message))

	err := smtp.SendMail(
		fmt.Sprintf("%s:%d", e.cfg.SMTPHost, e.cfg.SMTPPort),
		auth,
		e.cfg.FromAddress,
		e.cfg.Recipients,
		msg,
	)
	if err != nil {
		return fmt.Errorf("failed to send alert email: %w", err)
	}
	return nil
}

// WebhookNotifier posts the alert as JSON to an arbitrary URL, the
// Non-goals-scoped "generic webhook" channel named in spec §6.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

func NewWebhookNotifier(cfg config.WebhookConfig) *WebhookNotifier {
	return &WebhookNotifier{url: cfg.URL, client: &http.Client{Timeout: 10 * time.Second}}
}

func (w *WebhookNotifier) Name() string { return "webhook" }

func (w *WebhookNotifier) Send(ctx context.Context, a Alert) error {
	payload := map[string]interface{}{
		"severity":  a.Severity,
		"component": a.Component,
		"title":     a.Title,
		"message":   a.Message,
		"fields":    a.Fields,
		"timestamp": a.Timestamp.Format(time.RFC3339),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
