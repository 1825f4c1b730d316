package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/opspulse/opspulse/pkg/config"
	"github.com/opspulse/opspulse/pkg/errors"
)

// Handler delivers a notification over one transport kind. Implementations
// must distinguish missing configuration (a not-configured error, which the
// service skips without retrying) from a transport failure (which the
// service retries with backoff).
type Handler interface {
	Send(ctx context.Context, n *Notification) error
	Kind() Channel
}

const pagerDutyEventsURL = "https://events.pagerduty.com/v2/enqueue"

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

// priorityEmoji maps priority to the marker prefixed to chat messages
func priorityEmoji(p Priority) string {
	switch p {
	case PriorityCritical:
		return "\U0001F6A8"
	case PriorityHigh:
		return "⚠️"
	case PriorityLow:
		return "ℹ️"
	default:
		return "\U0001F4E2"
	}
}

// priorityColor maps priority to the attachment color used by team chat
func priorityColor(p Priority) string {
	switch p {
	case PriorityCritical:
		return "#FF0000"
	case PriorityHigh:
		return "#FFA500"
	case PriorityMedium:
		return "#FFFF00"
	case PriorityLow:
		return "#00FF00"
	default:
		return "#808080"
	}
}

// prioritySeverity maps priority to the paging-service severity scale
func prioritySeverity(p Priority) string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "error"
	case PriorityLow:
		return "info"
	default:
		return "warning"
	}
}

// TelegramHandler delivers notifications through the Telegram bot API
type TelegramHandler struct {
	botToken string
	chatID   string
	client   *http.Client
}

// NewTelegramHandler creates a Telegram channel handler
func NewTelegramHandler(cfg *config.NotifyConfig) *TelegramHandler {
	return &TelegramHandler{
		botToken: cfg.TelegramBotToken,
		chatID:   cfg.TelegramChatID,
		client:   newHTTPClient(),
	}
}

// Kind returns the channel kind
func (h *TelegramHandler) Kind() Channel {
	return ChannelTelegram
}

// Send posts the notification as a Markdown message to the configured chat
func (h *TelegramHandler) Send(ctx context.Context, n *Notification) error {
	if h.botToken == "" || h.chatID == "" {
		return errors.NewNotConfiguredError("telegram")
	}

	text := fmt.Sprintf("%s *%s*\n\n%s", priorityEmoji(n.Priority), n.Title, n.Message)
	payload := map[string]interface{}{
		"chat_id":    h.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", h.botToken)
	return postJSON(ctx, h.client, "telegram", url, payload)
}

// EmailHandler delivers notifications over SMTP
type EmailHandler struct {
	host     string
	port     int
	user     string
	password string
	from     string
	to       []string
}

// NewEmailHandler creates an SMTP channel handler
func NewEmailHandler(cfg *config.NotifyConfig) *EmailHandler {
	var to []string
	for _, addr := range strings.Split(cfg.EmailTo, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			to = append(to, addr)
		}
	}

	return &EmailHandler{
		host:     cfg.SMTPHost,
		port:     cfg.SMTPPort,
		user:     cfg.SMTPUser,
		password: cfg.SMTPPassword,
		from:     cfg.EmailFrom,
		to:       to,
	}
}

// Kind returns the channel kind
func (h *EmailHandler) Kind() Channel {
	return ChannelEmail
}

// Send delivers the notification as a plain-text email
func (h *EmailHandler) Send(ctx context.Context, n *Notification) error {
	if h.host == "" || len(h.to) == 0 {
		return errors.NewNotConfiguredError("email")
	}

	subject := fmt.Sprintf("[OpsPulse %s] %s", strings.ToUpper(string(n.Priority)), n.Title)
	body := fmt.Sprintf(
		"OpsPulse Alert\n\nTitle: %s\nPriority: %s\nTime: %s\n\n%s\n",
		n.Title,
		n.Priority,
		n.CreatedAt.Format(time.RFC3339),
		n.Message,
	)

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s",
		h.from,
		strings.Join(h.to, ", "),
		subject,
		body,
	)

	addr := fmt.Sprintf("%s:%d", h.host, h.port)
	var auth smtp.Auth
	if h.user != "" {
		auth = smtp.PlainAuth("", h.user, h.password, h.host)
	}

	if err := smtp.SendMail(addr, auth, h.from, h.to, []byte(msg)); err != nil {
		return errors.NewTransportError("email", "SMTP send failed").WithCause(err)
	}
	return nil
}

// SlackHandler delivers notifications through an incoming webhook
type SlackHandler struct {
	webhookURL string
	client     *http.Client
}

// NewSlackHandler creates a Slack channel handler
func NewSlackHandler(cfg *config.NotifyConfig) *SlackHandler {
	return &SlackHandler{
		webhookURL: cfg.SlackWebhookURL,
		client:     newHTTPClient(),
	}
}

// Kind returns the channel kind
func (h *SlackHandler) Kind() Channel {
	return ChannelSlack
}

// Send posts the notification as a colored attachment
func (h *SlackHandler) Send(ctx context.Context, n *Notification) error {
	if h.webhookURL == "" {
		return errors.NewNotConfiguredError("slack")
	}

	payload := map[string]interface{}{
		"attachments": []map[string]interface{}{
			{
				"color":  priorityColor(n.Priority),
				"title":  n.Title,
				"text":   n.Message,
				"footer": "OpsPulse",
				"ts":     time.Now().Unix(),
			},
		},
	}

	return postJSON(ctx, h.client, "slack", h.webhookURL, payload)
}

// PagerDutyHandler delivers notifications through the Events API
type PagerDutyHandler struct {
	routingKey string
	eventsURL  string
	client     *http.Client
}

// NewPagerDutyHandler creates a PagerDuty channel handler
func NewPagerDutyHandler(cfg *config.NotifyConfig) *PagerDutyHandler {
	return &PagerDutyHandler{
		routingKey: cfg.PagerDutyRoutingKey,
		eventsURL:  pagerDutyEventsURL,
		client:     newHTTPClient(),
	}
}

// Kind returns the channel kind
func (h *PagerDutyHandler) Kind() Channel {
	return ChannelPagerDuty
}

// Send triggers a PagerDuty event. The notification ID doubles as the
// dedup key so retries of the same alert do not open duplicate incidents.
func (h *PagerDutyHandler) Send(ctx context.Context, n *Notification) error {
	if h.routingKey == "" {
		return errors.NewNotConfiguredError("pagerduty")
	}

	details := map[string]interface{}{"message": n.Message}
	for k, v := range n.Metadata {
		details[k] = v
	}

	payload := map[string]interface{}{
		"routing_key":  h.routingKey,
		"event_action": "trigger",
		"dedup_key":    n.ID,
		"payload": map[string]interface{}{
			"summary":        n.Title,
			"severity":       prioritySeverity(n.Priority),
			"source":         "OpsPulse",
			"custom_details": details,
		},
	}

	return postJSON(ctx, h.client, "pagerduty", h.eventsURL, payload)
}

// WebhookHandler delivers the notification's serialized form to a custom
// endpoint. A per-notification webhook_url metadata entry overrides the
// configured default.
type WebhookHandler struct {
	url    string
	client *http.Client
}

// NewWebhookHandler creates a generic webhook channel handler
func NewWebhookHandler(cfg *config.NotifyConfig) *WebhookHandler {
	return &WebhookHandler{
		url:    cfg.WebhookURL,
		client: newHTTPClient(),
	}
}

// Kind returns the channel kind
func (h *WebhookHandler) Kind() Channel {
	return ChannelWebhook
}

// Send posts the notification JSON to the webhook endpoint
func (h *WebhookHandler) Send(ctx context.Context, n *Notification) error {
	url := n.Metadata["webhook_url"]
	if url == "" {
		url = h.url
	}
	if url == "" {
		return errors.NewNotConfiguredError("webhook")
	}

	return postJSON(ctx, h.client, "webhook", url, n)
}

func postJSON(ctx context.Context, client *http.Client, target, url string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.NewInternalError("failed to marshal payload").WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return errors.NewInternalError("failed to create request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return errors.NewTransportError(target, "request failed").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.NewTransportError(target, fmt.Sprintf("returned status %d", resp.StatusCode))
	}
	return nil
}
