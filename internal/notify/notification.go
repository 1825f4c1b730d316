package notify

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Priority determines queue ordering and the default channel set.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Rank returns the ordering rank for the priority. Lower ranks are
// dispatched first.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	default:
		return 2
	}
}

// IsValid returns true if the priority is one of the known values
func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// ParsePriority converts a string to a Priority, defaulting to medium for
// unknown values.
func ParsePriority(s string) Priority {
	p := Priority(s)
	if !p.IsValid() {
		return PriorityMedium
	}
	return p
}

// Channel identifies a delivery transport kind. The set is open: handlers
// for new kinds register into the service without touching dispatch.
type Channel string

const (
	ChannelTelegram  Channel = "telegram"
	ChannelEmail     Channel = "email"
	ChannelSlack     Channel = "slack"
	ChannelPagerDuty Channel = "pagerduty"
	ChannelWebhook   Channel = "webhook"
)

// DefaultChannels returns the channel set used when the caller does not
// specify one. Critical alerts page, high alerts also hit team chat, and
// everything else goes to the primary chat channel only.
func DefaultChannels(priority Priority) []Channel {
	switch priority {
	case PriorityCritical:
		return []Channel{ChannelTelegram, ChannelPagerDuty, ChannelSlack}
	case PriorityHigh:
		return []Channel{ChannelTelegram, ChannelSlack}
	default:
		return []Channel{ChannelTelegram}
	}
}

// Notification is one unit of alert delivery. It lives in the priority
// queue until fully dispatched or dead-lettered. The queue and the service
// are the only mutators: retry bookkeeping and channel narrowing on partial
// failure.
type Notification struct {
	ID         string            `json:"id"`
	Title      string            `json:"title"`
	Message    string            `json:"message"`
	Priority   Priority          `json:"priority"`
	Channels   []Channel         `json:"channels"`
	Metadata   map[string]string `json:"metadata"`
	CreatedAt  time.Time         `json:"created_at"`
	RetryCount int               `json:"retry_count"`
	MaxRetries int               `json:"max_retries"`
}

// NewNotification builds a notification with a content-derived ID and the
// default retry budget.
func NewNotification(title, message string, priority Priority, channels []Channel, metadata map[string]string) *Notification {
	if len(channels) == 0 {
		channels = DefaultChannels(priority)
	}
	if metadata == nil {
		metadata = make(map[string]string)
	}

	now := time.Now()
	return &Notification{
		ID:         notificationID(title, message, now),
		Title:      title,
		Message:    message,
		Priority:   priority,
		Channels:   channels,
		Metadata:   metadata,
		CreatedAt:  now,
		RetryCount: 0,
		MaxRetries: DefaultMaxRetries,
	}
}

// DefaultMaxRetries is the retry budget before a notification is moved to
// the failed store.
const DefaultMaxRetries = 3

func notificationID(title, message string, at time.Time) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s%s%d", title, message, at.UnixNano())))
	return hex.EncodeToString(sum[:])[:12]
}

// Marshal serializes the notification for the queue store
func (n *Notification) Marshal() (string, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return "", fmt.Errorf("failed to marshal notification %s: %w", n.ID, err)
	}
	return string(data), nil
}

// UnmarshalNotification decodes a queue record back into a notification
func UnmarshalNotification(data string) (*Notification, error) {
	var n Notification
	if err := json.Unmarshal([]byte(data), &n); err != nil {
		return nil, fmt.Errorf("failed to unmarshal notification: %w", err)
	}
	return &n, nil
}
