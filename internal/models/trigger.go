package models

import "time"

// TriggerKind discriminates the notification sink a Trigger dispatches to.
type TriggerKind string

const (
	TriggerSlack    TriggerKind = "Slack"
	TriggerDiscord  TriggerKind = "Discord"
	TriggerTelegram TriggerKind = "Telegram"
	TriggerEmail    TriggerKind = "Email"
	TriggerWebhook  TriggerKind = "Webhook"
	TriggerScript   TriggerKind = "Script"
)

// RetryConfig bounds the per-trigger retry policy used by TriggerDispatcher
// when a Notifier reports a retryable failure.
type RetryConfig struct {
	MaxRetries      int           `json:"max_retries"`
	InitialInterval time.Duration `json:"initial_interval"`
	MaxInterval     time.Duration `json:"max_interval"`
	Multiplier      float64       `json:"multiplier"`
}

// DefaultRetryConfig mirrors the teacher's notification.DefaultConfig backoff
// shape (1m, *5 each step, capped), scaled down for an in-process retry loop
// instead of a durable queue.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		Multiplier:      2.0,
	}
}

// NotificationMessage carries ${var}-templated title/body text.
type NotificationMessage struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// SlackConfig configures a Slack incoming-webhook trigger.
type SlackConfig struct {
	WebhookURL string `json:"webhook_url"`
}

// DiscordConfig configures a Discord incoming-webhook trigger.
type DiscordConfig struct {
	WebhookURL string `json:"webhook_url"`
}

// TelegramConfig configures a Telegram Bot API sendMessage trigger.
type TelegramConfig struct {
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
}

// EmailConfig configures an SMTP trigger.
type EmailConfig struct {
	Host       string   `json:"host"`
	Port       int      `json:"port"`
	Username   string   `json:"username"`
	Password   string   `json:"password"`
	From       string   `json:"from"`
	Recipients []string `json:"recipients"`
}

// WebhookConfig configures a generic HTTP webhook trigger.
type WebhookConfig struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers,omitempty"`
}

// ScriptConfig configures a trigger that runs a local script instead of
// notifying an external sink.
type ScriptConfig struct {
	Command   string         `json:"command"`
	Language  ScriptLanguage `json:"language"`
	TimeoutMs int64          `json:"timeout_ms"`
	Arguments []string       `json:"arguments,omitempty"`
}

// Trigger is a named notification sink. Exactly one of the kind-specific
// config fields is populated, matching Kind.
type Trigger struct {
	Name    string              `json:"name"`
	Kind    TriggerKind         `json:"kind"`
	Message NotificationMessage `json:"message"`
	Retry   RetryConfig         `json:"retry_policy"`

	Slack    *SlackConfig    `json:"slack,omitempty"`
	Discord  *DiscordConfig  `json:"discord,omitempty"`
	Telegram *TelegramConfig `json:"telegram,omitempty"`
	Email    *EmailConfig    `json:"email,omitempty"`
	Webhook  *WebhookConfig  `json:"webhook,omitempty"`
	Script   *ScriptConfig   `json:"script,omitempty"`
}
