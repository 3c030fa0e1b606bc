package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"

	appErrors "github.com/irfndi/chainwatch/internal/errors"
	"github.com/irfndi/chainwatch/internal/models"
)

// Notifier delivers a rendered notification through one trigger's sink.
// Failures are always a *appErrors.NotifierError so the dispatcher can tell
// retryable transport failures from terminal ones (spec.md §4.8).
type Notifier interface {
	Notify(ctx context.Context, trigger models.Trigger, title, body string) error
}

// httpNotifier backs the Slack/Discord/Telegram/Webhook kinds, which all
// reduce to "build a JSON payload and POST it".
type httpNotifier struct {
	client  *http.Client
	baseDir string
}

func newHTTPNotifier(client *http.Client, baseDir string) *httpNotifier {
	return &httpNotifier{client: client, baseDir: baseDir}
}

func (n *httpNotifier) Notify(ctx context.Context, trigger models.Trigger, title, body string) error {
	switch trigger.Kind {
	case models.TriggerSlack:
		return n.notifySlack(ctx, trigger, title, body)
	case models.TriggerDiscord:
		return n.notifyDiscord(ctx, trigger, title, body)
	case models.TriggerTelegram:
		return n.notifyTelegram(ctx, trigger, title, body)
	case models.TriggerWebhook:
		return n.notifyWebhook(ctx, trigger, title, body)
	case models.TriggerEmail:
		return n.notifyEmail(trigger, title, body)
	case models.TriggerScript:
		return n.notifyScript(ctx, trigger, title, body)
	default:
		return appErrors.NewNotifierError(false, nil, "trigger %q: unknown kind %q", trigger.Name, trigger.Kind)
	}
}

// slackPayload mirrors the exact payload shape scenario S5 expects: a single
// mrkdwn section block, title bolded and separated from body by a blank line.
type slackPayload struct {
	Blocks []slackBlock `json:"blocks"`
}

type slackBlock struct {
	Type string    `json:"type"`
	Text slackText `json:"text"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (n *httpNotifier) notifySlack(ctx context.Context, trigger models.Trigger, title, body string) error {
	if trigger.Slack == nil {
		return appErrors.NewNotifierError(false, nil, "trigger %q: missing slack config", trigger.Name)
	}
	payload := slackPayload{Blocks: []slackBlock{{
		Type: "section",
		Text: slackText{Type: "mrkdwn", Text: fmt.Sprintf("*%s*\n\n%s", title, body)},
	}}}
	return n.postJSON(ctx, trigger.Name, trigger.Slack.WebhookURL, payload, nil)
}

func (n *httpNotifier) notifyDiscord(ctx context.Context, trigger models.Trigger, title, body string) error {
	if trigger.Discord == nil {
		return appErrors.NewNotifierError(false, nil, "trigger %q: missing discord config", trigger.Name)
	}
	payload := map[string]interface{}{
		"embeds": []map[string]string{{"title": title, "description": body}},
	}
	return n.postJSON(ctx, trigger.Name, trigger.Discord.WebhookURL, payload, nil)
}

func (n *httpNotifier) notifyTelegram(ctx context.Context, trigger models.Trigger, title, body string) error {
	if trigger.Telegram == nil {
		return appErrors.NewNotifierError(false, nil, "trigger %q: missing telegram config", trigger.Name)
	}
	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", trigger.Telegram.BotToken)
	payload := map[string]interface{}{
		"chat_id":    trigger.Telegram.ChatID,
		"text":       fmt.Sprintf("*%s*\n\n%s", title, body),
		"parse_mode": "Markdown",
	}
	return n.postJSON(ctx, trigger.Name, url, payload, nil)
}

func (n *httpNotifier) notifyWebhook(ctx context.Context, trigger models.Trigger, title, body string) error {
	if trigger.Webhook == nil {
		return appErrors.NewNotifierError(false, nil, "trigger %q: missing webhook config", trigger.Name)
	}
	method := trigger.Webhook.Method
	if method == "" {
		method = http.MethodPost
	}
	payload := map[string]string{"title": title, "body": body}
	return n.sendJSON(ctx, trigger.Name, method, trigger.Webhook.URL, payload, trigger.Webhook.Headers)
}

func (n *httpNotifier) postJSON(ctx context.Context, name, url string, payload interface{}, headers map[string]string) error {
	return n.sendJSON(ctx, name, http.MethodPost, url, payload, headers)
}

func (n *httpNotifier) sendJSON(ctx context.Context, name, method, url string, payload interface{}, headers map[string]string) error {
	if url == "" {
		return appErrors.NewNotifierError(false, nil, "trigger %q: empty URL", name)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return appErrors.NewNotifierError(false, err, "trigger %q: marshalling payload", name)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(data))
	if err != nil {
		return appErrors.NewNotifierError(false, err, "trigger %q: building request", name)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return appErrors.NewNotifierError(true, err, "trigger %q: sending request", name)
	}
	defer resp.Body.Close()

	return classifyStatus(name, resp.StatusCode)
}

// classifyStatus implements spec.md §4.8's retry classification: 2xx/3xx is
// success, 429 and 5xx are retryable, every other 4xx is terminal.
func classifyStatus(name string, status int) error {
	switch {
	case status < 400:
		return nil
	case status == http.StatusTooManyRequests || status >= 500:
		return appErrors.NewNotifierError(true, nil, "trigger %q: received status %d", name, status)
	default:
		return appErrors.NewNotifierError(false, nil, "trigger %q: received status %d", name, status)
	}
}

func (n *httpNotifier) notifyEmail(trigger models.Trigger, title, body string) error {
	cfg := trigger.Email
	if cfg == nil {
		return appErrors.NewNotifierError(false, nil, "trigger %q: missing email config", trigger.Name)
	}
	if len(cfg.Recipients) == 0 {
		return appErrors.NewNotifierError(false, nil, "trigger %q: no recipients configured", trigger.Name)
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s",
		cfg.From, strings.Join(cfg.Recipients, ", "), title, body)

	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	if err := smtp.SendMail(addr, auth, cfg.From, cfg.Recipients, []byte(msg)); err != nil {
		return appErrors.NewNotifierError(true, err, "trigger %q: sending email", trigger.Name)
	}
	return nil
}

func (n *httpNotifier) notifyScript(ctx context.Context, trigger models.Trigger, title, body string) error {
	cfg := trigger.Script
	if cfg == nil {
		return appErrors.NewNotifierError(false, nil, "trigger %q: missing script config", trigger.Name)
	}
	ok, err := runScript(ctx, n.baseDir, cfg.Command, cfg.Language, cfg.TimeoutMs, append([]string{title, body}, cfg.Arguments...))
	if err != nil {
		return appErrors.NewNotifierError(false, err, "trigger %q: running script", trigger.Name)
	}
	if !ok {
		return appErrors.NewNotifierError(false, nil, "trigger %q: script exited non-zero or reported false", trigger.Name)
	}
	return nil
}
