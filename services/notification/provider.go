package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"fleetops-controlplane/pkg/errutil"
	"fleetops-controlplane/pkg/ratelimit"

	"go.uber.org/zap"
)

// Provider delivers a rendered message to one channel kind.
type Provider interface {
	Kind() string
	Send(ctx context.Context, cfg map[string]any, msg Message) error
}

func unavailable(format string, args ...any) error {
	return errutil.Fail(errutil.ReasonChannelUnavailable, fmt.Sprintf(format, args...), nil)
}

type httpPoster struct {
	client  *http.Client
	limiter *ratelimit.TokenBucketLimiter
}

// post sends body as JSON to the url in cfg. Requests to the same url share
// one token bucket.
func (p httpPoster) post(ctx context.Context, cfg map[string]any, body any) error {
	url, _ := cfg["url"].(string)
	if strings.TrimSpace(url) == "" {
		return unavailable("channel config has no url")
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx, url); err != nil {
			return errutil.Fail(errutil.ReasonChannelUnavailable, "rate limit wait aborted", err)
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return errutil.Fail(errutil.ReasonChannelUnavailable, "encode payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return errutil.Fail(errutil.ReasonChannelUnavailable, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if headers, ok := cfg["headers"].(map[string]any); ok {
		for k, v := range headers {
			req.Header.Set(k, fmt.Sprint(v))
		}
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return errutil.Fail(errutil.ReasonChannelUnavailable, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return unavailable("endpoint answered %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// WebhookProvider posts the message as JSON to config["url"] with optional
// config["headers"].
type WebhookProvider struct {
	httpPoster
}

func NewWebhookProvider(client *http.Client, limiter *ratelimit.TokenBucketLimiter) *WebhookProvider {
	return &WebhookProvider{httpPoster{client: client, limiter: limiter}}
}

func (p *WebhookProvider) Kind() string { return KindWebhook }

func (p *WebhookProvider) Send(ctx context.Context, cfg map[string]any, msg Message) error {
	return p.post(ctx, cfg, msg)
}

// SlackProvider posts to a Slack incoming webhook.
type SlackProvider struct {
	httpPoster
}

func NewSlackProvider(client *http.Client, limiter *ratelimit.TokenBucketLimiter) *SlackProvider {
	return &SlackProvider{httpPoster{client: client, limiter: limiter}}
}

func (p *SlackProvider) Kind() string { return KindSlack }

func (p *SlackProvider) Send(ctx context.Context, cfg map[string]any, msg Message) error {
	payload := map[string]any{
		"text": fmt.Sprintf("*%s*\n%s", msg.Title, msg.Body),
	}
	if ch, ok := cfg["channel"].(string); ok && ch != "" {
		payload["channel"] = ch
	}
	return p.post(ctx, cfg, payload)
}

// LogProvider writes the message to the process log.
type LogProvider struct {
	log *zap.Logger
}

func NewLogProvider(log *zap.Logger) *LogProvider {
	return &LogProvider{log: log}
}

func (p *LogProvider) Kind() string { return KindLog }

func (p *LogProvider) Send(_ context.Context, cfg map[string]any, msg Message) error {
	fields := []zap.Field{
		zap.Int64("run_id", msg.RunID),
		zap.String("status", msg.Status),
		zap.String("priority", msg.Priority),
		zap.String("body", msg.Body),
	}
	if name, ok := cfg["name"].(string); ok {
		fields = append(fields, zap.String("channel", name))
	}
	p.log.Info("[Notification] "+msg.Title, fields...)
	return nil
}
