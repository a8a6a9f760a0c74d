package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"mvideodk-relay/internal/model"
	"mvideodk-relay/internal/notify"
	"mvideodk-relay/pkg/logger"
)

const (
	queuePath = "/queue"
	pingPath  = "/ping"

	maxBodyBytes   = 64 << 10
	maxDetailChars = 200

	notifyTitle = "MVideoDK"
)

var strictURL = regexp.MustCompile(`(?i)^https?://[^\s/?#]+[^\s]*$`)

// IsStrictURL reports whether u is an absolute http(s) URL with a host.
func IsStrictURL(u string) bool {
	return strictURL.MatchString(strings.TrimSpace(u))
}

// ConfigResolver is satisfied by *resolver.Resolver.
type ConfigResolver interface {
	Resolve(ctx context.Context) (model.EffectiveConfig, error)
}

// Client submits download jobs to the server queue.
type Client struct {
	resolver   ConfigResolver
	httpClient *http.Client
	notifier   notify.Notifier
	source     string
	log        *logrus.Entry
}

func New(resolver ConfigResolver, httpClient *http.Client, notifier notify.Notifier, source string) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if source == "" {
		source = "EXT"
	}
	return &Client{
		resolver:   resolver,
		httpClient: httpClient,
		notifier:   notifier,
		source:     source,
		log:        logger.For("background").WithField("component", "client"),
	}
}

// Submit turns an intent into a queue request and classifies the result.
// Every failure the relay can recover from is reported in the Outcome; the
// error is non-nil only when the bundled configuration is unreadable.
func (c *Client) Submit(ctx context.Context, intent model.SubmissionIntent) (model.Outcome, error) {
	url := strings.TrimSpace(intent.URL)
	if url == "" {
		return c.finish(url, model.Failed(model.ErrNoURL, "no URL to submit")), nil
	}
	if intent.RequiresStrictURLValidation && !IsStrictURL(url) {
		return c.finish(url, model.Failed(model.ErrInvalidURL, "not an http(s) URL: "+url)), nil
	}

	cfg, err := c.resolver.Resolve(ctx)
	if err != nil {
		return model.Failed(model.ErrMisconfigured, err.Error()), err
	}
	if !cfg.Usable() {
		return c.finish(url, model.Failed(model.ErrMisconfigured, "server URL or token not configured")), nil
	}

	body, err := json.Marshal(model.QueueRequest{
		URL:    url,
		Source: c.source,
		Mode:   intent.Mode.Wire(),
	})
	if err != nil {
		return c.finish(url, model.Failed(model.ErrRejected, err.Error())), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Endpoint(queuePath), bytes.NewReader(body))
	if err != nil {
		return c.finish(url, model.Failed(model.ErrMisconfigured, err.Error())), nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+cfg.AuthToken)

	c.log.WithFields(logrus.Fields{"url": url, "mode": intent.Mode, "origin": intent.Origin}).Debug("submitting")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.finish(url, model.Failed(model.ErrUnreachable, err.Error())), nil
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.finish(url, model.Failed(model.ErrRejected, rejectionDetail(resp, respBody))), nil
	}

	var queued model.QueueResponse
	_ = json.Unmarshal(respBody, &queued)
	return c.finish(url, model.Succeeded(queued.TaskID, queued.Detail)), nil
}

// Ping probes the server. Any 2xx counts as alive; the body is decoded
// best effort.
func (c *Client) Ping(ctx context.Context) (model.PingResponse, bool) {
	var info model.PingResponse

	cfg, err := c.resolver.Resolve(ctx)
	if err != nil || cfg.ServerBaseURL == "" {
		return info, false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.Endpoint(pingPath), nil)
	if err != nil {
		return info, false
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Debugf("ping failed: %v", err)
		return info, false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return info, false
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&info)
	return info, true
}

func (c *Client) finish(url string, out model.Outcome) model.Outcome {
	entry := c.log.WithFields(logrus.Fields{"url": url, "ok": out.OK})
	if out.OK {
		entry.Info("download queued")
	} else {
		entry.WithField("kind", out.ErrorKind).Warn(out.Detail)
	}

	if c.notifier != nil {
		level, message := notification(url, out)
		if err := c.notifier.Notify(level, notifyTitle, message); err != nil {
			c.log.Debugf("notification dropped: %v", err)
		}
	}
	return out
}

func notification(url string, out model.Outcome) (notify.Level, string) {
	if out.OK {
		msg := "Sent to server: " + url
		if out.Detail != "" && !strings.EqualFold(out.Detail, "OK") {
			msg += " (" + out.Detail + ")"
		}
		return notify.LevelSuccess, msg
	}

	switch out.ErrorKind {
	case model.ErrMisconfigured:
		return notify.LevelError, "Server URL or token missing"
	case model.ErrNoURL:
		return notify.LevelError, "No URL to send"
	case model.ErrInvalidURL:
		return notify.LevelError, "Invalid URL"
	case model.ErrUnreachable:
		return notify.LevelError, "Server unreachable"
	default:
		return notify.LevelError, "Server rejected the request: " + out.Detail
	}
}

// rejectionDetail picks the most useful message out of an error response:
// a JSON detail or message field, then plain body text, then the status text.
func rejectionDetail(resp *http.Response, body []byte) string {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err == nil {
		for _, key := range []string{"detail", "message"} {
			if v, ok := payload[key]; ok && v != nil {
				if s := renderDetail(v); s != "" {
					return s
				}
			}
		}
	} else if text := strings.TrimSpace(string(body)); text != "" && !json.Valid(body) {
		return truncate(text, maxDetailChars)
	}

	return statusText(resp)
}

func renderDetail(v any) string {
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return truncate(string(raw), maxDetailChars)
}

func statusText(resp *http.Response) string {
	if text := strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)+" "); text != "" && text != resp.Status {
		return text
	}
	if text := http.StatusText(resp.StatusCode); text != "" {
		return text
	}
	return "HTTP " + strconv.Itoa(resp.StatusCode)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
