package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"mvideodk-relay/internal/model"
	"mvideodk-relay/pkg/logger"
)

// ErrBundledConfig means the packaged defaults could not be read. There is
// no fallback for that.
var ErrBundledConfig = errors.New("bundled extension config unreadable")

const overridePath = "/ext/config"

// Resolver produces the EffectiveConfig of one execution context. The first
// successful Resolve is cached for the lifetime of the Resolver.
type Resolver struct {
	bundledPath string
	httpClient  *http.Client
	log         *logrus.Entry

	mu     sync.Mutex
	cached *model.EffectiveConfig
}

func New(bundledPath string, httpClient *http.Client, contextName string) *Resolver {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Resolver{
		bundledPath: bundledPath,
		httpClient:  httpClient,
		log:         logger.For(contextName).WithField("component", "resolver"),
	}
}

// Resolve returns the bundled defaults overlaid with whatever the server's
// /ext/config endpoint reports. Override failures are swallowed; only an
// unreadable bundled file is returned as an error.
func (r *Resolver) Resolve(ctx context.Context) (model.EffectiveConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cached != nil {
		return *r.cached, nil
	}

	defaults, err := LoadBundled(r.bundledPath)
	if err != nil {
		return model.EffectiveConfig{}, err
	}

	// A caller giving up must not pin the defaults in the cache; the fetch
	// is still bounded by the client timeout.
	effective := defaults
	if override, err := r.fetchOverride(context.WithoutCancel(ctx), defaults); err != nil {
		r.log.Debugf("config override unavailable, using bundled defaults: %v", err)
	} else {
		effective = Overlay(defaults, *override)
	}

	r.cached = &effective
	return effective, nil
}

// Invalidate drops the cached value; the next Resolve starts over.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	r.cached = nil
	r.mu.Unlock()
}

// LoadBundled reads the packaged JSON defaults.
func LoadBundled(path string) (model.EffectiveConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	if err := v.ReadInConfig(); err != nil {
		return model.EffectiveConfig{}, fmt.Errorf("%w: %v", ErrBundledConfig, err)
	}

	return model.EffectiveConfig{
		ServerBaseURL: normalizeBaseURL(v.GetString("server_url")),
		APIPrefix:     normalizePrefix(v.GetString("api_prefix")),
		AuthToken:     strings.TrimSpace(v.GetString("token")),
	}, nil
}

func (r *Resolver) fetchOverride(ctx context.Context, defaults model.EffectiveConfig) (*model.ExtConfigResponse, error) {
	if defaults.ServerBaseURL == "" {
		return nil, errors.New("no server url to ask")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, defaults.Endpoint(overridePath), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("override request failed: %s", resp.Status)
	}

	var override model.ExtConfigResponse
	if err := json.NewDecoder(resp.Body).Decode(&override); err != nil {
		return nil, fmt.Errorf("invalid override body: %w", err)
	}
	return &override, nil
}

// Overlay copies the non-empty override fields onto defaults.
func Overlay(defaults model.EffectiveConfig, override model.ExtConfigResponse) model.EffectiveConfig {
	out := defaults
	if u := normalizeBaseURL(override.ServerURL); u != "" {
		out.ServerBaseURL = u
	}
	if tok := strings.TrimSpace(override.Token); tok != "" {
		out.AuthToken = tok
	}
	return out
}

func normalizeBaseURL(u string) string {
	return strings.TrimRight(strings.TrimSpace(u), "/")
}

func normalizePrefix(p string) string {
	p = strings.TrimRight(strings.TrimSpace(p), "/")
	if p != "" && !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}
