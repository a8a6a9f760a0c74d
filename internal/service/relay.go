package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"mvideodk-relay/internal/client"
	"mvideodk-relay/internal/config"
	"mvideodk-relay/internal/messaging"
	"mvideodk-relay/internal/model"
	"mvideodk-relay/internal/notify"
	"mvideodk-relay/internal/page"
	"mvideodk-relay/internal/popup"
	"mvideodk-relay/internal/resolver"
	"mvideodk-relay/internal/router"
	"mvideodk-relay/internal/storage"
	"mvideodk-relay/internal/utils"
	"mvideodk-relay/pkg/logger"
)

// Relay wires the background coordinator, the shared store and the message
// bus together, and creates popup and page contexts on demand.
type Relay struct {
	cfg      *config.Config
	store    storage.Storage
	float    *storage.FloatButton
	bus      *messaging.Bus
	notifier notify.Notifier
	resolver *resolver.Resolver
	client   *client.Client
	log      *logrus.Entry

	mu           sync.Mutex
	removeRouter func()
	pages        map[int]*page.Overlay
}

// NewRelay fails fast when the bundled extension config cannot be read;
// nothing downstream could recover from that.
func NewRelay(cfg *config.Config, notifier notify.Notifier) (*Relay, error) {
	if _, err := resolver.LoadBundled(cfg.Relay.BundledConfig); err != nil {
		return nil, err
	}

	store, err := storage.New(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	if notifier == nil {
		notifier = notify.LogNotifier{}
	}

	bg := resolver.New(cfg.Relay.BundledConfig, utils.NewHTTPClient(cfg.Relay.FetchTimeout), "background")
	c := client.New(bg, utils.NewHTTPClient(cfg.Relay.SubmitTimeout), notifier, cfg.Relay.Source)

	r := &Relay{
		cfg:      cfg,
		store:    store,
		float:    storage.NewFloatButton(store),
		bus:      messaging.NewBus(),
		notifier: notifier,
		resolver: bg,
		client:   c,
		log:      logger.For("background"),
		pages:    make(map[int]*page.Overlay),
	}
	r.removeRouter = router.New(r.bus, c, notifier).Register()

	r.log.WithFields(logrus.Fields{
		"storage": cfg.Storage.Type,
		"bundled": cfg.Relay.BundledConfig,
	}).Info("relay started")
	return r, nil
}

func (r *Relay) Bus() *messaging.Bus {
	return r.bus
}

func (r *Relay) FloatButton() *storage.FloatButton {
	return r.float
}

func (r *Relay) Store() storage.Storage {
	return r.store
}

// Config is the background context's effective configuration.
func (r *Relay) Config(ctx context.Context) (model.EffectiveConfig, error) {
	return r.resolver.Resolve(ctx)
}

// ConfigView is Config with the token replaced by a digest prefix.
func (r *Relay) ConfigView(ctx context.Context) (model.ConfigView, error) {
	cfg, err := r.Config(ctx)
	if err != nil {
		return model.ConfigView{}, err
	}
	return model.ConfigView{
		ServerURL:   cfg.ServerBaseURL,
		APIPrefix:   cfg.APIPrefix,
		HasToken:    cfg.AuthToken != "",
		TokenDigest: TokenDigest(cfg.AuthToken),
	}, nil
}

// TokenDigest returns the first 20 hex chars of the token's SHA-256.
func TokenDigest(token string) string {
	if token == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])[:20] + "..."
}

// Ping probes the server with the background configuration.
func (r *Relay) Ping(ctx context.Context) (model.PingResponse, bool) {
	return r.client.Ping(ctx)
}

// NewPopup opens a fresh popup context. Each popup resolves its own config.
func (r *Relay) NewPopup(clipboard popup.Clipboard, open popup.Opener) *popup.Panel {
	res := resolver.New(r.cfg.Relay.BundledConfig, utils.NewHTTPClient(r.cfg.Relay.FetchTimeout), "popup")
	return popup.New(popup.Options{
		Bus:               r.bus,
		Float:             r.float,
		Resolver:          res,
		Pinger:            client.New(res, utils.NewHTTPClient(r.cfg.Relay.FetchTimeout), nil, r.cfg.Relay.Source),
		Clipboard:         clipboard,
		Open:              open,
		StatusRevertDelay: r.cfg.Popup.StatusRevertDelay,
	})
}

// PageHooks connects a page context to whatever renders it.
type PageHooks struct {
	Location func() string
	OnChange func(shown bool)
}

// OpenPage opens a tab and starts its page context. The new tab becomes the
// active one.
func (r *Relay) OpenPage(ctx context.Context, url string, hooks PageHooks) (int, *page.Overlay, error) {
	tabID := r.bus.OpenTab(url)
	r.bus.SetActiveTab(tabID)

	o := page.New(page.Options{
		Bus:           r.bus,
		TabID:         tabID,
		Float:         r.float,
		Location:      hooks.Location,
		OnChange:      hooks.OnChange,
		PollInterval:  r.cfg.Page.PollInterval,
		FeedbackDelay: r.cfg.Page.FeedbackDelay,
	})
	if err := o.Start(ctx); err != nil {
		r.bus.CloseTab(tabID)
		return 0, nil, err
	}

	r.mu.Lock()
	r.pages[tabID] = o
	r.mu.Unlock()
	return tabID, o, nil
}

func (r *Relay) Page(tabID int) (*page.Overlay, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.pages[tabID]
	return o, ok
}

// ClosePage stops the page context and forgets the tab.
func (r *Relay) ClosePage(tabID int) {
	r.mu.Lock()
	o, ok := r.pages[tabID]
	delete(r.pages, tabID)
	r.mu.Unlock()

	if ok {
		o.Stop()
	}
	r.bus.CloseTab(tabID)
}

// Submit raises a SUBMIT_DOWNLOAD on behalf of an out-of-process context.
func (r *Relay) Submit(ctx context.Context, sender messaging.Sender, req model.SubmitDownload) (model.Outcome, error) {
	return router.RequestSubmit(ctx, r.bus, sender, req)
}

// SetFloatButton persists the flag and broadcasts it to every listening page.
func (r *Relay) SetFloatButton(ctx context.Context, enabled bool) (int, error) {
	if err := r.float.SetEnabled(ctx, enabled); err != nil {
		return 0, err
	}
	msg, err := messaging.NewMessage(model.MsgSetFloatButton, model.SetFloatButton{Enabled: enabled})
	if err != nil {
		return 0, err
	}
	return r.bus.Broadcast(msg), nil
}

// Close stops every page, waits for in-flight submissions and closes the
// store.
func (r *Relay) Close() error {
	r.mu.Lock()
	ids := lo.Keys(r.pages)
	r.mu.Unlock()
	for _, id := range ids {
		r.ClosePage(id)
	}

	r.removeRouter()
	r.bus.Wait()
	return r.store.Close()
}
