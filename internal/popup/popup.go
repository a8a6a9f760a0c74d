package popup

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/pkg/browser"
	"github.com/sirupsen/logrus"

	"mvideodk-relay/internal/messaging"
	"mvideodk-relay/internal/model"
	"mvideodk-relay/internal/router"
	"mvideodk-relay/internal/storage"
	"mvideodk-relay/pkg/logger"
)

var ErrNoClipboard = errors.New("clipboard unavailable")

const defaultRevertDelay = 2 * time.Second

const (
	statusChecking = "Checking server..."
	statusOnline   = "Server online"
	statusOffline  = "Server offline"
)

type ConfigResolver interface {
	Resolve(ctx context.Context) (model.EffectiveConfig, error)
}

// Pinger is satisfied by *client.Client.
type Pinger interface {
	Ping(ctx context.Context) (model.PingResponse, bool)
}

type Clipboard interface {
	WriteText(text string) error
}

// Opener opens a URL outside the relay, normally in the system browser.
type Opener func(url string) error

type Options struct {
	Bus       *messaging.Bus
	Float     *storage.FloatButton
	Resolver  ConfigResolver
	Pinger    Pinger
	Clipboard Clipboard
	Open      Opener

	StatusRevertDelay time.Duration
}

// State is what the panel currently shows.
type State struct {
	ServerURL    string     `json:"server_url"`
	Mode         model.Mode `json:"mode"`
	URL          string     `json:"url"`
	FloatEnabled bool       `json:"float_enabled"`
	Status       string     `json:"status"`
}

// Panel is one popup lifetime. Mode and the URL field live only here and are
// gone once the panel is discarded.
type Panel struct {
	opts   Options
	sender messaging.Sender
	log    *logrus.Entry

	mu         sync.Mutex
	serverURL  string
	mode       model.Mode
	urlInput   string
	float      bool
	persistent string
	overlay    string
	generation int
	revert     *time.Timer
}

func New(opts Options) *Panel {
	if opts.Open == nil {
		opts.Open = browser.OpenURL
	}
	if opts.StatusRevertDelay <= 0 {
		opts.StatusRevertDelay = defaultRevertDelay
	}
	return &Panel{
		opts:       opts,
		sender:     messaging.NewSender(messaging.KindPopup, nil),
		log:        logger.For("popup"),
		mode:       model.ModeVideo,
		persistent: statusChecking,
	}
}

// Open fills the server field and the floating-control toggle, then probes
// the server once. Only an unreadable bundled config is returned as an error.
func (p *Panel) Open(ctx context.Context) error {
	cfg, err := p.opts.Resolver.Resolve(ctx)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.serverURL = cfg.ServerBaseURL
	p.mu.Unlock()

	enabled, err := p.opts.Float.Enabled(ctx)
	if err != nil {
		p.log.Warnf("reading floating control flag: %v", err)
	}
	p.mu.Lock()
	p.float = enabled
	p.mu.Unlock()

	status := statusOffline
	if p.opts.Pinger != nil {
		if info, alive := p.opts.Pinger.Ping(ctx); alive {
			status = statusOnline
			if name := strings.TrimSpace(info.Server); name != "" {
				status += ": " + name
			}
		}
	}
	p.mu.Lock()
	p.persistent = status
	p.mu.Unlock()

	p.log.WithFields(logrus.Fields{"server": cfg.ServerBaseURL, "float": enabled}).Debug(status)
	return nil
}

func (p *Panel) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()

	status := p.persistent
	if p.overlay != "" {
		status = p.overlay
	}
	return State{
		ServerURL:    p.serverURL,
		Mode:         p.mode,
		URL:          p.urlInput,
		FloatEnabled: p.float,
		Status:       status,
	}
}

func (p *Panel) SetURLInput(url string) {
	p.mu.Lock()
	p.urlInput = url
	p.mu.Unlock()
}

// ToggleMode flips between video and playlist and returns the new mode.
func (p *Panel) ToggleMode() model.Mode {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.mode == model.ModePlaylist {
		p.mode = model.ModeVideo
	} else {
		p.mode = model.ModePlaylist
	}
	return p.mode
}

// SendCurrent submits the URL field with the current mode.
func (p *Panel) SendCurrent(ctx context.Context) (model.Outcome, error) {
	p.mu.Lock()
	req := model.SubmitDownload{URL: p.urlInput, Mode: p.mode}
	p.mu.Unlock()
	return p.send(ctx, req)
}

// SendActivePage submits the active tab's URL as a single video.
func (p *Panel) SendActivePage(ctx context.Context) (model.Outcome, error) {
	req := model.SubmitDownload{Mode: model.ModeVideo}
	if tab, ok := p.opts.Bus.ActiveTab(); ok {
		req.URL = tab.URL
	}
	return p.send(ctx, req)
}

// SendPlaylist submits the URL field as a playlist regardless of mode.
func (p *Panel) SendPlaylist(ctx context.Context) (model.Outcome, error) {
	p.mu.Lock()
	req := model.SubmitDownload{URL: p.urlInput, Mode: model.ModePlaylist}
	p.mu.Unlock()
	return p.send(ctx, req)
}

func (p *Panel) send(ctx context.Context, req model.SubmitDownload) (model.Outcome, error) {
	defer p.reset()

	out, err := router.RequestSubmit(ctx, p.opts.Bus, p.sender, req)
	switch {
	case err != nil:
		p.flash("Send failed")
	case out.OK:
		p.flash("Sent")
	default:
		p.flash("Error: " + string(out.ErrorKind))
	}
	return out, err
}

// reset runs after every send, whatever the outcome.
func (p *Panel) reset() {
	p.mu.Lock()
	p.mode = model.ModeVideo
	p.urlInput = ""
	p.mu.Unlock()
}

// ToggleFloatingControl stores the flag, then tells the active page. The
// page notification is best effort; the stored value is what a page reads
// when it next starts.
func (p *Panel) ToggleFloatingControl(ctx context.Context, enabled bool) error {
	if err := p.opts.Float.SetEnabled(ctx, enabled); err != nil {
		return err
	}
	p.mu.Lock()
	p.float = enabled
	p.mu.Unlock()

	tab, ok := p.opts.Bus.ActiveTab()
	if !ok {
		return nil
	}
	msg, err := messaging.NewMessage(model.MsgSetFloatButton, model.SetFloatButton{Enabled: enabled})
	if err != nil {
		return nil
	}
	if err := p.opts.Bus.SendToTab(tab.ID, msg); err != nil {
		p.log.Debugf("active tab %d not listening: %v", tab.ID, err)
	}
	return nil
}

func (p *Panel) CopyServerURL() error {
	p.mu.Lock()
	url := p.serverURL
	p.mu.Unlock()

	if p.opts.Clipboard == nil {
		p.flash("Copy failed")
		return ErrNoClipboard
	}
	if err := p.opts.Clipboard.WriteText(url); err != nil {
		p.flash("Copy failed")
		return err
	}
	p.flash("Copied")
	return nil
}

func (p *Panel) OpenServer() error {
	p.mu.Lock()
	url := p.serverURL
	p.mu.Unlock()

	if url == "" {
		p.flash("No server configured")
		return errors.New("no server url")
	}
	if err := p.opts.Open(url); err != nil {
		p.flash("Could not open server")
		return err
	}
	p.flash("Opening server")
	return nil
}

// flash overlays the status line until the revert delay passes. A newer
// flash replaces an older one.
func (p *Panel) flash(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.generation++
	gen := p.generation
	p.overlay = msg
	if p.revert != nil {
		p.revert.Stop()
	}
	p.revert = time.AfterFunc(p.opts.StatusRevertDelay, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.generation == gen {
			p.overlay = ""
		}
	})
}

// Close discards the panel. Sends already handed to the background still
// complete there.
func (p *Panel) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.revert != nil {
		p.revert.Stop()
	}
}
