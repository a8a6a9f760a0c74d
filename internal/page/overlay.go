package page

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"mvideodk-relay/internal/messaging"
	"mvideodk-relay/internal/model"
	"mvideodk-relay/internal/router"
	"mvideodk-relay/internal/storage"
	"mvideodk-relay/pkg/logger"
)

var ErrNoControl = errors.New("floating control is not shown on this page")

// Button glyphs.
const (
	GlyphIdle    = "⬇"
	GlyphSuccess = "✅"
	GlyphFailure = "❌"
)

const (
	defaultPollInterval  = time.Second
	defaultFeedbackDelay = 1500 * time.Millisecond
)

type Options struct {
	Bus   *messaging.Bus
	TabID int
	Float *storage.FloatButton
	// Location reports the URL the page currently shows. It backs the
	// periodic poll for pages that change URL without a navigation event.
	Location func() string
	// OnChange is called whenever the control appears or disappears. It
	// must not block.
	OnChange func(shown bool)

	PollInterval  time.Duration
	FeedbackDelay time.Duration
}

// Overlay is the page context of one tab: the optional floating button plus
// the tracked page URL.
type Overlay struct {
	opts Options
	log  *logrus.Entry

	mu         sync.Mutex
	url        string
	shown      bool
	glyph      string
	generation int
	// toggles counts SET_FLOAT_BUTTON messages applied so far.
	toggles int
	revert     *time.Timer

	removeReceiver func()
	cancel         context.CancelFunc
	done           chan struct{}
}

func New(opts Options) *Overlay {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.FeedbackDelay <= 0 {
		opts.FeedbackDelay = defaultFeedbackDelay
	}

	o := &Overlay{
		opts:  opts,
		log:   logger.For("page").WithField("tab", opts.TabID),
		glyph: GlyphIdle,
	}
	if tab, ok := opts.Bus.Tab(opts.TabID); ok {
		o.url = tab.URL
	}
	return o
}

// Start attaches the SET_FLOAT_BUTTON listener, then reads the stored flag
// and shows or hides the control accordingly. A toggle that arrives while
// the flag is being read wins over the read.
func (o *Overlay) Start(ctx context.Context) error {
	remove, err := o.opts.Bus.AddTabReceiver(o.opts.TabID, o.receive)
	if err != nil {
		return err
	}

	o.mu.Lock()
	seen := o.toggles
	o.mu.Unlock()

	enabled, err := o.opts.Float.Enabled(ctx)
	if err != nil {
		o.log.Warnf("reading floating control flag: %v", err)
	}

	o.mu.Lock()
	changed := o.toggles == seen && o.setShownLocked(enabled)
	o.mu.Unlock()
	o.changed(changed, enabled)

	pollCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	o.mu.Lock()
	o.removeReceiver = remove
	o.cancel = cancel
	o.done = done
	o.mu.Unlock()

	go o.poll(pollCtx, done)
	return nil
}

func (o *Overlay) receive(msg messaging.Message) {
	if msg.Type != model.MsgSetFloatButton {
		return
	}
	var req model.SetFloatButton
	if err := msg.Decode(&req); err != nil {
		o.log.Warnf("ignoring malformed %s: %v", msg.Type, err)
		return
	}
	o.setShown(req.Enabled)
}

func (o *Overlay) setShown(shown bool) {
	o.mu.Lock()
	o.toggles++
	changed := o.setShownLocked(shown)
	o.mu.Unlock()
	o.changed(changed, shown)
}

func (o *Overlay) setShownLocked(shown bool) bool {
	if o.shown == shown {
		return false
	}
	o.shown = shown
	if !shown {
		o.generation++
		o.glyph = GlyphIdle
		if o.revert != nil {
			o.revert.Stop()
		}
	}
	o.log.WithField("shown", shown).Debug("floating control updated")
	return true
}

func (o *Overlay) changed(changed, shown bool) {
	if changed && o.opts.OnChange != nil {
		o.opts.OnChange(shown)
	}
}

func (o *Overlay) poll(ctx context.Context, done chan struct{}) {
	defer close(done)
	if o.opts.Location == nil {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(o.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if loc := o.opts.Location(); loc != "" && loc != o.URL() {
				o.Navigate(loc)
			}
		}
	}
}

// Navigate records a navigation event.
func (o *Overlay) Navigate(url string) {
	o.mu.Lock()
	o.url = url
	o.mu.Unlock()
	o.opts.Bus.UpdateTabURL(o.opts.TabID, url)
}

func (o *Overlay) URL() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.url
}

func (o *Overlay) Visible() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.shown
}

// Glyph is the button face: idle, or the feedback of the last click.
func (o *Overlay) Glyph() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.glyph
}

// Click submits the tracked page URL as a video and flashes the result on
// the button.
func (o *Overlay) Click(ctx context.Context) (model.Outcome, error) {
	o.mu.Lock()
	shown, url := o.shown, o.url
	o.mu.Unlock()
	if !shown {
		return model.Outcome{}, ErrNoControl
	}

	sender := messaging.NewSender(messaging.KindPage, &messaging.Tab{ID: o.opts.TabID, URL: url})
	out, err := router.RequestSubmit(ctx, o.opts.Bus, sender, model.SubmitDownload{
		URL:                 url,
		Mode:                model.ModeVideo,
		FromFloatingControl: true,
	})

	if err == nil && out.OK {
		o.feedback(GlyphSuccess)
	} else {
		o.feedback(GlyphFailure)
	}
	return out, err
}

func (o *Overlay) feedback(glyph string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.shown {
		return
	}
	o.generation++
	gen := o.generation
	o.glyph = glyph
	if o.revert != nil {
		o.revert.Stop()
	}
	o.revert = time.AfterFunc(o.opts.FeedbackDelay, func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if o.generation == gen {
			o.glyph = GlyphIdle
		}
	})
}

// Stop tears the page context down, as a reload or tab close would.
func (o *Overlay) Stop() {
	o.mu.Lock()
	remove, cancel, done := o.removeReceiver, o.cancel, o.done
	o.removeReceiver, o.cancel, o.done = nil, nil, nil
	if o.revert != nil {
		o.revert.Stop()
	}
	o.mu.Unlock()

	if remove != nil {
		remove()
	}
	if cancel != nil {
		cancel()
		<-done
	}
}
