package page

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mvideodk-relay/internal/messaging"
	"mvideodk-relay/internal/model"
	"mvideodk-relay/internal/router"
	"mvideodk-relay/internal/storage"
)

type recordingSubmitter struct {
	mu      sync.Mutex
	intents []model.SubmissionIntent
	out     model.Outcome
}

func (r *recordingSubmitter) Submit(_ context.Context, intent model.SubmissionIntent) (model.Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intents = append(r.intents, intent)
	return r.out, nil
}

func (r *recordingSubmitter) last() model.SubmissionIntent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.intents[len(r.intents)-1]
}

func newBus(t *testing.T, sub router.Submitter) *messaging.Bus {
	t.Helper()
	bus := messaging.NewBus()
	remove := router.New(bus, sub, nil).Register()
	t.Cleanup(func() {
		remove()
		bus.Wait()
	})
	return bus
}

func memoryFlag(t *testing.T) *storage.FloatButton {
	t.Helper()
	store := storage.NewMemoryStorage()
	require.NoError(t, store.Init())
	return storage.NewFloatButton(store)
}

func start(t *testing.T, opts Options) *Overlay {
	t.Helper()
	o := New(opts)
	require.NoError(t, o.Start(context.Background()))
	t.Cleanup(o.Stop)
	return o
}

func TestStartHiddenByDefault(t *testing.T) {
	bus := newBus(t, &recordingSubmitter{})
	tab := bus.OpenTab("https://a.test")
	o := start(t, Options{Bus: bus, TabID: tab, Float: memoryFlag(t)})

	assert.False(t, o.Visible())
	_, err := o.Click(context.Background())
	assert.ErrorIs(t, err, ErrNoControl)
}

func TestStartUnknownTab(t *testing.T) {
	bus := newBus(t, &recordingSubmitter{})
	o := New(Options{Bus: bus, TabID: 42, Float: memoryFlag(t)})
	assert.ErrorIs(t, o.Start(context.Background()), messaging.ErrNoReceiver)
}

func TestLiveToggle(t *testing.T) {
	bus := newBus(t, &recordingSubmitter{})
	tab := bus.OpenTab("https://a.test")
	o := start(t, Options{Bus: bus, TabID: tab, Float: memoryFlag(t)})

	send := func(enabled bool) {
		msg, err := messaging.NewMessage(model.MsgSetFloatButton, model.SetFloatButton{Enabled: enabled})
		require.NoError(t, err)
		require.NoError(t, bus.SendToTab(tab, msg))
	}

	send(true)
	assert.Eventually(t, o.Visible, time.Second, 5*time.Millisecond)

	send(false)
	assert.Eventually(t, func() bool { return !o.Visible() }, time.Second, 5*time.Millisecond)
}

func TestOtherTabMessagesAreIgnored(t *testing.T) {
	bus := newBus(t, &recordingSubmitter{})
	tab := bus.OpenTab("https://a.test")
	o := start(t, Options{Bus: bus, TabID: tab, Float: memoryFlag(t)})

	msg, err := messaging.NewMessage("SOMETHING_ELSE", model.SetFloatButton{Enabled: true})
	require.NoError(t, err)
	require.NoError(t, bus.SendToTab(tab, msg))

	bad := messaging.Message{ID: "x", Type: model.MsgSetFloatButton, Payload: []byte(`[]`)}
	require.NoError(t, bus.SendToTab(tab, bad))

	time.Sleep(20 * time.Millisecond)
	assert.False(t, o.Visible())
}

// staleStore answers Get with the value stored at call time, then holds the
// answer until released.
type staleStore struct {
	storage.Storage
	entered chan struct{}
	release chan struct{}
}

func (s *staleStore) Get(ctx context.Context, key string) (string, error) {
	v, err := s.Storage.Get(ctx, key)
	close(s.entered)
	<-s.release
	return v, err
}

func TestToggleDuringStartupWins(t *testing.T) {
	bus := newBus(t, &recordingSubmitter{})
	tab := bus.OpenTab("https://a.test")

	inner := storage.NewMemoryStorage()
	require.NoError(t, inner.Init())
	store := &staleStore{Storage: inner, entered: make(chan struct{}), release: make(chan struct{})}
	o := New(Options{Bus: bus, TabID: tab, Float: storage.NewFloatButton(store)})
	t.Cleanup(o.Stop)

	started := make(chan error, 1)
	go func() { started <- o.Start(context.Background()) }()
	<-store.entered

	// the popup persists and broadcasts while the page is still reading
	require.NoError(t, storage.NewFloatButton(inner).SetEnabled(context.Background(), true))
	msg, err := messaging.NewMessage(model.MsgSetFloatButton, model.SetFloatButton{Enabled: true})
	require.NoError(t, err)
	require.NoError(t, bus.SendToTab(tab, msg))
	assert.Eventually(t, o.Visible, time.Second, 5*time.Millisecond)

	close(store.release)
	require.NoError(t, <-started)
	assert.True(t, o.Visible())
}

func TestOnChange(t *testing.T) {
	bus := newBus(t, &recordingSubmitter{})
	tab := bus.OpenTab("https://a.test")
	flag := memoryFlag(t)
	require.NoError(t, flag.SetEnabled(context.Background(), true))

	changes := make(chan bool, 4)
	o := start(t, Options{Bus: bus, TabID: tab, Float: flag, OnChange: func(shown bool) { changes <- shown }})
	assert.True(t, <-changes)

	msg, err := messaging.NewMessage(model.MsgSetFloatButton, model.SetFloatButton{Enabled: false})
	require.NoError(t, err)
	require.NoError(t, bus.SendToTab(tab, msg))
	assert.False(t, <-changes)
	assert.False(t, o.Visible())
}

func TestClickSubmitsTrackedURL(t *testing.T) {
	sub := &recordingSubmitter{out: model.Succeeded(5, "OK")}
	bus := newBus(t, sub)
	tab := bus.OpenTab("https://www.youtube.com/watch?v=a")
	flag := memoryFlag(t)
	require.NoError(t, flag.SetEnabled(context.Background(), true))

	o := start(t, Options{Bus: bus, TabID: tab, Float: flag, FeedbackDelay: 20 * time.Millisecond})
	require.True(t, o.Visible())

	// single-page navigation without a reload
	o.Navigate("https://www.youtube.com/watch?v=b")

	out, err := o.Click(context.Background())
	require.NoError(t, err)
	assert.True(t, out.OK)

	got := sub.last()
	assert.Equal(t, "https://www.youtube.com/watch?v=b", got.URL)
	assert.Equal(t, model.ModeVideo, got.Mode)
	assert.Equal(t, model.OriginFloatingControl, got.Origin)
	assert.False(t, got.RequiresStrictURLValidation)

	active, ok := bus.Tab(tab)
	require.True(t, ok)
	assert.Equal(t, "https://www.youtube.com/watch?v=b", active.URL)
}

func TestClickFeedbackReverts(t *testing.T) {
	for _, tc := range []struct {
		name  string
		out   model.Outcome
		glyph string
	}{
		{"success", model.Succeeded(1, "OK"), GlyphSuccess},
		{"failure", model.Failed(model.ErrUnreachable, "offline"), GlyphFailure},
	} {
		t.Run(tc.name, func(t *testing.T) {
			bus := newBus(t, &recordingSubmitter{out: tc.out})
			tab := bus.OpenTab("https://a.test")
			flag := memoryFlag(t)
			require.NoError(t, flag.SetEnabled(context.Background(), true))

			o := start(t, Options{Bus: bus, TabID: tab, Float: flag, FeedbackDelay: 20 * time.Millisecond})
			_, err := o.Click(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tc.glyph, o.Glyph())

			assert.Eventually(t, func() bool { return o.Glyph() == GlyphIdle }, time.Second, 5*time.Millisecond)
		})
	}
}

func TestPollPicksUpURLChanges(t *testing.T) {
	bus := newBus(t, &recordingSubmitter{})
	tab := bus.OpenTab("https://a.test/1")

	var loc atomic.Value
	loc.Store("https://a.test/1")
	o := start(t, Options{
		Bus:          bus,
		TabID:        tab,
		Float:        memoryFlag(t),
		Location:     func() string { return loc.Load().(string) },
		PollInterval: 5 * time.Millisecond,
	})

	loc.Store("https://a.test/2")
	assert.Eventually(t, func() bool { return o.URL() == "https://a.test/2" }, time.Second, 5*time.Millisecond)
}

func TestFlagSurvivesPageReload(t *testing.T) {
	dir := t.TempDir()

	toggle := func(enabled bool) {
		store := storage.NewDiskStorage(dir)
		require.NoError(t, store.Init())
		defer store.Close()
		require.NoError(t, storage.NewFloatButton(store).SetEnabled(context.Background(), enabled))
	}
	reload := func() bool {
		store := storage.NewDiskStorage(dir)
		require.NoError(t, store.Init())
		defer store.Close()

		bus := newBus(t, &recordingSubmitter{})
		tab := bus.OpenTab("https://a.test")
		o := New(Options{Bus: bus, TabID: tab, Float: storage.NewFloatButton(store)})
		require.NoError(t, o.Start(context.Background()))
		defer o.Stop()
		return o.Visible()
	}

	assert.False(t, reload())

	toggle(true)
	assert.True(t, reload())
	assert.True(t, reload())

	toggle(false)
	assert.False(t, reload())
	assert.False(t, reload())
}
