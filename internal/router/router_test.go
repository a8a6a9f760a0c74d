package router

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mvideodk-relay/internal/client"
	"mvideodk-relay/internal/messaging"
	"mvideodk-relay/internal/model"
	"mvideodk-relay/internal/notify"
)

type fakeSubmitter struct {
	mu      sync.Mutex
	intents []model.SubmissionIntent
	gate    chan struct{}
	out     model.Outcome
	err     error
}

func (f *fakeSubmitter) Submit(ctx context.Context, intent model.SubmissionIntent) (model.Outcome, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	f.intents = append(f.intents, intent)
	f.mu.Unlock()
	return f.out, f.err
}

func (f *fakeSubmitter) seen() []model.SubmissionIntent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.SubmissionIntent(nil), f.intents...)
}

func setup(t *testing.T, sub Submitter) (*messaging.Bus, *notify.Recorder) {
	t.Helper()
	bus := messaging.NewBus()
	rec := &notify.Recorder{}
	remove := New(bus, sub, rec).Register()
	t.Cleanup(func() {
		remove()
		bus.Wait()
	})
	return bus, rec
}

func TestSubmitFromPopup(t *testing.T) {
	sub := &fakeSubmitter{out: model.Succeeded(3, "OK")}
	bus, _ := setup(t, sub)

	out, err := RequestSubmit(context.Background(), bus, messaging.NewSender(messaging.KindPopup, nil),
		model.SubmitDownload{URL: " https://a.test/v ", Mode: model.ModePlaylist})
	require.NoError(t, err)
	assert.Equal(t, model.Succeeded(3, "OK"), out)

	require.Len(t, sub.seen(), 1)
	assert.Equal(t, model.SubmissionIntent{
		URL:                         "https://a.test/v",
		Mode:                        model.ModePlaylist,
		Origin:                      model.OriginPopup,
		RequiresStrictURLValidation: true,
	}, sub.seen()[0])
}

func TestSubmitFallsBackToSenderPage(t *testing.T) {
	sub := &fakeSubmitter{out: model.Succeeded(0, "")}
	bus, _ := setup(t, sub)

	sender := messaging.NewSender(messaging.KindPage, &messaging.Tab{ID: 4, URL: "https://page.test/watch"})
	_, err := RequestSubmit(context.Background(), bus, sender, model.SubmitDownload{Mode: model.ModeVideo, FromFloatingControl: true})
	require.NoError(t, err)

	got := sub.seen()[0]
	assert.Equal(t, "https://page.test/watch", got.URL)
	assert.Equal(t, model.OriginFloatingControl, got.Origin)
	assert.False(t, got.RequiresStrictURLValidation)
}

func TestSubmitWithoutAnyURL(t *testing.T) {
	sub := &fakeSubmitter{}
	bus, rec := setup(t, sub)

	out, err := RequestSubmit(context.Background(), bus, messaging.NewSender(messaging.KindPopup, nil),
		model.SubmitDownload{Mode: model.ModeVideo})
	require.NoError(t, err)
	assert.Equal(t, model.ErrNoURL, out.ErrorKind)
	assert.Empty(t, sub.seen())
	assert.Len(t, rec.All(), 1)
}

func TestInvalidURLRefusedBeforeSubmission(t *testing.T) {
	sub := &fakeSubmitter{out: model.Succeeded(1, "OK")}
	bus, rec := setup(t, sub)

	out, err := RequestSubmit(context.Background(), bus, messaging.NewSender(messaging.KindPopup, nil),
		model.SubmitDownload{URL: "not-a-url", Mode: model.ModeVideo})
	require.NoError(t, err)
	assert.Equal(t, model.ErrInvalidURL, out.ErrorKind)
	assert.Empty(t, sub.seen())
	require.Len(t, rec.All(), 1)
	assert.Equal(t, "Invalid URL", rec.All()[0].Message)

	page := messaging.NewSender(messaging.KindPage, &messaging.Tab{ID: 2, URL: "not-a-url"})
	out, err = RequestSubmit(context.Background(), bus, page,
		model.SubmitDownload{Mode: model.ModeVideo, FromFloatingControl: true})
	require.NoError(t, err)
	assert.True(t, out.OK)
	require.Len(t, sub.seen(), 1)
	assert.Equal(t, "not-a-url", sub.seen()[0].URL)
}

func TestUnknownMessageGetsNoResponse(t *testing.T) {
	bus, _ := setup(t, &fakeSubmitter{})

	msg, err := messaging.NewMessage("GET_STATS", map[string]int{})
	require.NoError(t, err)
	_, err = bus.SendMessage(context.Background(), msg, messaging.NewSender(messaging.KindPopup, nil))
	assert.ErrorIs(t, err, messaging.ErrNoResponse)
}

func TestMalformedSubmitIsIgnored(t *testing.T) {
	sub := &fakeSubmitter{}
	bus, _ := setup(t, sub)

	msg := messaging.Message{ID: "x", Type: model.MsgSubmitDownload, Payload: []byte(`"just a string"`)}
	_, err := bus.SendMessage(context.Background(), msg, messaging.NewSender(messaging.KindPopup, nil))
	assert.ErrorIs(t, err, messaging.ErrNoResponse)
	assert.Empty(t, sub.seen())
}

func TestReplyWaitsForSubmission(t *testing.T) {
	sub := &fakeSubmitter{gate: make(chan struct{}), out: model.Succeeded(1, "OK")}
	bus, _ := setup(t, sub)

	done := make(chan model.Outcome, 1)
	go func() {
		out, _ := RequestSubmit(context.Background(), bus, messaging.NewSender(messaging.KindPopup, nil),
			model.SubmitDownload{URL: "https://a.test", Mode: model.ModeVideo})
		done <- out
	}()

	select {
	case <-done:
		t.Fatal("reply arrived before the submission settled")
	case <-time.After(30 * time.Millisecond):
	}

	close(sub.gate)
	select {
	case out := <-done:
		assert.True(t, out.OK)
	case <-time.After(time.Second):
		t.Fatal("no reply")
	}
}

func TestClosedPopupDoesNotAbortSubmission(t *testing.T) {
	sub := &fakeSubmitter{gate: make(chan struct{}), out: model.Succeeded(1, "OK")}
	bus, _ := setup(t, sub)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := RequestSubmit(ctx, bus, messaging.NewSender(messaging.KindPopup, nil),
			model.SubmitDownload{URL: "https://a.test", Mode: model.ModeVideo})
		errCh <- err
	}()

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	close(sub.gate)
	bus.Wait()
	assert.Len(t, sub.seen(), 1)
}

func TestSubmitterFailureStillReplies(t *testing.T) {
	sub := &fakeSubmitter{out: model.Failed(model.ErrMisconfigured, "bundled"), err: errors.New("bundled extension config unreadable")}
	bus, _ := setup(t, sub)

	out, err := RequestSubmit(context.Background(), bus, messaging.NewSender(messaging.KindPopup, nil),
		model.SubmitDownload{URL: "https://a.test", Mode: model.ModeVideo})
	require.NoError(t, err)
	assert.Equal(t, model.ErrMisconfigured, out.ErrorKind)
}

type fixedConfig model.EffectiveConfig

func (f fixedConfig) Resolve(context.Context) (model.EffectiveConfig, error) {
	return model.EffectiveConfig(f), nil
}

func TestStrictCheckDependsOnOrigin(t *testing.T) {
	var hits int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		fmt.Fprint(w, `{"task_id":1,"detail":"OK"}`)
	}))
	defer srv.Close()

	c := client.New(fixedConfig{ServerBaseURL: srv.URL, APIPrefix: "/api", AuthToken: "t"}, srv.Client(), nil, "EXT")
	bus, _ := setup(t, c)

	out, err := RequestSubmit(context.Background(), bus, messaging.NewSender(messaging.KindPopup, nil),
		model.SubmitDownload{URL: "not-a-url", Mode: model.ModeVideo})
	require.NoError(t, err)
	assert.Equal(t, model.ErrInvalidURL, out.ErrorKind)

	page := messaging.NewSender(messaging.KindPage, &messaging.Tab{ID: 1, URL: "not-a-url"})
	out, err = RequestSubmit(context.Background(), bus, page,
		model.SubmitDownload{URL: "not-a-url", Mode: model.ModeVideo, FromFloatingControl: true})
	require.NoError(t, err)
	assert.True(t, out.OK)

	mu.Lock()
	assert.Equal(t, 1, hits)
	mu.Unlock()
}

func TestForbiddenScenario(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"detail":"bad token"}`)
	}))
	defer srv.Close()

	c := client.New(fixedConfig{ServerBaseURL: srv.URL, APIPrefix: "/api", AuthToken: "wrong"}, srv.Client(), nil, "EXT")
	bus, _ := setup(t, c)

	out, err := RequestSubmit(context.Background(), bus, messaging.NewSender(messaging.KindPopup, nil),
		model.SubmitDownload{URL: "https://a.test/v", Mode: model.ModeVideo})
	require.NoError(t, err)
	assert.Equal(t, model.Outcome{OK: false, ErrorKind: model.ErrRejected, Detail: "bad token"}, out)
}
