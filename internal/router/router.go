package router

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"mvideodk-relay/internal/client"
	"mvideodk-relay/internal/messaging"
	"mvideodk-relay/internal/model"
	"mvideodk-relay/internal/notify"
	"mvideodk-relay/pkg/logger"
)

// Submitter is satisfied by *client.Client.
type Submitter interface {
	Submit(ctx context.Context, intent model.SubmissionIntent) (model.Outcome, error)
}

// Router is the background coordinator. It answers SUBMIT_DOWNLOAD and
// ignores every other message type.
type Router struct {
	bus       *messaging.Bus
	submitter Submitter
	notifier  notify.Notifier
	log       *logrus.Entry
}

func New(bus *messaging.Bus, submitter Submitter, notifier notify.Notifier) *Router {
	return &Router{
		bus:       bus,
		submitter: submitter,
		notifier:  notifier,
		log:       logger.For("background").WithField("component", "router"),
	}
}

// Register attaches the router to the bus as a background listener.
func (r *Router) Register() (remove func()) {
	return r.bus.OnMessage(r.Handle)
}

func (r *Router) Handle(msg messaging.Message, sender messaging.Sender, respond messaging.Respond) bool {
	switch msg.Type {
	case model.MsgSubmitDownload:
		return r.handleSubmit(msg, sender, respond)
	default:
		return false
	}
}

func (r *Router) handleSubmit(msg messaging.Message, sender messaging.Sender, respond messaging.Respond) bool {
	var req model.SubmitDownload
	if err := msg.Decode(&req); err != nil {
		r.log.Warnf("ignoring malformed %s from %s: %v", msg.Type, sender.Kind, err)
		return false
	}

	url := strings.TrimSpace(req.URL)
	if url == "" && sender.Tab != nil {
		url = sender.Tab.URL
	}
	if url == "" {
		r.notify("No URL to send")
		respond(model.Failed(model.ErrNoURL, "no URL to submit"))
		return false
	}
	if !req.FromFloatingControl && !client.IsStrictURL(url) {
		r.notify("Invalid URL")
		respond(model.Failed(model.ErrInvalidURL, "not an http(s) URL: "+url))
		return false
	}

	origin := model.OriginPopup
	if req.FromFloatingControl {
		origin = model.OriginFloatingControl
	}
	intent := model.SubmissionIntent{
		URL:                         url,
		Mode:                        model.ParseMode(string(req.Mode)),
		Origin:                      origin,
		RequiresStrictURLValidation: !req.FromFloatingControl,
	}

	// The submission outlives the sender: a popup closing mid-request loses
	// only the reply.
	r.bus.Go(func() {
		out, err := r.submitter.Submit(context.Background(), intent)
		if err != nil {
			r.log.WithError(err).Error("submission aborted")
		}
		respond(out)
	})
	return true
}

func (r *Router) notify(message string) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.Notify(notify.LevelError, "MVideoDK", message); err != nil {
		r.log.Debugf("notification dropped: %v", err)
	}
}

// RequestSubmit sends a SUBMIT_DOWNLOAD from any context and waits for the
// background's reply.
func RequestSubmit(ctx context.Context, bus *messaging.Bus, sender messaging.Sender, req model.SubmitDownload) (model.Outcome, error) {
	msg, err := messaging.NewMessage(model.MsgSubmitDownload, req)
	if err != nil {
		return model.Outcome{}, err
	}

	raw, err := bus.SendMessage(ctx, msg, sender)
	if err != nil {
		return model.Outcome{}, err
	}

	var out model.Outcome
	if err := (messaging.Message{Payload: raw}).Decode(&out); err != nil {
		return model.Outcome{}, err
	}
	return out, nil
}
