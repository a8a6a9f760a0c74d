package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"mvideodk-relay/internal/messaging"
	"mvideodk-relay/internal/model"
	"mvideodk-relay/internal/service"
	"mvideodk-relay/internal/utils"
	"mvideodk-relay/pkg/logger"
)

const heartbeatInterval = 30 * time.Second

// RelayHandler exposes the relay to extension pages that live outside this
// process.
type RelayHandler struct {
	relay     *service.Relay
	heartbeat time.Duration
	log       *logrus.Entry
}

func NewRelayHandler(relay *service.Relay) *RelayHandler {
	return &RelayHandler{
		relay:     relay,
		heartbeat: heartbeatInterval,
		log:       logger.For("bridge"),
	}
}

func (h *RelayHandler) GetConfig(c *gin.Context) {
	view, err := h.relay.ConfigView(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *RelayHandler) GetStatus(c *gin.Context) {
	ctx := c.Request.Context()
	info, alive := h.relay.Ping(ctx)
	enabled, err := h.relay.FloatButton().Enabled(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"server_alive":  alive,
		"server":        info.Server,
		"float_enabled": enabled,
	})
}

// Submit accepts a SUBMIT_DOWNLOAD from a remote context. With a tab_id the
// request speaks for that page; without one it is treated like a popup.
func (h *RelayHandler) Submit(c *gin.Context) {
	var req model.BridgeSubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	// only a page can speak as the floating control
	fromFloating := req.FromFloatingControl && req.TabID != 0

	sender := messaging.NewSender(messaging.KindBridge, nil)
	if req.TabID != 0 {
		tab, ok := h.relay.Bus().Tab(req.TabID)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"detail": "unknown tab " + strconv.Itoa(req.TabID)})
			return
		}
		if u := strings.TrimSpace(req.URL); u != "" && fromFloating {
			if overlay, ok := h.relay.Page(tab.ID); ok {
				overlay.Navigate(u)
			} else {
				h.relay.Bus().UpdateTabURL(tab.ID, u)
			}
			tab.URL = u
		}
		sender = messaging.NewSender(messaging.KindPage, &tab)
	}

	out, err := h.relay.Submit(c.Request.Context(), sender, model.SubmitDownload{
		URL:                 req.URL,
		Mode:                model.ParseMode(req.Mode),
		FromFloatingControl: fromFloating,
	})
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, messaging.ErrNoReceiver) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *RelayHandler) GetFloat(c *gin.Context) {
	enabled, err := h.relay.FloatButton().Enabled(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, model.FloatStateResponse{Enabled: enabled})
}

func (h *RelayHandler) PutFloat(c *gin.Context) {
	var req model.FloatStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	delivered, err := h.relay.SetFloatButton(c.Request.Context(), *req.Enabled)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	h.log.WithFields(logrus.Fields{"enabled": *req.Enabled, "pages": delivered}).Info("floating control toggled")
	c.JSON(http.StatusOK, gin.H{"enabled": *req.Enabled, "delivered": delivered})
}

// Events attaches a remote page. The page context runs here; the stream
// opens with a "hello" event carrying the tab id and whether the control is
// shown, then reports every change for as long as the client stays connected.
func (h *RelayHandler) Events(c *gin.Context) {
	events := make(chan model.SetFloatButton, 8)
	onChange := func(shown bool) {
		select {
		case events <- model.SetFloatButton{Enabled: shown}:
		default:
		}
	}

	ctx := c.Request.Context()
	tabID, overlay, err := h.relay.OpenPage(ctx, c.Query("url"), service.PageHooks{OnChange: onChange})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	defer h.relay.ClosePage(tabID)

	// the hello event already reports the startup state
	for len(events) > 0 {
		<-events
	}

	sse := utils.NewSSEWriter(c.Writer)
	c.Status(http.StatusOK)
	if err := sse.WriteJSON("hello", gin.H{"tab_id": tabID, "enabled": overlay.Visible()}); err != nil {
		return
	}
	h.log.WithField("tab", tabID).Debug("remote page attached")

	h.stream(ctx, sse, events)
}

func (h *RelayHandler) stream(ctx context.Context, sse *utils.SSEWriter, events <-chan model.SetFloatButton) {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sse.Heartbeat(); err != nil {
				h.log.Debugf("heartbeat failed: %v", err)
				return
			}
		case sf := <-events:
			if err := sse.WriteJSON("float", sf); err != nil {
				h.log.Debugf("event write failed: %v", err)
				return
			}
		}
	}
}
