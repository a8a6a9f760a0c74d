package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"mvideodk-relay/pkg/logger"
)

var (
	ErrNoReceiver = errors.New("could not establish connection: receiving end does not exist")
	ErrNoResponse = errors.New("message port closed before a response was received")
)

const mailboxSize = 32

type ContextKind string

const (
	KindPopup      ContextKind = "popup"
	KindPage       ContextKind = "page"
	KindBackground ContextKind = "background"
	KindBridge     ContextKind = "bridge"
)

type Tab struct {
	ID  int    `json:"id"`
	URL string `json:"url"`
}

// Sender identifies the context a message came from. Tab is set only for
// page contexts.
type Sender struct {
	ID   string
	Kind ContextKind
	Tab  *Tab
}

func NewSender(kind ContextKind, tab *Tab) Sender {
	s := Sender{ID: uuid.NewString(), Kind: kind}
	if tab != nil {
		t := *tab
		s.Tab = &t
	}
	return s
}

// Message is what crosses a context boundary. The payload is always
// serialised so no context ever holds a reference into another.
type Message struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func NewMessage(msgType string, payload any) (Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s: %w", msgType, err)
	}
	return Message{ID: uuid.NewString(), Type: msgType, Payload: raw}, nil
}

func (m Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return errors.New("empty payload")
	}
	return json.Unmarshal(m.Payload, v)
}

func (m Message) clone() Message {
	m.Payload = append(json.RawMessage(nil), m.Payload...)
	return m
}

// Respond delivers the reply to a SendMessage call. Only the first call has
// an effect; calls after the channel closed are dropped.
type Respond func(payload any)

// Handler processes one runtime message. Returning true keeps the reply
// channel open after the handler returns so respond may be called later.
type Handler func(msg Message, sender Sender, respond Respond) bool

// TabHandler receives fire-and-forget messages addressed to a page.
type TabHandler func(msg Message)

type mailbox struct {
	ch chan Message
}

type tabEntry struct {
	url       string
	receivers map[string]*mailbox
}

// Bus is the message runtime connecting popup, page and background
// contexts.
type Bus struct {
	mu        sync.RWMutex
	listeners map[string]Handler
	order     []string
	tabs      map[int]*tabEntry
	nextTab   int
	activeTab int

	inflight sync.WaitGroup
}

func NewBus() *Bus {
	return &Bus{
		listeners: make(map[string]Handler),
		tabs:      make(map[int]*tabEntry),
	}
}

// OnMessage registers a background listener.
func (b *Bus) OnMessage(h Handler) (remove func()) {
	id := uuid.NewString()

	b.mu.Lock()
	b.listeners[id] = h
	b.order = append(b.order, id)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.order = slices.DeleteFunc(b.order, func(s string) bool { return s == id })
		b.mu.Unlock()
	}
}

type reply struct {
	payload json.RawMessage
	closed  bool
}

// SendMessage delivers msg to the background listeners and waits for the
// first response. Cancelling ctx only abandons the wait; listeners keep
// running to completion.
func (b *Bus) SendMessage(ctx context.Context, msg Message, sender Sender) (json.RawMessage, error) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.order))
	for _, id := range b.order {
		handlers = append(handlers, b.listeners[id])
	}
	b.mu.RUnlock()

	if len(handlers) == 0 {
		return nil, ErrNoReceiver
	}

	result := make(chan reply, 1)
	var settle sync.Once
	respond := func(payload any) {
		settle.Do(func() {
			raw, err := json.Marshal(payload)
			if err != nil {
				logger.Errorf("dropping unencodable response to %s: %v", msg.Type, err)
				result <- reply{closed: true}
				return
			}
			result <- reply{payload: raw}
		})
	}

	b.inflight.Add(1)
	go func() {
		defer b.inflight.Done()

		keepOpen := false
		for _, h := range handlers {
			if h(msg.clone(), sender, respond) {
				keepOpen = true
			}
		}
		if !keepOpen {
			settle.Do(func() { result <- reply{closed: true} })
		}
	}()

	select {
	case r := <-result:
		if r.closed {
			return nil, ErrNoResponse
		}
		return r.payload, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Go runs fn as tracked background work, so Wait covers work a handler
// started after returning true.
func (b *Bus) Go(fn func()) {
	b.inflight.Add(1)
	go func() {
		defer b.inflight.Done()
		fn()
	}()
}

// Wait blocks until every dispatched message and tracked task finished.
func (b *Bus) Wait() {
	b.inflight.Wait()
}

// OpenTab records a new browser tab and returns its id.
func (b *Bus) OpenTab(url string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextTab++
	b.tabs[b.nextTab] = &tabEntry{url: url, receivers: make(map[string]*mailbox)}
	return b.nextTab
}

// CloseTab forgets the tab and stops its receivers.
func (b *Bus) CloseTab(tabID int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.tabs[tabID]
	if !ok {
		return
	}
	for _, mb := range entry.receivers {
		close(mb.ch)
	}
	delete(b.tabs, tabID)
	if b.activeTab == tabID {
		b.activeTab = 0
	}
}

func (b *Bus) UpdateTabURL(tabID int, url string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if entry, ok := b.tabs[tabID]; ok {
		entry.url = url
	}
}

func (b *Bus) Tab(tabID int) (Tab, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	entry, ok := b.tabs[tabID]
	if !ok {
		return Tab{}, false
	}
	return Tab{ID: tabID, URL: entry.url}, true
}

func (b *Bus) SetActiveTab(tabID int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.tabs[tabID]; ok {
		b.activeTab = tabID
	}
}

func (b *Bus) ActiveTab() (Tab, bool) {
	b.mu.RLock()
	id := b.activeTab
	b.mu.RUnlock()

	if id == 0 {
		return Tab{}, false
	}
	return b.Tab(id)
}

// AddTabReceiver attaches a page context to a tab. Messages are handed to h
// one at a time, in the order they were sent.
func (b *Bus) AddTabReceiver(tabID int, h TabHandler) (remove func(), err error) {
	b.mu.Lock()
	entry, ok := b.tabs[tabID]
	if !ok {
		b.mu.Unlock()
		return nil, fmt.Errorf("tab %d: %w", tabID, ErrNoReceiver)
	}
	id := uuid.NewString()
	mb := &mailbox{ch: make(chan Message, mailboxSize)}
	entry.receivers[id] = mb
	b.mu.Unlock()

	go func() {
		for msg := range mb.ch {
			h(msg)
		}
	}()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if entry, ok := b.tabs[tabID]; ok {
			if _, still := entry.receivers[id]; still {
				delete(entry.receivers, id)
				close(mb.ch)
			}
		}
	}, nil
}

// SendToTab is fire-and-forget. It fails with ErrNoReceiver when no page
// context is listening in that tab.
func (b *Bus) SendToTab(tabID int, msg Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	entry, ok := b.tabs[tabID]
	if !ok || len(entry.receivers) == 0 {
		return fmt.Errorf("tab %d: %w", tabID, ErrNoReceiver)
	}

	for id, mb := range entry.receivers {
		select {
		case mb.ch <- msg.clone():
		default:
			logger.Warnf("tab %d receiver %s is not keeping up, dropping %s", tabID, id, msg.Type)
		}
	}
	return nil
}

// Broadcast sends msg to every tab with a receiver and returns how many
// tabs it reached.
func (b *Bus) Broadcast(msg Message) int {
	b.mu.RLock()
	ids := lo.Keys(b.tabs)
	b.mu.RUnlock()
	slices.Sort(ids)

	delivered := 0
	for _, id := range ids {
		if err := b.SendToTab(id, msg); err == nil {
			delivered++
		}
	}
	return delivered
}
