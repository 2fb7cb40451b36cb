// Package mail routes one-shot backend notifications to local handlers.
package mail

import (
	"sync"

	"go.uber.org/zap"

	"github.com/vburojevic/bsync/internal/domain"
)

// Handler receives a delivered mail item
type Handler func(item domain.MailItem)

type subscription struct {
	id       int
	mailType string
	handler  Handler
}

// Router hands mail items to subscribers of their type. Items with no
// subscriber stay in the inbox until one registers.
type Router struct {
	mu     sync.Mutex
	logger *zap.Logger
	nextID int
	subs   []subscription
	inbox  []domain.MailItem
}

// NewRouter creates a router with an empty inbox
func NewRouter(logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{logger: logger}
}

// Subscribe registers handler for mailType and immediately flushes any
// buffered items of that type to it. The returned func unsubscribes.
func (r *Router) Subscribe(mailType string, handler Handler) func() {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.subs = append(r.subs, subscription{id: id, mailType: mailType, handler: handler})
	r.mu.Unlock()

	r.Deliver(nil)

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, s := range r.subs {
			if s.id == id {
				r.subs = append(r.subs[:i], r.subs[i+1:]...)
				return
			}
		}
	}
}

type dispatch struct {
	item     domain.MailItem
	handlers []Handler
}

// Deliver appends items to the inbox and hands every deliverable item,
// in arrival order, to all subscribers of its type
func (r *Router) Deliver(items []domain.MailItem) {
	r.mu.Lock()
	r.inbox = append(r.inbox, items...)

	var (
		ready []dispatch
		kept  []domain.MailItem
	)
	for _, item := range r.inbox {
		handlers := r.handlersFor(item.Type)
		if len(handlers) == 0 {
			kept = append(kept, item)
			continue
		}
		ready = append(ready, dispatch{item: item, handlers: handlers})
	}
	r.inbox = kept
	r.mu.Unlock()

	if len(kept) > 0 {
		r.logger.Debug("mail held without subscriber", zap.Int("pending", len(kept)))
	}

	// Handlers run outside the lock so they may subscribe or deliver.
	for _, d := range ready {
		for _, h := range d.handlers {
			h(d.item)
		}
	}
}

// Pending returns a copy of the items still waiting for a subscriber
func (r *Router) Pending() []domain.MailItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.MailItem, len(r.inbox))
	copy(out, r.inbox)
	return out
}

// handlersFor returns the handlers subscribed to mailType; callers hold r.mu
func (r *Router) handlersFor(mailType string) []Handler {
	var handlers []Handler
	for _, s := range r.subs {
		if s.mailType == mailType {
			handlers = append(handlers, s.handler)
		}
	}
	return handlers
}
