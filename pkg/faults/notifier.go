package faults

import (
	"sync"

	"go.uber.org/zap"
)

// Handler receives published faults of the kind it subscribed to.
type Handler func(*Error)

type subscription struct {
	id int
	fn Handler
}

// Notifier fans classified faults out to per-kind subscribers. It is an
// explicitly constructed collaborator; each session owns its own.
type Notifier struct {
	logger *zap.Logger

	mu   sync.Mutex
	next int
	subs map[Kind][]subscription
}

// NewNotifier creates an empty notifier.
func NewNotifier(logger *zap.Logger) *Notifier {
	return &Notifier{
		logger: logger,
		subs:   make(map[Kind][]subscription),
	}
}

// Subscribe registers fn for faults of the given kind and returns a
// function that removes the registration.
func (n *Notifier) Subscribe(kind Kind, fn Handler) (unsubscribe func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.next++
	id := n.next
	n.subs[kind] = append(n.subs[kind], subscription{id: id, fn: fn})

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()

		subs := n.subs[kind]
		for i, s := range subs {
			if s.id == id {
				n.subs[kind] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers a fault to every subscriber of its kind, in registration
// order. A panicking subscriber is isolated so the others still run.
func (n *Notifier) Publish(e *Error) {
	n.logger.Warn("fault published",
		zap.String("kind", string(e.Kind)),
		zap.String("code", e.Code),
		zap.String("detail", e.Message),
		zap.Bool("recoverable", e.Recoverable))

	n.mu.Lock()
	subs := make([]subscription, len(n.subs[e.Kind]))
	copy(subs, n.subs[e.Kind])
	n.mu.Unlock()

	for _, s := range subs {
		n.invoke(s.fn, e)
	}
}

func (n *Notifier) invoke(fn Handler, e *Error) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("fault subscriber panicked", zap.Any("panic", r))
		}
	}()
	fn(e)
}
