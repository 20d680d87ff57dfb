package execlog

import (
	"context"
	"errors"
	"sync"
)

type (
	// Bus multicasts entries to registered subscribers. The bus is
	// thread-safe and supports concurrent Publish, Subscribe, and
	// Subscription.Close operations.
	//
	// Entries are delivered synchronously on the publisher's goroutine, in
	// subscription order. A subscriber error does not interrupt delivery to
	// the remaining subscribers; Publish joins and returns all handler
	// errors after the fan-out completes so the publisher can surface them.
	Bus interface {
		// Publish delivers the entry to every currently registered
		// subscriber and returns the joined subscriber errors, if any.
		Publish(ctx context.Context, entry Entry) error

		// Subscribe adds a subscriber and returns a Subscription that can be
		// closed to unregister. Subscribe returns an error if sub is nil.
		Subscribe(sub Subscriber) (Subscription, error)
	}

	// Subscriber consumes published entries. Delivery happens on the
	// emitting goroutine; implementations that do expensive work (UI
	// marshalling, network writes) must hand entries to their own queue.
	Subscriber interface {
		// HandleEntry processes one entry. An error is collected by the bus
		// and reported to the publisher but never stops delivery to other
		// subscribers.
		HandleEntry(ctx context.Context, entry Entry) error
	}

	// SubscriberFunc adapts a function to the Subscriber interface.
	SubscriberFunc func(ctx context.Context, entry Entry) error

	// Subscription represents an active registration on a Bus. Close is
	// idempotent and thread-safe.
	Subscription interface {
		// Close removes the subscriber from the bus. After Close returns the
		// subscriber receives no new entries, though an in-flight fan-out
		// may still deliver to it. Always returns nil.
		Close() error
	}

	bus struct {
		mu   sync.RWMutex
		subs []*subscription
	}

	subscription struct {
		bus  *bus
		sub  Subscriber
		once sync.Once
	}
)

// HandleEntry invokes the function.
func (f SubscriberFunc) HandleEntry(ctx context.Context, entry Entry) error {
	return f(ctx, entry)
}

// NewBus constructs an in-memory multicast bus ready for immediate use.
//
// Typical usage:
//
//	bus := execlog.NewBus()
//	sub, _ := bus.Subscribe(execlog.SubscriberFunc(func(ctx context.Context, e execlog.Entry) error {
//	    fmt.Println(e.Category, e.Message)
//	    return nil
//	}))
//	defer sub.Close()
func NewBus() Bus {
	return &bus{}
}

// Publish delivers the entry to every subscriber registered at the time of
// the call, in subscription order. The subscriber snapshot is captured before
// iteration begins, so registrations and removals during Publish do not
// affect the current delivery.
func (b *bus) Publish(ctx context.Context, entry Entry) error {
	b.mu.RLock()
	subs := make([]*subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	var errs []error
	for _, s := range subs {
		if err := s.sub.HandleEntry(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Subscribe adds a subscriber to the bus in FIFO position.
func (b *bus) Subscribe(sub Subscriber) (Subscription, error) {
	if sub == nil {
		return nil, errors.New("subscriber is required")
	}
	s := &subscription{bus: b, sub: sub}
	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()
	return s, nil
}

// Close removes the subscriber from the bus. Idempotent.
func (s *subscription) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()
		for i, cur := range s.bus.subs {
			if cur == s {
				s.bus.subs = append(s.bus.subs[:i], s.bus.subs[i+1:]...)
				break
			}
		}
	})
	return nil
}
