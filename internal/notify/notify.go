// Package notify is the in-process change notifier of the event store.
//
// Writers call Publish after a transaction commits, naming every identifier
// the transaction changed. Observers subscribe to an identifier prefix and
// receive at most one Change per Publish call, carrying the identifiers that
// matched their prefix.
//
// Delivery is fire-and-forget: each subscription owns a buffered channel and
// Publish never blocks on it. When the buffer is full the change is dropped
// and counted. Nothing is persisted and there is no replay: a subscription
// only sees changes published while it exists.
package notify

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
)

// DefaultBuffer is the channel capacity used when Subscribe is given a
// non-positive buffer.
const DefaultBuffer = 64

// Change is one notification delivered to a subscription.
type Change struct {
	// Seq increases by one for every Publish call on the notifier. A
	// subscription receives its changes in Seq order.
	Seq uint64

	// Identifiers lists the published identifiers covered by the
	// subscription's prefix, in publish order.
	Identifiers []string
}

// ParentFunc maps an identifier to the identifier of its owning collection.
// It reports false when identifier has no parent.
type ParentFunc func(identifier string) (string, bool)

// Option configures a Notifier.
type Option func(*Notifier)

// WithParents makes observers of a collection receive changes published for
// its items, even when the collection itself is not published.
func WithParents(fn ParentFunc) Option {
	return func(n *Notifier) { n.parent = fn }
}

// Notifier fans out change signals to subscriptions.
// The zero value is not usable; call New.
type Notifier struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	parent ParentFunc

	// pubMu orders publishes: seq is assigned and delivered under it.
	pubMu sync.Mutex
	seq   uint64

	dropped atomic.Uint64
	logger  *slog.Logger
}

// New returns an empty notifier. A nil logger means slog.Default().
func New(logger *slog.Logger, opts ...Option) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	n := &Notifier{
		subs:   make(map[uint64]*Subscription),
		logger: logger,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Covers reports whether a subscription on prefix observes identifier.
// Matching is segment-aware: "a/events" covers "a/events" and "a/events/x"
// but not "a/eventsX". The empty prefix covers everything.
func Covers(prefix, identifier string) bool {
	prefix = strings.TrimSuffix(stripScheme(prefix), "/")
	identifier = stripScheme(identifier)
	if prefix == "" || identifier == prefix {
		return true
	}
	return strings.HasPrefix(identifier, prefix+"/")
}

func stripScheme(s string) string {
	if i := strings.Index(s, "://"); i >= 0 {
		return s[i+3:]
	}
	return s
}

// Subscribe registers an observer for prefix. buffer <= 0 selects
// DefaultBuffer. Call Cancel on the returned subscription to stop delivery.
func (n *Notifier) Subscribe(prefix string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	n.nextID++
	s := &Subscription{
		id:       n.nextID,
		prefix:   prefix,
		ch:       make(chan Change, buffer),
		notifier: n,
	}
	n.subs[s.id] = s
	return s
}

// Publish delivers one Change to every subscription covering at least one
// of identifiers or, with WithParents, one of their collections. It never
// blocks and never fails; undeliverable changes are dropped and counted.
func (n *Notifier) Publish(identifiers ...string) {
	if len(identifiers) == 0 {
		return
	}

	n.pubMu.Lock()
	defer n.pubMu.Unlock()
	n.seq++
	seq := n.seq

	n.mu.RLock()
	targets := make([]*Subscription, 0, len(n.subs))
	for _, s := range n.subs {
		targets = append(targets, s)
	}
	n.mu.RUnlock()

	parents := n.parents(identifiers)
	for _, s := range targets {
		var matched []string
		for i, id := range identifiers {
			if Covers(s.prefix, id) || (parents[i] != "" && Covers(s.prefix, parents[i])) {
				matched = append(matched, id)
			}
		}
		if len(matched) == 0 {
			continue
		}
		if !s.offer(Change{Seq: seq, Identifiers: matched}) {
			n.dropped.Add(1)
			n.logger.Debug("dropped change notification", "prefix", s.prefix, "seq", seq)
		}
	}
}

func (n *Notifier) parents(identifiers []string) []string {
	out := make([]string, len(identifiers))
	if n.parent == nil {
		return out
	}
	for i, id := range identifiers {
		if p, ok := n.parent(id); ok && p != id {
			out[i] = p
		}
	}
	return out
}

// Observe calls fn for every change on prefix until ctx is done or the
// subscription is cancelled. fn runs on its own goroutine, so a slow observer
// only fills its own buffer; a panic in fn is logged and swallowed.
func (n *Notifier) Observe(ctx context.Context, prefix string, buffer int, fn func(Change)) *Subscription {
	s := n.Subscribe(prefix, buffer)
	go func() {
		defer s.Cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case c, ok := <-s.C():
				if !ok {
					return
				}
				n.deliver(s, c, fn)
			}
		}
	}()
	return s
}

func (n *Notifier) deliver(s *Subscription, c Change, fn func(Change)) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("change observer panicked", "prefix", s.prefix, "seq", c.Seq, "panic", r)
		}
	}()
	fn(c)
}

// Dropped returns the number of changes dropped because a subscription's
// buffer was full.
func (n *Notifier) Dropped() uint64 {
	return n.dropped.Load()
}

// Len returns the number of active subscriptions.
func (n *Notifier) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subs)
}

func (n *Notifier) remove(id uint64) {
	n.mu.Lock()
	delete(n.subs, id)
	n.mu.Unlock()
}

// Subscription is one registered observer.
type Subscription struct {
	id       uint64
	prefix   string
	notifier *Notifier

	mu     sync.Mutex
	ch     chan Change
	closed bool
	once   sync.Once
}

// C returns the delivery channel. It is closed by Cancel.
func (s *Subscription) C() <-chan Change {
	return s.ch
}

// Prefix returns the identifier prefix the subscription observes.
func (s *Subscription) Prefix() string {
	return s.prefix
}

// Cancel unregisters the subscription and closes its channel.
// It is safe to call more than once.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.notifier.remove(s.id)
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
	})
}

// offer performs a non-blocking send. It reports false when the change was
// dropped because the buffer is full; changes to a cancelled subscription
// are discarded silently.
func (s *Subscription) offer(c Change) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- c:
		return true
	default:
		return false
	}
}

// Drain returns every change currently buffered without blocking.
func (s *Subscription) Drain() []Change {
	var out []Change
	for {
		select {
		case c, ok := <-s.ch:
			if !ok {
				return out
			}
			out = append(out, c)
		default:
			return out
		}
	}
}
