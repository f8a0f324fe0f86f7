// Package broadcast fans progress messages out to live subscribers. Every
// subscription belongs to one topic; subscribers of the "global" pseudo-topic
// receive the messages of every topic. Delivery is at-most-once: a
// subscriber whose buffer is full misses the message.
package broadcast

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/topicwatch/internal/metrics"
	"github.com/JakeFAU/topicwatch/internal/progress"
)

// PingEvent is the liveness message sent to every subscriber.
const PingEvent = "ping"

const (
	defaultBufferSize   = 256
	defaultPingInterval = 30 * time.Second
	defaultTimeout      = 35 * time.Second
)

// Message is the wire envelope delivered to subscribers.
type Message struct {
	Event     string    `json:"event"`
	TopicID   string    `json:"topicId"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Config tunes a Broadcaster.
type Config struct {
	// BufferSize is the per-subscription queue length.
	BufferSize int
	// PingInterval is how often Run pings subscribers.
	PingInterval time.Duration
	// Timeout closes subscriptions that have not been touched for this long.
	Timeout time.Duration
	Logger  *zap.Logger
	Now     func() time.Time
}

// Broadcaster routes messages to subscriptions by topic.
type Broadcaster struct {
	cfg    Config
	logger *zap.Logger

	mu     sync.RWMutex
	topics map[string]map[*Subscription]struct{}
	global map[*Subscription]struct{}
	closed bool
}

// New builds a Broadcaster. Call Run to start the liveness loop.
func New(cfg Config) *Broadcaster {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		cfg:    cfg,
		logger: logger.Named("broadcast"),
		topics: make(map[string]map[*Subscription]struct{}),
		global: make(map[*Subscription]struct{}),
	}
}

// Subscribe registers a subscription for topicID. An empty topic or
// progress.GlobalTopic subscribes to every topic.
func (b *Broadcaster) Subscribe(topicID string) *Subscription {
	if topicID == "" {
		topicID = progress.GlobalTopic
	}
	sub := &Subscription{
		id:      uuid.NewString(),
		topicID: topicID,
		ch:      make(chan Message, b.cfg.BufferSize),
		done:    make(chan struct{}),
		owner:   b,
	}
	sub.lastSeen.Store(b.cfg.Now().UnixNano())

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.closeOnce.Do(func() { close(sub.done) })
		return sub
	}
	if topicID == progress.GlobalTopic {
		b.global[sub] = struct{}{}
	} else {
		set, ok := b.topics[topicID]
		if !ok {
			set = make(map[*Subscription]struct{})
			b.topics[topicID] = set
		}
		set[sub] = struct{}{}
	}
	total := b.countLocked()
	b.mu.Unlock()

	metrics.SetBroadcastSubscribers(total)
	b.logger.Debug("subscriber added", zap.String("topic_id", topicID), zap.String("subscription_id", sub.id))
	return sub
}

// Unsubscribe removes sub and closes its Done channel. It is idempotent.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	b.removeLocked(sub)
	total := b.countLocked()
	b.mu.Unlock()
	sub.closeOnce.Do(func() { close(sub.done) })
	metrics.SetBroadcastSubscribers(total)
}

func (b *Broadcaster) removeLocked(sub *Subscription) {
	if sub.topicID == progress.GlobalTopic {
		delete(b.global, sub)
		return
	}
	set := b.topics[sub.topicID]
	delete(set, sub)
	if len(set) == 0 {
		delete(b.topics, sub.topicID)
	}
}

func (b *Broadcaster) countLocked() int {
	n := len(b.global)
	for _, set := range b.topics {
		n += len(set)
	}
	return n
}

// Broadcast delivers an event to topicID's subscribers and to global
// subscribers. It returns the number of subscriptions that accepted it.
func (b *Broadcaster) Broadcast(topicID, event string, data any) int {
	return b.Deliver(Message{Event: event, TopicID: topicID, Data: data, Timestamp: b.cfg.Now()})
}

// BroadcastGlobal delivers an event to every subscription of every topic.
func (b *Broadcaster) BroadcastGlobal(event string, data any) int {
	return b.Deliver(Message{Event: event, TopicID: progress.GlobalTopic, Data: data, Timestamp: b.cfg.Now()})
}

// Deliver routes a prepared message. Messages addressed to the global topic
// reach everyone; others reach the topic's subscribers plus global ones.
func (b *Broadcaster) Deliver(msg Message) int {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = b.cfg.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0
	}
	delivered, targets := 0, 0
	send := func(set map[*Subscription]struct{}) {
		for sub := range set {
			targets++
			if sub.offer(msg) {
				delivered++
				continue
			}
			metrics.ObserveBroadcastDrop("buffer_full")
			b.logger.Warn("subscriber buffer full; message dropped",
				zap.String("subscription_id", sub.id),
				zap.String("topic_id", msg.TopicID),
				zap.String("event", msg.Event),
			)
		}
	}
	if msg.TopicID == progress.GlobalTopic {
		for _, set := range b.topics {
			send(set)
		}
	} else {
		send(b.topics[msg.TopicID])
	}
	send(b.global)
	if targets == 0 {
		metrics.ObserveBroadcastDrop("no_subscribers")
		b.logger.Debug("no subscribers; message dropped",
			zap.String("topic_id", msg.TopicID),
			zap.String("event", msg.Event),
		)
	}
	return delivered
}

// SubscriberCount reports subscriptions bound to topicID. For the global
// topic it reports every subscription.
func (b *Broadcaster) SubscriberCount(topicID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if topicID == progress.GlobalTopic {
		return b.countLocked()
	}
	return len(b.topics[topicID])
}

// Sweep pings live subscriptions and closes those not touched within the
// timeout. It returns the number of closed subscriptions.
func (b *Broadcaster) Sweep() int {
	now := b.cfg.Now()
	var stale []*Subscription
	b.mu.RLock()
	visit := func(set map[*Subscription]struct{}) {
		for sub := range set {
			if now.Sub(sub.LastSeen()) > b.cfg.Timeout {
				stale = append(stale, sub)
				continue
			}
			sub.offer(Message{Event: PingEvent, TopicID: sub.topicID, Timestamp: now})
		}
	}
	for _, set := range b.topics {
		visit(set)
	}
	visit(b.global)
	b.mu.RUnlock()

	for _, sub := range stale {
		b.logger.Info("closing unresponsive subscriber",
			zap.String("subscription_id", sub.id),
			zap.String("topic_id", sub.topicID),
		)
		b.Unsubscribe(sub)
	}
	return len(stale)
}

// Run sweeps every PingInterval until done is closed.
func (b *Broadcaster) Run(done <-chan struct{}) {
	ticker := time.NewTicker(b.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			b.Sweep()
		}
	}
}

// Close ends every subscription and rejects further deliveries.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	var all []*Subscription
	for _, set := range b.topics {
		for sub := range set {
			all = append(all, sub)
		}
	}
	for sub := range b.global {
		all = append(all, sub)
	}
	b.topics = make(map[string]map[*Subscription]struct{})
	b.global = make(map[*Subscription]struct{})
	b.mu.Unlock()

	for _, sub := range all {
		sub.closeOnce.Do(func() { close(sub.done) })
	}
	metrics.SetBroadcastSubscribers(0)
}

// Subscription is one subscriber's message queue.
type Subscription struct {
	id        string
	topicID   string
	ch        chan Message
	done      chan struct{}
	closeOnce sync.Once
	lastSeen  atomic.Int64
	owner     *Broadcaster
}

// ID returns the subscription identifier.
func (s *Subscription) ID() string { return s.id }

// TopicID returns the subscribed topic.
func (s *Subscription) TopicID() string { return s.topicID }

// C returns the message channel. It is never closed; select on Done as well.
func (s *Subscription) C() <-chan Message { return s.ch }

// Done is closed once the subscription ends.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Touch records subscriber activity, e.g. a successful write to the client.
func (s *Subscription) Touch() {
	s.lastSeen.Store(s.owner.cfg.Now().UnixNano())
}

// LastSeen reports the last recorded activity.
func (s *Subscription) LastSeen() time.Time {
	return time.Unix(0, s.lastSeen.Load()).UTC()
}

// Close unsubscribes.
func (s *Subscription) Close() {
	s.owner.Unsubscribe(s)
}

func (s *Subscription) offer(msg Message) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.ch <- msg:
		return true
	default:
		return false
	}
}
