// Package bus provides the in-process topic bus connecting the node's
// pipelines. Publishes are non-blocking: a subscriber whose channel is full
// misses the message. Perception and control both want latest-value
// semantics, so dropping beats queueing stale data.
package bus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Topic names used by the node.
const (
	TopicFrames        = "camera/frames"
	TopicLabels        = "signs/labels"
	TopicDetections    = "signs/detections"
	TopicPose          = "odom/pose"
	TopicVelocity      = "drive/cmd_vel"
	TopicCaptureToggle = "capture/toggle"
)

// Message is a single delivery from the bus.
type Message struct {
	// Topic the message was published on.
	Topic string

	// Payload carries the topic's value type (bus.Frame, signs.Label,
	// signs.Detection, odom.Pose, drive.Velocity, bool for the capture
	// toggle).
	Payload any

	// Time is when the message was published.
	Time time.Time
}

// Frame is a raw camera frame as delivered by the driver.
type Frame struct {
	// Data is the encoded image (JPEG or PNG).
	Data []byte

	// Seq is the frame sequence number assigned by the source.
	Seq uint64

	// Time is the capture timestamp.
	Time time.Time
}

// TopicStats holds delivery counters for one topic.
type TopicStats struct {
	Published uint64
	Delivered uint64
	Dropped   uint64
}

// Stats is a snapshot of bus activity.
type Stats struct {
	Topics map[string]TopicStats
}

type subscriber struct {
	topic string
	ch    chan Message
}

type topicCounters struct {
	published atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// Bus fans messages out to per-topic subscribers.
type Bus struct {
	mu          sync.Mutex
	subscribers map[string]*subscriber
	counters    map[string]*topicCounters
	closed      bool
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{
		subscribers: make(map[string]*subscriber),
		counters:    make(map[string]*topicCounters),
	}
}

// Subscribe registers a new subscriber for a topic and returns its id plus
// the delivery channel. buffer controls how many undelivered messages the
// subscriber may lag before publishes to it are dropped; a buffer of 1 gives
// pure latest-value behaviour.
func (b *Bus) Subscribe(topic string, buffer int) (string, <-chan Message) {
	if buffer < 1 {
		buffer = 1
	}

	id := uuid.NewString()
	sub := &subscriber{topic: topic, ch: make(chan Message, buffer)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return id, sub.ch
	}
	b.subscribers[id] = sub
	return id, sub.ch
}

// Unsubscribe removes a subscriber and closes its channel. Unknown ids are
// ignored so deferred Unsubscribe after Close is safe.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subscribers[id]; ok {
		close(sub.ch)
		delete(b.subscribers, id)
	}
}

// Publish delivers payload to every subscriber of the topic without
// blocking. Subscribers with full channels are skipped. Publishing on a
// closed bus is a no-op.
func (b *Bus) Publish(topic string, payload any) {
	msg := Message{Topic: topic, Payload: payload, Time: time.Now()}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	c := b.countersLocked(topic)
	c.published.Add(1)

	for _, sub := range b.subscribers {
		if sub.topic != topic {
			continue
		}
		select {
		case sub.ch <- msg:
			c.delivered.Add(1)
		default:
			c.dropped.Add(1)
		}
	}
}

// Stats returns a snapshot of per-topic counters.
func (b *Bus) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := Stats{Topics: make(map[string]TopicStats, len(b.counters))}
	for topic, c := range b.counters {
		out.Topics[topic] = TopicStats{
			Published: c.published.Load(),
			Delivered: c.delivered.Load(),
			Dropped:   c.dropped.Load(),
		}
	}
	return out
}

// Close shuts the bus down: all subscriber channels are closed and further
// publishes are dropped. Close is idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subscribers {
		close(sub.ch)
		delete(b.subscribers, id)
	}
}

func (b *Bus) countersLocked(topic string) *topicCounters {
	c, ok := b.counters[topic]
	if !ok {
		c = &topicCounters{}
		b.counters[topic] = c
	}
	return c
}
