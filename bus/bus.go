// Package bus implements the pub/sub messaging primitive consumed by the
// SUBSCRIBE/UNSUBSCRIBE/PUBLISH instructions: topic -> subscriber
// routing, per-subscriber FIFO delivery, best-effort (no back-pressure into
// publishers). Grounded on wjmboss-stompngo's subscription table (id ->
// channel, guarded by a dedicated RWMutex) adapted from STOMP destinations
// to PumpkinDB topics.
package bus

import (
	"sync"

	"github.com/VictoriaMetrics/metrics"
)

// deliveryBacklog bounds the number of undelivered messages buffered per
// subscriber before new publications are dropped for that subscriber.
const deliveryBacklog = 256

// Message is a value delivered to a topic, carrying the topic it was
// published on so a subscriber shared across topics can tell them apart.
type Message struct {
	Topic string
	Value []byte
}

var (
	metricPublished = metrics.NewCounter("pumpkindb_bus_published_total")
	metricDelivered = metrics.NewCounter("pumpkindb_bus_delivered_total")
	metricDropped   = metrics.NewCounter("pumpkindb_bus_dropped_total")
)

type subscriber struct {
	id    string
	topic string
	ch    chan Message
}

// Bus is a process-wide topic router. The zero value is not usable; use New.
type Bus struct {
	mu     sync.RWMutex
	topics map[string]map[string]*subscriber // topic -> subID -> subscriber
	byID   map[string]*subscriber
	nextID uint64
}

// New returns an empty, ready-to-use Bus.
func New() *Bus {
	return &Bus{
		topics: make(map[string]map[string]*subscriber),
		byID:   make(map[string]*subscriber),
	}
}

// Subscribe registers interest in topic and returns a fresh opaque
// subscription id plus the channel messages will arrive on, backing
// SUBSCRIBE. The channel is closed by Unsubscribe.
func (b *Bus) Subscribe(topic string) (id string, messages <-chan Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sid := formatID(b.nextID)
	sub := &subscriber{id: sid, topic: topic, ch: make(chan Message, deliveryBacklog)}

	if b.topics[topic] == nil {
		b.topics[topic] = make(map[string]*subscriber)
	}
	b.topics[topic][sid] = sub
	b.byID[sid] = sub
	return sid, sub.ch
}

// Unsubscribe cancels a subscription, backing UNSUBSCRIBE. Unsubscribing an
// unknown id is a no-op: the owning environment may call it during teardown
// after already having unsubscribed explicitly.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unsubscribeLocked(id)
}

func (b *Bus) unsubscribeLocked(id string) {
	sub, ok := b.byID[id]
	if !ok {
		return
	}
	delete(b.byID, id)
	if subs := b.topics[sub.topic]; subs != nil {
		delete(subs, id)
		if len(subs) == 0 {
			delete(b.topics, sub.topic)
		}
	}
	close(sub.ch)
}

// Publish delivers value to every current subscriber of topic, backing
// PUBLISH. Delivery order is publication order as observed by the bus;
// per-subscriber order is preserved by the channel's own FIFO semantics. A
// subscriber whose backlog is full has the message dropped for it — no
// back-pressure into the publisher.
func (b *Bus) Publish(topic string, value []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	metricPublished.Inc()
	for _, sub := range b.topics[topic] {
		select {
		case sub.ch <- Message{Topic: topic, Value: value}:
			metricDelivered.Inc()
		default:
			metricDropped.Inc()
		}
	}
}

// ReleaseAll unsubscribes every subscription in ids, used when an
// environment terminates and its subscriptions go with it.
func (b *Bus) ReleaseAll(ids []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range ids {
		b.unsubscribeLocked(id)
	}
}

func formatID(n uint64) string {
	const hex = "0123456789abcdef"
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = hex[n&0xF]
		n >>= 4
	}
	return "sub-" + string(buf[i:])
}
