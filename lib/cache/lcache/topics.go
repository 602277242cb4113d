package lcache

import (
	"sort"
	"sync"
	"time"

	"github.com/ValentinKolb/dCache/lib/cache"
	"github.com/ValentinKolb/dCache/lib/opctx"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// pendingMessage is a published message with its delivery state
type pendingMessage struct {
	msg      *cache.TopicMessage
	assigned map[string]struct{} // client ids the message is delivered to
	acked    map[string]struct{}
}

func (m *pendingMessage) done() bool {
	if len(m.assigned) == 0 {
		return false
	}
	for client := range m.assigned {
		if _, ok := m.acked[client]; !ok {
			return false
		}
	}
	return true
}

func (m *pendingMessage) expired(now time.Time) bool {
	return !m.msg.ExpirationTime.IsZero() && !now.Before(m.msg.ExpirationTime)
}

// topic holds the subscriptions and undelivered messages of one topic
type topic struct {
	name string

	mu       sync.Mutex
	subs     map[string]*cache.SubscriptionInfo // by client id + subscription id
	messages map[string]*pendingMessage
	order    []string // message ids in publish order
	next     int      // round robin position for DeliverAny
}

func newTopic(name string) *topic {
	return &topic{
		name:     name,
		subs:     make(map[string]*cache.SubscriptionInfo),
		messages: make(map[string]*pendingMessage),
	}
}

func subKey(sub *cache.SubscriptionInfo) string {
	return sub.ClientID + "/" + sub.SubscriptionID
}

func (t *topic) subscribe(sub *cache.SubscriptionInfo) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, existing := range t.subs {
		if existing.ClientID == sub.ClientID {
			continue
		}
		if existing.Policy == cache.SubscriptionExclusive || sub.Policy == cache.SubscriptionExclusive {
			return false
		}
	}
	s := *sub
	t.subs[subKey(sub)] = &s
	return true
}

func (t *topic) unsubscribe(sub *cache.SubscriptionInfo) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := subKey(sub)
	_, ok := t.subs[key]
	delete(t.subs, key)
	return ok
}

// subscribers returns the sorted ids of the subscribed clients. t.mu must be held.
func (t *topic) subscribers() []string {
	set := make(map[string]struct{}, len(t.subs))
	for _, sub := range t.subs {
		set[sub.ClientID] = struct{}{}
	}
	return sortedKeys(set)
}

func (t *topic) hasSubscriber(clientID string) bool {
	for _, sub := range t.subs {
		if sub.ClientID == clientID {
			return true
		}
	}
	return false
}

// assign picks the receivers of m from the current subscribers. t.mu must be held.
func (t *topic) assign(m *pendingMessage) {
	clients := t.subscribers()
	if len(clients) == 0 {
		return
	}
	if m.msg.Delivery == cache.DeliverAll {
		for _, client := range clients {
			m.assigned[client] = struct{}{}
		}
		return
	}
	m.assigned[clients[t.next%len(clients)]] = struct{}{}
	t.next++
}

func (t *topic) publish(msg *cache.TopicMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m := &pendingMessage{msg: msg, assigned: make(map[string]struct{}), acked: make(map[string]struct{})}
	t.assign(m)
	t.messages[msg.ID] = m
	t.order = append(t.order, msg.ID)
}

// prune drops expired and fully acknowledged messages. t.mu must be held.
func (t *topic) prune(now time.Time) {
	kept := t.order[:0]
	for _, id := range t.order {
		m, ok := t.messages[id]
		if !ok {
			continue
		}
		if m.expired(now) || m.done() {
			delete(t.messages, id)
			continue
		}
		kept = append(kept, id)
	}
	t.order = kept
}

// assignedTo returns the unacknowledged messages of clientID. Messages
// published while nobody was subscribed are assigned now.
func (t *topic) assignedTo(clientID string, now time.Time) []*cache.TopicMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prune(now)
	var out []*cache.TopicMessage
	for _, id := range t.order {
		m := t.messages[id]
		if len(m.assigned) == 0 {
			t.assign(m)
		}
		if _, ok := m.assigned[clientID]; !ok {
			continue
		}
		if _, ok := m.acked[clientID]; ok {
			continue
		}
		out = append(out, m.msg)
	}
	return out
}

func (t *topic) acknowledge(clientID string, ids []string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range ids {
		if m, ok := t.messages[id]; ok {
			m.acked[clientID] = struct{}{}
		}
	}
	t.prune(now)
}

func (t *topic) count(now time.Time) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prune(now)
	return int64(len(t.order))
}

// dropClient removes the subscriptions of clientID. Messages only it had to
// receive are handed out again.
func (t *topic) dropClient(clientID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, sub := range t.subs {
		if sub.ClientID == clientID {
			delete(t.subs, key)
		}
	}
	for _, m := range t.messages {
		if _, ok := m.acked[clientID]; ok {
			continue
		}
		delete(m.assigned, clientID)
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see cache.TopicStore)
// --------------------------------------------------------------------------

func (c *Cache) TopicOperation(op *cache.TopicOperation, oc *opctx.OperationContext) (bool, error) {
	if err := c.checkOp(oc); err != nil {
		return false, err
	}
	switch op.Type {
	case cache.TopicCreate:
		c.topics.LoadOrStore(op.Topic, newTopic(op.Topic))
		return true, nil
	case cache.TopicGet:
		_, ok := c.topics.Load(op.Topic)
		return ok, nil
	case cache.TopicRemove:
		_, ok := c.topics.LoadAndDelete(op.Topic)
		return ok, nil
	case cache.TopicSubscribe, cache.TopicUnsubscribe:
		if op.Subscription == nil {
			return false, errors.Newf("%s on topic %q without subscription", op.Type, op.Topic)
		}
		t, ok := c.topics.Load(op.Topic)
		if !ok {
			return false, errors.Wrapf(cache.ErrTopicNotFound, "topic %q", op.Topic)
		}
		if op.Type == cache.TopicSubscribe {
			return t.subscribe(op.Subscription), nil
		}
		return t.unsubscribe(op.Subscription), nil
	}
	return false, errors.Wrapf(cache.ErrNotSupported, "topic operation %s", op.Type)
}

func (c *Cache) PublishMessage(msg *cache.TopicMessage, oc *opctx.OperationContext) error {
	if err := c.checkOp(oc); err != nil {
		return err
	}
	t, ok := c.topics.Load(msg.Topic)
	if !ok {
		return errors.Wrapf(cache.ErrTopicNotFound, "publish to %q", msg.Topic)
	}
	m := *msg
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreationTime.IsZero() {
		m.CreationTime = c.now()
	}
	t.publish(&m)
	return nil
}

func (c *Cache) GetAssignedMessages(sub *cache.SubscriptionInfo, oc *opctx.OperationContext) (map[string][]*cache.TopicMessage, error) {
	if err := c.checkOp(oc); err != nil {
		return nil, err
	}
	now := c.now()
	out := make(map[string][]*cache.TopicMessage)
	c.topics.Range(func(name string, t *topic) bool {
		t.mu.Lock()
		subscribed := t.hasSubscriber(sub.ClientID)
		t.mu.Unlock()
		if !subscribed {
			return true
		}
		if msgs := t.assignedTo(sub.ClientID, now); len(msgs) > 0 {
			out[name] = msgs
		}
		return true
	})
	return out, nil
}

func (c *Cache) AcknowledgeMessageReceipt(clientID string, acks map[string][]string, oc *opctx.OperationContext) error {
	if err := c.checkOp(oc); err != nil {
		return err
	}
	now := c.now()
	names := make([]string, 0, len(acks))
	for name := range acks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if t, ok := c.topics.Load(name); ok {
			t.acknowledge(clientID, acks[name], now)
		}
	}
	return nil
}

func (c *Cache) GetTopicMessageCount(name string, oc *opctx.OperationContext) (int64, error) {
	if err := c.checkOp(oc); err != nil {
		return 0, err
	}
	t, ok := c.topics.Load(name)
	if !ok {
		return 0, errors.Wrapf(cache.ErrTopicNotFound, "topic %q", name)
	}
	return t.count(c.now()), nil
}
