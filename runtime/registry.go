// Package runtime owns the process-wide fanout state: the topic registry
// and the background workers sampling it. It contains no protocol or
// business logic.
package runtime

import (
	"context"
	"sync"

	"github.com/samber/lo"

	"chat-gateway/contract"
	"chat-gateway/domain"
)

type set map[string]struct{}

// Registry is the single shared-mutable resource of the gateway: the
// mapping from topic to the set of subscribed sessions. One RWMutex
// guards both tables, so publish iteration observes every subscribe and
// unsubscribe that completed before it, and teardown removes a session
// from every topic atomically with respect to any concurrent publish.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]contract.EventSink // session id -> outbound sink
	members  map[domain.Topic]set          // topic -> session ids
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]contract.EventSink),
		members:  make(map[domain.Topic]set),
	}
}

// Subscribe adds a session to a topic's subscriber set. The topic is
// created on first subscription. Subscribing twice is idempotent.
func (r *Registry) Subscribe(topic domain.Topic, sessionID string, sink contract.EventSink) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[sessionID] = sink

	if _, ok := r.members[topic]; !ok {
		r.members[topic] = make(set)
	}
	r.members[topic][sessionID] = struct{}{}
}

// Unsubscribe removes a session from a topic's subscriber set.
// Unsubscribing a non-member is a no-op. A topic whose set becomes
// empty is dropped entirely so abandoned topics do not accumulate.
func (r *Registry) Unsubscribe(topic domain.Topic, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeMember(topic, sessionID)
}

// UnsubscribeAll removes a session from every topic it belongs to and
// forgets its sink. Called exactly once at session teardown; safe to
// call for a session that never subscribed anywhere.
func (r *Registry) UnsubscribeAll(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, sessionID)
	for topic := range r.members {
		r.removeMember(topic, sessionID)
	}
}

func (r *Registry) removeMember(topic domain.Topic, sessionID string) {
	members, ok := r.members[topic]
	if !ok {
		return
	}
	delete(members, sessionID)
	if len(members) == 0 {
		delete(r.members, topic)
	}
}

// Publish delivers a frame to the outbound path of every session
// subscribed to the topic and returns the number of recipients, 0 when
// the topic has no subscribers. Sinks never block, so the read lock is
// held for the whole iteration; a full or closed sink is skipped, never
// retried, and never fails the publish.
func (r *Registry) Publish(ctx context.Context, topic domain.Topic, frame []byte) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.members[topic]
	if !ok {
		return 0
	}
	for sessionID := range members {
		if sink, exists := r.sessions[sessionID]; exists {
			// Sheds are accounted for by the sink itself.
			_ = sink.Consume(ctx, frame)
		}
	}
	return len(members)
}

// TopicCount reports the number of topics with at least one subscriber.
func (r *Registry) TopicCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// SessionCount reports the number of sessions known to the registry.
func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Subscriptions returns the topics a session is currently subscribed to.
func (r *Registry) Subscriptions(sessionID string) []domain.Topic {
	r.mu.RLock()
	defer r.mu.RUnlock()

	topics := lo.Keys(r.members)
	return lo.Filter(topics, func(topic domain.Topic, _ int) bool {
		_, member := r.members[topic][sessionID]
		return member
	})
}
