//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"reflect"

	"chat-gateway/domain"
)

// EventSink is a session's outbound path as seen by the registry.
// Consume must never block: a sink whose queue is full reports the shed
// through its error and the publish moves on to the next recipient.
type EventSink interface {
	Consume(ctx context.Context, frame []byte) error
}

// Registry owns the topic -> subscriber-set mapping. All methods are safe
// for concurrent use from unrelated sessions.
type Registry interface {
	Subscribe(topic domain.Topic, sessionID string, sink EventSink)
	Unsubscribe(topic domain.Topic, sessionID string)
	UnsubscribeAll(sessionID string)
	Publish(ctx context.Context, topic domain.Topic, frame []byte) int
	TopicCount() int
	SessionCount() int
}

// Resolver turns an opaque bearer token into a Principal. Safe for
// concurrent use. Every failure mode (malformed token, bad signature,
// expired, unknown principal) collapses to errors.ErrAuthFailure.
type Resolver interface {
	Resolve(ctx context.Context, token string) (domain.Principal, error)
}

// Worker is a long-running background unit run under the Supervisor.
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker,
// for logging and supervision purposes.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}
