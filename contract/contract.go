//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"market-chat/domain"
	"market-chat/domain/event"
	"reflect"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
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

// EventSink receives events addressed to one connection.
// Consume must not block on the network.
type EventSink interface {
	Consume(ctx context.Context, e event.Event) error
}

// ConnectionSink is the outbound side of a live connection.
type ConnectionSink interface {
	EventSink
	Close() error
}

// IRegistry maps rooms to the live connections subscribed to them.
type IRegistry interface {
	Join(connectionID domain.ConnectionID, room domain.RoomKey)
	Leave(connectionID domain.ConnectionID, room domain.RoomKey)
	MembersOf(room domain.RoomKey) []domain.ConnectionID
	DropConnection(connectionID domain.ConnectionID)
	RoomCount() int
}

// IAuthenticator resolves a raw credential to exactly one user identifier.
type IAuthenticator interface {
	Authenticate(ctx context.Context, credential string) (string, error)
}
