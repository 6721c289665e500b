package queue

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is matched with errors.Is by every backend when the queue
	// (or the message addressed by a receipt) does not exist.
	ErrNotFound = errors.New("queue: resource not found")

	// ErrUnsupported is returned by backends that cannot perform an operation.
	ErrUnsupported = errors.New("queue: operation not supported by backend")
)

// Service is the backing queue service a driver talks to.
type Service interface {
	ListQueues(ctx context.Context) ([]string, error)
	CreateQueue(ctx context.Context, name string) (Queue, error)
	// Queue returns a handle for name without contacting the service.
	Queue(name string) Queue
	Info() Info
}

// Queue is a handle on one named remote queue.
type Queue interface {
	Name() string
	Delete(ctx context.Context) error
	Stats(ctx context.Context) (Stats, error)
	CreateMessages(ctx context.Context, msgs ...NewMessage) error
	// ClaimMessages claims up to limit messages for ttl. An empty result is
	// not an error.
	ClaimMessages(ctx context.Context, limit int, ttl time.Duration) ([]Claimed, error)
	DeleteClaimed(ctx context.Context, c Claimed) error
	// ListMessages starts a fresh listing of unclaimed messages, including
	// the ones this client pushed.
	ListMessages(ctx context.Context) MessageIterator
}

// MessageIterator walks a paginated message listing.
//
//	for it.Next() {
//		m := it.Message()
//	}
//	if err := it.Err(); err != nil { ... }
type MessageIterator interface {
	Next() bool
	Message() Message
	Err() error
}

type NewMessage struct {
	Body string
	TTL  time.Duration
}

type Message struct {
	ID   string
	Body string
}

// Claimed is a message held under a claim. Receipt is what callers use to
// acknowledge it.
type Claimed struct {
	Body    string
	Receipt string
	ClaimID string
}

type Stats struct {
	Claimed int
	Free    int
	Total   int
}

// Info describes where a Service points.
type Info struct {
	ClientID string
	Name     string
	URL      string
	Region   string
	URLType  string
}
