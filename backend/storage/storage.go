package storage

import (
	"context"
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Message is a persisted chat message of a project.
type Message struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"projectId"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Store defines chat history persistence.
type Store interface {
	Close() error
	Migrate(ctx context.Context) error

	SaveMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, projectID string) ([]Message, error)
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewMessageID returns lexicographically sortable message id.
func NewMessageID(ts time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(ts), entropy).String()
}
