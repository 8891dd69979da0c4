package store

import (
	"context"
	"errors"

	"github.com/ilikepancakes-ink/twittwebot/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Ledger answers idempotency queries for outbound interactions. At most one
// record exists per (postID, type) pair; Record is a no-op when the pair is
// already present.
type Ledger interface {
	HasInteracted(ctx context.Context, postID string, t model.InteractionType) (bool, error)
	Record(ctx context.Context, postID string, t model.InteractionType) error
}

// ThreadStore persists tracked conversation threads keyed by root post id.
// The conversation tracker is the only writer; it serializes access, so
// implementations only need to be safe for concurrent reads.
type ThreadStore interface {
	Get(ctx context.Context, rootID string) (*model.ConversationThread, error)
	Put(ctx context.Context, thread *model.ConversationThread) error
	List(ctx context.Context) ([]model.ThreadSummary, error)
}

// CursorStore keeps named opaque progress markers, e.g. the newest mention
// id already processed. Get returns an empty string when the cursor has
// never been set.
type CursorStore interface {
	Get(ctx context.Context, name string) (string, error)
	Set(ctx context.Context, name, value string) error
}

// Cursor names.
const (
	CursorMentions = "mentions"
)
