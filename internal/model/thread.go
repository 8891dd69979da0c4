package model

import "time"

type ThreadState string

const (
	ThreadStateActive     ThreadState = "ACTIVE"
	ThreadStateTerminated ThreadState = "TERMINATED"
)

// ThreadMessage is one turn inside a tracked conversation.
type ThreadMessage struct {
	PostID         string    `json:"post_id"`
	AuthorID       string    `json:"author_id"`
	AuthorUsername string    `json:"author_username,omitempty"`
	Text           string    `json:"text"`
	BotAuthored    bool      `json:"bot_authored"`
	Timestamp      time.Time `json:"timestamp"`
}

// MessageFromPost converts a platform post into a thread message.
func MessageFromPost(p Post, botAuthored bool) ThreadMessage {
	ts := p.CreatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return ThreadMessage{
		PostID:         p.ID,
		AuthorID:       p.AuthorID,
		AuthorUsername: p.AuthorUsername,
		Text:           p.Text,
		BotAuthored:    botAuthored,
		Timestamp:      ts,
	}
}

// ConversationThread is the ordered state of one reply chain the bot
// participates in. Messages are append-only in chronological order. Depth
// counts bot-authored messages only, so other users talking among
// themselves never consumes the bot's reply budget.
type ConversationThread struct {
	RootID    string          `json:"root_id"`
	Messages  []ThreadMessage `json:"messages"`
	Depth     int             `json:"depth"`
	State     ThreadState     `json:"state"`
	StartedAt time.Time       `json:"started_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Clone returns a deep copy so callers can hand threads across goroutine
// boundaries without sharing the message slice.
func (t *ConversationThread) Clone() *ConversationThread {
	if t == nil {
		return nil
	}
	cp := *t
	cp.Messages = make([]ThreadMessage, len(t.Messages))
	copy(cp.Messages, t.Messages)
	return &cp
}

// ThreadSummary is the ops-surface view of a thread without its messages.
type ThreadSummary struct {
	RootID       string      `json:"root_id"`
	MessageCount int         `json:"message_count"`
	Depth        int         `json:"depth"`
	State        ThreadState `json:"state"`
	StartedAt    time.Time   `json:"started_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Summary projects the thread into its ops view.
func (t *ConversationThread) Summary() ThreadSummary {
	return ThreadSummary{
		RootID:       t.RootID,
		MessageCount: len(t.Messages),
		Depth:        t.Depth,
		State:        t.State,
		StartedAt:    t.StartedAt,
		UpdatedAt:    t.UpdatedAt,
	}
}
