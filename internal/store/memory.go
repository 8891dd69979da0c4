package store

import (
	"context"
	"sync"
	"time"

	"github.com/ilikepancakes-ink/twittwebot/internal/model"
)

type ledgerKey struct {
	postID string
	t      model.InteractionType
}

// MemoryLedger is the default in-process ledger. When maxEntries is
// positive, the oldest records are evicted once the cap is exceeded, so a
// long-running process stays bounded; evicted posts may be interacted with
// again, which the contract permits for posts no longer tracked.
type MemoryLedger struct {
	mu         sync.Mutex
	records    map[ledgerKey]time.Time
	order      []ledgerKey
	maxEntries int
}

func NewMemoryLedger(maxEntries int) *MemoryLedger {
	return &MemoryLedger{
		records:    make(map[ledgerKey]time.Time),
		maxEntries: maxEntries,
	}
}

func (l *MemoryLedger) HasInteracted(_ context.Context, postID string, t model.InteractionType) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.records[ledgerKey{postID: postID, t: t}]
	return ok, nil
}

func (l *MemoryLedger) Record(_ context.Context, postID string, t model.InteractionType) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := ledgerKey{postID: postID, t: t}
	if _, ok := l.records[key]; ok {
		return nil
	}

	l.records[key] = time.Now().UTC()
	l.order = append(l.order, key)

	if l.maxEntries > 0 && len(l.order) > l.maxEntries {
		oldest := l.order[0]
		l.order = l.order[1:]
		delete(l.records, oldest)
	}

	return nil
}

// Len reports the number of records currently held, for the ops surface.
func (l *MemoryLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// MemoryThreadStore keeps threads in a process-local map. Threads are
// cloned on the way in and out so callers never share message slices.
type MemoryThreadStore struct {
	mu      sync.RWMutex
	threads map[string]*model.ConversationThread
}

func NewMemoryThreadStore() *MemoryThreadStore {
	return &MemoryThreadStore{threads: make(map[string]*model.ConversationThread)}
}

func (s *MemoryThreadStore) Get(_ context.Context, rootID string) (*model.ConversationThread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	thread, ok := s.threads[rootID]
	if !ok {
		return nil, ErrNotFound
	}
	return thread.Clone(), nil
}

func (s *MemoryThreadStore) Put(_ context.Context, thread *model.ConversationThread) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.threads[thread.RootID] = thread.Clone()
	return nil
}

func (s *MemoryThreadStore) List(_ context.Context) ([]model.ThreadSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summaries := make([]model.ThreadSummary, 0, len(s.threads))
	for _, thread := range s.threads {
		summaries = append(summaries, thread.Summary())
	}
	return summaries, nil
}

// MemoryCursorStore keeps cursors in a process-local map.
type MemoryCursorStore struct {
	mu      sync.Mutex
	cursors map[string]string
}

func NewMemoryCursorStore() *MemoryCursorStore {
	return &MemoryCursorStore{cursors: make(map[string]string)}
}

func (s *MemoryCursorStore) Get(_ context.Context, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursors[name], nil
}

func (s *MemoryCursorStore) Set(_ context.Context, name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[name] = value
	return nil
}
