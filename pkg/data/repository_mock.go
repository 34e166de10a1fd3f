package data

import (
	"context"
	"sort"
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"
)

// MockRepository is an in-memory Repository for tests.
type MockRepository struct {
	feedStates map[string]*FeedState
	archives   map[string]map[uint64]*RoundArchive
	reporters  map[peer.ID]*Reporter
	events     []*AuditEvent
	mu         sync.RWMutex
}

// Ensure MockRepository implements the Repository interface
var _ Repository = (*MockRepository)(nil)

func NewMockRepository() *MockRepository {
	return &MockRepository{
		feedStates: make(map[string]*FeedState),
		archives:   make(map[string]map[uint64]*RoundArchive),
		reporters:  make(map[peer.ID]*Reporter),
	}
}

func (m *MockRepository) SaveFeedState(ctx context.Context, state *FeedState) error {
	if err := state.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *state
	m.feedStates[state.FeedID] = &copied
	return nil
}

func (m *MockRepository) GetFeedState(ctx context.Context, feedID string) (*FeedState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.feedStates[feedID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *state
	return &copied, nil
}

func (m *MockRepository) ListFeedStates(ctx context.Context) ([]*FeedState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	states := make([]*FeedState, 0, len(m.feedStates))
	for _, state := range m.feedStates {
		copied := *state
		states = append(states, &copied)
	}
	return states, nil
}

func (m *MockRepository) SaveRoundArchive(ctx context.Context, archive *RoundArchive) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byFeed, ok := m.archives[archive.FeedID]
	if !ok {
		byFeed = make(map[uint64]*RoundArchive)
		m.archives[archive.FeedID] = byFeed
	}
	if _, exists := byFeed[archive.RoundSeq]; exists {
		return ErrDuplicate
	}
	byFeed[archive.RoundSeq] = archive
	return nil
}

func (m *MockRepository) GetRoundArchive(ctx context.Context, feedID string, roundSeq uint64) (*RoundArchive, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	archive, ok := m.archives[feedID][roundSeq]
	if !ok {
		return nil, ErrNotFound
	}
	return archive, nil
}

func (m *MockRepository) ListRoundArchives(ctx context.Context, feedID string, limit int) ([]*RoundArchive, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var archives []*RoundArchive
	for _, archive := range m.archives[feedID] {
		archives = append(archives, archive)
	}
	sort.Slice(archives, func(i, j int) bool {
		return archives[i].RoundSeq > archives[j].RoundSeq
	})
	if limit > 0 && len(archives) > limit {
		archives = archives[:limit]
	}
	return archives, nil
}

func (m *MockRepository) SaveReporter(ctx context.Context, reporter *Reporter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *reporter
	m.reporters[reporter.ID] = &copied
	return nil
}

func (m *MockRepository) GetReporter(ctx context.Context, id peer.ID) (*Reporter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	reporter, ok := m.reporters[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *reporter
	return &copied, nil
}

func (m *MockRepository) ListReporters(ctx context.Context) ([]*Reporter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	reporters := make([]*Reporter, 0, len(m.reporters))
	for _, reporter := range m.reporters {
		copied := *reporter
		reporters = append(reporters, &copied)
	}
	return reporters, nil
}

func (m *MockRepository) SaveAuditEvent(ctx context.Context, event *AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *MockRepository) ListAuditEvents(ctx context.Context, reporterID peer.ID) ([]*AuditEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var events []*AuditEvent
	for _, event := range m.events {
		if event.ReporterID == reporterID {
			events = append(events, event)
		}
	}
	return events, nil
}
