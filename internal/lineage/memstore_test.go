package lineage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"artive/api/internal/store"
)

// memStore is an in-memory NodeStore. Transactions run against a copy of the
// state that replaces the live state only when the callback succeeds.
type memStore struct {
	mu    sync.Mutex
	state memState

	failAddCount     error
	failSetSeedCount error
	failChildren     map[string]error
}

type memState struct {
	seeds map[string]store.Seed
	forks map[string]store.Fork
	order map[string]int
	seq   int
}

func newMemStore() *memStore {
	return &memStore{
		state: memState{
			seeds: make(map[string]store.Seed),
			forks: make(map[string]store.Fork),
			order: make(map[string]int),
		},
		failChildren: make(map[string]error),
	}
}

func (s memState) clone() memState {
	next := memState{
		seeds: make(map[string]store.Seed, len(s.seeds)),
		forks: make(map[string]store.Fork, len(s.forks)),
		order: make(map[string]int, len(s.order)),
		seq:   s.seq,
	}
	for k, v := range s.seeds {
		next.seeds[k] = v
	}
	for k, v := range s.forks {
		next.forks[k] = v
	}
	for k, v := range s.order {
		next.order[k] = v
	}
	return next
}

func (s *memState) node(id string) (store.NodeRef, error) {
	if seed, ok := s.seeds[id]; ok {
		return store.NodeRef{ID: seed.ID, Kind: store.KindSeed, DeletedAt: seed.DeletedAt}, nil
	}
	if fork, ok := s.forks[id]; ok {
		return store.NodeRef{ID: fork.ID, Kind: store.KindFork, ParentID: fork.ParentID}, nil
	}
	return store.NodeRef{}, sql.ErrNoRows
}

func (s *memState) children(parentID string) []string {
	ids := make([]string, 0)
	for id, fork := range s.forks {
		if fork.ParentID == parentID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return s.order[ids[i]] < s.order[ids[j]] })
	return ids
}

func (s *memState) insertFork(fork store.Fork) error {
	if _, exists := s.forks[fork.ID]; exists {
		return fmt.Errorf("duplicate fork %s", fork.ID)
	}
	s.seq++
	fork.CreatedAt = time.Now()
	s.forks[fork.ID] = fork
	s.order[fork.ID] = s.seq
	return nil
}

// test helpers writing directly, without count maintenance

func (s *memStore) addSeed(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.seeds[id] = store.Seed{ID: id, AuthorID: "author", Title: id, Kind: store.SeedText}
}

func (s *memStore) addFork(id, parentID, authorID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.state.insertFork(store.Fork{ID: id, ParentID: parentID, AuthorID: authorID}); err != nil {
		panic(err)
	}
}

func (s *memStore) seed(id string) store.Seed {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.seeds[id]
}

func (s *memStore) fork(id string) (store.Fork, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fork, ok := s.state.forks[id]
	return fork, ok
}

func (s *memStore) Node(_ context.Context, id string) (store.NodeRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.node(id)
}

func (s *memStore) Children(_ context.Context, parentID string, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failChildren[parentID]; err != nil {
		return nil, err
	}
	ids := s.state.children(parentID)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (s *memStore) CountChildren(_ context.Context, parentID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.children(parentID)), nil
}

func (s *memStore) SetSeedForkCount(_ context.Context, seedID string, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSetSeedCount != nil {
		return s.failSetSeedCount
	}
	seed, ok := s.state.seeds[seedID]
	if !ok {
		return sql.ErrNoRows
	}
	seed.ForkCount = count
	s.state.seeds[seedID] = seed
	return nil
}

func (s *memStore) SetForkCount(_ context.Context, forkID string, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fork, ok := s.state.forks[forkID]
	if !ok {
		return sql.ErrNoRows
	}
	fork.ForkCount = count
	s.state.forks[forkID] = fork
	return nil
}

func (s *memStore) WithTx(_ context.Context, fn func(store.NodeTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &memTx{state: s.state.clone(), failAddCount: s.failAddCount}
	if err := fn(tx); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}

type memTx struct {
	state        memState
	failAddCount error
}

func (t *memTx) Node(_ context.Context, id string) (store.NodeRef, error) {
	return t.state.node(id)
}

func (t *memTx) GetFork(_ context.Context, id string) (store.Fork, error) {
	fork, ok := t.state.forks[id]
	if !ok {
		return store.Fork{}, sql.ErrNoRows
	}
	return fork, nil
}

func (t *memTx) InsertFork(_ context.Context, fork store.Fork) error {
	return t.state.insertFork(fork)
}

func (t *memTx) DeleteFork(_ context.Context, id string) error {
	if _, ok := t.state.forks[id]; !ok {
		return sql.ErrNoRows
	}
	delete(t.state.forks, id)
	delete(t.state.order, id)
	return nil
}

func (t *memTx) ReparentChildren(_ context.Context, fromID, toID string) (int, error) {
	moved := 0
	for id, fork := range t.state.forks {
		if fork.ParentID == fromID {
			fork.ParentID = toID
			t.state.forks[id] = fork
			moved++
		}
	}
	return moved, nil
}

func (t *memTx) AddForkCount(_ context.Context, ref store.NodeRef, delta int) error {
	if t.failAddCount != nil {
		return t.failAddCount
	}
	clamp := func(n int) int {
		if n < 0 {
			return 0
		}
		return n
	}
	if ref.IsSeed() {
		seed, ok := t.state.seeds[ref.ID]
		if !ok {
			return sql.ErrNoRows
		}
		seed.ForkCount = clamp(seed.ForkCount + delta)
		t.state.seeds[ref.ID] = seed
		return nil
	}
	fork, ok := t.state.forks[ref.ID]
	if !ok {
		return sql.ErrNoRows
	}
	fork.ForkCount = clamp(fork.ForkCount + delta)
	t.state.forks[ref.ID] = fork
	return nil
}

// nid returns a well-formed node id for n.
func nid(n int) string {
	return fmt.Sprintf("00000000-0000-0000-0000-%012d", n)
}
