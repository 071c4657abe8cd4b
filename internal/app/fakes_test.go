package app

import (
	"bytes"
	"context"
	"database/sql"
	"io"
	"sync"
	"time"

	"artive/api/internal/authpw"
	"artive/api/internal/config"
	"artive/api/internal/email"
	"artive/api/internal/lineage"
	"artive/api/internal/media"
	"artive/api/internal/search"
	"artive/api/internal/session"
	"artive/api/internal/store"
)

type fakeStore struct {
	getUserByIDFn       func(context.Context, string) (store.User, error)
	insertSeedFn        func(context.Context, store.Seed) error
	getSeedFn           func(context.Context, string) (store.Seed, error)
	listSeedsFn         func(context.Context, int, int) ([]store.Seed, error)
	softDeleteSeedFn    func(context.Context, string, string) (bool, error)
	getForkFn           func(context.Context, string) (store.Fork, error)
	listForksByParentFn func(context.Context, string, int, int) ([]store.Fork, error)
	nodeFn              func(context.Context, string) (store.NodeRef, error)
	pingFn              func(context.Context) error
}

func (f *fakeStore) GetUserByID(ctx context.Context, userID string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, userID)
	}
	return store.User{ID: userID, DisplayName: "Avery", Role: "member"}, nil
}
func (f *fakeStore) InsertSeed(ctx context.Context, seed store.Seed) error {
	if f.insertSeedFn != nil {
		return f.insertSeedFn(ctx, seed)
	}
	return nil
}
func (f *fakeStore) GetSeed(ctx context.Context, seedID string) (store.Seed, error) {
	if f.getSeedFn != nil {
		return f.getSeedFn(ctx, seedID)
	}
	return store.Seed{}, sql.ErrNoRows
}
func (f *fakeStore) ListSeeds(ctx context.Context, limit, offset int) ([]store.Seed, error) {
	if f.listSeedsFn != nil {
		return f.listSeedsFn(ctx, limit, offset)
	}
	return nil, nil
}
func (f *fakeStore) SoftDeleteSeed(ctx context.Context, seedID, authorID string) (bool, error) {
	if f.softDeleteSeedFn != nil {
		return f.softDeleteSeedFn(ctx, seedID, authorID)
	}
	return false, nil
}
func (f *fakeStore) GetFork(ctx context.Context, forkID string) (store.Fork, error) {
	if f.getForkFn != nil {
		return f.getForkFn(ctx, forkID)
	}
	return store.Fork{}, sql.ErrNoRows
}
func (f *fakeStore) ListForksByParent(ctx context.Context, parentID string, limit, offset int) ([]store.Fork, error) {
	if f.listForksByParentFn != nil {
		return f.listForksByParentFn(ctx, parentID, limit, offset)
	}
	return nil, nil
}
func (f *fakeStore) Node(ctx context.Context, id string) (store.NodeRef, error) {
	if f.nodeFn != nil {
		return f.nodeFn(ctx, id)
	}
	return store.NodeRef{ID: id, Kind: store.KindSeed}, nil
}
func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

type fakeSessions struct {
	mu    sync.Mutex
	users map[string]store.User
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{users: make(map[string]store.User)}
}

func (f *fakeSessions) SaveRefreshSession(_ context.Context, tokenHash string, user store.User, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[tokenHash] = user
	return nil
}
func (f *fakeSessions) LookupRefreshSession(_ context.Context, tokenHash string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[tokenHash]
	if !ok {
		return store.User{}, session.ErrNotFound
	}
	return user, nil
}
func (f *fakeSessions) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.users, tokenHash)
	return nil
}

type fakeLineage struct {
	getLineageFn func(context.Context, string, int) (lineage.Lineage, error)
	createForkFn func(context.Context, string, string, lineage.ForkInput) (string, error)
	deleteForkFn func(context.Context, string, string) error
	repairFn     func(context.Context, string) (lineage.RepairResult, error)
}

func (f *fakeLineage) GetLineage(ctx context.Context, nodeID string, depth int) (lineage.Lineage, error) {
	if f.getLineageFn != nil {
		return f.getLineageFn(ctx, nodeID, depth)
	}
	return lineage.Lineage{RootID: nodeID, Depth: depth, Nodes: []string{nodeID}, Edges: []lineage.Edge{}}, nil
}
func (f *fakeLineage) CreateFork(ctx context.Context, parentID, actorID string, input lineage.ForkInput) (string, error) {
	if f.createForkFn != nil {
		return f.createForkFn(ctx, parentID, actorID, input)
	}
	return "", lineage.ErrNotFound
}
func (f *fakeLineage) DeleteFork(ctx context.Context, forkID, actorID string) error {
	if f.deleteForkFn != nil {
		return f.deleteForkFn(ctx, forkID, actorID)
	}
	return nil
}
func (f *fakeLineage) Repair(ctx context.Context, nodeID string) (lineage.RepairResult, error) {
	if f.repairFn != nil {
		return f.repairFn(ctx, nodeID)
	}
	return lineage.RepairResult{RootID: nodeID}, nil
}

type fakePasswords struct {
	signUpFn func(context.Context, authpw.SignUpRequest) (store.User, error)
	signInFn func(context.Context, authpw.SignInRequest) (store.User, error)
}

func (f *fakePasswords) SignUp(ctx context.Context, req authpw.SignUpRequest) (store.User, error) {
	if f.signUpFn != nil {
		return f.signUpFn(ctx, req)
	}
	return store.User{ID: "user-new", DisplayName: req.DisplayName, Email: req.Email, Role: "member"}, nil
}
func (f *fakePasswords) SignIn(ctx context.Context, req authpw.SignInRequest) (store.User, error) {
	if f.signInFn != nil {
		return f.signInFn(ctx, req)
	}
	return store.User{}, authpw.ErrInvalidCredentials
}

type fakeMedia struct {
	maxBytes int64
	err      error
	received []byte
}

func (f *fakeMedia) Upload(_ context.Context, ownerID string, body io.Reader, _ int64) (media.Object, error) {
	if f.err != nil {
		return media.Object{}, f.err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, body); err != nil {
		return media.Object{}, err
	}
	f.received = buf.Bytes()
	return media.Object{
		Key:         ownerID + "/object.png",
		URL:         "https://cdn.example.com/artive-media/" + ownerID + "/object.png",
		ContentType: "image/png",
		Size:        int64(buf.Len()),
	}, nil
}
func (f *fakeMedia) MaxBytes() int64 { return f.maxBytes }

type fakeSearch struct {
	mu          sync.Mutex
	lastQuery   search.Query
	results     []search.Result
	seeds       []search.SeedRecord
	forks       []search.ForkRecord
	removedSeed []string
	removedFork []string
}

func (f *fakeSearch) Search(_ context.Context, q search.Query) search.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQuery = q
	results := f.results
	if results == nil {
		results = []search.Result{}
	}
	return search.Response{Results: results, Total: len(results), Query: q.Text}
}
func (f *fakeSearch) IndexSeed(seed search.SeedRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seeds = append(f.seeds, seed)
}
func (f *fakeSearch) IndexFork(fork search.ForkRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forks = append(f.forks, fork)
}
func (f *fakeSearch) RemoveSeed(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removedSeed = append(f.removedSeed, id)
}
func (f *fakeSearch) RemoveFork(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removedFork = append(f.removedFork, id)
}

type sentNotice struct {
	to     string
	notice email.ForkNotice
}

type fakeNotifier struct {
	sent chan sentNotice
}

func (f *fakeNotifier) SendForkNotification(to string, notice email.ForkNotice) error {
	f.sent <- sentNotice{to: to, notice: notice}
	return nil
}

type testDeps struct {
	store     *fakeStore
	sessions  *fakeSessions
	lineage   *fakeLineage
	passwords *fakePasswords
	media     MediaUploader
	search    NodeSearch
	notifier  ForkNotifier
}

func newTestService(deps testDeps) *Service {
	if deps.store == nil {
		deps.store = &fakeStore{}
	}
	if deps.sessions == nil {
		deps.sessions = newFakeSessions()
	}
	if deps.lineage == nil {
		deps.lineage = &fakeLineage{}
	}
	if deps.passwords == nil {
		deps.passwords = &fakePasswords{}
	}
	cfg := config.Config{
		JWTSecret:  "test-secret",
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
	}
	return New(cfg, Dependencies{
		Store:     deps.store,
		Sessions:  deps.sessions,
		Lineage:   deps.lineage,
		Passwords: deps.passwords,
		Media:     deps.media,
		Search:    deps.search,
		Notifier:  deps.notifier,
	})
}
