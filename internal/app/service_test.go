package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"artive/api/internal/auth"
	"artive/api/internal/authpw"
	"artive/api/internal/lineage"
	"artive/api/internal/media"
	"artive/api/internal/search"
	"artive/api/internal/store"
)

const (
	seedID = "11111111-1111-4111-8111-111111111111"
	forkID = "22222222-2222-4222-8222-222222222222"
)

func member(id string) Session {
	return Session{UserID: id, UserName: "Member " + id, Role: "member"}
}

func requireDomainError(t *testing.T, err error, status int, code string) {
	t.Helper()
	var domainErr *DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, status, domainErr.Status)
	assert.Equal(t, code, domainErr.Code)
}

func TestCreateSeed(t *testing.T) {
	var inserted store.Seed
	svc := newTestService(testDeps{store: &fakeStore{
		insertSeedFn: func(_ context.Context, seed store.Seed) error {
			inserted = seed
			return nil
		},
	}})

	view, err := svc.CreateSeed(context.Background(), member("user-1"), CreateSeedInput{Title: "  A poem  ", Content: "roses"})
	require.NoError(t, err)

	assert.Equal(t, "A poem", view.Title)
	assert.Equal(t, "text", view.Kind)
	assert.Equal(t, "user-1", view.AuthorID)
	assert.Equal(t, inserted.ID, view.ID)
	assert.Equal(t, store.SeedText, inserted.Kind)
	assert.False(t, view.Deleted)
}

func TestCreateSeedValidation(t *testing.T) {
	svc := newTestService(testDeps{})
	cases := map[string]CreateSeedInput{
		"missing title": {Title: "   "},
		"long title":    {Title: strings.Repeat("x", maxTitleLength+1)},
		"unknown kind":  {Title: "ok", Kind: "sculpture"},
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.CreateSeed(context.Background(), member("user-1"), input)
			requireDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
		})
	}
}

func TestGetSeedFlagsSoftDeleted(t *testing.T) {
	deletedAt := time.Now()
	svc := newTestService(testDeps{store: &fakeStore{
		getSeedFn: func(_ context.Context, id string) (store.Seed, error) {
			return store.Seed{ID: id, Title: "gone", DeletedAt: &deletedAt}, nil
		},
	}})

	view, err := svc.GetSeed(context.Background(), seedID)
	require.NoError(t, err)
	assert.True(t, view.Deleted)

	_, err = svc.GetSeed(context.Background(), "nope")
	assert.ErrorIs(t, err, lineage.ErrNotFound)
}

func TestDeleteSeed(t *testing.T) {
	deletedAt := time.Now()
	tests := []struct {
		name    string
		deleted bool
		seed    store.Seed
		seedErr error
		wantErr error
	}{
		{name: "author deletes", deleted: true},
		{name: "other author", seed: store.Seed{ID: seedID, AuthorID: "someone-else"}, wantErr: lineage.ErrUnauthorized},
		{name: "already deleted", seed: store.Seed{ID: seedID, AuthorID: "user-1", DeletedAt: &deletedAt}, wantErr: lineage.ErrNotFound},
		{name: "missing", seedErr: sql.ErrNoRows, wantErr: sql.ErrNoRows},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(testDeps{store: &fakeStore{
				softDeleteSeedFn: func(context.Context, string, string) (bool, error) { return tt.deleted, nil },
				getSeedFn: func(context.Context, string) (store.Seed, error) {
					return tt.seed, tt.seedErr
				},
			}})

			err := svc.DeleteSeed(context.Background(), member("user-1"), seedID)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestListSeedsClampsPage(t *testing.T) {
	var gotLimit, gotOffset int
	svc := newTestService(testDeps{store: &fakeStore{
		listSeedsFn: func(_ context.Context, limit, offset int) ([]store.Seed, error) {
			gotLimit, gotOffset = limit, offset
			return []store.Seed{{ID: seedID, Kind: store.SeedMusic}}, nil
		},
	}})

	items, err := svc.ListSeeds(context.Background(), 500, -3)
	require.NoError(t, err)
	assert.Equal(t, maxPageSize, gotLimit)
	assert.Equal(t, 0, gotOffset)
	require.Len(t, items, 1)
	assert.Equal(t, "music", items[0].Kind)
}

func TestListChildrenRequiresExistingNode(t *testing.T) {
	svc := newTestService(testDeps{store: &fakeStore{
		nodeFn: func(context.Context, string) (store.NodeRef, error) { return store.NodeRef{}, sql.ErrNoRows },
	}})

	_, err := svc.ListChildren(context.Background(), seedID, 10, 0)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestCreateForkDelegatesToLineage(t *testing.T) {
	var gotParent, gotActor string
	fl := &fakeLineage{
		createForkFn: func(_ context.Context, parentID, actorID string, input lineage.ForkInput) (string, error) {
			gotParent, gotActor = parentID, actorID
			assert.Equal(t, "a remix", input.Summary)
			return forkID, nil
		},
	}
	fs := &fakeStore{
		getForkFn: func(_ context.Context, id string) (store.Fork, error) {
			return store.Fork{ID: id, ParentID: seedID, AuthorID: "user-1", Summary: "a remix"}, nil
		},
	}
	svc := newTestService(testDeps{store: fs, lineage: fl})

	view, err := svc.CreateFork(context.Background(), member("user-1"), seedID, lineage.ForkInput{Summary: " a remix "})
	require.NoError(t, err)
	assert.Equal(t, seedID, gotParent)
	assert.Equal(t, "user-1", gotActor)
	assert.Equal(t, forkID, view.ID)
}

func TestCreateForkValidatesSummary(t *testing.T) {
	called := false
	svc := newTestService(testDeps{lineage: &fakeLineage{
		createForkFn: func(context.Context, string, string, lineage.ForkInput) (string, error) {
			called = true
			return forkID, nil
		},
	}})

	_, err := svc.CreateFork(context.Background(), member("user-1"), seedID, lineage.ForkInput{})
	requireDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	_, err = svc.CreateFork(context.Background(), member("user-1"), seedID, lineage.ForkInput{Summary: strings.Repeat("é", maxSummaryChars+1)})
	requireDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
	assert.False(t, called)
}

func TestRoleGates(t *testing.T) {
	ctx := context.Background()
	created, repaired := false, false
	svc := newTestService(testDeps{lineage: &fakeLineage{
		createForkFn: func(context.Context, string, string, lineage.ForkInput) (string, error) {
			created = true
			return forkID, nil
		},
		repairFn: func(context.Context, string) (lineage.RepairResult, error) {
			repaired = true
			return lineage.RepairResult{RootID: seedID}, nil
		},
	}})

	suspended := Session{UserID: "user-2", Role: "suspended"}
	_, err := svc.CreateSeed(ctx, suspended, CreateSeedInput{Title: "Dawn"})
	assert.ErrorIs(t, err, lineage.ErrUnauthorized)
	_, err = svc.CreateFork(ctx, suspended, seedID, lineage.ForkInput{Summary: "remix"})
	assert.ErrorIs(t, err, lineage.ErrUnauthorized)
	assert.False(t, created)

	_, err = svc.Recount(ctx, member("user-1"), seedID)
	assert.ErrorIs(t, err, lineage.ErrUnauthorized)
	assert.False(t, repaired)

	_, err = svc.Recount(ctx, Session{UserID: "mod-1", Role: "moderator"}, seedID)
	require.NoError(t, err)
	assert.True(t, repaired)
}

func TestSearchIndexFollowsMutations(t *testing.T) {
	ctx := context.Background()
	idx := &fakeSearch{}
	st := &fakeStore{
		softDeleteSeedFn: func(context.Context, string, string) (bool, error) { return true, nil },
		getForkFn: func(_ context.Context, id string) (store.Fork, error) {
			return store.Fork{ID: id, ParentID: seedID, AuthorID: "user-1", Summary: "remix", Description: "slower"}, nil
		},
	}
	fl := &fakeLineage{
		createForkFn: func(context.Context, string, string, lineage.ForkInput) (string, error) { return forkID, nil },
	}
	svc := newTestService(testDeps{store: st, lineage: fl, search: idx})

	seed, err := svc.CreateSeed(ctx, member("user-1"), CreateSeedInput{Title: "Dawn", Kind: "music", Content: "birdsong"})
	require.NoError(t, err)
	_, err = svc.CreateFork(ctx, member("user-1"), seed.ID, lineage.ForkInput{Summary: "remix"})
	require.NoError(t, err)
	require.NoError(t, svc.DeleteFork(ctx, member("user-1"), forkID))
	require.NoError(t, svc.DeleteSeed(ctx, member("user-1"), seedID))

	require.Len(t, idx.seeds, 1)
	assert.Equal(t, search.SeedRecord{ID: seed.ID, Title: "Dawn", Kind: "music", Content: "birdsong", AuthorID: "user-1"}, idx.seeds[0])
	require.Len(t, idx.forks, 1)
	assert.Equal(t, "slower", idx.forks[0].Description)
	assert.Equal(t, []string{forkID}, idx.removedFork)
	assert.Equal(t, []string{seedID}, idx.removedSeed)
}

func TestCreateForkNotifiesParentAuthor(t *testing.T) {
	notifier := &fakeNotifier{sent: make(chan sentNotice, 1)}
	st := &fakeStore{
		getUserByIDFn: func(_ context.Context, id string) (store.User, error) {
			return store.User{ID: id, DisplayName: "Avery", Email: "avery@artive.test"}, nil
		},
		getSeedFn: func(_ context.Context, id string) (store.Seed, error) {
			return store.Seed{ID: id, AuthorID: "user-1", Title: "Dawn chorus"}, nil
		},
		getForkFn: func(_ context.Context, id string) (store.Fork, error) {
			return store.Fork{ID: id, ParentID: seedID, AuthorID: "user-2", Summary: "half speed"}, nil
		},
	}
	fl := &fakeLineage{
		createForkFn: func(context.Context, string, string, lineage.ForkInput) (string, error) { return forkID, nil },
	}
	svc := newTestService(testDeps{store: st, lineage: fl, notifier: notifier})

	_, err := svc.CreateFork(context.Background(), member("user-2"), seedID, lineage.ForkInput{Summary: "half speed"})
	require.NoError(t, err)

	select {
	case sent := <-notifier.sent:
		assert.Equal(t, "avery@artive.test", sent.to)
		assert.Equal(t, "Dawn chorus", sent.notice.ParentTitle)
		assert.Equal(t, "Member user-2", sent.notice.ForkerName)
		assert.Equal(t, forkID, sent.notice.ForkID)
	case <-time.After(time.Second):
		t.Fatal("expected a fork notice")
	}
}

func TestSelfForkSendsNoNotice(t *testing.T) {
	notifier := &fakeNotifier{sent: make(chan sentNotice, 1)}
	looked := make(chan struct{}, 1)
	st := &fakeStore{
		getSeedFn: func(_ context.Context, id string) (store.Seed, error) {
			looked <- struct{}{}
			return store.Seed{ID: id, AuthorID: "user-1", Title: "Dawn chorus"}, nil
		},
		getForkFn: func(_ context.Context, id string) (store.Fork, error) {
			return store.Fork{ID: id, ParentID: seedID, AuthorID: "user-1", Summary: "mine"}, nil
		},
	}
	fl := &fakeLineage{
		createForkFn: func(context.Context, string, string, lineage.ForkInput) (string, error) { return forkID, nil },
	}
	svc := newTestService(testDeps{store: st, lineage: fl, notifier: notifier})

	_, err := svc.CreateFork(context.Background(), member("user-1"), seedID, lineage.ForkInput{Summary: "mine"})
	require.NoError(t, err)

	select {
	case <-looked:
	case <-time.After(time.Second):
		t.Fatal("expected parent lookup")
	}
	select {
	case sent := <-notifier.sent:
		t.Fatalf("unexpected notice to %s", sent.to)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSearchValidation(t *testing.T) {
	ctx := context.Background()

	_, err := newTestService(testDeps{}).Search(ctx, "dawn", "", "", 20, 0)
	requireDomainError(t, err, http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE")

	idx := &fakeSearch{}
	svc := newTestService(testDeps{search: idx})
	_, err = svc.Search(ctx, "  ", "", "", 20, 0)
	requireDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
	_, err = svc.Search(ctx, "dawn", "thread", "", 20, 0)
	requireDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	_, err = svc.Search(ctx, " dawn ", "Seed", "Music", 5, 10)
	require.NoError(t, err)
	assert.Equal(t, search.Query{Text: "dawn", FilterType: search.ResultSeed, FilterKind: "music", Limit: 5, Offset: 10}, idx.lastQuery)
}

func TestSignInIssuesRotatingSession(t *testing.T) {
	ctx := context.Background()
	sessions := newFakeSessions()
	svc := newTestService(testDeps{
		sessions:  sessions,
		passwords: &fakePasswords{signInFn: func(context.Context, authpw.SignInRequest) (store.User, error) {
			return store.User{ID: "user-1", DisplayName: "Avery", Role: "member"}, nil
		}},
	})

	first, err := svc.SignIn(ctx, authpw.SignInRequest{Email: "a@example.com", Password: "password123"})
	require.NoError(t, err)
	assert.NotEmpty(t, first.Token)
	assert.True(t, strings.HasPrefix(first.RefreshToken, "rft_"))

	parsed, err := svc.SessionFromToken(ctx, first.Token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", parsed.UserID)
	assert.Equal(t, first.JTI, parsed.JTI)

	second, err := svc.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.Equal(t, "Avery", second.UserName)

	_, err = svc.Refresh(ctx, first.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	require.NoError(t, svc.Logout(ctx, second.RefreshToken))
	_, err = svc.Refresh(ctx, second.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestPasswordErrorsAreMapped(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{err: authpw.ErrEmailTaken, status: http.StatusConflict, code: "EMAIL_EXISTS"},
		{err: authpw.ErrInvalidCredentials, status: http.StatusUnauthorized, code: "INVALID_CREDENTIALS"},
		{err: &authpw.ValidationError{Message: "email is not valid"}, status: http.StatusUnprocessableEntity, code: "VALIDATION_ERROR"},
	}
	for _, tt := range tests {
		svc := newTestService(testDeps{passwords: &fakePasswords{
			signUpFn: func(context.Context, authpw.SignUpRequest) (store.User, error) { return store.User{}, tt.err },
		}})
		_, err := svc.SignUp(context.Background(), authpw.SignUpRequest{})
		requireDomainError(t, err, tt.status, tt.code)
	}
}

func TestSessionFromTokenRejectsUnknownUser(t *testing.T) {
	svc := newTestService(testDeps{store: &fakeStore{
		getUserByIDFn: func(context.Context, string) (store.User, error) { return store.User{}, sql.ErrNoRows },
	}})
	session, err := svc.issueSession(context.Background(), store.User{ID: "ghost", DisplayName: "Ghost"})
	require.NoError(t, err)

	_, err = svc.SessionFromToken(context.Background(), session.Token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestUploadMediaMapsErrors(t *testing.T) {
	ctx := context.Background()

	disabled := newTestService(testDeps{})
	_, err := disabled.UploadMedia(ctx, member("user-1"), strings.NewReader("x"), 1)
	requireDomainError(t, err, http.StatusServiceUnavailable, "MEDIA_UNAVAILABLE")

	tests := []struct {
		err    error
		status int
		code   string
	}{
		{err: media.ErrUnsupportedType, status: http.StatusUnsupportedMediaType, code: "UNSUPPORTED_MEDIA"},
		{err: media.ErrTooLarge, status: http.StatusRequestEntityTooLarge, code: "MEDIA_TOO_LARGE"},
		{err: media.ErrEmpty, status: http.StatusUnprocessableEntity, code: "VALIDATION_ERROR"},
	}
	for _, tt := range tests {
		svc := newTestService(testDeps{media: &fakeMedia{err: tt.err}})
		_, err := svc.UploadMedia(ctx, member("user-1"), strings.NewReader("x"), 1)
		requireDomainError(t, err, tt.status, tt.code)
	}

	boom := errors.New("bucket gone")
	svc := newTestService(testDeps{media: &fakeMedia{err: boom}})
	_, err = svc.UploadMedia(ctx, member("user-1"), strings.NewReader("x"), 1)
	assert.ErrorIs(t, err, boom)
}

func TestMapError(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{err: lineage.ErrNotFound, status: http.StatusNotFound, code: CodeNotFound},
		{err: fmt.Errorf("fork %s: %w", "x", lineage.ErrNotFound), status: http.StatusNotFound, code: CodeNotFound},
		{err: sql.ErrNoRows, status: http.StatusNotFound, code: CodeNotFound},
		{err: lineage.ErrUnauthorized, status: http.StatusForbidden, code: CodeForbidden},
		{err: auth.ErrExpiredToken, status: http.StatusUnauthorized, code: CodeUnauthorized},
		{err: auth.ErrInvalidToken, status: http.StatusUnauthorized, code: CodeUnauthorized},
		{err: errors.Join(lineage.ErrTransactionFailed, errors.New("serialization failure")), status: http.StatusServiceUnavailable, code: CodeOperationFailed},
		{err: domainError(http.StatusConflict, CodeEmailExists, "taken", nil), status: http.StatusConflict, code: CodeEmailExists},
		{err: validationError("summary is required", nil), status: http.StatusUnprocessableEntity, code: CodeValidation},
		{err: unavailable(CodeSearchUnavailable, "Search"), status: http.StatusServiceUnavailable, code: CodeSearchUnavailable},
		{err: errors.New("boom"), status: http.StatusInternalServerError, code: CodeServerError},
	}
	for _, tt := range tests {
		status, code, _, _ := mapError(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.Equal(t, tt.code, code, tt.err.Error())
	}
}
