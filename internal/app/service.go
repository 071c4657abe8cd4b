package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"artive/api/internal/auth"
	"artive/api/internal/authpw"
	"artive/api/internal/config"
	"artive/api/internal/email"
	"artive/api/internal/lineage"
	"artive/api/internal/media"
	"artive/api/internal/rbac"
	"artive/api/internal/search"
	"artive/api/internal/store"
	"artive/api/internal/util"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	maxTitleLength  = 200
	maxSummaryChars = 280
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

type CreateSeedInput struct {
	Title    string `json:"title"`
	Kind     string `json:"kind"`
	Content  string `json:"content"`
	MediaURL string `json:"mediaUrl"`
}

type SeedView struct {
	ID        string     `json:"id"`
	AuthorID  string     `json:"authorId"`
	Title     string     `json:"title"`
	Kind      string     `json:"kind"`
	Content   string     `json:"content"`
	MediaURL  string     `json:"mediaUrl,omitempty"`
	ForkCount int        `json:"forkCount"`
	CreatedAt time.Time  `json:"createdAt"`
	Deleted   bool       `json:"deleted"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}

type ForkView struct {
	ID           string    `json:"id"`
	ParentID     string    `json:"parentId"`
	AuthorID     string    `json:"authorId"`
	ContentDelta string    `json:"contentDelta"`
	Summary      string    `json:"summary"`
	Description  string    `json:"description,omitempty"`
	ImageURL     string    `json:"imageUrl,omitempty"`
	ThumbnailURL string    `json:"thumbnailUrl,omitempty"`
	ForkCount    int       `json:"forkCount"`
	CreatedAt    time.Time `json:"createdAt"`
}

// DataStore is the persistence the service reads and writes outside the
// lineage engine.
type DataStore interface {
	GetUserByID(ctx context.Context, id string) (store.User, error)
	InsertSeed(ctx context.Context, seed store.Seed) error
	GetSeed(ctx context.Context, id string) (store.Seed, error)
	ListSeeds(ctx context.Context, limit, offset int) ([]store.Seed, error)
	SoftDeleteSeed(ctx context.Context, seedID, authorID string) (bool, error)
	GetFork(ctx context.Context, id string) (store.Fork, error)
	ListForksByParent(ctx context.Context, parentID string, limit, offset int) ([]store.Fork, error)
	Node(ctx context.Context, id string) (store.NodeRef, error)
	Ping(ctx context.Context) error
}

// SessionStore keeps refresh tokens, keyed by their hash.
type SessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type LineageEngine interface {
	GetLineage(ctx context.Context, nodeID string, depth int) (lineage.Lineage, error)
	CreateFork(ctx context.Context, parentID, actorID string, input lineage.ForkInput) (string, error)
	DeleteFork(ctx context.Context, forkID, actorID string) error
	Repair(ctx context.Context, nodeID string) (lineage.RepairResult, error)
}

type PasswordAuth interface {
	SignUp(ctx context.Context, req authpw.SignUpRequest) (store.User, error)
	SignIn(ctx context.Context, req authpw.SignInRequest) (store.User, error)
}

type MediaUploader interface {
	Upload(ctx context.Context, ownerID string, body io.Reader, size int64) (media.Object, error)
	MaxBytes() int64
}

// NodeSearch finds seeds and forks by text and keeps its index current.
type NodeSearch interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexSeed(seed search.SeedRecord)
	IndexFork(fork search.ForkRecord)
	RemoveSeed(id string)
	RemoveFork(id string)
}

type ForkNotifier interface {
	SendForkNotification(to string, notice email.ForkNotice) error
}

// Dependencies are the collaborators of a Service. Media may be nil, which
// disables uploads. Search may be nil, which disables the search endpoint.
// Notifier may be nil, which disables fork emails.
type Dependencies struct {
	Store     DataStore
	Sessions  SessionStore
	Lineage   LineageEngine
	Passwords PasswordAuth
	Media     MediaUploader
	Search    NodeSearch
	Notifier  ForkNotifier
	Logger    *zap.Logger
}

type Service struct {
	cfg       config.Config
	store     DataStore
	sessions  SessionStore
	lineage   LineageEngine
	passwords PasswordAuth
	media     MediaUploader
	search    NodeSearch
	notifier  ForkNotifier
	logger    *zap.Logger
}

func New(cfg config.Config, deps Dependencies) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:       cfg,
		store:     deps.Store,
		sessions:  deps.Sessions,
		lineage:   deps.Lineage,
		passwords: deps.Passwords,
		media:     deps.Media,
		search:    deps.Search,
		notifier:  deps.Notifier,
		logger:    logger,
	}
}

func (s *Service) SignUp(ctx context.Context, req authpw.SignUpRequest) (Session, error) {
	user, err := s.passwords.SignUp(ctx, req)
	if err != nil {
		return Session{}, passwordError(err)
	}
	s.logger.Info("member signed up", zap.String("userID", user.ID))
	return s.issueSession(ctx, user)
}

func (s *Service) SignIn(ctx context.Context, req authpw.SignInRequest) (Session, error) {
	user, err := s.passwords.SignIn(ctx, req)
	if err != nil {
		return Session{}, passwordError(err)
	}
	return s.issueSession(ctx, user)
}

func passwordError(err error) error {
	var validation *authpw.ValidationError
	switch {
	case errors.As(err, &validation):
		return validationError(validation.Message, nil)
	case errors.Is(err, authpw.ErrEmailTaken):
		return domainError(http.StatusConflict, CodeEmailExists, "Email already registered", nil)
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return domainError(http.StatusUnauthorized, CodeInvalidCredential, "Invalid email or password", nil)
	default:
		return err
	}
}

// Refresh rotates a refresh token: the presented token is revoked and a new
// pair is issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return Session{}, auth.ErrInvalidToken
	}
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", auth.ErrInvalidToken, err)
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewToken("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Role: user.Role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewToken("rft")
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user, now.Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

// SessionFromToken validates an access token and confirms the member still
// exists.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
}

func (s *Service) ListSeeds(ctx context.Context, limit, offset int) ([]SeedView, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	seeds, err := s.store.ListSeeds(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	items := make([]SeedView, 0, len(seeds))
	for _, seed := range seeds {
		items = append(items, seedView(seed))
	}
	return items, nil
}

func authorize(session Session, action rbac.Action) error {
	if !rbac.Can(rbac.Normalize(session.Role), action) {
		return lineage.ErrUnauthorized
	}
	return nil
}

func (s *Service) CreateSeed(ctx context.Context, session Session, input CreateSeedInput) (SeedView, error) {
	if err := authorize(session, rbac.ActionCreate); err != nil {
		return SeedView{}, err
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return SeedView{}, validationError("title is required", nil)
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return SeedView{}, validationError(fmt.Sprintf("title must be at most %d characters", maxTitleLength), nil)
	}

	kind := store.SeedKind(strings.ToLower(strings.TrimSpace(input.Kind)))
	if kind == "" {
		kind = store.SeedText
	}
	switch kind {
	case store.SeedText, store.SeedVisual, store.SeedMusic, store.SeedCode:
	default:
		return SeedView{}, validationError("unsupported seed kind", map[string]any{
			"kind":    input.Kind,
			"allowed": []store.SeedKind{store.SeedText, store.SeedVisual, store.SeedMusic, store.SeedCode},
		})
	}

	seed := store.Seed{
		ID:        util.NewID(),
		AuthorID:  session.UserID,
		Title:     title,
		Kind:      kind,
		Content:   input.Content,
		MediaURL:  strings.TrimSpace(input.MediaURL),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.InsertSeed(ctx, seed); err != nil {
		return SeedView{}, err
	}
	s.logger.Info("seed created", zap.String("seedID", seed.ID), zap.String("authorID", seed.AuthorID))
	if s.search != nil {
		s.search.IndexSeed(search.SeedRecord{
			ID:       seed.ID,
			Title:    seed.Title,
			Kind:     string(seed.Kind),
			Content:  seed.Content,
			AuthorID: seed.AuthorID,
		})
	}
	return seedView(seed), nil
}

// GetSeed returns a seed. Soft-deleted seeds are still readable and carry the
// deleted flag.
func (s *Service) GetSeed(ctx context.Context, seedID string) (SeedView, error) {
	if !util.ValidID(seedID) {
		return SeedView{}, lineage.ErrNotFound
	}
	seed, err := s.store.GetSeed(ctx, seedID)
	if err != nil {
		return SeedView{}, err
	}
	return seedView(seed), nil
}

func (s *Service) DeleteSeed(ctx context.Context, session Session, seedID string) error {
	if !util.ValidID(seedID) {
		return lineage.ErrNotFound
	}
	deleted, err := s.store.SoftDeleteSeed(ctx, seedID, session.UserID)
	if err != nil {
		return err
	}
	if deleted {
		s.logger.Info("seed deleted", zap.String("seedID", seedID), zap.String("authorID", session.UserID))
		if s.search != nil {
			s.search.RemoveSeed(seedID)
		}
		return nil
	}

	seed, err := s.store.GetSeed(ctx, seedID)
	if err != nil {
		return err
	}
	if seed.DeletedAt != nil {
		return lineage.ErrNotFound
	}
	return lineage.ErrUnauthorized
}

func (s *Service) GetFork(ctx context.Context, forkID string) (ForkView, error) {
	if !util.ValidID(forkID) {
		return ForkView{}, lineage.ErrNotFound
	}
	fork, err := s.store.GetFork(ctx, forkID)
	if err != nil {
		return ForkView{}, err
	}
	return forkView(fork), nil
}

// ListChildren returns the direct forks of a seed or fork, oldest first.
func (s *Service) ListChildren(ctx context.Context, nodeID string, limit, offset int) ([]ForkView, error) {
	if !util.ValidID(nodeID) {
		return nil, lineage.ErrNotFound
	}
	if _, err := s.store.Node(ctx, nodeID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	forks, err := s.store.ListForksByParent(ctx, nodeID, limit, offset)
	if err != nil {
		return nil, err
	}
	items := make([]ForkView, 0, len(forks))
	for _, fork := range forks {
		items = append(items, forkView(fork))
	}
	return items, nil
}

func (s *Service) CreateFork(ctx context.Context, session Session, parentID string, input lineage.ForkInput) (ForkView, error) {
	if err := authorize(session, rbac.ActionCreate); err != nil {
		return ForkView{}, err
	}
	input.Summary = strings.TrimSpace(input.Summary)
	if input.Summary == "" {
		return ForkView{}, validationError("summary is required", nil)
	}
	if utf8.RuneCountInString(input.Summary) > maxSummaryChars {
		return ForkView{}, validationError(fmt.Sprintf("summary must be at most %d characters", maxSummaryChars), nil)
	}

	forkID, err := s.lineage.CreateFork(ctx, parentID, session.UserID, input)
	if err != nil {
		return ForkView{}, err
	}

	fork, err := s.store.GetFork(ctx, forkID)
	if err != nil {
		// committed; the stored row is authoritative but unreadable right now
		s.logger.Warn("created fork not readable", zap.String("forkID", forkID), zap.Error(err))
		view := ForkView{ID: forkID, ParentID: parentID, AuthorID: session.UserID, Summary: input.Summary}
		s.indexFork(view)
		s.notifyFork(ctx, session, view)
		return view, nil
	}
	view := forkView(fork)
	s.indexFork(view)
	s.notifyFork(ctx, session, view)
	return view, nil
}

// notifyFork emails the author of the forked node in the background. Failures
// are logged and never reach the caller.
func (s *Service) notifyFork(ctx context.Context, session Session, fork ForkView) {
	if s.notifier == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()

		authorID, title, err := s.nodeAuthor(ctx, fork.ParentID)
		if err != nil {
			s.logger.Warn("fork notice skipped", zap.String("forkID", fork.ID), zap.Error(err))
			return
		}
		if authorID == session.UserID {
			return
		}
		author, err := s.store.GetUserByID(ctx, authorID)
		if err != nil || author.Email == "" {
			s.logger.Warn("fork notice skipped", zap.String("forkID", fork.ID), zap.String("authorID", authorID), zap.Error(err))
			return
		}
		notice := email.ForkNotice{
			RecipientName: author.DisplayName,
			ForkerName:    session.UserName,
			ParentTitle:   title,
			ForkID:        fork.ID,
			ForkSummary:   fork.Summary,
		}
		if err := s.notifier.SendForkNotification(author.Email, notice); err != nil {
			s.logger.Warn("fork notice failed", zap.String("forkID", fork.ID), zap.Error(err))
		}
	}()
}

// nodeAuthor returns the author and display title of a seed or fork.
func (s *Service) nodeAuthor(ctx context.Context, nodeID string) (authorID, title string, err error) {
	ref, err := s.store.Node(ctx, nodeID)
	if err != nil {
		return "", "", err
	}
	if ref.IsSeed() {
		seed, err := s.store.GetSeed(ctx, nodeID)
		if err != nil {
			return "", "", err
		}
		return seed.AuthorID, seed.Title, nil
	}
	fork, err := s.store.GetFork(ctx, nodeID)
	if err != nil {
		return "", "", err
	}
	return fork.AuthorID, fork.Summary, nil
}

func (s *Service) indexFork(view ForkView) {
	if s.search == nil {
		return
	}
	s.search.IndexFork(search.ForkRecord{
		ID:          view.ID,
		Summary:     view.Summary,
		Description: view.Description,
		AuthorID:    view.AuthorID,
	})
}

func (s *Service) DeleteFork(ctx context.Context, session Session, forkID string) error {
	if err := s.lineage.DeleteFork(ctx, forkID, session.UserID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.RemoveFork(forkID)
	}
	return nil
}

func (s *Service) SearchEnabled() bool {
	return s.search != nil
}

// Search looks up seeds and forks by text. Soft-deleted seeds are excluded.
func (s *Service) Search(ctx context.Context, text, resultType, kind string, limit, offset int) (search.Response, error) {
	if s.search == nil {
		return search.Response{}, unavailable(CodeSearchUnavailable, "Search")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return search.Response{}, validationError("q is required", nil)
	}
	filter := search.ResultType(strings.ToLower(strings.TrimSpace(resultType)))
	switch filter {
	case "", search.ResultSeed, search.ResultFork:
	default:
		return search.Response{}, validationError("type must be seed or fork", map[string]any{"type": resultType})
	}
	return s.search.Search(ctx, search.Query{
		Text:       text,
		FilterType: filter,
		FilterKind: strings.ToLower(strings.TrimSpace(kind)),
		Limit:      limit,
		Offset:     offset,
	}), nil
}

func (s *Service) GetLineage(ctx context.Context, nodeID string, depth int) (lineage.Lineage, error) {
	return s.lineage.GetLineage(ctx, nodeID, depth)
}

// Recount recomputes every count in the tree containing nodeID. Only
// moderators and admins may trigger it.
func (s *Service) Recount(ctx context.Context, session Session, nodeID string) (lineage.RepairResult, error) {
	if err := authorize(session, rbac.ActionRecount); err != nil {
		return lineage.RepairResult{}, err
	}
	result, err := s.lineage.Repair(ctx, nodeID)
	if err != nil {
		return lineage.RepairResult{}, err
	}
	s.logger.Info("lineage recounted",
		zap.String("rootID", result.RootID),
		zap.Int("total", result.Total),
		zap.String("requestedBy", session.UserID),
	)
	return result, nil
}

func (s *Service) MediaEnabled() bool {
	return s.media != nil
}

func (s *Service) MediaMaxBytes() int64 {
	if s.media == nil {
		return 0
	}
	return s.media.MaxBytes()
}

func (s *Service) UploadMedia(ctx context.Context, session Session, body io.Reader, size int64) (media.Object, error) {
	if s.media == nil {
		return media.Object{}, unavailable(CodeMediaUnavailable, "Media storage")
	}
	if err := authorize(session, rbac.ActionCreate); err != nil {
		return media.Object{}, err
	}
	obj, err := s.media.Upload(ctx, session.UserID, body, size)
	switch {
	case errors.Is(err, media.ErrUnsupportedType):
		return media.Object{}, domainError(http.StatusUnsupportedMediaType, CodeUnsupportedMedia, "Only PNG, JPEG, GIF and WebP images are accepted", nil)
	case errors.Is(err, media.ErrTooLarge):
		return media.Object{}, domainError(http.StatusRequestEntityTooLarge, CodeMediaTooLarge, "Upload exceeds size limit", map[string]any{"maxBytes": s.media.MaxBytes()})
	case errors.Is(err, media.ErrEmpty):
		return media.Object{}, validationError("file is empty", nil)
	case err != nil:
		return media.Object{}, err
	}
	s.logger.Info("media uploaded", zap.String("key", obj.Key), zap.Int64("size", obj.Size))
	return obj, nil
}

// Ping checks the health of service dependencies (database, etc.)
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func seedView(seed store.Seed) SeedView {
	return SeedView{
		ID:        seed.ID,
		AuthorID:  seed.AuthorID,
		Title:     seed.Title,
		Kind:      string(seed.Kind),
		Content:   seed.Content,
		MediaURL:  seed.MediaURL,
		ForkCount: seed.ForkCount,
		CreatedAt: seed.CreatedAt,
		Deleted:   seed.DeletedAt != nil,
		DeletedAt: seed.DeletedAt,
	}
}

func forkView(fork store.Fork) ForkView {
	return ForkView{
		ID:           fork.ID,
		ParentID:     fork.ParentID,
		AuthorID:     fork.AuthorID,
		ContentDelta: fork.ContentDelta,
		Summary:      fork.Summary,
		Description:  fork.Description,
		ImageURL:     fork.ImageURL,
		ThumbnailURL: fork.ThumbnailURL,
		ForkCount:    fork.ForkCount,
		CreatedAt:    fork.CreatedAt,
	}
}
