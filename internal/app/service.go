package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mutesky/api/internal/auth"
	"mutesky/api/internal/bsky"
	"mutesky/api/internal/catalog"
	"mutesky/api/internal/config"
	"mutesky/api/internal/metrics"
	"mutesky/api/internal/mutes"
	"mutesky/api/internal/search"
	"mutesky/api/internal/selection"
	"mutesky/api/internal/store"
)

type Session struct {
	Token     string
	DID       string
	Handle    string
	JTI       string
	ExpiresAt time.Time
}

type selectionStore interface {
	SaveSelection(context.Context, string, selection.Snapshot) error
	LoadSelection(context.Context, string) (selection.Snapshot, bool, error)
	SaveSettings(context.Context, string, mutes.Settings) error
	LoadSettings(context.Context, string) (mutes.Settings, error)
	Ping(context.Context) error
}

type tokenStore interface {
	RevokeToken(context.Context, string, time.Time) error
	IsRevoked(context.Context, string) (bool, error)
}

type identityProvider interface {
	Login(ctx context.Context, identifier, password string) (bsky.Session, error)
	Logout(ctx context.Context, did string) error
}

type remoteMutes interface {
	Fetch(ctx context.Context, did string) ([]mutes.MutedWord, error)
	Push(ctx context.Context, did string, local []string, universe mutes.Universe, settings mutes.Settings) ([]mutes.MutedWord, error)
}

type syncHistory interface {
	TouchAccount(ctx context.Context, did, handle string) error
	RecordSync(context.Context, store.SyncRecord) (store.SyncRecord, error)
	ListSyncs(ctx context.Context, did string, limit int) ([]store.SyncRecord, error)
}

type keywordIndex interface {
	Search(search.Query) search.Response
	Reindex(*catalog.Catalog)
}

// Deps are the collaborators of a Service. History and Search are
// optional.
type Deps struct {
	Catalog    catalog.Source
	Selections selectionStore
	Tokens     tokenStore
	Identity   identityProvider
	Mutes      remoteMutes
	History    syncHistory
	Search     keywordIndex
	Logger     *zap.Logger
}

type workspace struct {
	engine  *selection.Engine
	version uint64
}

type Service struct {
	cfg        config.Config
	source     catalog.Source
	selections selectionStore
	tokens     tokenStore
	identity   identityProvider
	mutes      remoteMutes
	history    syncHistory
	search     keywordIndex
	logger     *zap.Logger
	settle     *selection.Scheduler
	now        func() time.Time

	current  atomic.Pointer[catalog.Catalog]
	reloadMu sync.Mutex

	mu         sync.Mutex
	workspaces map[string]*workspace
	locks      map[string]*sync.Mutex
	syncing    map[string]struct{}
}

func NewService(cfg config.Config, deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		cfg:        cfg,
		source:     deps.Catalog,
		selections: deps.Selections,
		tokens:     deps.Tokens,
		identity:   deps.Identity,
		mutes:      deps.Mutes,
		history:    deps.History,
		search:     deps.Search,
		logger:     logger.Named("app"),
		now:        time.Now,
		workspaces: make(map[string]*workspace),
		locks:      make(map[string]*sync.Mutex),
		syncing:    make(map[string]struct{}),
	}
	s.settle = selection.NewScheduler(cfg.SettleDelay, s.persist)
	return s
}

// Close writes every pending selection.
func (s *Service) Close() {
	s.settle.Stop()
}

func (s *Service) Ping(ctx context.Context) error {
	return s.selections.Ping(ctx)
}

// Catalog returns the loaded catalog, or an empty one before the first
// successful load.
func (s *Service) Catalog() *catalog.Catalog {
	if c := s.current.Load(); c != nil {
		return c
	}
	return catalog.Empty()
}

// LoadCatalog loads the catalog from its source and makes it current.
func (s *Service) LoadCatalog(ctx context.Context) (*catalog.Catalog, error) {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()
	return s.loadCatalog(ctx)
}

// RefreshCatalog drops cached catalog files and loads again. Workspaces
// pick up the new catalog on their next operation.
func (s *Service) RefreshCatalog(ctx context.Context) (*catalog.Catalog, error) {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()
	if cached, ok := s.source.(interface{ Invalidate() }); ok {
		cached.Invalidate()
	}
	return s.loadCatalog(ctx)
}

func (s *Service) loadCatalog(ctx context.Context) (*catalog.Catalog, error) {
	c, err := s.source.Load(ctx)
	if err != nil {
		metrics.CatalogFailed()
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	s.current.Store(c)
	metrics.CatalogLoaded(c.KeywordCount())
	if s.search != nil {
		s.search.Reindex(c)
	}
	s.logger.Info("catalog loaded",
		zap.Int("categories", len(c.CategoryIDs())),
		zap.Int("contexts", len(c.Contexts())),
		zap.Int("keywords", c.KeywordCount()),
		zap.String("last_modified", c.LastModified()),
	)
	return c, nil
}

func (s *Service) Login(ctx context.Context, identifier, password string) (Session, error) {
	identifier = strings.TrimPrefix(strings.TrimSpace(identifier), "@")
	if identifier == "" || password == "" {
		return Session{}, validationError("identifier and password are required")
	}
	remote, err := s.identity.Login(ctx, identifier, password)
	if err != nil {
		return Session{}, err
	}
	session, err := s.issueSession(remote.DID, remote.Handle)
	if err != nil {
		return Session{}, err
	}
	if s.history != nil {
		if err := s.history.TouchAccount(ctx, remote.DID, remote.Handle); err != nil {
			s.logger.Warn("touch account", zap.String("did", remote.DID), zap.Error(err))
		}
	}

	// A new sign-in starts from the remote list.
	s.settle.Flush(remote.DID)
	lock := s.lockFor(remote.DID)
	lock.Lock()
	s.evict(remote.DID)
	if _, err := s.openWorkspace(ctx, remote.DID, true); err != nil {
		s.logger.Warn("initialize workspace", zap.String("did", remote.DID), zap.Error(err))
	}
	lock.Unlock()
	return session, nil
}

func (s *Service) issueSession(did, handle string) (Session, error) {
	expiresAt := s.now().Add(s.cfg.AccessTTL)
	jti := uuid.NewString()
	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:    did,
		Handle: handle,
		JTI:    jti,
		Exp:    expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, DID: did, Handle: handle, JTI: jti, ExpiresAt: expiresAt}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.tokens.IsRevoked(ctx, auth.HashToken(claims.JTI))
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}
	return Session{
		Token:     token,
		DID:       claims.Sub,
		Handle:    claims.Handle,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// Logout revokes the API token, signs the selection out and ends the
// Bluesky session. Contexts, exceptions and manual overrides survive.
func (s *Service) Logout(ctx context.Context, session Session) error {
	if session.JTI != "" {
		if err := s.tokens.RevokeToken(ctx, auth.HashToken(session.JTI), session.ExpiresAt); err != nil {
			s.logger.Warn("revoke token", zap.Error(err))
		}
	}
	if session.DID == "" {
		return nil
	}

	s.settle.Flush(session.DID)
	lock := s.lockFor(session.DID)
	lock.Lock()
	ws := s.cached(session.DID)
	var snapshot *selection.Snapshot
	if ws != nil {
		ws.engine.State().SignOut()
		signedOut := ws.engine.State().Snapshot()
		snapshot = &signedOut
	}
	s.evict(session.DID)
	lock.Unlock()

	if snapshot != nil {
		if err := s.selections.SaveSelection(ctx, session.DID, *snapshot); err != nil {
			metrics.PersistFailed()
			s.logger.Warn("persist signed out selection", zap.String("did", session.DID), zap.Error(err))
		}
	}
	return s.identity.Logout(ctx, session.DID)
}

// withWorkspace runs fn with the account's workspace under its lock,
// loading the workspace first when needed.
func (s *Service) withWorkspace(ctx context.Context, did string, fn func(*workspace) error) error {
	lock := s.lockFor(did)
	lock.Lock()
	defer lock.Unlock()

	ws := s.cached(did)
	if ws == nil {
		var err error
		if ws, err = s.openWorkspace(ctx, did, false); err != nil {
			return err
		}
	} else if c := s.Catalog(); ws.version != c.Version() {
		ws.engine = rebase(ws.engine, c)
		ws.version = c.Version()
		s.settle.Schedule(did)
	}
	return fn(ws)
}

// openWorkspace restores the persisted selection and reads the remote
// muted words. A sign-in, or an account with nothing persisted, starts the
// active set from the remote list; otherwise the persisted active set is
// resumed as is. Callers hold the account lock.
func (s *Service) openWorkspace(ctx context.Context, did string, signIn bool) (*workspace, error) {
	c := s.Catalog()
	snapshot, found, err := s.selections.LoadSelection(ctx, did)
	if err != nil {
		return nil, fmt.Errorf("load selection: %w", err)
	}
	remote, err := s.mutes.Fetch(ctx, did)
	if err != nil {
		return nil, err
	}

	engine := selection.NewEngine(c, selection.NewState())
	if found {
		engine = selection.Load(snapshot, c)
	}
	if found && !signIn {
		engine.ObserveRemote(mutes.Values(remote))
	} else {
		engine.InitializeFromRemote(mutes.Values(remote))
	}
	engine.State().LastModified = c.LastModified()

	ws := &workspace{engine: engine, version: c.Version()}
	s.mu.Lock()
	s.workspaces[did] = ws
	metrics.SetWorkspaces(len(s.workspaces))
	s.mu.Unlock()
	s.logger.Debug("workspace loaded", zap.String("did", did), zap.Bool("restored", found), zap.Int("remote", len(remote)))
	return ws, nil
}

// rebase carries a selection over to a reloaded catalog. Keywords the new
// catalog no longer has are dropped.
func rebase(engine *selection.Engine, c *catalog.Catalog) *selection.Engine {
	previous := engine.State()
	next := selection.Load(previous.Snapshot(), c)
	next.State().OriginalMuted = previous.OriginalMuted
	next.State().PendingBulk = previous.PendingBulk
	next.State().LastModified = c.LastModified()
	return next
}

func (s *Service) cached(did string) *workspace {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workspaces[did]
}

func (s *Service) evict(did string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.workspaces, did)
	metrics.SetWorkspaces(len(s.workspaces))
}

func (s *Service) lockFor(did string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[did]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[did] = lock
	}
	return lock
}

// persist is the settle job: snapshot under the workspace lock, write
// outside it.
func (s *Service) persist(did string) {
	lock := s.lockFor(did)
	lock.Lock()
	ws := s.cached(did)
	if ws == nil {
		lock.Unlock()
		return
	}
	snapshot := ws.engine.State().Snapshot()
	lock.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.selections.SaveSelection(ctx, did, snapshot); err != nil {
		metrics.PersistFailed()
		s.logger.Warn("persist selection", zap.String("did", did), zap.Error(err))
	}
}

func (s *Service) beginSync(did string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, running := s.syncing[did]; running {
		return false
	}
	s.syncing[did] = struct{}{}
	return true
}

func (s *Service) endSync(did string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.syncing, did)
}

func (s *Service) Settings(ctx context.Context, session Session) (mutes.Settings, error) {
	return s.selections.LoadSettings(ctx, session.DID)
}

func (s *Service) UpdateSettings(ctx context.Context, session Session, settings mutes.Settings) (mutes.Settings, error) {
	if err := settings.Validate(); err != nil {
		return mutes.Settings{}, err
	}
	if err := s.selections.SaveSettings(ctx, session.DID, settings); err != nil {
		return mutes.Settings{}, err
	}
	return settings, nil
}

func (s *Service) SearchKeywords(query search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: query.Text}
	}
	return s.search.Search(query)
}

func (s *Service) SyncHistory(ctx context.Context, session Session, limit int) ([]store.SyncRecord, error) {
	if s.history == nil {
		return []store.SyncRecord{}, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.history.ListSyncs(ctx, session.DID, limit)
}
