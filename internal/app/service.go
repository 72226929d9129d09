package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"gmptracker/internal/auth"
	"gmptracker/internal/catalog"
	"gmptracker/internal/config"
	"gmptracker/internal/export"
	"gmptracker/internal/rbac"
	"gmptracker/internal/realtime"
	"gmptracker/internal/records"
	"gmptracker/internal/search"
	"gmptracker/internal/session"
	"gmptracker/internal/store"
	"gmptracker/internal/util"

	"github.com/patrickmn/go-cache"
)

// Session is an authenticated workspace session. KeyLabel names the
// workspace key that opened it.
type Session struct {
	Token        string
	RefreshToken string
	WorkspaceID  string
	Workspace    string
	KeyLabel     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	Ping(context.Context) error
	EnsureWorkspace(context.Context, store.Workspace) (store.Workspace, error)
	GetWorkspaceBySlug(context.Context, string) (store.Workspace, error)
	PutWorkspaceKey(context.Context, store.WorkspaceKey) error
	InsertWorkspaceKey(context.Context, store.WorkspaceKey) error
	ListWorkspaceKeys(context.Context, string) ([]store.WorkspaceKey, error)
	ListProgress(context.Context, string) ([]records.Progress, error)
	UpsertProgress(context.Context, string, []records.ProgressPatch) ([]store.ProgressWrite, error)
	DeleteProgress(context.Context, string) ([]string, error)
	ReplaceProgress(context.Context, string, []records.Progress) ([]string, []records.Progress, error)
	ListMessages(context.Context, string, string) ([]records.Message, error)
	InsertMessage(context.Context, records.Message) (records.Message, error)
	GetMessage(context.Context, string, string) (records.Message, error)
	EditMessage(context.Context, string, string, string) (records.Message, error)
	SoftDeleteMessage(context.Context, string, string) (records.Message, error)
}

type gitService interface {
	Snapshot(string, records.Backup, string, string) (store.CommitInfo, error)
	History(string, int) ([]store.CommitInfo, error)
	SnapshotAt(string, string) (records.Backup, store.CommitInfo, error)
}

type searchService interface {
	Search(search.Query) search.Response
	IndexMessage(records.Message)
}

type exportService interface {
	Export(context.Context, export.Request) (*export.Result, error)
}

// Dependencies are the collaborators of a Service. Search, Exports and
// Catalog may be nil.
type Dependencies struct {
	Store    dataStore
	Git      gitService
	Broker   realtime.Broker
	Sessions session.Store
	Search   searchService
	Exports  exportService
	Catalog  *catalog.Catalog
}

type Service struct {
	cfg      config.Config
	store    dataStore
	git      gitService
	broker   realtime.Broker
	sessions session.Store
	search   searchService
	exports  exportService
	catalog  *catalog.Catalog

	// summaries caches per-workspace completion stats until the next
	// progress write. revoked holds access token ids ended by logout.
	summaries *cache.Cache
	revoked   *cache.Cache
}

func New(cfg config.Config, deps Dependencies) *Service {
	return &Service{
		cfg:       cfg,
		store:     deps.Store,
		git:       deps.Git,
		broker:    deps.Broker,
		sessions:  deps.Sessions,
		search:    deps.Search,
		exports:   deps.Exports,
		catalog:   deps.Catalog,
		summaries: cache.New(time.Minute, 5*time.Minute),
		revoked:   cache.New(cfg.AccessTTL, 10*time.Minute),
	}
}

// Bootstrap creates the configured workspace and (re)keys its bootstrap
// admin and editor keys.
func (s *Service) Bootstrap(ctx context.Context) error {
	slug := strings.TrimSpace(s.cfg.BootstrapWorkspace)
	if slug == "" {
		return nil
	}
	ws, err := s.store.EnsureWorkspace(ctx, store.Workspace{
		ID:   util.NewID("ws"),
		Slug: slug,
		Name: slug,
	})
	if err != nil {
		return err
	}

	seeds := []struct {
		label string
		key   string
		role  rbac.Role
	}{
		{label: "bootstrap-admin", key: s.cfg.BootstrapAdminKey, role: rbac.RoleAdmin},
		{label: "bootstrap-editor", key: s.cfg.BootstrapEditorKey, role: rbac.RoleEditor},
	}
	for _, seed := range seeds {
		if strings.TrimSpace(seed.key) == "" {
			continue
		}
		hash, err := auth.HashKey(seed.key)
		if err != nil {
			return fmt.Errorf("hash %s: %w", seed.label, err)
		}
		if err := s.store.PutWorkspaceKey(ctx, store.WorkspaceKey{
			ID:          util.NewID("key"),
			WorkspaceID: ws.ID,
			Label:       seed.label,
			KeyHash:     hash,
			Role:        string(seed.role),
		}); err != nil {
			return err
		}
	}
	log.Printf("app: workspace %q ready", ws.Slug)
	return nil
}

func invalidCredentials() error {
	return domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Workspace or key is invalid", nil)
}

// Login opens a session for the workspace key matching key.
func (s *Service) Login(ctx context.Context, workspace, key string) (Session, error) {
	slug := strings.TrimSpace(workspace)
	key = strings.TrimSpace(key)
	if slug == "" || key == "" {
		return Session{}, validationError("workspace and key are required", nil)
	}

	ws, err := s.store.GetWorkspaceBySlug(ctx, slug)
	if errors.Is(err, store.ErrNotFound) {
		return Session{}, invalidCredentials()
	}
	if err != nil {
		return Session{}, err
	}

	keys, err := s.store.ListWorkspaceKeys(ctx, ws.ID)
	if err != nil {
		return Session{}, err
	}
	for _, candidate := range keys {
		if auth.CompareKey(candidate.KeyHash, key) != nil {
			continue
		}
		return s.issueSession(ctx, session.Grant{
			WorkspaceID: ws.ID,
			Workspace:   ws.Slug,
			Label:       candidate.Label,
			Role:        candidate.Role,
			CreatedAt:   time.Now().UTC(),
		})
	}
	return Session{}, invalidCredentials()
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	grant, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, grant)
}

func (s *Service) issueSession(ctx context.Context, grant session.Grant) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")
	role := string(rbac.Normalize(grant.Role))

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:       grant.WorkspaceID,
		Workspace: grant.Workspace,
		Name:      grant.Label,
		Role:      role,
		JTI:       jti,
		Exp:       expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), grant, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		WorkspaceID:  grant.WorkspaceID,
		Workspace:    grant.Workspace,
		KeyLabel:     grant.Label,
		Role:         role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(_ context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	if _, revoked := s.revoked.Get(claims.JTI); revoked {
		return Session{}, auth.ErrInvalidToken
	}
	return Session{
		Token:       token,
		WorkspaceID: claims.Sub,
		Workspace:   claims.Workspace,
		KeyLabel:    claims.Name,
		Role:        string(rbac.Normalize(claims.Role)),
		JTI:         claims.JTI,
		ExpiresAt:   time.Unix(claims.Exp, 0),
	}, nil
}

// Logout ends the access token on this instance and revokes the refresh
// token everywhere.
func (s *Service) Logout(ctx context.Context, sess Session, refreshToken string) error {
	if sess.JTI != "" {
		ttl := time.Until(sess.ExpiresAt)
		if ttl > 0 {
			s.revoked.Set(sess.JTI, true, ttl)
		}
	}
	if refreshToken != "" {
		return s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Catalog returns the loaded checklist catalog, or nil.
func (s *Service) Catalog() *catalog.Catalog {
	return s.catalog
}

// Subscribe opens a change feed scoped to the session's workspace.
func (s *Service) Subscribe(ctx context.Context, sess Session, table records.Table, itemID string) (*realtime.Subscription, error) {
	if table != records.TableProgress && table != records.TableMessages {
		return nil, validationError("table must be progress or messages", nil)
	}
	return s.broker.Subscribe(ctx, realtime.Filter{
		Table:       table,
		WorkspaceID: sess.WorkspaceID,
		ItemID:      strings.TrimSpace(itemID),
	})
}

// publish logs instead of failing: the write has already committed.
func (s *Service) publish(ctx context.Context, change records.Change, err error) {
	if err != nil {
		log.Printf("app: build change event: %v", err)
		return
	}
	if err := s.broker.Publish(ctx, change); err != nil {
		log.Printf("app: publish %s %s for %s: %v", change.Table, change.Type, change.ItemID, err)
	}
}

func (s *Service) knownItem(itemID string) bool {
	if s.catalog == nil {
		return true
	}
	return s.catalog.Has(itemID)
}
