package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"dealroom/api/internal/auth"
	"dealroom/api/internal/authpw"
	"dealroom/api/internal/config"
	"dealroom/api/internal/editlock"
	"dealroom/api/internal/rbac"
	"dealroom/api/internal/store"
	"github.com/patrickmn/go-cache"
)

type Session struct {
	Token          string
	RefreshToken   string
	UserID         string
	UserName       string
	OrganizationID string
	Role           string
	JTI            string
	ExpiresAt      time.Time
}

// Holder is the lock identity of the signed-in user.
func (s Session) Holder() editlock.Holder {
	return editlock.Holder{UserID: s.UserID, DisplayName: s.UserName}
}

type dataStore interface {
	EnsureOrganization(context.Context, string, string) (store.Organization, error)
	GetOrganizationBySlug(context.Context, string) (store.Organization, error)
	EnsureUserByName(context.Context, string, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	CreateUser(context.Context, store.User) (store.User, error)
	Ping(ctx context.Context) error
}

// sessionStore holds refresh tokens and revoked access tokens. Postgres
// serves it by default; Redis takes over when configured.
type sessionStore interface {
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
}

type readinessCheck struct {
	name string
	ping func(context.Context) error
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  sessionStore
	locks     *editlock.Manager
	passwords *authpw.Service
	tokens    *auth.Issuer
	users     *cache.Cache
	checks    []readinessCheck
}

func New(cfg config.Config, dataStore *store.PostgresStore, locks *editlock.Manager) *Service {
	return newService(cfg, dataStore, dataStore, locks)
}

// NewWithSessionStore keeps sessions outside Postgres, typically in Redis.
func NewWithSessionStore(cfg config.Config, dataStore *store.PostgresStore, sessions sessionStore, locks *editlock.Manager) *Service {
	return newService(cfg, dataStore, sessions, locks)
}

func newService(cfg config.Config, data dataStore, sessions sessionStore, locks *editlock.Manager) *Service {
	var users *cache.Cache
	if cfg.SessionCacheTTL > 0 {
		users = cache.New(cfg.SessionCacheTTL, 2*cfg.SessionCacheTTL)
	}
	return &Service{
		cfg:       cfg,
		store:     data,
		sessions:  sessions,
		locks:     locks,
		passwords: authpw.NewService(data),
		tokens:    auth.NewIssuer(cfg.JWTSecret, cfg.AccessTTL),
		users:     users,
		checks:    []readinessCheck{{name: "database", ping: data.Ping}},
	}
}

// AddReadinessCheck registers another dependency reported by /api/ready.
func (s *Service) AddReadinessCheck(name string, ping func(context.Context) error) {
	s.checks = append(s.checks, readinessCheck{name: name, ping: ping})
}

// Bootstrap makes sure the default organization exists and, when configured,
// provisions the first administrator.
func (s *Service) Bootstrap(ctx context.Context) error {
	org, err := s.store.EnsureOrganization(ctx, s.cfg.DefaultOrgSlug, s.cfg.DefaultOrgName)
	if err != nil {
		return err
	}
	if s.cfg.AdminEmail == "" || s.cfg.AdminPassword == "" {
		return nil
	}
	if _, err := s.store.GetUserByEmail(ctx, s.cfg.AdminEmail); err == nil {
		return nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("lookup admin: %w", err)
	}

	admin, err := s.passwords.Provision(ctx, authpw.ProvisionRequest{
		OrganizationID: org.ID,
		Email:          s.cfg.AdminEmail,
		Password:       s.cfg.AdminPassword,
		DisplayName:    s.cfg.AdminName,
		Role:           string(rbac.RoleAdmin),
	})
	if err != nil {
		return fmt.Errorf("provision admin: %w", err)
	}
	log.Printf("bootstrap: provisioned admin %s in organization %s", admin.ID, org.Slug)
	return nil
}

// Login is the development sign-in: a display name inside an organization,
// no password.
func (s *Service) Login(ctx context.Context, name, orgSlug string) (Session, error) {
	if !s.cfg.DevLogin {
		return Session{}, domainError(http.StatusForbidden, "DEV_LOGIN_DISABLED", "Development login is disabled", nil)
	}
	userName := strings.TrimSpace(name)
	if userName == "" {
		userName = "User"
	}
	slug := strings.TrimSpace(orgSlug)
	if slug == "" {
		slug = s.cfg.DefaultOrgSlug
	}

	org, err := s.store.GetOrganizationBySlug(ctx, slug)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, domainError(http.StatusNotFound, "ORGANIZATION_NOT_FOUND", "Organization not found", map[string]any{"organization": slug})
	}
	if err != nil {
		return Session{}, err
	}

	user, err := s.store.EnsureUserByName(ctx, org.ID, userName)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	user, err := s.passwords.SignIn(ctx, authpw.SignInRequest{Email: email, Password: password})
	if errors.Is(err, authpw.ErrDeactivated) {
		return Session{}, domainError(http.StatusForbidden, "ACCOUNT_DEACTIVATED", "Account is deactivated", nil)
	}
	if err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return Session{}, auth.ErrInvalidToken
	}
	tokenHash := auth.HashToken(refreshToken)
	owner, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}
	user, err := s.store.GetUserByID(ctx, owner.ID)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}
	if !user.Active() {
		return Session{}, auth.ErrInvalidToken
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	role := string(rbac.Normalize(user.Role))
	token, claims, err := s.tokens.Issue(auth.Identity{
		UserID:         user.ID,
		DisplayName:    user.DisplayName,
		OrganizationID: user.OrganizationID,
		Role:           role,
	})
	if err != nil {
		return Session{}, err
	}

	refresh, err := auth.NewRefreshToken()
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, time.Now().Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}
	s.cacheUser(user)

	return Session{
		Token:          token,
		RefreshToken:   refresh,
		UserID:         user.ID,
		UserName:       user.DisplayName,
		OrganizationID: user.OrganizationID,
		Role:           role,
		JTI:            claims.JTI,
		ExpiresAt:      claims.ExpiresAt(),
	}, nil
}

// SessionFromToken resolves a bearer token to its user. The user row is read
// through a short-lived cache because every heartbeat lands here.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.lookupUser(ctx, claims.Sub)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}
	if !user.Active() || user.OrganizationID != claims.Org {
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		Token:          token,
		UserID:         user.ID,
		UserName:       user.DisplayName,
		OrganizationID: user.OrganizationID,
		Role:           string(rbac.Normalize(user.Role)),
		JTI:            claims.JTI,
		ExpiresAt:      claims.ExpiresAt(),
	}, nil
}

func (s *Service) lookupUser(ctx context.Context, userID string) (store.User, error) {
	if s.users != nil {
		if cached, ok := s.users.Get(userID); ok {
			return cached.(store.User), nil
		}
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return store.User{}, err
	}
	s.cacheUser(user)
	return user, nil
}

func (s *Service) cacheUser(user store.User) {
	if s.users != nil && user.ID != "" {
		s.users.SetDefault(user.ID, user)
	}
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.sessions.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	if s.users != nil && session.UserID != "" {
		s.users.Delete(session.UserID)
	}
	return nil
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// AccessTTL is how long an issued access token lives; the sign-in cookie
// uses the same lifetime.
func (s *Service) AccessTTL() time.Duration {
	return s.cfg.AccessTTL
}

// Readiness pings every registered dependency and returns the failures by name.
func (s *Service) Readiness(ctx context.Context) map[string]error {
	failures := make(map[string]error)
	for _, check := range s.checks {
		if err := check.ping(ctx); err != nil {
			failures[check.name] = err
		}
	}
	return failures
}

// CheckNames lists the dependencies Readiness reports on, in registration order.
func (s *Service) CheckNames() []string {
	names := make([]string, 0, len(s.checks))
	for _, check := range s.checks {
		names = append(names, check.name)
	}
	return names
}
