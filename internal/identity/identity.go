// SPDX-License-Identifier: MIT

// Package identity verifies caller identities. Every request optionally
// carries a bearer token; a missing token yields an anonymous identity with a
// stable per-connection player ID. Federated identities come from verified
// JWTs; legacy tokens are short locally-signed JWTs kept for older clients.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/ManuGH/lowroll/internal/apperr"
)

// Kind distinguishes anonymous and federated identities.
type Kind string

const (
	KindAnonymous Kind = "anonymous"
	KindFederated Kind = "federated"
)

// Role is an admin role claim.
type Role string

const (
	RoleViewer   Role = "viewer"
	RoleOperator Role = "operator"
	RoleOwner    Role = "owner"
)

// ValidRole reports whether r is a known admin role.
func ValidRole(r Role) bool {
	return r == RoleViewer || r == RoleOperator || r == RoleOwner
}

// Identity is the resolved caller identity attached to request context.
type Identity struct {
	PlayerID    string
	Kind        Kind
	DisplayName string
	Subject     string // verified external subject, federated only
	Roles       []Role
}

// HasRole reports whether the identity carries at least the given role.
// Owner implies operator implies viewer.
func (id Identity) HasRole(want Role) bool {
	rank := func(r Role) int {
		switch r {
		case RoleOwner:
			return 3
		case RoleOperator:
			return 2
		case RoleViewer:
			return 1
		}
		return 0
	}
	need := rank(want)
	for _, r := range id.Roles {
		if rank(r) >= need {
			return true
		}
	}
	return false
}

// Config parameterizes the service.
type Config struct {
	Mode           string // strict|legacy|auto
	LegacySecret   []byte
	StrictSecret   []byte
	StrictIssuer   string
	StrictAudience string
	LegacyTokenTTL time.Duration
}

// Service verifies bearer tokens and mints legacy tokens.
type Service struct {
	cfg Config
}

// New constructs an identity service.
func New(cfg Config) *Service {
	if cfg.LegacyTokenTTL <= 0 {
		cfg.LegacyTokenTTL = 24 * time.Hour
	}
	return &Service{cfg: cfg}
}

// ExtractToken retrieves the bearer token from the request, trying the
// Authorization header first and the access_token query parameter as a
// fallback for the websocket upgrade (browsers cannot set headers there).
func ExtractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	if t := r.URL.Query().Get("access_token"); t != "" {
		return t
	}
	return ""
}

// Resolve authenticates the request. A missing token yields an anonymous
// identity; an invalid token is an authentication error rather than a silent
// downgrade.
func (s *Service) Resolve(r *http.Request) (Identity, error) {
	token := ExtractToken(r)
	if token == "" {
		return s.anonymous(r), nil
	}
	return s.Verify(token)
}

// Verify checks a bearer token according to the configured mode.
func (s *Service) Verify(token string) (Identity, error) {
	switch s.cfg.Mode {
	case "strict":
		return s.verifyStrict(token)
	case "legacy":
		return s.verifyLegacy(token)
	case "auto":
		if id, err := s.verifyStrict(token); err == nil {
			return id, nil
		}
		return s.verifyLegacy(token)
	default:
		return Identity{}, apperr.Ef(apperr.KindInternal, "unknown auth mode %q", s.cfg.Mode)
	}
}

type legacyClaims struct {
	DisplayName string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

func (s *Service) verifyLegacy(token string) (Identity, error) {
	if len(s.cfg.LegacySecret) == 0 {
		return Identity{}, apperr.E(apperr.KindUnauthenticated, "legacy tokens are not enabled")
	}
	var claims legacyClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, apperr.E(apperr.KindUnauthenticated, "unexpected signing method")
		}
		return s.cfg.LegacySecret, nil
	})
	if err != nil || !parsed.Valid || claims.Subject == "" {
		return Identity{}, apperr.Wrap(apperr.KindUnauthenticated, "invalid legacy token", err)
	}
	return Identity{
		PlayerID:    claims.Subject,
		Kind:        KindAnonymous,
		DisplayName: claims.DisplayName,
	}, nil
}

type strictClaims struct {
	DisplayName string   `json:"name,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

func (s *Service) verifyStrict(token string) (Identity, error) {
	if len(s.cfg.StrictSecret) == 0 {
		return Identity{}, apperr.E(apperr.KindUnauthenticated, "strict verification is not configured")
	}
	var claims strictClaims
	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if s.cfg.StrictIssuer != "" {
		opts = append(opts, jwt.WithIssuer(s.cfg.StrictIssuer))
	}
	if s.cfg.StrictAudience != "" {
		opts = append(opts, jwt.WithAudience(s.cfg.StrictAudience))
	}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, apperr.E(apperr.KindUnauthenticated, "unexpected signing method")
		}
		return s.cfg.StrictSecret, nil
	}, opts...)
	if err != nil || !parsed.Valid || claims.Subject == "" {
		return Identity{}, apperr.Wrap(apperr.KindUnauthenticated, "token verification failed", err)
	}
	id := Identity{
		PlayerID:    playerIDForSubject(claims.Subject),
		Kind:        KindFederated,
		DisplayName: claims.DisplayName,
		Subject:     claims.Subject,
	}
	for _, r := range claims.Roles {
		if role := Role(r); ValidRole(role) {
			id.Roles = append(id.Roles, role)
		}
	}
	return id, nil
}

// MintLegacyToken issues a locally-signed legacy token for the player. Used
// for anonymous session continuity and in tests.
func (s *Service) MintLegacyToken(playerID, displayName string) (string, error) {
	if len(s.cfg.LegacySecret) == 0 {
		return "", apperr.E(apperr.KindInternal, "legacy secret is not configured")
	}
	now := time.Now()
	claims := legacyClaims{
		DisplayName: displayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   playerID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.LegacyTokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.LegacySecret)
}

// anonymous builds a fresh anonymous identity. The player ID is stable for a
// client that replays the same anonymous hint, and random otherwise.
func (s *Service) anonymous(r *http.Request) Identity {
	if hint := r.Header.Get("X-Anonymous-ID"); hint != "" {
		sum := sha256.Sum256([]byte(hint))
		return Identity{
			PlayerID: "anon-" + hex.EncodeToString(sum[:8]),
			Kind:     KindAnonymous,
		}
	}
	return Identity{
		PlayerID: "anon-" + uuid.NewString()[:8],
		Kind:     KindAnonymous,
	}
}

// playerIDForSubject maps a verified external subject onto a stable player
// ID. Upgrading anonymous players keeps their original ID; that mapping is
// owned by the profile service, so this derivation only applies to subjects
// seen for the first time.
func playerIDForSubject(subject string) string {
	sum := sha256.Sum256([]byte("fed:" + subject))
	return "fed-" + hex.EncodeToString(sum[:8])
}
