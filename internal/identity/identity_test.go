// SPDX-License-Identifier: MIT

package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/lowroll/internal/apperr"
)

func testService(mode string) *Service {
	return New(Config{
		Mode:           mode,
		LegacySecret:   []byte("legacy-secret"),
		StrictSecret:   []byte("strict-secret"),
		StrictIssuer:   "https://id.example.com",
		StrictAudience: "lowroll",
	})
}

func strictToken(t *testing.T, sub string, roles []string, secret string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":   sub,
		"iss":   "https://id.example.com",
		"aud":   "lowroll",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"name":  "Test Player",
		"roles": roles,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func adminReq(token string) *http.Request {
	r := httptest.NewRequest("GET", "/api/admin/overview", nil)
	if token != "" {
		r.Header.Set(AdminHeader, token)
	}
	return r
}

func TestAnonymousWhenNoToken(t *testing.T) {
	svc := testService("auto")
	r := httptest.NewRequest("GET", "/api/identity", nil)

	id, err := svc.Resolve(r)
	require.NoError(t, err)
	assert.Equal(t, KindAnonymous, id.Kind)
	assert.NotEmpty(t, id.PlayerID)
}

func TestAnonymousHintIsStable(t *testing.T) {
	svc := testService("auto")

	r1 := httptest.NewRequest("GET", "/", nil)
	r1.Header.Set("X-Anonymous-ID", "device-123")
	r2 := httptest.NewRequest("GET", "/", nil)
	r2.Header.Set("X-Anonymous-ID", "device-123")

	id1, err := svc.Resolve(r1)
	require.NoError(t, err)
	id2, err := svc.Resolve(r2)
	require.NoError(t, err)
	assert.Equal(t, id1.PlayerID, id2.PlayerID)
}

func TestLegacyTokenRoundTrip(t *testing.T) {
	svc := testService("legacy")

	token, err := svc.MintLegacyToken("player-1", "Alice")
	require.NoError(t, err)

	id, err := svc.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "player-1", id.PlayerID)
	assert.Equal(t, "Alice", id.DisplayName)
	assert.Equal(t, KindAnonymous, id.Kind)
}

func TestStrictVerifiesIssuerAndAudience(t *testing.T) {
	svc := testService("strict")

	id, err := svc.Verify(strictToken(t, "ext-user-9", []string{"operator"}, "strict-secret"))
	require.NoError(t, err)
	assert.Equal(t, KindFederated, id.Kind)
	assert.Equal(t, "ext-user-9", id.Subject)
	assert.True(t, id.HasRole(RoleOperator))
	assert.True(t, id.HasRole(RoleViewer), "operator implies viewer")
	assert.False(t, id.HasRole(RoleOwner))
}

func TestStrictRejectsBadSignature(t *testing.T) {
	svc := testService("strict")
	_, err := svc.Verify(strictToken(t, "ext-user-9", nil, "wrong-secret"))
	assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(err))
}

func TestStrictRejectsLegacyToken(t *testing.T) {
	svc := testService("strict")
	legacy, err := svc.MintLegacyToken("player-1", "Alice")
	require.NoError(t, err)
	_, err = svc.Verify(legacy)
	assert.Error(t, err)
}

func TestAutoFallsBackToLegacy(t *testing.T) {
	svc := testService("auto")

	legacy, err := svc.MintLegacyToken("player-2", "Bob")
	require.NoError(t, err)
	id, err := svc.Verify(legacy)
	require.NoError(t, err)
	assert.Equal(t, "player-2", id.PlayerID)

	strict := strictToken(t, "ext-3", nil, "strict-secret")
	id, err = svc.Verify(strict)
	require.NoError(t, err)
	assert.Equal(t, KindFederated, id.Kind)
}

func TestAuthorizeAdminModes(t *testing.T) {
	operator := Identity{PlayerID: "p", Roles: []Role{RoleOperator}}
	nobody := Identity{PlayerID: "q"}

	t.Run("disabled rejects everyone", func(t *testing.T) {
		err := AuthorizeAdmin(AdminConfig{Mode: "disabled"}, adminReq("x"), operator, RoleViewer)
		assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	})

	t.Run("open allows everyone", func(t *testing.T) {
		assert.NoError(t, AuthorizeAdmin(AdminConfig{Mode: "open"}, adminReq(""), nobody, RoleOwner))
	})

	t.Run("token requires matching secret", func(t *testing.T) {
		cfg := AdminConfig{Mode: "token", Token: "hunter2"}
		assert.NoError(t, AuthorizeAdmin(cfg, adminReq("hunter2"), nobody, RoleOwner))
		assert.Error(t, AuthorizeAdmin(cfg, adminReq("wrong"), operator, RoleViewer))
		assert.Error(t, AuthorizeAdmin(AdminConfig{Mode: "token"}, adminReq(""), operator, RoleViewer))
	})

	t.Run("role checks the claim ladder", func(t *testing.T) {
		cfg := AdminConfig{Mode: "role"}
		assert.NoError(t, AuthorizeAdmin(cfg, adminReq(""), operator, RoleViewer))
		assert.Error(t, AuthorizeAdmin(cfg, adminReq(""), operator, RoleOwner))
		assert.Error(t, AuthorizeAdmin(cfg, adminReq(""), nobody, RoleViewer))
	})

	t.Run("hybrid accepts either", func(t *testing.T) {
		cfg := AdminConfig{Mode: "hybrid", Token: "hunter2"}
		assert.NoError(t, AuthorizeAdmin(cfg, adminReq("hunter2"), nobody, RoleOwner))
		assert.NoError(t, AuthorizeAdmin(cfg, adminReq(""), operator, RoleOperator))
		assert.Error(t, AuthorizeAdmin(cfg, adminReq(""), nobody, RoleViewer))
	})
}

func TestExtractToken(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Authorization", "Bearer abc123")
	assert.Equal(t, "abc123", ExtractToken(r))

	r = httptest.NewRequest("GET", "/stream?access_token=q456", nil)
	assert.Equal(t, "q456", ExtractToken(r))

	r = httptest.NewRequest("GET", "/", nil)
	assert.Empty(t, ExtractToken(r))
}
