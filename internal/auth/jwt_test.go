package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T, secret string, d time.Duration) *JWTManager {
	t.Helper()
	m, err := NewJWTManager(Config{JWTSecret: secret, AccessTokenDuration: d})
	require.NoError(t, err)
	return m
}

// ===== TEST: token issue and validation =====

func TestNewJWTManagerRequiresSecret(t *testing.T) {
	_, err := NewJWTManager(Config{})
	assert.Equal(t, ErrMissingKey, err)
}

func TestIssueAndValidate(t *testing.T) {
	m := newManager(t, "secret", time.Hour)

	tok, err := m.GenerateAccessToken(OperatorClaims{Subject: "ops-dashboard"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.Equal(t, int64(3600), tok.ExpiresIn)

	claims, err := m.ValidateAccessToken(tok.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "ops-dashboard", claims.Subject)
	assert.Equal(t, RoleViewer, claims.Role)

	_, err = m.GenerateAccessToken(OperatorClaims{})
	assert.Error(t, err)
}

func TestValidateRejects(t *testing.T) {
	m := newManager(t, "secret", time.Hour)
	other := newManager(t, "other-secret", time.Hour)
	foreign, err := other.GenerateAccessToken(OperatorClaims{Subject: "x"})
	require.NoError(t, err)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		OperatorClaims: OperatorClaims{Subject: "x", Role: RoleViewer},
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			Issuer:    DefaultConfig().Issuer,
			Audience:  []string{audience},
		},
	})
	expiredStr, err := expired.SignedString([]byte("secret"))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		want  AuthError
	}{
		{"garbage", "not-a-token", ErrInvalidToken},
		{"wrong key", foreign.AccessToken, ErrInvalidToken},
		{"expired", expiredStr, ErrTokenExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.ValidateAccessToken(tt.token)
			assert.Equal(t, tt.want, err)
		})
	}
}

// ===== TEST: middleware =====

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := newManager(t, "secret", time.Hour)
	viewer, err := m.GenerateAccessToken(OperatorClaims{Subject: "dash"})
	require.NoError(t, err)
	operator, err := m.GenerateAccessToken(OperatorClaims{Subject: "cli", Role: RoleOperator})
	require.NoError(t, err)

	r := gin.New()
	r.GET("/read", Middleware(m), func(c *gin.Context) { c.String(http.StatusOK, GetSubject(c)) })
	r.GET("/write", Middleware(m), RequireRole(RoleOperator), func(c *gin.Context) { c.String(http.StatusOK, GetRole(c)) })

	tests := []struct {
		name   string
		path   string
		header string
		status int
		body   string
	}{
		{"no header", "/read", "", http.StatusUnauthorized, ""},
		{"bad scheme", "/read", "Basic abc", http.StatusUnauthorized, ""},
		{"viewer reads", "/read", "Bearer " + viewer.AccessToken, http.StatusOK, "dash"},
		{"query token", "/read?token=" + viewer.AccessToken, "", http.StatusOK, "dash"},
		{"viewer cannot write", "/write", "Bearer " + viewer.AccessToken, http.StatusForbidden, ""},
		{"operator writes", "/write", "Bearer " + operator.AccessToken, http.StatusOK, RoleOperator},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, w.Body.String())
			}
		})
	}
}
