package auth

import "time"

// Roles carried by diagnostics tokens
const (
	RoleViewer   = "viewer"
	RoleOperator = "operator"
)

// OperatorClaims represents the JWT claims of an API caller
type OperatorClaims struct {
	Subject string `json:"sub_name"`
	Role    string `json:"role"`
}

// IssuedToken is returned when a token is minted
type IssuedToken struct {
	AccessToken string    `json:"access_token"`
	ExpiresIn   int64     `json:"expires_in"` // Access token expiry in seconds
	ExpiresAt   time.Time `json:"expires_at"`
	TokenType   string    `json:"token_type"` // Always "Bearer"
}

// Config holds authentication configuration
type Config struct {
	JWTSecret           string        `json:"jwt_secret"`
	Issuer              string        `json:"issuer"`
	AccessTokenDuration time.Duration `json:"access_token_duration"`
}

// DefaultConfig returns default authentication configuration
func DefaultConfig() Config {
	return Config{
		JWTSecret:           "", // Must be set
		Issuer:              "zone-position-engine",
		AccessTokenDuration: 24 * time.Hour,
	}
}

// Error types for authentication
type AuthError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e AuthError) Error() string {
	return e.Message
}

// Common authentication errors
var (
	ErrInvalidToken = AuthError{Code: "INVALID_TOKEN", Message: "invalid or expired token"}
	ErrTokenExpired = AuthError{Code: "TOKEN_EXPIRED", Message: "token has expired"}
	ErrUnauthorized = AuthError{Code: "UNAUTHORIZED", Message: "unauthorized access"}
	ErrForbidden    = AuthError{Code: "FORBIDDEN", Message: "access forbidden"}
	ErrMissingKey   = AuthError{Code: "MISSING_SIGNING_KEY", Message: "jwt signing key is not configured"}
)
