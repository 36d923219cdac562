// internal/auth/auth.go
package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dgrijalva/jwt-go"
	"golang.org/x/crypto/bcrypt"
)

// Config holds authentication configuration for the control API.
type Config struct {
	Enabled       bool     `mapstructure:"enabled"`
	JWTSecret     string   `mapstructure:"jwt_secret"`
	JWTExpiration int      `mapstructure:"jwt_expiration"` // in minutes
	APIKeys       []string `mapstructure:"api_keys"`
	AllowedUsers  []User   `mapstructure:"users"`
}

type User struct {
	Username     string `mapstructure:"username"`
	PasswordHash string `mapstructure:"password_hash"`
	Role         string `mapstructure:"role"`
}

const (
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

var (
	ErrUnknownUser     = errors.New("user not found")
	ErrInvalidPassword = errors.New("invalid password")
)

// AuthManager handles authentication and authorization
type AuthManager struct {
	config Config
	now    func() time.Time
}

// Claims represents JWT claims
type Claims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.StandardClaims
}

type ctxKey int

const claimsKey ctxKey = 0

// NewAuthManager creates a new authentication manager
func NewAuthManager(config Config) *AuthManager {
	return &AuthManager{config: config, now: time.Now}
}

// Enabled reports whether requests are checked at all.
func (am *AuthManager) Enabled() bool { return am.config.Enabled }

// GenerateJWT creates a new JWT token for a user
func (am *AuthManager) GenerateJWT(username, role string) (string, error) {
	now := am.now()
	claims := &Claims{
		Username: username,
		Role:     role,
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: now.Add(time.Duration(am.config.JWTExpiration) * time.Minute).Unix(),
			IssuedAt:  now.Unix(),
			Issuer:    "lostwheel-gateway",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(am.config.JWTSecret))
}

// ValidateJWT validates the JWT token
func (am *AuthManager) ValidateJWT(tokenString string) (*Claims, error) {
	if am.config.JWTSecret == "" {
		return nil, errors.New("jwt not configured")
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(am.config.JWTSecret), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// ValidateAPIKey checks if the provided API key is valid
func (am *AuthManager) ValidateAPIKey(apiKey string) bool {
	for _, validKey := range am.config.APIKeys {
		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(validKey)) == 1 {
			return true
		}
	}
	return false
}

// AuthenticateUser validates username and password and returns the user's role.
func (am *AuthManager) AuthenticateUser(username, password string) (string, error) {
	for _, user := range am.config.AllowedUsers {
		if user.Username != username {
			continue
		}
		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
			return "", ErrInvalidPassword
		}
		return user.Role, nil
	}
	return "", ErrUnknownUser
}

// HashPassword creates a bcrypt hash from a password
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

// ClaimsFrom returns the JWT claims stored by Middleware, if any.
func ClaimsFrom(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*Claims)
	return c, ok
}

// Middleware accepts either an X-API-Key header or a Bearer JWT. When auth
// is disabled every request passes.
func (am *AuthManager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !am.config.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
			if !am.ValidateAPIKey(apiKey) {
				http.Error(w, "Invalid API key", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header required", http.StatusUnauthorized)
			return
		}
		bearerToken := strings.Split(authHeader, " ")
		if len(bearerToken) != 2 || bearerToken[0] != "Bearer" {
			http.Error(w, "Invalid authorization format", http.StatusUnauthorized)
			return
		}
		claims, err := am.ValidateJWT(bearerToken[1])
		if err != nil {
			http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	})
}

// RequireOperator rejects JWT callers whose role is not operator. API key
// callers are trusted as operators.
func (am *AuthManager) RequireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if claims, ok := ClaimsFrom(r.Context()); ok && claims.Role != RoleOperator {
			http.Error(w, "Operator role required", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type tokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// HandleToken exchanges username/password for a JWT.
func (am *AuthManager) HandleToken(w http.ResponseWriter, r *http.Request) {
	if am.config.JWTSecret == "" {
		http.Error(w, "Token login not configured", http.StatusNotFound)
		return
	}
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	role, err := am.AuthenticateUser(req.Username, req.Password)
	if err != nil {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}
	token, err := am.GenerateJWT(req.Username, role)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"token": token, "role": role})
}
