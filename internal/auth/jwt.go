// Package auth issues and verifies bearer credentials and hashes passwords.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/PaulBabatuyi/pairchat/internal/normalize"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrTokenExpired is returned for a well formed token past its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid is returned for any other verification failure.
	ErrTokenInvalid = errors.New("invalid token")
)

// JWTManager signs and validates JWT tokens used by the API.
type JWTManager struct {
	keys      map[string]string // kid -> HMAC secret
	activeKid string            // kid used to sign new tokens; "" for single key mode
	duration  time.Duration     // how long tokens are valid
}

// Claims is the custom JWT payload (user id + email).
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// Identity is the resolved caller behind a credential.
type Identity struct {
	UserID string
	Email  string
}

// NewJWTManager returns a JWTManager signing with a single secret.
func NewJWTManager(secretKey string, duration time.Duration) *JWTManager {
	return &JWTManager{
		keys:     map[string]string{"": secretKey},
		duration: duration,
	}
}

// NewJWTManagerFromKeys returns a JWTManager that signs with keys[activeKid]
// and verifies tokens signed by any key in keys, selected by the "kid" header.
// An empty or unknown activeKid falls back to an arbitrary key in the map.
func NewJWTManagerFromKeys(keys map[string]string, activeKid string, duration time.Duration) *JWTManager {
	m := &JWTManager{keys: make(map[string]string, len(keys)), duration: duration}
	for k, v := range keys {
		m.keys[k] = v
	}
	if _, ok := m.keys[activeKid]; ok {
		m.activeKid = activeKid
	} else {
		for k := range m.keys {
			m.activeKid = k
			break
		}
	}
	return m
}

// GenerateToken issues a signed JWT token for a user.
func (m *JWTManager) GenerateToken(userID, email string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(m.duration)

	claims := &Claims{
		UserID: userID,
		Email:  normalize.Email(email),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	if m.activeKid != "" {
		token.Header["kid"] = m.activeKid
	}

	tokenString, err := token.SignedString([]byte(m.keys[m.activeKid]))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return tokenString, expiresAt, nil
}

// VerifyToken parses and validates a token and returns its claims. The error
// wraps ErrTokenExpired or ErrTokenInvalid.
func (m *JWTManager) VerifyToken(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// only HMAC; rejects alg confusion with asymmetric keys
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		kid, _ := token.Header["kid"].(string)
		secret, ok := m.keys[kid]
		if !ok {
			return nil, fmt.Errorf("unknown key id %q", kid)
		}
		return []byte(secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid || claims.UserID == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// Resolve verifies a credential and returns the identity it names.
func (m *JWTManager) Resolve(tokenString string) (Identity, error) {
	claims, err := m.VerifyToken(tokenString)
	if err != nil {
		return Identity{}, err
	}
	return Identity{UserID: claims.UserID, Email: claims.Email}, nil
}

// HashPassword returns a bcrypt hash for the provided plaintext.
func HashPassword(password string) (string, error) {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashedPassword), nil
}

// CheckPassword compares a plaintext password against a bcrypt hash.
func CheckPassword(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}
