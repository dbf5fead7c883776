package service

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/mirelle-dev/authgate-api/internal/models"
)

var (
	// ErrMissingSigningKey is a startup-time failure; the codec refuses to
	// exist without a key rather than failing per request.
	ErrMissingSigningKey = errors.New("access token signing key is empty")

	// ErrTokenExpired and ErrTokenMalformed are the only two verification
	// outcomes. Both surface as 401 externally.
	ErrTokenExpired   = errors.New("access token expired")
	ErrTokenMalformed = errors.New("access token malformed")
)

// refreshSecretBytes gives 256 bits of entropy; the secret's unforgeability
// relies purely on randomness, it is never decoded or signed.
const refreshSecretBytes = 32

// TokenCodecConfig configures access-token signing and lifetime.
type TokenCodecConfig struct {
	Secret    string
	AccessTTL time.Duration
	Issuer    string
	Audience  []string
}

// TokenCodec mints and verifies signed access tokens and generates the
// opaque identifiers and secrets backing refresh sessions.
type TokenCodec struct {
	secret    []byte
	accessTTL time.Duration
	issuer    string
	audience  []string
}

// NewTokenCodec constructs a TokenCodec, failing fast on a missing key.
func NewTokenCodec(cfg TokenCodecConfig) (*TokenCodec, error) {
	if cfg.Secret == "" {
		return nil, ErrMissingSigningKey
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 15 * time.Minute
	}
	return &TokenCodec{
		secret:    []byte(cfg.Secret),
		accessTTL: cfg.AccessTTL,
		issuer:    cfg.Issuer,
		audience:  cfg.Audience,
	}, nil
}

// AccessTTL returns the configured access-token lifetime.
func (c *TokenCodec) AccessTTL() time.Duration {
	return c.accessTTL
}

// IssueAccessToken mints a signed HS256 token for the user. The jti claim is
// unique per token so individual tokens can be denylisted on logout.
func (c *TokenCodec) IssueAccessToken(user *models.User) (string, time.Time, error) {
	issuedAt := time.Now().UTC()
	expiresAt := issuedAt.Add(c.accessTTL)
	claims := &models.AccessClaims{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    c.issuer,
			Subject:   user.ID,
			Audience:  c.audience,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

// VerifyAccessToken parses and validates an access token. Expiry and
// malformation stay distinguishable for callers; there are no other states.
func (c *TokenCodec) VerifyAccessToken(tokenString string) (*models.AccessClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return c.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenMalformed
	}

	claims, ok := token.Claims.(*models.AccessClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenMalformed
	}
	return claims, nil
}

// GenerateRefreshSecret produces the opaque high-entropy refresh secret.
func (c *TokenCodec) GenerateRefreshSecret() (string, error) {
	buf := make([]byte, refreshSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate refresh secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// GenerateSessionID produces a session identifier independent of the refresh
// secret, so leaking one never compromises the other.
func (c *TokenCodec) GenerateSessionID() string {
	return uuid.NewString()
}
