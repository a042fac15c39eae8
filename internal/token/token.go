package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/crosspay/backend/internal/models"
)

// Verification failure modes. Both surface to clients as a uniform 401, but
// callers can tell them apart for logging.
var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("token invalid")
)

// Claims is the payload embedded in every session token.
type Claims struct {
	SubjectID   uuid.UUID            `json:"sub_id"`
	SubjectKind models.PrincipalKind `json:"sub_kind"`
	DisplayName string               `json:"name"`
	jwt.RegisteredClaims
}

// Issuer mints and verifies signed session tokens. The signing key is loaded
// once at startup and injected here rather than read from ambient config.
type Issuer struct {
	secretKey []byte
	ttl       time.Duration
}

func NewIssuer(secretKey string, ttl time.Duration) *Issuer {
	return &Issuer{
		secretKey: []byte(secretKey),
		ttl:       ttl,
	}
}

// Issue creates a signed token for the given principal, valid for the
// configured lifetime. Tokens are not revocable before expiry.
func (i *Issuer) Issue(p models.Principal) (string, error) {
	now := time.Now()
	claims := Claims{
		SubjectID:   p.PrincipalID(),
		SubjectKind: p.PrincipalKind(),
		DisplayName: p.DisplayName(),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(i.secretKey)
}

// Verify parses and validates a token string, returning its claims.
// Expired tokens yield ErrTokenExpired; everything else (bad signature,
// malformed payload, wrong algorithm) yields ErrTokenInvalid.
func (i *Issuer) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	t, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrTokenInvalid
		}
		return i.secretKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	if !t.Valid || claims.SubjectID == uuid.Nil {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
