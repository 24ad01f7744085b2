package session

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// sidBytes is the entropy of a session identifier
const sidBytes = 32

// handleType tags session handles so other token kinds never validate here
const handleType = "session"

// handleClaims is the JWT claims structure for a session handle
type handleClaims struct {
	Type string `json:"type"`
	jwt.RegisteredClaims
}

// HandleCodec mints and decodes session handles. A handle is an HS256-signed
// wrapper around the rotating session identifier: the signature check rejects
// forged or mangled handles before any storage lookup. The identifier inside
// carries no expiry of its own; idle timeout and rotation are enforced
// against the stored session record.
type HandleCodec struct {
	secret []byte
	issuer string
}

// NewHandleCodec creates a new HandleCodec instance
func NewHandleCodec(secret, issuer string) *HandleCodec {
	return &HandleCodec{secret: []byte(secret), issuer: issuer}
}

// Mint wraps a session identifier in a signed handle
func (c *HandleCodec) Mint(sid string, issuedAt time.Time) (string, error) {
	claims := handleClaims{
		Type: handleType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   c.issuer,
			Subject:  sid,
			IssuedAt: jwt.NewNumericDate(issuedAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(c.secret)
}

// Decode verifies a handle's signature and returns the session identifier
func (c *HandleCodec) Decode(handle string) (string, error) {
	token, err := jwt.ParseWithClaims(handle, &handleClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return c.secret, nil
	})
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(*handleClaims)
	if !ok || !token.Valid {
		return "", errors.New("invalid handle")
	}
	if claims.Type != handleType || claims.Subject == "" {
		return "", errors.New("invalid handle type")
	}

	return claims.Subject, nil
}

// newSID generates a fresh unguessable session identifier
func newSID() (string, error) {
	buf := make([]byte, sidBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// hashSID is the storage form of an identifier; the raw identifier never
// touches the database
func hashSID(sid string) string {
	sum := sha256.Sum256([]byte(sid))
	return hex.EncodeToString(sum[:])
}
