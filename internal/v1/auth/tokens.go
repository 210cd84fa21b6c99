// Package auth mints and verifies the host tokens that gate host privileges,
// and owns the WebSocket origin allow-list. There are no user accounts: the
// only credential in the system is the per-room host token handed to the
// creator on room-created.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/whonoahexe/sideby.me-sub001/internal/v1/types"
)

// Host tokens expire with the room record, so a token can never outlive the
// room it belongs to.
const hostTokenTTL = 24 * time.Hour

var (
	// ErrInvalidToken covers bad signatures, wrong algorithms, and expiry.
	ErrInvalidToken = errors.New("auth: invalid host token")
	// ErrWrongRoom is returned when a structurally valid token was minted for
	// a different room.
	ErrWrongRoom = errors.New("auth: token minted for another room")
)

// hostClaims is the server-side shape of a host token. Clients treat the
// token as opaque.
type hostClaims struct {
	RoomID   string `json:"rid"`
	HostName string `json:"hn"`
	jwt.RegisteredClaims
}

// HostTokens mints and verifies per-room host credentials as HS256 JWTs.
type HostTokens struct {
	secret []byte
}

// NewHostTokens creates the token service. The secret is validated for length
// at config time.
func NewHostTokens(secret string) *HostTokens {
	return &HostTokens{secret: []byte(secret)}
}

// Mint issues a fresh host token bound to roomID. The jti makes every mint
// unique even for the same room and name.
func (h *HostTokens) Mint(roomID types.RoomIDType, hostName types.DisplayNameType) (string, error) {
	now := time.Now()
	claims := hostClaims{
		RoomID:   string(roomID),
		HostName: string(hostName),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(hostTokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(h.secret)
	if err != nil {
		return "", fmt.Errorf("sign host token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and that the token was minted for roomID.
func (h *HostTokens) Verify(tokenStr string, roomID types.RoomIDType) error {
	var claims hostClaims
	_, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return h.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.RoomID != string(roomID) {
		return ErrWrongRoom
	}
	return nil
}
