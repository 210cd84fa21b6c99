package store

import (
	"context"
	"errors"
	"strings"

	"github.com/whonoahexe/sideby.me-sub001/internal/v1/kv"
	"github.com/whonoahexe/sideby.me-sub001/internal/v1/types"
)

// ErrNotBound is returned when a user has no live connection binding.
var ErrNotBound = errors.New("store: user not bound")

// Identity maps userId -> connId so signaling can target a peer's socket
// without broadcasting. Bindings expire after identityTTL unless refreshed by
// a rebind on reconnect.
type Identity struct {
	kv *kv.Store
}

// NewIdentity creates the identity repository.
func NewIdentity(kvs *kv.Store) *Identity {
	return &Identity{kv: kvs}
}

// Bind records userID's current connection, replacing any previous binding.
func (m *Identity) Bind(ctx context.Context, userID types.UserIDType, connID types.ConnIDType) error {
	return m.kv.Set(ctx, identityKey(userID), string(connID), identityTTL)
}

// Lookup resolves userID to its bound connection.
func (m *Identity) Lookup(ctx context.Context, userID types.UserIDType) (types.ConnIDType, error) {
	val, err := m.kv.Get(ctx, identityKey(userID))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return "", ErrNotBound
		}
		return "", err
	}
	return types.ConnIDType(val), nil
}

// Unbind drops userID's binding. Unbinding an unknown user is a no-op.
func (m *Identity) Unbind(ctx context.Context, userID types.UserIDType) error {
	return m.kv.Delete(ctx, identityKey(userID))
}

// Exists reports whether userID currently has a binding.
func (m *Identity) Exists(ctx context.Context, userID types.UserIDType) (bool, error) {
	return m.kv.Exists(ctx, identityKey(userID))
}

// Scan lists all bound user ids. Diagnostic use only.
func (m *Identity) Scan(ctx context.Context) ([]types.UserIDType, error) {
	keys, err := m.kv.ScanPrefix(ctx, identityKeyPrefix)
	if err != nil {
		return nil, err
	}
	users := make([]types.UserIDType, 0, len(keys))
	for _, k := range keys {
		users = append(users, types.UserIDType(strings.TrimPrefix(k, identityKeyPrefix)))
	}
	return users, nil
}
