// SPDX-License-Identifier: ice License 1.0

package identity

import (
	"context"
	"sync"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/require"

	"github.com/docmesh/docmesh/model"
)

type memorySecretStore struct {
	mx      sync.Mutex
	secrets map[string]string
}

func (s *memorySecretStore) ReadSecret(_ context.Context, name string) (string, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	value, found := s.secrets[name]
	if !found {
		return "", ErrSecretNotFound
	}

	return value, nil
}

func (s *memorySecretStore) WriteSecret(_ context.Context, name, value string) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.secrets == nil {
		s.secrets = make(map[string]string)
	}
	s.secrets[name] = value

	return nil
}

func TestKeyManagerGeneratesAndPersists(t *testing.T) {
	t.Parallel()

	store := new(memorySecretStore)
	manager := NewKeyManager(store)
	require.NoError(t, manager.Init(context.Background()))

	publicKey, err := manager.PublicKey()
	require.NoError(t, err)
	require.Len(t, publicKey, 64)

	second := NewKeyManager(store)
	require.NoError(t, second.Init(context.Background()))
	secondPublicKey, err := second.PublicKey()
	require.NoError(t, err)
	require.Equal(t, publicKey, secondPublicKey)
}

func TestKeyManagerNotInitialized(t *testing.T) {
	t.Parallel()

	manager := NewKeyManager(new(memorySecretStore))

	_, err := manager.PublicKey()
	require.ErrorIs(t, err, model.ErrNotInitialized)
	_, err = manager.Sign(nostr.KindTextNote, nil, "text", nostr.Now())
	require.ErrorIs(t, err, model.ErrNotInitialized)
}

func TestKeyManagerSign(t *testing.T) {
	t.Parallel()

	manager := NewKeyManager(new(memorySecretStore))
	require.NoError(t, manager.Init(context.Background()))
	publicKey, err := manager.PublicKey()
	require.NoError(t, err)

	event, err := manager.Sign(nostr.KindTextNote, model.Tags{model.Tag{"t", "greeting"}}, "hello", 123)
	require.NoError(t, err)
	require.Equal(t, publicKey, event.PubKey)
	require.Equal(t, model.Timestamp(123), event.CreatedAt)
	ok, err := event.CheckSignature()
	require.NoError(t, err)
	require.True(t, ok)
}

func TestKeyManagerRejectsCorruptSecret(t *testing.T) {
	t.Parallel()

	store := new(memorySecretStore)
	require.NoError(t, store.WriteSecret(context.Background(), privateKeySecretName, "not-hex"))
	require.Error(t, NewKeyManager(store).Init(context.Background()))
}

func TestFileSecretStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store := &FileSecretStore{Dir: t.TempDir()}
	_, err := store.ReadSecret(context.Background(), "missing")
	require.ErrorIs(t, err, ErrSecretNotFound)

	require.NoError(t, store.WriteSecret(context.Background(), "k", "v"))
	value, err := store.ReadSecret(context.Background(), "k")
	require.NoError(t, err)
	require.Equal(t, "v", value)
}
