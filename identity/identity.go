// SPDX-License-Identifier: ice License 1.0

package identity

import (
	"context"
	"encoding/hex"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/nbd-wtf/go-nostr"

	"github.com/docmesh/docmesh/model"
)

type (
	// SecretStore is the host boundary for the single signing secret. The
	// implementation is expected to keep the value out of logs and crash dumps.
	SecretStore interface {
		ReadSecret(ctx context.Context, name string) (string, error)
		WriteSecret(ctx context.Context, name, value string) error
	}

	KeyManager struct {
		store      SecretStore
		mx         sync.RWMutex
		privateKey string
		publicKey  string
	}
)

var ErrSecretNotFound = errors.New("secret not found")

const privateKeySecretName = "nostr_private_key"

func NewKeyManager(store SecretStore) *KeyManager {
	return &KeyManager{store: store}
}

// Init loads the persisted private key or generates and persists a fresh one.
// It is safe to call more than once, later calls are no-ops.
func (m *KeyManager) Init(ctx context.Context) error {
	m.mx.Lock()
	defer m.mx.Unlock()
	if m.privateKey != "" {
		return nil
	}

	privateKey, err := m.store.ReadSecret(ctx, privateKeySecretName)
	switch {
	case errors.Is(err, ErrSecretNotFound):
		privateKey = nostr.GeneratePrivateKey()
		if wErr := m.store.WriteSecret(ctx, privateKeySecretName, privateKey); wErr != nil {
			return errors.Wrap(wErr, "failed to persist generated private key")
		}
	case err != nil:
		return errors.Wrap(err, "failed to read private key from secret store")
	}

	privateKey = strings.TrimSpace(privateKey)
	if raw, dErr := hex.DecodeString(privateKey); dErr != nil || len(raw) != 32 {
		return errors.Errorf("secret %q is not a 32 byte hex encoded key", privateKeySecretName)
	}
	publicKey, err := nostr.GetPublicKey(privateKey)
	if err != nil {
		return errors.Wrap(err, "failed to derive public key")
	}
	m.privateKey, m.publicKey = privateKey, publicKey

	return nil
}

func (m *KeyManager) PublicKey() (string, error) {
	m.mx.RLock()
	defer m.mx.RUnlock()
	if m.publicKey == "" {
		return "", model.ErrNotInitialized
	}

	return m.publicKey, nil
}

// PrivateKeyHex exposes the raw key for the shared-secret DM path.
// Callers must never log the returned value.
func (m *KeyManager) PrivateKeyHex() (string, error) {
	m.mx.RLock()
	defer m.mx.RUnlock()
	if m.privateKey == "" {
		return "", model.ErrNotInitialized
	}

	return m.privateKey, nil
}

// Sign produces a fully formed event: pubkey and created_at filled in,
// content-addressed id computed, schnorr signature over the id.
func (m *KeyManager) Sign(kind model.Kind, tags model.Tags, content string, createdAt model.Timestamp) (*model.Event, error) {
	m.mx.RLock()
	privateKey, publicKey := m.privateKey, m.publicKey
	m.mx.RUnlock()
	if privateKey == "" {
		return nil, model.ErrNotInitialized
	}

	if tags == nil {
		tags = make(model.Tags, 0)
	}
	ev := &model.Event{Event: nostr.Event{
		PubKey:    publicKey,
		CreatedAt: createdAt,
		Kind:      kind,
		Tags:      tags,
		Content:   content,
	}}
	if err := ev.Sign(privateKey); err != nil {
		return nil, errors.Wrapf(err, "failed to sign kind %v event", kind)
	}

	return ev, nil
}
