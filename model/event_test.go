// SPDX-License-Identifier: ice License 1.0

package model

import (
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/require"
)

func TestEventSignVerify(t *testing.T) {
	t.Parallel()

	privateKey := nostr.GeneratePrivateKey()
	require.NotEmpty(t, privateKey)

	var ev Event
	ev.Kind = nostr.KindTextNote
	ev.CreatedAt = 1
	ev.Content = "hello"
	require.NoError(t, ev.Sign(privateKey))
	require.NotEmpty(t, ev.ID)
	require.NotEmpty(t, ev.Sig)

	t.Run("IDMatchesCanonicalSerialization", func(t *testing.T) {
		require.True(t, ev.CheckID())
	})
	t.Run("SignatureVerifies", func(t *testing.T) {
		ok, err := ev.CheckSignature()
		require.NoError(t, err)
		require.True(t, ok)
	})
	t.Run("TamperedContentFailsIDCheck", func(t *testing.T) {
		tampered := ev
		tampered.Content = "bye"
		require.False(t, tampered.CheckID())
		ok, err := tampered.CheckSignature()
		require.NoError(t, err)
		require.False(t, ok)
	})
}

func TestEventGetTag(t *testing.T) {
	t.Parallel()

	ev := Event{Event: nostr.Event{Tags: Tags{
		Tag{"e", "some-id"},
		Tag{"p", "some-pubkey"},
	}}}
	require.Equal(t, "some-id", ev.GetTag("e").Value())
	require.Nil(t, ev.GetTag("amount"))
}

func TestIsEphemeralKind(t *testing.T) {
	t.Parallel()

	require.True(t, IsEphemeralKind(KindPresenceHeartbeat))
	require.False(t, IsEphemeralKind(nostr.KindTextNote))
	require.False(t, IsEphemeralKind(KindMarketDocument))
}
