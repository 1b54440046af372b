// SPDX-License-Identifier: ice License 1.0

package zap

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/require"

	"github.com/docmesh/docmesh/identity"
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
		return "", identity.ErrSecretNotFound
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

func newTestSigner(t *testing.T) *identity.KeyManager {
	t.Helper()
	manager := identity.NewKeyManager(new(memorySecretStore))
	require.NoError(t, manager.Init(context.Background()))

	return manager
}

func TestNewRequest(t *testing.T) {
	t.Parallel()

	protocol := New(newTestSigner(t), 0)
	attempt, err := protocol.NewRequest("recipient-pubkey", "target-event", 500, []string{"wss://relay.one", "wss://relay.two"}, "great doc")
	require.NoError(t, err)
	require.Equal(t, StateRequestBuilt, attempt.State)
	require.Equal(t, nostr.KindZapRequest, attempt.Request.Kind)
	require.Equal(t, "great doc", attempt.Request.Content)
	require.Equal(t, "recipient-pubkey", attempt.Request.GetTag("p").Value())
	require.Equal(t, "target-event", attempt.Request.GetTag("e").Value())
	require.Equal(t, "500000", attempt.Request.GetTag(model.TagAmount).Value())
	relays := attempt.Request.GetTag(model.TagRelays)
	require.Len(t, []string(relays), 3)

	ok, err := attempt.Request.CheckSignature()
	require.NoError(t, err)
	require.True(t, ok)
}

func TestNewRequestRejectsBadInput(t *testing.T) {
	t.Parallel()

	protocol := New(newTestSigner(t), 0)
	_, err := protocol.NewRequest("", "target", 100, nil, "")
	require.Error(t, err)
	_, err = protocol.NewRequest("recipient", "target", 0, nil, "")
	require.Error(t, err)
}

func TestResolveLud16(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/.well-known/lnurlp/alice", r.URL.Path)
		json.NewEncoder(w).Encode(&Lnurlp{
			Callback:    "https://pay.example.com/cb",
			MinSendable: 1000,
			MaxSendable: 100_000_000,
			AllowsNostr: true,
			NostrPubkey: "abcdef",
		})
	}))
	defer server.Close()

	protocol := New(newTestSigner(t), 0)
	protocol.wellKnownURL = func(domain, name string) string {
		return server.URL + "/.well-known/lnurlp/" + name
	}

	lp, err := protocol.ResolveLud16(context.Background(), "alice@example.com")
	require.NoError(t, err)
	require.Equal(t, "https://pay.example.com/cb", lp.Callback)
	require.EqualValues(t, 1000, lp.MinSendable)
	require.True(t, lp.AllowsNostr)
}

func TestResolveLud16RejectsBadAddress(t *testing.T) {
	t.Parallel()

	protocol := New(newTestSigner(t), 0)
	for _, address := range []string{"", "no-at-sign", "@domain", "name@"} {
		_, err := protocol.ResolveLud16(context.Background(), address)
		require.Error(t, err, address)
	}
}

func TestRequestInvoice(t *testing.T) {
	t.Parallel()

	protocol := New(newTestSigner(t), 0)
	attempt, err := protocol.NewRequest("recipient", "target", 500, nil, "")
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, strconv.Itoa(500*1000), r.URL.Query().Get("amount"))
		var embedded nostr.Event
		require.NoError(t, json.Unmarshal([]byte(r.URL.Query().Get("nostr")), &embedded))
		require.Equal(t, nostr.KindZapRequest, embedded.Kind)
		json.NewEncoder(w).Encode(&Invoice{PR: "lnbc5u1payme"})
	}))
	defer server.Close()

	invoice, err := protocol.RequestInvoice(context.Background(), server.URL, attempt, 500)
	require.NoError(t, err)
	require.Equal(t, "lnbc5u1payme", invoice)
	require.Equal(t, StateInvoicePresented, attempt.State)
	require.Equal(t, invoice, attempt.Invoice)
}

func TestRequestInvoiceFailure(t *testing.T) {
	t.Parallel()

	protocol := New(newTestSigner(t), 0)
	attempt, err := protocol.NewRequest("recipient", "target", 500, nil, "")
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err = protocol.RequestInvoice(context.Background(), server.URL, attempt, 500)
	require.Error(t, err)
	require.Equal(t, StateFailed, attempt.State)
}

func buildReceipt(t *testing.T, request *model.Event) *model.Event {
	t.Helper()
	description, err := request.MarshalJSON()
	require.NoError(t, err)

	var receipt model.Event
	receipt.Kind = nostr.KindZap
	receipt.CreatedAt = nostr.Now()
	receipt.Tags = model.Tags{
		model.Tag{"p", request.GetTag("p").Value()},
		model.Tag{model.TagBolt11, "lnbc5u1payme"},
		model.Tag{model.TagDescription, string(description)},
	}
	// the receipt is produced by a third party (the payment service)
	require.NoError(t, receipt.Sign(nostr.GeneratePrivateKey()))

	return &receipt
}

func TestAcceptReceipt(t *testing.T) {
	t.Parallel()

	protocol := New(newTestSigner(t), 0)
	attempt, err := protocol.NewRequest("recipient-pubkey", "target-event", 500, nil, "")
	require.NoError(t, err)

	credit, err := protocol.AcceptReceipt(buildReceipt(t, attempt.Request))
	require.NoError(t, err)
	require.Equal(t, attempt.Request.PubKey, credit.Sender)
	require.Equal(t, "recipient-pubkey", credit.Recipient)
	require.Equal(t, "target-event", credit.TargetEventID)
	require.EqualValues(t, 500, credit.AmountSats)
	require.EqualValues(t, 500, credit.RunningTotal)
	require.EqualValues(t, 500, protocol.TotalFor("target-event"))

	// a second receipt accumulates
	credit, err = protocol.AcceptReceipt(buildReceipt(t, attempt.Request))
	require.NoError(t, err)
	require.EqualValues(t, 1000, credit.RunningTotal)
}

func TestAcceptReceiptRejectsForgedEmbeddedRequest(t *testing.T) {
	t.Parallel()

	protocol := New(newTestSigner(t), 0)
	attempt, err := protocol.NewRequest("recipient-pubkey", "target-event", 500, nil, "")
	require.NoError(t, err)

	forged := *attempt.Request
	forged.Content = "tampered after signing"
	receipt := buildReceipt(t, &forged)
	_, err = protocol.AcceptReceipt(receipt)
	require.ErrorIs(t, err, ErrBadReceipt)
}

func TestAcceptReceiptRejectsMalformed(t *testing.T) {
	t.Parallel()

	protocol := New(newTestSigner(t), 0)

	t.Run("WrongKind", func(t *testing.T) {
		var note model.Event
		note.Kind = nostr.KindTextNote
		require.NoError(t, note.Sign(nostr.GeneratePrivateKey()))
		_, err := protocol.AcceptReceipt(&note)
		require.ErrorIs(t, err, ErrBadReceipt)
	})
	t.Run("NoEmbeddedRequest", func(t *testing.T) {
		var receipt model.Event
		receipt.Kind = nostr.KindZap
		require.NoError(t, receipt.Sign(nostr.GeneratePrivateKey()))
		_, err := protocol.AcceptReceipt(&receipt)
		require.ErrorIs(t, err, ErrBadReceipt)
	})
}

func TestTotalsEvictionIsBounded(t *testing.T) {
	t.Parallel()

	protocol := New(newTestSigner(t), 2)
	protocol.addToTotal("a", 1)
	protocol.addToTotal("b", 2)
	protocol.addToTotal("c", 3)
	require.EqualValues(t, 0, protocol.TotalFor("a"))
	require.EqualValues(t, 2, protocol.TotalFor("b"))
	require.EqualValues(t, 3, protocol.TotalFor("c"))
}
