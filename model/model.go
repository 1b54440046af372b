// SPDX-License-Identifier: ice License 1.0

package model

import (
	"errors"

	"github.com/nbd-wtf/go-nostr"
)

type (
	TagMap    = nostr.TagMap
	Tag       = nostr.Tag
	Tags      = nostr.Tags
	Timestamp = nostr.Timestamp
	Kind      = int
	Filter    = nostr.Filter
	Filters   = nostr.Filters
)

var (
	ErrNotInitialized   = errors.New("identity not initialized")
	ErrValidationFailed = errors.New("document validation failed")
	ErrSafetyBlocked    = errors.New("document blocked by safety scan")
	ErrPrivacyDisabled  = errors.New("feature disabled by privacy policy")
	ErrDecryptFailed    = errors.New("decrypt failed")
	ErrRelayUnreachable = errors.New("relay unreachable")
	ErrUnknownMessage   = errors.New("unknown message")
	ErrParseMessage     = errors.New("parse message")
)

const (
	KindPresenceHeartbeat Kind = 20_199
	KindMarketDocument    Kind = 30_078
	KindStall             Kind = 30_017
	KindProduct           Kind = 30_018
)

const (
	TagDocumentName = "d"
	TagDocumentType = "doctype"
	TagVersion      = "version"
	TagAmount       = "amount"
	TagRelays       = "relays"
	TagDescription  = "description"
	TagBolt11       = "bolt11"
)

func IsEphemeralKind(kind Kind) bool {
	return 20_000 <= kind && kind < 30_000
}
