// SPDX-License-Identifier: ice License 1.0

package model

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/cockroachdb/errors"
	"github.com/nbd-wtf/go-nostr"
)

type Event struct {
	nostr.Event
}

func (e *Event) Sign(privateKeyHex string) error {
	if e.Tags == nil {
		e.Tags = make(Tags, 0)
	}

	return errors.Wrap(e.Event.Sign(privateKeyHex), "failed to sign event")
}

// CheckID recomputes the content-addressed id from the canonical
// serialization and compares it with the one the event carries.
func (e *Event) CheckID() bool {
	hash := sha256.Sum256(e.Serialize())

	return hex.EncodeToString(hash[:]) == e.ID
}

func (e *Event) CheckSignature() (bool, error) {
	if !e.CheckID() {
		return false, nil
	}
	ok, err := e.Event.CheckSignature()

	return ok, errors.Wrap(err, "failed to check schnorr signature")
}

func (e *Event) GetTag(tagName string) Tag {
	for _, tag := range e.Tags {
		if tag.Key() == tagName {
			return tag
		}
	}

	return nil
}

func (e *Event) IsEphemeral() bool {
	return IsEphemeralKind(e.Kind)
}
