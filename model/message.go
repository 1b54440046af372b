// SPDX-License-Identifier: ice License 1.0

package model

import (
	"bytes"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/nbd-wtf/go-nostr"
	"github.com/tidwall/gjson"
)

type EventEnvelope struct {
	SubscriptionID string
	Event          Event
}

func (*EventEnvelope) Label() string {
	return "EVENT"
}

func (v *EventEnvelope) UnmarshalJSON(data []byte) error {
	r := gjson.ParseBytes(data)
	arr := r.Array()
	if len(arr) < 3 {
		return errors.Wrap(ErrParseMessage, "EVENT envelope from a relay must carry a subscription id")
	}
	v.SubscriptionID = arr[1].Str
	if err := json.Unmarshal([]byte(arr[2].Raw), &v.Event.Event); err != nil {
		return errors.Wrap(err, "failed to decode event payload")
	}

	return nil
}

func (v *EventEnvelope) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{v.Label(), v.SubscriptionID, &v.Event.Event})
}

func (v *EventEnvelope) String() string {
	data, _ := v.MarshalJSON()

	return string(data)
}

// ParseRelayMessage decodes an inbound frame from a relay. EVENT frames are
// decoded into the local envelope so the subscription id is preserved,
// everything else passes through to the stock envelope parser.
func ParseRelayMessage(message []byte) (nostr.Envelope, error) {
	firstComma := bytes.IndexByte(message, ',')
	if firstComma == -1 {
		return nil, ErrUnknownMessage
	}

	if bytes.Contains(message[:firstComma], []byte(`"EVENT"`)) {
		var eventEnvelope EventEnvelope
		if err := eventEnvelope.UnmarshalJSON(message); err != nil {
			return nil, errors.Wrap(err, "unmarshal event envelope")
		}

		return &eventEnvelope, nil
	}

	if e := nostr.ParseMessage(message); e != nil {
		return e, nil
	}

	return nil, ErrParseMessage
}
