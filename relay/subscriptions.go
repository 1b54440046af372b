// SPDX-License-Identifier: ice License 1.0

package relay

import (
	"log"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/nbd-wtf/go-nostr"

	"github.com/docmesh/docmesh/model"
)

// Subscribe registers the filter and callback, requests it on every open
// connection and returns the subscription id. The filter is retained for the
// life of the subscription so it can be replayed to reconnecting relays.
func (p *Pool) Subscribe(filter model.Filter, callback Handler) string {
	sub := &subscription{ID: uuid.NewString(), Filter: filter, Callback: callback}

	p.mx.Lock()
	p.subs[sub.ID] = sub
	p.subOrder = append(p.subOrder, sub.ID)
	p.mx.Unlock()

	req := nostr.ReqEnvelope{SubscriptionID: sub.ID, Filters: model.Filters{filter}}
	var mErr *multierror.Error
	for _, ep := range p.openEndpoints() {
		mErr = multierror.Append(mErr, ep.write(&req))
	}
	if mErr.ErrorOrNil() != nil {
		log.Printf("WARN: subscription %v was not requested everywhere: %v", sub.ID, mErr)
	}

	return sub.ID
}

// Unsubscribe drops the filter from the replay table and sends a best-effort
// CLOSE to every open connection. There is no receipt: events that still
// arrive for the id are silently ignored because no callback remains.
func (p *Pool) Unsubscribe(subscriptionID string) {
	p.mx.Lock()
	if _, found := p.subs[subscriptionID]; !found {
		p.mx.Unlock()

		return
	}
	delete(p.subs, subscriptionID)
	for i, id := range p.subOrder {
		if id == subscriptionID {
			p.subOrder = append(p.subOrder[:i], p.subOrder[i+1:]...)
			break
		}
	}
	p.mx.Unlock()

	closeEnvelope := nostr.CloseEnvelope(subscriptionID)
	for _, ep := range p.openEndpoints() {
		if err := ep.write(&closeEnvelope); err != nil {
			log.Printf("WARN: failed to close subscription %v on %v: %v", subscriptionID, ep.url, err)
		}
	}
}

// dispatch routes one inbound event. The block list is a hard local filter
// applied before anything else: relays cannot be trusted to honor it. Kind
// routing follows, then filter-agnostic delivery to the registered callbacks,
// relay-side filtering is trusted for precision.
func (p *Pool) dispatch(subscriptionID string, event *model.Event) {
	if ok, err := event.CheckSignature(); err != nil || !ok {
		log.Printf("WARN: dropping event %v with bad id/signature: %v", event.ID, err)

		return
	}
	if p.hooks.IsBlocked != nil && p.hooks.IsBlocked(event.PubKey) {
		return
	}

	switch event.Kind {
	case nostr.KindEncryptedDirectMessage:
		if p.hooks.OnDirectMessage != nil {
			p.hooks.OnDirectMessage(event)
		}

		return
	case model.KindPresenceHeartbeat:
		if p.hooks.OnPresence != nil {
			p.hooks.OnPresence(event)
		}

		return
	case nostr.KindProfileMetadata:
		if p.hooks.OnProfileMetadata != nil {
			p.hooks.OnProfileMetadata(event)
		}
	}

	p.mx.Lock()
	_, live := p.subs[subscriptionID]
	subs := make([]*subscription, 0, len(p.subOrder))
	for _, id := range p.subOrder {
		subs = append(subs, p.subs[id])
	}
	p.mx.Unlock()
	if !live {
		// The relay did not honor a CLOSE yet, or raced one. Drop silently.
		return
	}

	for _, sub := range subs {
		sub.Callback(subscriptionID, event)
	}
}

// Subscriptions returns the ids of the currently live subscriptions.
func (p *Pool) Subscriptions() []string {
	p.mx.Lock()
	defer p.mx.Unlock()

	return append([]string(nil), p.subOrder...)
}
