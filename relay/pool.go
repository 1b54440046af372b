// SPDX-License-Identifier: ice License 1.0

package relay

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-multierror"
	"github.com/nbd-wtf/go-nostr"

	"github.com/docmesh/docmesh/model"
)

// Pool owns exactly one connection per configured relay endpoint. Each
// endpoint runs an independent reconnect state machine; a relay that comes
// back is immediately re-sent the full current subscription set.
type Pool struct {
	cfg   *Config
	hooks Hooks

	mx        sync.Mutex
	endpoints map[string]*endpoint
	subs      map[string]*subscription
	subOrder  []string

	wg     sync.WaitGroup
	cancel context.CancelFunc
	closed bool
}

func New(cfg *Config, hooks Hooks) *Pool {
	return &Pool{
		cfg:       cfg.withDefaults(),
		hooks:     hooks,
		endpoints: make(map[string]*endpoint),
		subs:      make(map[string]*subscription),
	}
}

// Connect starts one managing goroutine per configured endpoint and returns
// immediately. Connection failures are retried internally with a fixed delay
// until the per-endpoint retry budget is exhausted.
func (p *Pool) Connect(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	p.mx.Lock()
	p.cancel = cancel
	for _, url := range p.cfg.Relays {
		if _, found := p.endpoints[url]; found {
			continue
		}
		ep := &endpoint{url: url, state: StateDisconnected}
		p.endpoints[url] = ep
		p.wg.Add(1)
		go p.manage(ctx, ep)
	}
	p.mx.Unlock()
}

func (p *Pool) manage(ctx context.Context, ep *endpoint) {
	defer p.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		ep.setState(StateConnecting)
		conn, err := dial(ctx, ep.url, p.cfg.DialTimeout)
		if err != nil {
			if !p.scheduleRetry(ctx, ep, err) {
				return
			}
			continue
		}

		ep.mx.Lock()
		// Close may have run between the dial and here, with no conn to
		// tear down yet. Publishing one now would leave the read loop
		// blocked with nobody left to close it.
		if ctx.Err() != nil || ep.state == StateClosing {
			ep.mx.Unlock()
			_ = conn.close()

			return
		}
		ep.conn = conn
		ep.state = StateOpen
		ep.retries = 0
		ep.mx.Unlock()
		p.replaySubscriptions(ep)

		err = p.readLoop(ctx, ep, conn)
		ep.mx.Lock()
		ep.conn = nil
		ep.state = StateDisconnected
		ep.mx.Unlock()
		_ = conn.close()
		if ctx.Err() != nil {
			return
		}
		if !p.scheduleRetry(ctx, ep, err) {
			return
		}
	}
}

// scheduleRetry counts the failure and sleeps the fixed reconnect delay.
// It reports false once the endpoint is permanently abandoned for this session.
func (p *Pool) scheduleRetry(ctx context.Context, ep *endpoint, cause error) bool {
	ep.mx.Lock()
	ep.state = StateDisconnected
	ep.retries++
	retries := ep.retries
	if retries > p.cfg.MaxRetries {
		ep.abandoned = true
	}
	abandoned := ep.abandoned
	ep.mx.Unlock()

	if abandoned {
		log.Printf("ERROR: relay %v abandoned after %v attempts: %v", ep.url, retries, errors.Wrap(cause, model.ErrRelayUnreachable.Error()))

		return false
	}
	log.Printf("WARN: relay %v disconnected (attempt %v/%v), reconnecting in %v: %v", ep.url, retries, p.cfg.MaxRetries, p.cfg.ReconnectDelay, cause)

	select {
	case <-ctx.Done():
		return false
	case <-time.After(p.cfg.ReconnectDelay):
		return true
	}
}

// replaySubscriptions pushes every currently registered filter to a freshly
// opened connection. The registry is the single source of truth for what
// should be active, a reconnected relay must never see a stale or partial set.
func (p *Pool) replaySubscriptions(ep *endpoint) {
	p.mx.Lock()
	subs := make([]*subscription, 0, len(p.subOrder))
	for _, id := range p.subOrder {
		subs = append(subs, p.subs[id])
	}
	p.mx.Unlock()

	for _, sub := range subs {
		req := nostr.ReqEnvelope{SubscriptionID: sub.ID, Filters: model.Filters{sub.Filter}}
		if err := ep.write(&req); err != nil {
			log.Printf("WARN: failed to replay subscription %v on %v: %v", sub.ID, ep.url, err)
		}
	}
}

func (p *Pool) readLoop(ctx context.Context, ep *endpoint, conn *connection) error {
	for {
		msg, err := conn.readMessage()
		if err != nil {
			return err
		}
		if len(msg) == 0 {
			continue
		}
		envelope, err := model.ParseRelayMessage(msg)
		if err != nil {
			log.Printf("WARN: relay %v sent an unparseable frame: %v", ep.url, err)
			continue
		}
		switch e := envelope.(type) {
		case *model.EventEnvelope:
			p.dispatch(e.SubscriptionID, &e.Event)
		case *nostr.NoticeEnvelope:
			log.Printf("WARN: notice from %v: %v", ep.url, string(*e))
		case *nostr.ClosedEnvelope:
			log.Printf("WARN: relay %v closed subscription %v: %v", ep.url, e.SubscriptionID, e.Reason)
		case *nostr.EOSEEnvelope, *nostr.OKEnvelope, *nostr.AuthEnvelope:
			// Nothing to do for this client.
		default:
			log.Printf("WARN: relay %v sent unexpected %v message", ep.url, envelope.Label())
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// Broadcast sends the event to every currently open connection, best effort.
// Zero open connections is not an error: the protocol has no publish ack and
// the caller is never blocked waiting for one.
func (p *Pool) Broadcast(_ context.Context, event *model.Event) error {
	envelope := nostr.EventEnvelope{Event: event.Event}
	b, err := envelope.MarshalJSON()
	if err != nil {
		return errors.Wrap(err, "failed to serialize event for broadcast")
	}

	var mErr *multierror.Error
	for _, ep := range p.openEndpoints() {
		if wErr := ep.writeRaw(b); wErr != nil {
			mErr = multierror.Append(mErr, errors.Wrapf(wErr, "broadcast to %v", ep.url))
		}
	}
	if mErr.ErrorOrNil() != nil {
		log.Printf("WARN: broadcast was partial: %v", mErr)
	}

	return nil
}

func (p *Pool) openEndpoints() []*endpoint {
	p.mx.Lock()
	defer p.mx.Unlock()
	res := make([]*endpoint, 0, len(p.endpoints))
	for _, ep := range p.endpoints {
		if ep.currentState() == StateOpen {
			res = append(res, ep)
		}
	}

	return res
}

// State reports the connection state of a configured endpoint.
func (p *Pool) State(url string) ConnectionState {
	p.mx.Lock()
	ep, found := p.endpoints[url]
	p.mx.Unlock()
	if !found {
		return StateDisconnected
	}

	return ep.currentState()
}

// Abandoned lists endpoints that exhausted their retry budget this session.
func (p *Pool) Abandoned() []string {
	p.mx.Lock()
	defer p.mx.Unlock()
	var res []string
	for url, ep := range p.endpoints {
		ep.mx.Lock()
		if ep.abandoned {
			res = append(res, url)
		}
		ep.mx.Unlock()
	}

	return res
}

func (p *Pool) Close() {
	p.mx.Lock()
	if p.closed {
		p.mx.Unlock()

		return
	}
	p.closed = true
	cancel := p.cancel
	eps := make([]*endpoint, 0, len(p.endpoints))
	for _, ep := range p.endpoints {
		eps = append(eps, ep)
	}
	p.mx.Unlock()

	// Cancel before tearing connections down, so no endpoint schedules
	// another dial between losing its connection and observing shutdown.
	if cancel != nil {
		cancel()
	}
	for _, ep := range eps {
		ep.mx.Lock()
		ep.state = StateClosing
		if ep.conn != nil {
			_ = ep.conn.close()
		}
		ep.mx.Unlock()
	}
	p.wg.Wait()
}

func (ep *endpoint) setState(state ConnectionState) {
	ep.mx.Lock()
	ep.state = state
	ep.mx.Unlock()
}

func (ep *endpoint) currentState() ConnectionState {
	ep.mx.Lock()
	defer ep.mx.Unlock()

	return ep.state
}

func (ep *endpoint) write(envelope nostr.Envelope) error {
	ep.mx.Lock()
	conn := ep.conn
	ep.mx.Unlock()
	if conn == nil {
		return errors.Wrapf(model.ErrRelayUnreachable, "%v is not open", ep.url)
	}

	return conn.writeEnvelope(envelope)
}

func (ep *endpoint) writeRaw(b []byte) error {
	ep.mx.Lock()
	conn := ep.conn
	ep.mx.Unlock()
	if conn == nil {
		return errors.Wrapf(model.ErrRelayUnreachable, "%v is not open", ep.url)
	}

	return conn.writeRaw(b)
}
