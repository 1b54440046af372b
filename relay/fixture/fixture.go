// SPDX-License-Identifier: ice License 1.0

package fixture

import (
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/mailru/easyjson"
	"github.com/nbd-wtf/go-nostr"
	"github.com/tidwall/gjson"
)

type (
	ReceivedReq struct {
		SubscriptionID string
		Filter         nostr.Filter
	}

	// Relay is a minimal in-process relay for pool tests: it records every
	// REQ/CLOSE/EVENT it receives and can push EVENT frames to its clients.
	Relay struct {
		listener net.Listener

		mx     sync.Mutex
		conns  map[net.Conn]struct{}
		reqs   []ReceivedReq
		closes []string
		events []nostr.Event
		closed bool

		wg sync.WaitGroup
	}
)

func NewRelay() (*Relay, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, errors.Wrap(err, "failed to listen")
	}
	r := &Relay{listener: listener, conns: make(map[net.Conn]struct{})}
	r.wg.Add(1)
	go r.acceptLoop()

	return r, nil
}

func (r *Relay) URL() string {
	return "ws://" + r.listener.Addr().String()
}

func (r *Relay) acceptLoop() {
	defer r.wg.Done()
	for {
		conn, err := r.listener.Accept()
		if err != nil {
			return
		}
		if _, err = ws.Upgrade(conn); err != nil {
			_ = conn.Close()
			continue
		}
		r.mx.Lock()
		if r.closed {
			r.mx.Unlock()
			_ = conn.Close()

			return
		}
		r.conns[conn] = struct{}{}
		r.mx.Unlock()
		r.wg.Add(1)
		go r.readLoop(conn)
	}
}

func (r *Relay) readLoop(conn net.Conn) {
	defer r.wg.Done()
	defer func() {
		r.mx.Lock()
		delete(r.conns, conn)
		r.mx.Unlock()
		_ = conn.Close()
	}()
	for {
		msg, err := wsutil.ReadClientText(conn)
		if err != nil {
			return
		}
		r.record(msg)
	}
}

func (r *Relay) record(msg []byte) {
	arr := gjson.ParseBytes(msg).Array()
	if len(arr) < 2 {
		return
	}
	r.mx.Lock()
	defer r.mx.Unlock()
	switch arr[0].Str {
	case "REQ":
		if len(arr) < 3 {
			return
		}
		var filter nostr.Filter
		if err := easyjson.Unmarshal([]byte(arr[2].Raw), &filter); err != nil {
			return
		}
		r.reqs = append(r.reqs, ReceivedReq{SubscriptionID: arr[1].Str, Filter: filter})
	case "CLOSE":
		r.closes = append(r.closes, arr[1].Str)
	case "EVENT":
		var event nostr.Event
		if err := json.Unmarshal([]byte(arr[1].Raw), &event); err != nil {
			return
		}
		r.events = append(r.events, event)
	}
}

// Push sends an EVENT frame for the given subscription id to every client.
func (r *Relay) Push(subscriptionID string, event *nostr.Event) error {
	b, err := json.Marshal([]any{"EVENT", subscriptionID, event})
	if err != nil {
		return errors.Wrap(err, "failed to serialize EVENT frame")
	}
	r.mx.Lock()
	conns := make([]net.Conn, 0, len(r.conns))
	for conn := range r.conns {
		conns = append(conns, conn)
	}
	r.mx.Unlock()
	for _, conn := range conns {
		if wErr := wsutil.WriteServerText(conn, b); wErr != nil {
			return errors.Wrap(wErr, "failed to push EVENT frame")
		}
	}

	return nil
}

func (r *Relay) Reqs() []ReceivedReq {
	r.mx.Lock()
	defer r.mx.Unlock()

	return append([]ReceivedReq(nil), r.reqs...)
}

func (r *Relay) Closes() []string {
	r.mx.Lock()
	defer r.mx.Unlock()

	return append([]string(nil), r.closes...)
}

func (r *Relay) Events() []nostr.Event {
	r.mx.Lock()
	defer r.mx.Unlock()

	return append([]nostr.Event(nil), r.events...)
}

func (r *Relay) ResetReqs() {
	r.mx.Lock()
	r.reqs = nil
	r.mx.Unlock()
}

// WaitForReqs polls until at least n REQ frames were recorded.
func (r *Relay) WaitForReqs(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if len(r.Reqs()) >= n {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}

	return len(r.Reqs()) >= n
}

// WaitForConns polls until at least n clients are connected.
func (r *Relay) WaitForConns(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		r.mx.Lock()
		count := len(r.conns)
		r.mx.Unlock()
		if count >= n {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}

	return false
}

// DropClients closes every client connection without stopping the listener,
// forcing connected pools through their reconnect path.
func (r *Relay) DropClients() {
	r.mx.Lock()
	conns := make([]net.Conn, 0, len(r.conns))
	for conn := range r.conns {
		conns = append(conns, conn)
	}
	r.mx.Unlock()
	for _, conn := range conns {
		_ = conn.Close()
	}
}

func (r *Relay) Close() {
	r.mx.Lock()
	if r.closed {
		r.mx.Unlock()

		return
	}
	r.closed = true
	r.mx.Unlock()
	_ = r.listener.Close()
	r.DropClients()
	r.wg.Wait()
}
