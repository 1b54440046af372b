// SPDX-License-Identifier: ice License 1.0

package relay

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/nbd-wtf/go-nostr"
)

// connection wraps a single client-side websocket. Reads happen from exactly
// one goroutine (the endpoint's read loop), writes can come from any caller
// and are serialized by the write mutex.
type connection struct {
	conn    net.Conn
	writeMx sync.Mutex
}

func dial(ctx context.Context, url string, timeout time.Duration) (*connection, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	conn, _, _, err := ws.DefaultDialer.Dial(ctx, url)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial relay %v", url)
	}

	return &connection{conn: conn}, nil
}

func (c *connection) writeEnvelope(envelope nostr.Envelope) error {
	b, err := envelope.MarshalJSON()
	if err != nil {
		return errors.Wrapf(err, "failed to serialize %v envelope", envelope.Label())
	}

	return c.writeRaw(b)
}

func (c *connection) writeRaw(b []byte) error {
	c.writeMx.Lock()
	defer c.writeMx.Unlock()

	return errors.Wrap(wsutil.WriteClientText(c.conn, b), "failed to write frame")
}

func (c *connection) readMessage() ([]byte, error) {
	msg, err := wsutil.ReadServerText(c.conn)

	return msg, errors.Wrap(err, "failed to read frame")
}

func (c *connection) close() error {
	return errors.Wrap(c.conn.Close(), "failed to close connection")
}
