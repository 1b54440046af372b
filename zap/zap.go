// SPDX-License-Identifier: ice License 1.0

package zap

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/nbd-wtf/go-nostr"

	"github.com/docmesh/docmesh/model"
)

type (
	// Lnurlp is the payment descriptor served from /.well-known/lnurlp/<name>.
	// Sendable amounts are millisats.
	Lnurlp struct {
		Callback       string `json:"callback"`
		MinSendable    int64  `json:"minSendable"`
		MaxSendable    int64  `json:"maxSendable"`
		Metadata       string `json:"metadata"`
		CommentAllowed int    `json:"commentAllowed"`
		Tag            string `json:"tag"`
		AllowsNostr    bool   `json:"allowsNostr"`
		NostrPubkey    string `json:"nostrPubkey"`
	}

	Invoice struct {
		PR string `json:"pr"`
	}

	AttemptState string

	// Attempt tracks one payment attempt. Completion is only ever observed
	// through an unrelated inbound receipt event, it cannot be awaited here.
	Attempt struct {
		Request *model.Event
		State   AttemptState
		Invoice string
	}

	Signer interface {
		Sign(kind model.Kind, tags model.Tags, content string, createdAt model.Timestamp) (*model.Event, error)
	}

	// Protocol builds signed zap requests and reconciles asynchronous
	// receipts into a bounded per-event running total.
	Protocol struct {
		signer     Signer
		httpClient *http.Client

		mx       sync.Mutex
		totals   map[string]int64
		order    []string
		capacity int

		// overridable in tests, https against the real well-known path otherwise
		wellKnownURL func(domain, name string) string
	}

	// ReceiptCredit is what a reconciled receipt yields: the sender and amount
	// come from the embedded signed request, never from the receipt itself.
	ReceiptCredit struct {
		TargetEventID string
		Sender        string
		Recipient     string
		AmountSats    int64
		RunningTotal  int64
	}
)

const (
	StateRequestBuilt     AttemptState = "request_built"
	StateInvoiceRequested AttemptState = "invoice_requested"
	StateInvoicePresented AttemptState = "invoice_presented"
	StateFailed           AttemptState = "failed"

	defaultCapacity = 1024
)

var ErrBadReceipt = errors.New("malformed zap receipt")

func New(signer Signer, capacity int) *Protocol {
	if capacity <= 0 {
		capacity = defaultCapacity
	}

	return &Protocol{
		signer:     signer,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		totals:     make(map[string]int64),
		capacity:   capacity,
		wellKnownURL: func(domain, name string) string {
			return "https://" + domain + "/.well-known/lnurlp/" + name
		},
	}
}

// NewRequest signs a kind 9734 request carrying recipient, target event,
// amount (millisats, per the zap convention) and relay hints.
func (p *Protocol) NewRequest(recipient, targetEventID string, amountSats int64, relays []string, comment string) (*Attempt, error) {
	if recipient == "" {
		return nil, errors.New("zap request needs a recipient")
	}
	if amountSats <= 0 {
		return nil, errors.Errorf("zap amount must be positive, got %v", amountSats)
	}

	tags := model.Tags{
		model.Tag{"p", recipient},
		model.Tag{model.TagAmount, strconv.FormatInt(amountSats*1000, 10)},
		append(model.Tag{model.TagRelays}, relays...),
	}
	if targetEventID != "" {
		tags = append(tags, model.Tag{"e", targetEventID})
	}
	request, err := p.signer.Sign(nostr.KindZapRequest, tags, comment, nostr.Now())
	if err != nil {
		return nil, errors.Wrap(err, "failed to sign zap request")
	}

	return &Attempt{Request: request, State: StateRequestBuilt}, nil
}

// ResolveLud16 looks a lightning address up against its well-known endpoint.
func (p *Protocol) ResolveLud16(ctx context.Context, address string) (*Lnurlp, error) {
	name, domain, ok := strings.Cut(address, "@")
	if !ok || name == "" || domain == "" {
		return nil, errors.Errorf("%q is not a lightning address", address)
	}

	var lp Lnurlp
	if err := p.getJSON(ctx, p.wellKnownURL(domain, name), &lp); err != nil {
		return nil, errors.Wrapf(err, "failed to resolve lud16 address %q", address)
	}
	if lp.Callback == "" {
		return nil, errors.Errorf("lud16 endpoint for %q returned no callback", address)
	}

	return &lp, nil
}

// RequestInvoice exchanges the signed request for a payment string.
func (p *Protocol) RequestInvoice(ctx context.Context, callback string, attempt *Attempt, amountSats int64) (string, error) {
	attempt.State = StateInvoiceRequested

	b, err := attempt.Request.MarshalJSON()
	if err != nil {
		attempt.State = StateFailed

		return "", errors.Wrap(err, "failed to serialize zap request")
	}
	u, err := url.Parse(callback)
	if err != nil {
		attempt.State = StateFailed

		return "", errors.Wrapf(err, "bad lnurl callback %q", callback)
	}
	params := u.Query()
	params.Set("amount", strconv.FormatInt(amountSats*1000, 10))
	params.Set("nostr", string(b))
	u.RawQuery = params.Encode()

	var invoice Invoice
	if err = p.getJSON(ctx, u.String(), &invoice); err != nil {
		attempt.State = StateFailed

		return "", errors.Wrap(err, "failed to request invoice")
	}
	if invoice.PR == "" {
		attempt.State = StateFailed

		return "", errors.New("lnurl callback returned no payment request")
	}
	attempt.State = StateInvoicePresented
	attempt.Invoice = invoice.PR

	return invoice.PR, nil
}

// AcceptReceipt reconciles a kind 9735 receipt. The receipt is produced by a
// third party, so its outer fields are not a security boundary: amount and
// sender are taken from the embedded original request, which the sender signed.
func (p *Protocol) AcceptReceipt(receipt *model.Event) (*ReceiptCredit, error) {
	if receipt.Kind != nostr.KindZap {
		return nil, errors.Wrapf(ErrBadReceipt, "kind %v is not a zap receipt", receipt.Kind)
	}
	descriptionTag := receipt.GetTag(model.TagDescription)
	if descriptionTag == nil || descriptionTag.Value() == "" {
		return nil, errors.Wrap(ErrBadReceipt, "receipt carries no embedded request")
	}

	var request model.Event
	if err := json.Unmarshal([]byte(descriptionTag.Value()), &request.Event); err != nil {
		return nil, errors.Wrap(ErrBadReceipt, "embedded request is not valid json")
	}
	if request.Kind != nostr.KindZapRequest {
		return nil, errors.Wrapf(ErrBadReceipt, "embedded event kind %v is not a zap request", request.Kind)
	}
	if ok, err := request.CheckSignature(); err != nil || !ok {
		return nil, errors.Wrap(ErrBadReceipt, "embedded request signature is invalid")
	}

	amountTag := request.GetTag(model.TagAmount)
	if amountTag == nil {
		return nil, errors.Wrap(ErrBadReceipt, "embedded request carries no amount")
	}
	millisats, err := strconv.ParseInt(amountTag.Value(), 10, 64)
	if err != nil || millisats <= 0 {
		return nil, errors.Wrapf(ErrBadReceipt, "bad amount %q", amountTag.Value())
	}
	recipientTag := request.GetTag("p")
	if recipientTag == nil || recipientTag.Value() == "" {
		return nil, errors.Wrap(ErrBadReceipt, "embedded request carries no recipient")
	}

	credit := &ReceiptCredit{
		Sender:     request.PubKey,
		Recipient:  recipientTag.Value(),
		AmountSats: millisats / 1000,
	}
	if eventTag := request.GetTag("e"); eventTag != nil {
		credit.TargetEventID = eventTag.Value()
	}
	if credit.TargetEventID != "" {
		credit.RunningTotal = p.addToTotal(credit.TargetEventID, credit.AmountSats)
	}

	return credit, nil
}

func (p *Protocol) addToTotal(eventID string, sats int64) int64 {
	p.mx.Lock()
	defer p.mx.Unlock()
	if _, found := p.totals[eventID]; !found {
		p.order = append(p.order, eventID)
		for len(p.order) > p.capacity {
			oldest := p.order[0]
			p.order = p.order[1:]
			delete(p.totals, oldest)
		}
	}
	p.totals[eventID] += sats

	return p.totals[eventID]
}

// TotalFor reports the running zap total observed for an event id.
func (p *Protocol) TotalFor(eventID string) int64 {
	p.mx.Lock()
	defer p.mx.Unlock()

	return p.totals[eventID]
}

func (p *Protocol) getJSON(ctx context.Context, requestURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, http.NoBody)
	if err != nil {
		return errors.Wrapf(err, "failed to build request for %v", requestURL)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "GET %v failed", requestURL)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

		return errors.Errorf("GET %v: unexpected status %v: %v", requestURL, resp.StatusCode, string(body))
	}

	return errors.Wrapf(json.NewDecoder(resp.Body).Decode(out), "failed to decode response of %v", requestURL)
}
