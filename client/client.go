// SPDX-License-Identifier: ice License 1.0

package client

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip04"

	"github.com/docmesh/docmesh/document"
	"github.com/docmesh/docmesh/identity"
	"github.com/docmesh/docmesh/model"
	"github.com/docmesh/docmesh/privacy"
	"github.com/docmesh/docmesh/relay"
	"github.com/docmesh/docmesh/reputation"
	"github.com/docmesh/docmesh/safety"
	"github.com/docmesh/docmesh/zap"
)

type (
	Config struct {
		Relay                 relay.Config `yaml:"relay" mapstructure:"relay"`
		ChatEnabled           bool         `yaml:"chatEnabled" mapstructure:"chatEnabled"`
		DirectMessagesEnabled bool         `yaml:"directMessagesEnabled" mapstructure:"directMessagesEnabled"`
		RedactionDisabled     bool         `yaml:"redactionDisabled" mapstructure:"redactionDisabled"`
		ReputationDBPath      string       `yaml:"reputationDBPath" mapstructure:"reputationDBPath"`
		ReputationCapacity    int          `yaml:"reputationCapacity" mapstructure:"reputationCapacity"`
		ProfileCacheCapacity  int          `yaml:"profileCacheCapacity" mapstructure:"profileCacheCapacity"`
		PresenceCapacity      int          `yaml:"presenceCapacity" mapstructure:"presenceCapacity"`
		BlockListCapacity     int          `yaml:"blockListCapacity" mapstructure:"blockListCapacity"`
		ZapTotalsCapacity     int          `yaml:"zapTotalsCapacity" mapstructure:"zapTotalsCapacity"`
		ScanMemoCapacity      int          `yaml:"scanMemoCapacity" mapstructure:"scanMemoCapacity"`
	}

	DirectMessageHandler func(fromPubKey, text string)

	// Client is the caller-facing surface. It owns every mutable cache as a
	// field, nothing lives at package level, so independent instances can
	// coexist in one process.
	Client struct {
		cfg       *Config
		keys      *identity.KeyManager
		pool      *relay.Pool
		redactor  *privacy.Engine
		scanner   *safety.Scanner
		validator *document.Validator
		ledger    *reputation.Ledger
		zaps      *zap.Protocol

		profiles *boundedMap[string, model.ProfileMetadataContent]
		presence *boundedMap[string, model.Timestamp]
		blocked  *boundedMap[string, struct{}]
		scans    *boundedMap[string, safety.ScanResult]

		dmMx      sync.RWMutex
		dmHandler DirectMessageHandler

		presenceBonusMx      sync.Mutex
		lastPresenceBonusDay string

		receiptSubID string
	}
)

func New(cfg *Config, store identity.SecretStore) (*Client, error) {
	ledger, err := reputation.New(cfg.ReputationDBPath, cfg.ReputationCapacity)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open reputation ledger")
	}

	c := &Client{
		cfg:       cfg,
		keys:      identity.NewKeyManager(store),
		redactor:  privacy.NewEngine(),
		scanner:   safety.NewScanner(),
		validator: document.NewValidator(),
		ledger:    ledger,
		profiles:  newBoundedMap[string, model.ProfileMetadataContent](cfg.ProfileCacheCapacity),
		presence:  newBoundedMap[string, model.Timestamp](cfg.PresenceCapacity),
		blocked:   newBoundedMap[string, struct{}](cfg.BlockListCapacity),
		scans:     newBoundedMap[string, safety.ScanResult](cfg.ScanMemoCapacity),
	}
	c.zaps = zap.New(c.keys, cfg.ZapTotalsCapacity)
	c.pool = relay.New(&cfg.Relay, relay.Hooks{
		IsBlocked:         c.blocked.Has,
		OnDirectMessage:   c.acceptDirectMessage,
		OnPresence:        c.acceptPresence,
		OnProfileMetadata: c.acceptProfileMetadata,
	})

	return c, nil
}

// Init loads or generates the signing identity. Nothing can be signed or
// published before it completes.
func (c *Client) Init(ctx context.Context) error {
	return errors.Wrap(c.keys.Init(ctx), "failed to initialize identity")
}

// Connect brings the relay pool up and registers the zap receipt listener.
func (c *Client) Connect(ctx context.Context) error {
	publicKey, err := c.keys.PublicKey()
	if err != nil {
		return err
	}
	c.pool.Connect(ctx)
	c.receiptSubID = c.pool.Subscribe(model.Filter{
		Kinds: []int{nostr.KindZap},
		Tags:  model.TagMap{"p": []string{publicKey}},
	}, func(_ string, event *model.Event) {
		if _, aErr := c.AcceptZapReceipt(context.Background(), event); aErr != nil {
			log.Printf("WARN: ignoring zap receipt %v: %v", event.ID, aErr)
		}
	})

	return nil
}

func (c *Client) Close() error {
	if c.receiptSubID != "" {
		c.pool.Unsubscribe(c.receiptSubID)
	}
	c.pool.Close()

	return errors.Wrap(c.ledger.Close(), "failed to close ledger")
}

func (c *Client) PublicKey() (string, error) {
	return c.keys.PublicKey()
}

// redactText is the mandatory outbound scrub, unless the host disabled it.
func (c *Client) redactText(text string) string {
	if c.cfg.RedactionDisabled {
		return text
	}

	return c.redactor.Redact(text).Redacted
}

func (c *Client) signAndBroadcast(ctx context.Context, kind model.Kind, tags model.Tags, content string) (*model.Event, error) {
	event, err := c.keys.Sign(kind, tags, content, nostr.Now())
	if err != nil {
		return nil, err
	}
	if err = c.pool.Broadcast(ctx, event); err != nil {
		return nil, errors.Wrap(err, "failed to broadcast event")
	}

	return event, nil
}

func (c *Client) PublishChat(ctx context.Context, text string) (*model.Event, error) {
	if !c.cfg.ChatEnabled {
		return nil, errors.Wrap(model.ErrPrivacyDisabled, "chat is disabled")
	}

	return c.signAndBroadcast(ctx, nostr.KindTextNote, nil, c.redactText(text))
}

func (c *Client) SendDirectMessage(ctx context.Context, peerPubKey, text string) (*model.Event, error) {
	if !c.cfg.DirectMessagesEnabled {
		return nil, errors.Wrap(model.ErrPrivacyDisabled, "direct messages are disabled")
	}
	privateKey, err := c.keys.PrivateKeyHex()
	if err != nil {
		return nil, err
	}
	sharedSecret, err := nip04.ComputeSharedSecret(peerPubKey, privateKey)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to compute shared secret with %v", peerPubKey)
	}
	ciphertext, err := nip04.Encrypt(c.redactText(text), sharedSecret)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encrypt direct message")
	}

	return c.signAndBroadcast(ctx, nostr.KindEncryptedDirectMessage, model.Tags{model.Tag{"p", peerPubKey}}, ciphertext)
}

func (c *Client) DeleteEvent(ctx context.Context, eventID string) (*model.Event, error) {
	return c.signAndBroadcast(ctx, nostr.KindDeletion, model.Tags{model.Tag{"e", eventID}}, "")
}

func (c *Client) ReactToEvent(ctx context.Context, eventID, authorPubKey, symbol string) (*model.Event, error) {
	tags := model.Tags{model.Tag{"e", eventID}, model.Tag{"p", authorPubKey}}

	return c.signAndBroadcast(ctx, nostr.KindReaction, tags, symbol)
}

// SetProfile publishes profile metadata. Free-text fields pass through
// redaction like every other outbound content.
func (c *Client) SetProfile(ctx context.Context, profile *model.ProfileMetadataContent) (*model.Event, error) {
	scrubbed := *profile
	scrubbed.Name = c.redactText(profile.Name)
	scrubbed.About = c.redactText(profile.About)
	content, err := json.Marshal(&scrubbed)
	if err != nil {
		return nil, errors.Wrap(err, "failed to serialize profile metadata")
	}
	event, err := c.signAndBroadcast(ctx, nostr.KindProfileMetadata, nil, string(content))
	if err != nil {
		return nil, err
	}
	c.profiles.Put(event.PubKey, scrubbed)

	return event, nil
}

// PublishPresence broadcasts an ephemeral heartbeat and awards the daily
// presence bonus at most once per UTC day.
func (c *Client) PublishPresence(ctx context.Context) (*model.Event, error) {
	event, err := c.signAndBroadcast(ctx, model.KindPresenceHeartbeat, nil, "")
	if err != nil {
		return nil, err
	}

	day := time.Now().UTC().Format(time.DateOnly)
	c.presenceBonusMx.Lock()
	award := c.lastPresenceBonusDay != day
	c.lastPresenceBonusDay = day
	c.presenceBonusMx.Unlock()
	if award {
		if _, rErr := c.ledger.Add(ctx, event.PubKey, reputation.ActionDailyPresence, 1); rErr != nil {
			log.Printf("WARN: failed to award presence bonus: %v", rErr)
		}
	}

	return event, nil
}

func (c *Client) Subscribe(filter model.Filter, callback relay.Handler) string {
	return c.pool.Subscribe(filter, callback)
}

func (c *Client) Unsubscribe(subscriptionID string) {
	c.pool.Unsubscribe(subscriptionID)
}

func (c *Client) BlockUser(pubKey string) {
	c.blocked.Put(pubKey, struct{}{})
}

func (c *Client) UnblockUser(pubKey string) {
	c.blocked.Delete(pubKey)
}

func (c *Client) IsBlocked(pubKey string) bool {
	return c.blocked.Has(pubKey)
}

func (c *Client) GetReputation(identityKey string) (reputation.Entry, bool) {
	return c.ledger.Get(identityKey)
}

func (c *Client) AllReputation() []reputation.Entry {
	return c.ledger.All()
}

// RecordImport credits an author whose document another identity imported.
func (c *Client) RecordImport(ctx context.Context, authorPubKey string) error {
	_, err := c.ledger.Add(ctx, authorPubKey, reputation.ActionImported, 1)

	return errors.Wrapf(err, "failed to credit import for %v", authorPubKey)
}

func (c *Client) Profile(pubKey string) (model.ProfileMetadataContent, bool) {
	return c.profiles.Get(pubKey)
}

// Presence reports the last-seen timestamps of recently active peers.
func (c *Client) Presence() map[string]model.Timestamp {
	res := make(map[string]model.Timestamp, c.presence.Len())
	for _, pubKey := range c.presence.Keys() {
		if lastSeen, found := c.presence.Get(pubKey); found {
			res[pubKey] = lastSeen
		}
	}

	return res
}

func (c *Client) SetDirectMessageHandler(handler DirectMessageHandler) {
	c.dmMx.Lock()
	c.dmHandler = handler
	c.dmMx.Unlock()
}

func (c *Client) acceptDirectMessage(event *model.Event) {
	if !c.cfg.DirectMessagesEnabled {
		return
	}
	privateKey, err := c.keys.PrivateKeyHex()
	if err != nil {
		return
	}
	sharedSecret, err := nip04.ComputeSharedSecret(event.PubKey, privateKey)
	if err != nil {
		log.Printf("WARN: %v", errors.Wrapf(model.ErrDecryptFailed, "no shared secret with %v", event.PubKey))

		return
	}
	plaintext, err := nip04.Decrypt(event.Content, sharedSecret)
	if err != nil {
		// Malformed or foreign-keyed payload: logged and dropped, never a crash.
		log.Printf("WARN: %v", errors.Wrapf(model.ErrDecryptFailed, "dm %v from %v", event.ID, event.PubKey))

		return
	}
	c.dmMx.RLock()
	handler := c.dmHandler
	c.dmMx.RUnlock()
	if handler != nil {
		handler(event.PubKey, plaintext)
	}
}

func (c *Client) acceptPresence(event *model.Event) {
	c.presence.Put(event.PubKey, event.CreatedAt)
}

func (c *Client) acceptProfileMetadata(event *model.Event) {
	var profile model.ProfileMetadataContent
	if err := json.Unmarshal([]byte(event.Content), &profile); err != nil {
		log.Printf("WARN: ignoring malformed profile metadata from %v: %v", event.PubKey, err)

		return
	}
	c.profiles.Put(event.PubKey, profile)
}

// AcceptZapReceipt reconciles an inbound receipt and credits the recipient:
// one ReceiveZap unit per started 100 sats, sub-100-sat zaps credit nothing.
func (c *Client) AcceptZapReceipt(ctx context.Context, event *model.Event) (*zap.ReceiptCredit, error) {
	credit, err := c.zaps.AcceptReceipt(event)
	if err != nil {
		return nil, err
	}
	if hundreds := credit.AmountSats / 100; hundreds > 0 {
		if _, rErr := c.ledger.Add(ctx, credit.Recipient, reputation.ActionReceiveZap, hundreds); rErr != nil {
			return nil, errors.Wrap(rErr, "failed to credit zap recipient")
		}
	}

	return credit, nil
}

func (c *Client) CreateZapRequest(recipientPubKey, targetEventID string, amountSats int64, comment string) (*zap.Attempt, error) {
	return c.zaps.NewRequest(recipientPubKey, targetEventID, amountSats, c.cfg.Relay.Relays, c.redactText(comment))
}

func (c *Client) ResolveLud16(ctx context.Context, address string) (*zap.Lnurlp, error) {
	return c.zaps.ResolveLud16(ctx, address)
}

// RequestInvoice exchanges a signed zap request for a payment string and
// credits the local identity for sending a zap.
func (c *Client) RequestInvoice(ctx context.Context, callback string, attempt *zap.Attempt, amountSats int64) (string, error) {
	invoice, err := c.zaps.RequestInvoice(ctx, callback, attempt, amountSats)
	if err != nil {
		return "", err
	}
	if _, rErr := c.ledger.Add(ctx, attempt.Request.PubKey, reputation.ActionSendZap, 1); rErr != nil {
		log.Printf("WARN: failed to credit sent zap: %v", rErr)
	}

	return invoice, nil
}

func (c *Client) ZapTotalFor(eventID string) int64 {
	return c.zaps.TotalFor(eventID)
}

// scanDocument memoizes scan results by content digest: re-publishing the
// same revision must not pay for a second pattern pass. Reputation deltas are
// applied by the caller per attempt, cached or not.
func (c *Client) scanDocument(doc *model.Document) safety.ScanResult {
	digest := sha256.Sum256([]byte(strings.Join([]string{doc.Name, doc.Description, doc.Body, strings.Join(doc.Tags, ",")}, "\x00")))
	key := hex.EncodeToString(digest[:])
	if cached, found := c.scans.Get(key); found {
		return cached
	}
	scan := c.scanner.Scan(doc.Name, doc.Description, doc.Body, doc.Tags)
	c.scans.Put(key, scan)

	return scan
}

// PublishDocument runs the full outbound pipeline: redaction, structural
// validation, safety scan (fail closed on both), scan-outcome reputation
// delta, then sign and broadcast.
func (c *Client) PublishDocument(ctx context.Context, doc *model.Document) (*model.Event, *safety.ScanResult, error) {
	publicKey, err := c.keys.PublicKey()
	if err != nil {
		return nil, nil, err
	}

	scrubbed := *doc
	scrubbed.Description = c.redactText(doc.Description)

	if res := c.validator.Validate(&scrubbed); !res.Valid {
		return nil, nil, errors.Wrapf(model.ErrValidationFailed, "%v", strings.Join(res.Errors, "; "))
	}

	scan := c.scanDocument(&scrubbed)
	if scan.Safe && scan.TrustLevel == safety.TrustLevelCommunity {
		if _, rErr := c.ledger.Add(ctx, publicKey, reputation.ActionCleanScan, 1); rErr != nil {
			log.Printf("WARN: failed to credit clean scan: %v", rErr)
		}
	} else {
		if _, rErr := c.ledger.Add(ctx, publicKey, reputation.ActionFlaggedScan, 1); rErr != nil {
			log.Printf("WARN: failed to apply flagged scan penalty: %v", rErr)
		}
	}
	if !scan.Safe {
		patterns := make([]string, 0, len(scan.Flags))
		for i := range scan.Flags {
			patterns = append(patterns, scan.Flags[i].PatternName+"@"+scan.Flags[i].Field)
		}

		return nil, &scan, errors.Wrapf(model.ErrSafetyBlocked, "%v", strings.Join(patterns, ", "))
	}

	content, err := json.Marshal(map[string]any{
		"name":        scrubbed.Name,
		"description": scrubbed.Description,
		"body":        scrubbed.Body,
		"version":     scrubbed.Version,
		"meta":        scrubbed.Meta,
	})
	if err != nil {
		return nil, &scan, errors.Wrap(err, "failed to serialize document")
	}
	tags := model.Tags{
		model.Tag{model.TagDocumentName, scrubbed.Name},
		model.Tag{model.TagDocumentType, string(scrubbed.Type)},
		model.Tag{model.TagVersion, scrubbed.Version},
	}
	for _, t := range scrubbed.Tags {
		tags = append(tags, model.Tag{"t", t})
	}
	event, err := c.signAndBroadcast(ctx, model.KindMarketDocument, tags, string(content))
	if err != nil {
		return nil, &scan, err
	}
	if _, rErr := c.ledger.Add(ctx, publicKey, reputation.ActionPublish, 1); rErr != nil {
		log.Printf("WARN: failed to credit publish: %v", rErr)
	}

	return event, &scan, nil
}
