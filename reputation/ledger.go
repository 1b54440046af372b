// SPDX-License-Identifier: ice License 1.0

package reputation

import (
	"context"
	_ "embed"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/reflectx"
	_ "github.com/mattn/go-sqlite3"
)

type (
	Action string
	Level  string

	Entry struct {
		Identity     string
		Points       int64
		PublishCount int64
		ZapsSent     int64
		ZapsReceived int64
		ImportCount  int64
		CleanScans   int64
		FlaggedScans int64
		LastActivity int64
		InsertedSeq  int64
	}

	// Ledger accumulates non-transferable trust points per identity. Every
	// mutation is written through to sqlite immediately so reputation
	// survives process restarts. The entry count is capacity bounded with
	// insertion-order eviction.
	Ledger struct {
		db       *sqlx.DB
		mx       sync.Mutex
		entries  map[string]*Entry
		order    []string
		capacity int
		seq      int64
		now      func() time.Time
	}
)

const (
	ActionPublish       Action = "publish"
	ActionReceiveZap    Action = "receive_zap"
	ActionSendZap       Action = "send_zap"
	ActionImported      Action = "imported"
	ActionCleanScan     Action = "clean_scan"
	ActionFlaggedScan   Action = "flagged_scan"
	ActionDailyPresence Action = "daily_presence"

	LevelNewcomer    Level = "newcomer"
	LevelContributor Level = "contributor"
	LevelTrusted     Level = "trusted"
	LevelExpert      Level = "expert"
	LevelLuminary    Level = "luminary"
)

// ReceiveZapRate is the points awarded per started 100 sats of a received zap.
const ReceiveZapRate = 2

const defaultCapacity = 1024

var actionDeltas = map[Action]int64{
	ActionPublish:       5,
	ActionReceiveZap:    ReceiveZapRate,
	ActionSendZap:       1,
	ActionImported:      10,
	ActionCleanScan:     1,
	ActionFlaggedScan:   -5,
	ActionDailyPresence: 1,
}

//go:embed DDL.sql
var ddl string

func New(target string, capacity int) (*Ledger, error) {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	db, err := sqlx.Connect("sqlite3", target)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open reputation database at %q", target)
	}
	db.Mapper = reflectx.NewMapperFunc("db", func(in string) string {
		switch in {
		case "PublishCount":
			return "publish_count"
		case "ZapsSent":
			return "zaps_sent"
		case "ZapsReceived":
			return "zaps_received"
		case "ImportCount":
			return "import_count"
		case "CleanScans":
			return "clean_scans"
		case "FlaggedScans":
			return "flagged_scans"
		case "LastActivity":
			return "last_activity"
		case "InsertedSeq":
			return "inserted_seq"
		default:
			return strings.ToLower(in)
		}
	})
	for _, statement := range strings.Split(ddl, "--------") {
		db.MustExec(statement)
	}

	l := &Ledger{
		db:       db,
		entries:  make(map[string]*Entry),
		capacity: capacity,
		now:      time.Now,
	}
	if err = l.load(); err != nil {
		return nil, err
	}

	return l, nil
}

func (l *Ledger) load() error {
	var rows []Entry
	if err := l.db.Select(&rows, `SELECT * FROM reputation ORDER BY inserted_seq ASC`); err != nil {
		return errors.Wrap(err, "failed to load reputation entries")
	}
	for i := range rows {
		entry := rows[i]
		l.entries[entry.Identity] = &entry
		l.order = append(l.order, entry.Identity)
		if entry.InsertedSeq > l.seq {
			l.seq = entry.InsertedSeq
		}
	}

	return nil
}

func (l *Ledger) Close() error {
	return errors.Wrap(l.db.Close(), "failed to close reputation database")
}

// Add applies the delta for the action, multiplied, clamping points at zero.
// The level is always derived from the resulting total, never stored on its own.
func (l *Ledger) Add(ctx context.Context, identity string, action Action, multiplier int64) (*Entry, error) {
	delta, ok := actionDeltas[action]
	if !ok {
		return nil, errors.Errorf("unknown reputation action %q", action)
	}
	if multiplier <= 0 {
		multiplier = 1
	}

	l.mx.Lock()
	defer l.mx.Unlock()

	entry, found := l.entries[identity]
	if !found {
		l.seq++
		entry = &Entry{Identity: identity, InsertedSeq: l.seq}
		l.entries[identity] = entry
		l.order = append(l.order, identity)
	}

	entry.Points += delta * multiplier
	if entry.Points < 0 {
		entry.Points = 0
	}
	entry.LastActivity = l.now().Unix()
	switch action {
	case ActionPublish:
		entry.PublishCount++
	case ActionSendZap:
		entry.ZapsSent++
	case ActionReceiveZap:
		entry.ZapsReceived++
	case ActionImported:
		entry.ImportCount++
	case ActionCleanScan:
		entry.CleanScans++
	case ActionFlaggedScan:
		entry.FlaggedScans++
	}

	if err := l.persist(ctx, entry); err != nil {
		return nil, err
	}
	if err := l.evict(ctx); err != nil {
		return nil, err
	}
	snapshot := *entry

	return &snapshot, nil
}

func (l *Ledger) persist(ctx context.Context, entry *Entry) error {
	_, err := l.db.NamedExecContext(ctx, `
		INSERT INTO reputation
			(identity, points, publish_count, zaps_sent, zaps_received, import_count, clean_scans, flagged_scans, last_activity, inserted_seq)
		VALUES
			(:identity, :points, :publish_count, :zaps_sent, :zaps_received, :import_count, :clean_scans, :flagged_scans, :last_activity, :inserted_seq)
		ON CONFLICT (identity) DO UPDATE SET
			points = excluded.points,
			publish_count = excluded.publish_count,
			zaps_sent = excluded.zaps_sent,
			zaps_received = excluded.zaps_received,
			import_count = excluded.import_count,
			clean_scans = excluded.clean_scans,
			flagged_scans = excluded.flagged_scans,
			last_activity = excluded.last_activity`, entry)

	return errors.Wrapf(err, "failed to persist reputation for %v", entry.Identity)
}

func (l *Ledger) evict(ctx context.Context) error {
	for l.capacity > 0 && len(l.order) > l.capacity {
		oldest := l.order[0]
		l.order = l.order[1:]
		delete(l.entries, oldest)
		if _, err := l.db.ExecContext(ctx, `DELETE FROM reputation WHERE identity = ?`, oldest); err != nil {
			return errors.Wrapf(err, "failed to evict reputation entry %v", oldest)
		}
	}

	return nil
}

func (l *Ledger) Get(identity string) (Entry, bool) {
	l.mx.Lock()
	defer l.mx.Unlock()
	entry, found := l.entries[identity]
	if !found {
		return Entry{}, false
	}

	return *entry, true
}

func (l *Ledger) All() []Entry {
	l.mx.Lock()
	defer l.mx.Unlock()
	res := make([]Entry, 0, len(l.order))
	for _, identity := range l.order {
		res = append(res, *l.entries[identity])
	}

	return res
}

// Level is a pure function of the point total.
func (e *Entry) Level() Level {
	switch {
	case e.Points >= 1000:
		return LevelLuminary
	case e.Points >= 500:
		return LevelExpert
	case e.Points >= 200:
		return LevelTrusted
	case e.Points >= 50:
		return LevelContributor
	default:
		return LevelNewcomer
	}
}
