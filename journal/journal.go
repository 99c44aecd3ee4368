// Package journal records finished bridge calls in a SQLite database.
//
// A Journal is a bridge.Observer. Records are queued by CallFinished and
// written by a background goroutine, so observing a call never waits on the
// disk. Call arguments are stored as canonical CBOR.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"reflect"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/chainql/bridge"
)

var log = commonlog.GetLogger("chainql.journal")

var (
	cborEncMode cbor.EncMode
	cborDecMode cbor.DecMode
)

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("journal: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em

	dm, err := cbor.DecOptions{DefaultMapType: reflect.TypeOf(map[string]any(nil))}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("journal: failed to create CBOR dec mode: %v", err))
	}
	cborDecMode = dm
}

const schema = `
CREATE TABLE IF NOT EXISTS calls (
	id          TEXT PRIMARY KEY,
	label       TEXT NOT NULL,
	args        BLOB,
	started_ns  INTEGER NOT NULL,
	duration_ns INTEGER NOT NULL,
	kind        TEXT NOT NULL,
	error       TEXT NOT NULL
)`

// queueSize bounds records waiting to be written. Records beyond it are
// dropped and counted.
const queueSize = 256

// Entry is one recorded call.
type Entry struct {
	ID       uuid.UUID
	Label    string
	Args     map[string]any
	Started  time.Time
	Duration time.Duration
	// Kind is the bridge error kind, or "ok".
	Kind  string
	Error string
}

// Journal writes call records to a database.
type Journal struct {
	db    *sql.DB
	queue chan bridge.CallRecord
	done  chan struct{}

	mu      sync.Mutex
	written *sync.Cond
	closed  bool
	queued  uint64
	flushed uint64
	dropped int
}

// Open opens or creates the journal database at path.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: create schema: %w", err)
	}

	j := &Journal{
		db:    db,
		queue: make(chan bridge.CallRecord, queueSize),
		done:  make(chan struct{}),
	}
	j.written = sync.NewCond(&j.mu)
	go j.writer()
	return j, nil
}

// StateChanged implements bridge.Observer.
func (j *Journal) StateChanged(uuid.UUID, bridge.State) {}

// CallFinished implements bridge.Observer. It never blocks.
func (j *Journal) CallFinished(rec bridge.CallRecord) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return
	}
	select {
	case j.queue <- rec:
		j.queued++
	default:
		j.dropped++
	}
}

// Dropped returns the number of records discarded because the queue was full.
func (j *Journal) Dropped() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.dropped
}

// Sync waits until every record queued before the call has been written.
func (j *Journal) Sync() {
	j.mu.Lock()
	defer j.mu.Unlock()
	target := j.queued
	for j.flushed < target {
		j.written.Wait()
	}
}

// Close writes queued records and closes the database.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	close(j.queue)
	j.mu.Unlock()

	<-j.done
	return j.db.Close()
}

func (j *Journal) writer() {
	defer close(j.done)
	for rec := range j.queue {
		if err := j.insert(rec); err != nil {
			log.Errorf("recording call %s: %s", rec.ID, err)
		}
		j.mu.Lock()
		j.flushed++
		j.written.Broadcast()
		j.mu.Unlock()
	}
}

func (j *Journal) insert(rec bridge.CallRecord) error {
	var args []byte
	if len(rec.Args) > 0 {
		var err error
		if args, err = cborEncMode.Marshal(describe(rec.Args)); err != nil {
			return fmt.Errorf("encoding args: %w", err)
		}
	}
	kind, msg := "ok", ""
	if rec.Err != nil {
		kind, msg = bridge.KindOf(rec.Err).String(), rec.Err.Error()
	}
	_, err := j.db.Exec(
		`INSERT INTO calls (id, label, args, started_ns, duration_ns, kind, error) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID.String(), rec.Label, args, rec.Started.UnixNano(), int64(rec.Duration), kind, msg,
	)
	return err
}

// Recent returns up to n entries, newest first.
func (j *Journal) Recent(ctx context.Context, n int) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, label, args, started_ns, duration_ns, kind, error FROM calls ORDER BY started_ns DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("journal: query: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e                   Entry
			id                  string
			args                []byte
			startedNS, duration int64
		)
		if err := rows.Scan(&id, &e.Label, &args, &startedNS, &duration, &e.Kind, &e.Error); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		if e.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("journal: bad id %q: %w", id, err)
		}
		if len(args) > 0 {
			if err := cborDecMode.Unmarshal(args, &e.Args); err != nil {
				return nil, fmt.Errorf("journal: decode args of %s: %w", id, err)
			}
		}
		e.Started = time.Unix(0, startedNS)
		e.Duration = time.Duration(duration)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// describe reduces host values to what CBOR can carry. Lazy handles and
// other opaque values are recorded by type name.
func describe(v any) any {
	switch x := v.(type) {
	case nil, bool, string, float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return x
	case *big.Int:
		if x == nil {
			return nil
		}
		return x.String()
	case []any:
		out := make([]any, len(x))
		for i, el := range x {
			out[i] = describe(el)
		}
		return out
	case bridge.Tuple:
		return describe([]any(x))
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, el := range x {
			out[k] = describe(el)
		}
		return out
	case *bridge.Map:
		out := make(map[string]any, x.Len())
		for _, k := range x.Keys() {
			el, _ := x.Get(k)
			out[k] = describe(el)
		}
		return out
	}
	return fmt.Sprintf("<%T>", v)
}
