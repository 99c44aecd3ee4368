package journal

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/chazu/chainql/bridge"
)

func openTemp(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "calls.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournal_RecordsCalls(t *testing.T) {
	j := openTemp(t)
	start := time.Now()

	ok := bridge.CallRecord{
		ID:       uuid.New(),
		Label:    "a + b",
		Args:     map[string]any{"a": 1, "b": bridge.NewMap().Set("x", "y"), "n": big.NewInt(5)},
		Started:  start,
		Duration: 3 * time.Millisecond,
	}
	failed := bridge.CallRecord{
		ID:      uuid.New(),
		Label:   "slow",
		Started: start.Add(time.Second),
		Err:     &bridge.Error{Kind: bridge.Interrupted, Msg: "evaluation cancelled"},
	}
	j.CallFinished(ok)
	j.CallFinished(failed)
	j.Sync()

	entries, err := j.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}

	if entries[0].ID != failed.ID {
		t.Errorf("newest entry = %s, want %s", entries[0].ID, failed.ID)
	}
	if entries[0].Kind != "interrupted" {
		t.Errorf("kind = %q, want interrupted", entries[0].Kind)
	}
	if entries[0].Error != "interrupted: evaluation cancelled" {
		t.Errorf("error = %q", entries[0].Error)
	}

	e := entries[1]
	if e.Kind != "ok" || e.Error != "" {
		t.Errorf("kind = %q, error = %q, want ok", e.Kind, e.Error)
	}
	if e.Label != "a + b" || e.Duration != 3*time.Millisecond {
		t.Errorf("entry = %+v", e)
	}
	if !e.Started.Equal(start) {
		t.Errorf("started = %s, want %s", e.Started, start)
	}
	if e.Args["a"] != uint64(1) {
		t.Errorf("args.a = %#v, want 1", e.Args["a"])
	}
	if e.Args["n"] != "5" {
		t.Errorf("args.n = %#v, want \"5\"", e.Args["n"])
	}
	nested, isMap := e.Args["b"].(map[string]any)
	if !isMap {
		t.Fatalf("args.b = %T, want map[string]any", e.Args["b"])
	}
	if nested["x"] != "y" {
		t.Errorf("args.b = %#v, want {x: y}", e.Args["b"])
	}
}

func TestJournal_AsObserver(t *testing.T) {
	j := openTemp(t)
	d := bridge.New(nil, bridge.WithObserver(j))

	_, err := d.Execute(context.Background(), func(ctx context.Context) (any, error) {
		return nil, errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	j.Sync()

	entries, err := j.Recent(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Kind != "runtime error" {
		t.Errorf("entries = %+v, want one runtime error", entries)
	}
}

func TestJournal_SyncWhileRecording(t *testing.T) {
	j := openTemp(t)
	start := time.Now()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				j.CallFinished(bridge.CallRecord{
					ID:      uuid.New(),
					Label:   "call",
					Args:    map[string]any{"w": w, "i": i},
					Started: start.Add(time.Duration(w*25+i) * time.Microsecond),
				})
				if i%5 == 0 {
					j.Sync()
				}
			}
		}(w)
	}
	wg.Wait()
	j.Sync()

	entries, err := j.Recent(context.Background(), 200)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries)+j.Dropped() != 100 {
		t.Errorf("entries = %d, dropped = %d, want 100 in total", len(entries), j.Dropped())
	}
}

func TestJournal_CloseIsIdempotent(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "calls.db"))
	if err != nil {
		t.Fatal(err)
	}
	j.CallFinished(bridge.CallRecord{ID: uuid.New(), Started: time.Now()})
	if err := j.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
	j.CallFinished(bridge.CallRecord{ID: uuid.New()})
}

func TestDescribe(t *testing.T) {
	got := describe(map[string]any{
		"fn":  func() {},
		"tup": bridge.Tuple{1, "x"},
	}).(map[string]any)
	if got["fn"] != "<func()>" {
		t.Errorf("fn = %#v", got["fn"])
	}
	if tup, _ := got["tup"].([]any); len(tup) != 2 {
		t.Errorf("tup = %#v", got["tup"])
	}
}
