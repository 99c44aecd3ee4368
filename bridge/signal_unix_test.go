//go:build unix

package bridge

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func TestDispatcher_SIGINTInterrupts(t *testing.T) {
	rec := newStateRecorder()
	rec.onState = func(s State) {
		if s == Running {
			if err := unix.Kill(unix.Getpid(), unix.SIGINT); err != nil {
				t.Errorf("kill: %v", err)
			}
		}
	}
	d := newTestDispatcher(WithObserver(rec))
	before := CurrentHandler()

	_, err := d.Evaluate(context.Background(), "slow", nil)
	if !IsInterrupted(err) {
		t.Fatalf("err = %v, want interrupted", err)
	}
	if after := CurrentHandler(); after != before {
		t.Errorf("handler after interrupt = %+v, want %+v", after, before)
	}
}

func TestGuard_RestoresIgnoredSIGINT(t *testing.T) {
	signal.Ignore(syscall.SIGINT)
	defer signal.Reset(syscall.SIGINT)

	g, err := InstallGuard()
	if err != nil {
		t.Fatalf("InstallGuard failed: %v", err)
	}
	if !g.Previous().Ignored {
		t.Fatal("snapshot did not record the ignored disposition")
	}
	if CurrentHandler().Ignored {
		t.Error("SIGINT still ignored while the guard is installed")
	}
	g.Release()
	if !signal.Ignored(syscall.SIGINT) {
		t.Error("ignored disposition not restored")
	}
}

// A guard adds a receiver for SIGINT; channels the host registered itself
// keep receiving.
func TestGuard_HostNotifyChannelStillReceives(t *testing.T) {
	host := make(chan os.Signal, 1)
	signal.Notify(host, syscall.SIGINT)
	defer signal.Stop(host)
	Notifier().drain()

	g, err := InstallGuard()
	if err != nil {
		t.Fatalf("InstallGuard failed: %v", err)
	}
	defer g.Release()

	if err := unix.Kill(unix.Getpid(), unix.SIGINT); err != nil {
		t.Fatalf("kill: %v", err)
	}
	select {
	case <-Notifier().C():
	case <-time.After(2 * time.Second):
		t.Error("notifier was not raised")
	}
	select {
	case <-host:
	case <-time.After(2 * time.Second):
		t.Error("host channel did not receive SIGINT")
	}
}
