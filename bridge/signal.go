package bridge

import (
	"os"
	"os/signal"
	"sync"
)

// ---------------------------------------------------------------------------
// Cancellation notifier
// ---------------------------------------------------------------------------

// CancelNotifier is the process-wide wake primitive signalled on user
// interrupts. It stores at most one pending permit; receiving from C
// consumes it.
type CancelNotifier struct {
	ch chan struct{}
}

var processNotifier = sync.OnceValue(func() *CancelNotifier {
	return &CancelNotifier{ch: make(chan struct{}, 1)}
})

// Notifier returns the process-wide cancellation notifier. It is created on
// first use and never torn down.
func Notifier() *CancelNotifier {
	return processNotifier()
}

// Notify stores a permit, waking a waiter if there is one. It never blocks.
func (n *CancelNotifier) Notify() {
	select {
	case n.ch <- struct{}{}:
	default:
	}
}

// C delivers a permit once Notify has been called.
func (n *CancelNotifier) C() <-chan struct{} {
	return n.ch
}

// Pending reports whether a permit is stored.
func (n *CancelNotifier) Pending() bool {
	return len(n.ch) > 0
}

// drain discards a stored permit and reports whether there was one.
func (n *CancelNotifier) drain() bool {
	select {
	case <-n.ch:
		return true
	default:
		return false
	}
}

// ---------------------------------------------------------------------------
// Signal guard
// ---------------------------------------------------------------------------

// HandlerSnapshot describes the interrupt handling in effect: whether SIGINT
// is ignored and how many guards are installed.
type HandlerSnapshot struct {
	Ignored bool
	Guards  int
}

// signalInstaller swaps interrupt handling in and out. The os/signal
// implementation is used outside tests.
type signalInstaller interface {
	Install(c chan<- os.Signal) (HandlerSnapshot, error)
	Restore(c chan<- os.Signal, prev HandlerSnapshot)
	Current() HandlerSnapshot
}

type osSignals struct {
	mu     sync.Mutex
	guards int
}

var processSignals = &osSignals{}

func (s *osSignals) Install(c chan<- os.Signal) (HandlerSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := HandlerSnapshot{Ignored: signal.Ignored(os.Interrupt), Guards: s.guards}
	signal.Notify(c, os.Interrupt)
	s.guards++
	return prev, nil
}

func (s *osSignals) Restore(c chan<- os.Signal, prev HandlerSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	signal.Stop(c)
	s.guards = prev.Guards
	// Notify un-ignores the signal and Stop does not put that back.
	if prev.Ignored {
		signal.Ignore(os.Interrupt)
	}
}

func (s *osSignals) Current() HandlerSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return HandlerSnapshot{Ignored: signal.Ignored(os.Interrupt), Guards: s.guards}
}

// CurrentHandler reports the interrupt handling currently in effect.
func CurrentHandler() HandlerSnapshot {
	return processSignals.Current()
}

// Guard routes SIGINT to the cancellation notifier while it is installed.
//
// os/signal delivers to every registered channel, so a channel the host
// registered for SIGINT with signal.Notify keeps receiving interrupts while a
// guard is installed. The guard adds a receiver; it cannot take the others
// away.
type Guard struct {
	inst signalInstaller
	ch   chan os.Signal
	prev HandlerSnapshot
	stop chan struct{}
	once sync.Once
}

// InstallGuard installs the interrupt handler. Release restores the handling
// that was in effect before.
func InstallGuard() (*Guard, error) {
	return installGuard(processSignals, Notifier())
}

func installGuard(inst signalInstaller, n *CancelNotifier) (*Guard, error) {
	ch := make(chan os.Signal, 1)
	prev, err := inst.Install(ch)
	if err != nil {
		return nil, &Error{Kind: SetupFault, Msg: "installing interrupt handler: " + err.Error(), Err: err}
	}
	g := &Guard{inst: inst, ch: ch, prev: prev, stop: make(chan struct{})}
	go g.forward(n)
	return g, nil
}

// forward is the handler body: it only wakes the notifier.
func (g *Guard) forward(n *CancelNotifier) {
	for {
		select {
		case <-g.ch:
			n.Notify()
		case <-g.stop:
			return
		}
	}
}

// Previous returns the snapshot taken when the guard was installed.
func (g *Guard) Previous() HandlerSnapshot {
	return g.prev
}

// Release restores the previous handling. It is safe to call more than once.
func (g *Guard) Release() {
	g.once.Do(func() {
		g.inst.Restore(g.ch, g.prev)
		close(g.stop)
	})
}
