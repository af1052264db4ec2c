package checkout

import (
	"sync"
	"time"
)

// VaultPhase is a stage of the post-purchase presentation sequence.
type VaultPhase string

const (
	PhaseLaunch  VaultPhase = "launch"
	PhaseRouting VaultPhase = "routing"
	PhaseDone    VaultPhase = "done"
)

// VaultPresenter produces the timed two-phase transition shown after a
// confirmed purchase: launch for a configured duration, then routing, then
// done. It is presentation only; the checkout's terminal transition has
// already happened before a presentation begins and is never gated on it.
type VaultPresenter struct {
	launch  time.Duration
	routing time.Duration
}

// NewVaultPresenter creates a presenter with the given phase durations.
func NewVaultPresenter(launch, routing time.Duration) *VaultPresenter {
	return &VaultPresenter{launch: launch, routing: routing}
}

// Begin starts a transition sequence. The sequence advances on its own
// schedule; Skip ends it early without affecting anything upstream.
func (v *VaultPresenter) Begin() *VaultTransition {
	t := &VaultTransition{
		phase: PhaseLaunch,
		done:  make(chan struct{}),
	}
	go t.run(v.launch, v.routing)
	return t
}

// VaultTransition is one running presentation sequence.
type VaultTransition struct {
	mu      sync.Mutex
	phase   VaultPhase
	skipped bool
	done    chan struct{}
}

func (t *VaultTransition) run(launch, routing time.Duration) {
	timer := time.NewTimer(launch)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-t.done:
		return
	}

	if !t.setPhase(PhaseRouting) {
		return
	}

	timer.Reset(routing)
	select {
	case <-timer.C:
	case <-t.done:
		return
	}

	t.finish()
}

// Phase reports the current presentation phase.
func (t *VaultTransition) Phase() VaultPhase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.phase
}

// Done is closed when the sequence finishes or is skipped.
func (t *VaultTransition) Done() <-chan struct{} {
	return t.done
}

// Skip ends the presentation immediately.
func (t *VaultTransition) Skip() {
	t.mu.Lock()
	if t.skipped || t.phase == PhaseDone {
		t.mu.Unlock()
		return
	}
	t.skipped = true
	t.phase = PhaseDone
	close(t.done)
	t.mu.Unlock()
}

// setPhase advances to the given phase unless the sequence already ended.
func (t *VaultTransition) setPhase(p VaultPhase) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.skipped || t.phase == PhaseDone {
		return false
	}
	t.phase = p
	return true
}

func (t *VaultTransition) finish() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.skipped || t.phase == PhaseDone {
		return
	}
	t.phase = PhaseDone
	close(t.done)
}
