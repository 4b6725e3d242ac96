package consensus

import (
	"testing"
	"time"
)

func TestTimeoutsDeadlineFormula(t *testing.T) {
	to := Timeouts{
		ProposeBase: 2 * time.Second, ProposeDelta: 500 * time.Millisecond,
		PrevoteBase: 1 * time.Second, PrevoteDelta: 200 * time.Millisecond,
		CommitBase: 1 * time.Second, CommitDelta: 100 * time.Millisecond,
	}

	if got := to.deadline(PhasePropose, 0); got != 2*time.Second {
		t.Fatalf("expected round 0 propose deadline == base, got %v", got)
	}
	if got := to.deadline(PhasePropose, 2); got != 3*time.Second {
		t.Fatalf("expected propose deadline to grow by delta*round, got %v", got)
	}
	if got := to.deadline(PhasePrevote, 3); got != 1*time.Second+600*time.Millisecond {
		t.Fatalf("unexpected prevote deadline: %v", got)
	}
	if got := to.deadline(PhaseCommit, 1); got != 1100*time.Millisecond {
		t.Fatalf("unexpected commit deadline: %v", got)
	}
}

func TestPhaseTimerResetAndTick(t *testing.T) {
	pt := newPhaseTimer()
	go pt.run()
	defer pt.close()

	pt.reset(10 * time.Millisecond)
	select {
	case <-pt.tickCh:
	case <-time.After(time.Second):
		t.Fatalf("expected a tick within one second of a 10ms reset")
	}
}

func TestPhaseStringer(t *testing.T) {
	cases := map[Phase]string{
		PhasePropose:   "propose",
		PhasePrevote:   "prevote",
		PhaseCommit:    "commit",
		PhaseCommitted: "committed",
	}
	for phase, want := range cases {
		if got := phase.String(); got != want {
			t.Fatalf("expected %v.String() == %q, got %q", phase, want, got)
		}
	}
}
