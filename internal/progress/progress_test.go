package progress

import "testing"

type stringerStub string

func (s stringerStub) String() string { return string(s) }

func TestDisabledBarIsNoOp(t *testing.T) {
	b := New(false, 100)

	// None of these should panic on a disabled bar with a nil underlying
	// progressbar.ProgressBar.
	b.Set(42)
	b.Describe(stringerStub("working"))
	b.Finish(stringerStub("done"))
}

func TestEnabledBarDeterminateDoesNotPanic(t *testing.T) {
	b := New(true, 10)
	b.Set(5)
	b.Describe(stringerStub("working"))
	b.Finish(stringerStub("done"))
}

func TestEnabledBarSpinnerModeDoesNotPanic(t *testing.T) {
	b := New(true, -1)
	b.Set(1)
	b.Describe(stringerStub("scanning"))
	b.Finish(stringerStub("done"))
}
