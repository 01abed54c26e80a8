package pump

import "sync"

// FakeDriver is a test double that records drive transitions. It is safe
// for concurrent use so tests can inspect it while a controller drives it.
type FakeDriver struct {
	mu          sync.Mutex
	initCalls   int
	driveCalls  int
	transitions []bool
	on          bool
	closed      bool

	// InitError, if set, will be returned by Init()
	InitError error

	// DriveError, if set, will be returned by SetDrive()
	DriveError error
}

// NewFakeDriver creates a FakeDriver in the off state.
func NewFakeDriver() *FakeDriver {
	return &FakeDriver{}
}

// Init records the call.
func (f *FakeDriver) Init() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.InitError != nil {
		return f.InitError
	}
	f.initCalls++
	return nil
}

// SetDrive records the call and, when the state actually changes, the
// transition.
func (f *FakeDriver) SetDrive(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DriveError != nil {
		return f.DriveError
	}
	f.driveCalls++
	if on != f.on {
		f.on = on
		f.transitions = append(f.transitions, on)
	}
	return nil
}

// Close marks the driver as closed.
func (f *FakeDriver) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// On reports the current drive state.
func (f *FakeDriver) On() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.on
}

// Transitions returns the recorded state changes in order.
func (f *FakeDriver) Transitions() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]bool, len(f.transitions))
	copy(out, f.transitions)
	return out
}

// DriveCalls returns the total number of SetDrive calls, including no-ops.
func (f *FakeDriver) DriveCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.driveCalls
}

// InitCalls returns the number of Init calls.
func (f *FakeDriver) InitCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initCalls
}

// Closed reports whether Close was called.
func (f *FakeDriver) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
