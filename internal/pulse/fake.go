package pulse

// FakeSource is a test double that feeds the counter directly instead of
// listening for hardware edges.
type FakeSource struct {
	counter *Counter

	// Started tracks if Start was called
	Started bool

	// Closed tracks if Close was called
	Closed bool

	// StartError, if set, will be returned by Start()
	StartError error
}

// NewFakeSource creates a FakeSource feeding the given counter.
func NewFakeSource(counter *Counter) *FakeSource {
	return &FakeSource{counter: counter}
}

// Start marks the source as started.
func (f *FakeSource) Start() error {
	if f.StartError != nil {
		return f.StartError
	}
	f.Started = true
	return nil
}

// Close marks the source as closed.
func (f *FakeSource) Close() error {
	f.Closed = true
	return nil
}

// Pulse records n edges, as if the sensor had fired n times.
func (f *FakeSource) Pulse(n int) {
	for i := 0; i < n; i++ {
		f.counter.Record()
	}
}
