package mqtt

import "sync"

// FakePublisher records published events for test assertions. It is safe for
// concurrent use so tests can inspect it while publisher goroutines run.
type FakePublisher struct {
	mu        sync.Mutex
	samples   []SampleEvent
	faults    []FaultEvent
	system    []SystemEvent
	handler   func(Command)
	connected bool
	closed    bool

	// PublishSampleError, if set, will be returned by PublishSample.
	// Error fields must be set before the publisher is shared between goroutines.
	PublishSampleError error

	// PublishFaultError, if set, will be returned by PublishFault.
	PublishFaultError error

	// PublishSystemError, if set, will be returned by PublishSystem.
	PublishSystemError error

	// SubscribeError, if set, will be returned by SubscribeCommands.
	SubscribeError error
}

// NewFakePublisher creates a connected FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{connected: true}
}

// PublishSample records the flow sample.
func (f *FakePublisher) PublishSample(event SampleEvent) error {
	if f.PublishSampleError != nil {
		return f.PublishSampleError
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples = append(f.samples, event)
	return nil
}

// PublishFault records the fault transition.
func (f *FakePublisher) PublishFault(event FaultEvent) error {
	if f.PublishFaultError != nil {
		return f.PublishFaultError
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults = append(f.faults, event)
	return nil
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.system = append(f.system, event)
	return nil
}

// SubscribeCommands stores the handler for InjectCommand to call.
func (f *FakePublisher) SubscribeCommands(handler func(Command)) error {
	if f.SubscribeError != nil {
		return f.SubscribeError
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = handler
	return nil
}

// InjectCommand delivers a command as if it arrived from the broker. It
// reports whether a handler was subscribed to receive it.
func (f *FakePublisher) InjectCommand(cmd Command) bool {
	f.mu.Lock()
	handler := f.handler
	f.mu.Unlock()

	if handler == nil {
		return false
	}
	handler(cmd)
	return true
}

// Samples returns a copy of the recorded flow samples.
func (f *FakePublisher) Samples() []SampleEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SampleEvent(nil), f.samples...)
}

// Faults returns a copy of the recorded fault transitions.
func (f *FakePublisher) Faults() []FaultEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]FaultEvent(nil), f.faults...)
}

// SystemEvents returns a copy of the recorded system events.
func (f *FakePublisher) SystemEvents() []SystemEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SystemEvent(nil), f.system...)
}

// SetConnected controls the return value of IsConnected.
func (f *FakePublisher) SetConnected(on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = on
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// Closed reports whether Close was called.
func (f *FakePublisher) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Reset clears recorded events.
func (f *FakePublisher) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples = nil
	f.faults = nil
	f.system = nil
	f.handler = nil
	f.connected = true
	f.closed = false
	f.PublishSampleError = nil
	f.PublishFaultError = nil
	f.PublishSystemError = nil
	f.SubscribeError = nil
}
