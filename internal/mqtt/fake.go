package mqtt

import (
	"sync"

	"github.com/sweeney/climate-controller/internal/logic"
)

// FakePublisher records published notifications for test assertions.
// Safe for concurrent use: the watchdog publishes from its own goroutine.
type FakePublisher struct {
	mu sync.Mutex

	reports      []Report
	alerts       []logic.Event
	systemEvents []SystemEvent
	payloads     [][]byte

	publishErr error
	closed     bool
	connected  bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// PublishReport records the report.
func (f *FakePublisher) PublishReport(r Report) error {
	payload, err := FormatReportPayload(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.reports = append(f.reports, r)
	f.payloads = append(f.payloads, payload)
	return nil
}

// PublishAlert records the alert.
func (f *FakePublisher) PublishAlert(event logic.Event) error {
	payload, err := FormatAlertPayload(event)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.alerts = append(f.alerts, event)
	f.payloads = append(f.payloads, payload)
	return nil
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.systemEvents = append(f.systemEvents, event)
	f.payloads = append(f.payloads, payload)
	return nil
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// SetConnected controls the return value of IsConnected.
func (f *FakePublisher) SetConnected(c bool) {
	f.mu.Lock()
	f.connected = c
	f.mu.Unlock()
}

// SetError makes every publish fail with err (nil clears it).
func (f *FakePublisher) SetError(err error) {
	f.mu.Lock()
	f.publishErr = err
	f.mu.Unlock()
}

// Reports returns a copy of the recorded reports.
func (f *FakePublisher) Reports() []Report {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Report(nil), f.reports...)
}

// Alerts returns a copy of the recorded alerts.
func (f *FakePublisher) Alerts() []logic.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]logic.Event(nil), f.alerts...)
}

// SystemEvents returns a copy of the recorded system events.
func (f *FakePublisher) SystemEvents() []SystemEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SystemEvent(nil), f.systemEvents...)
}

// Payloads returns every JSON payload in publish order.
func (f *FakePublisher) Payloads() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.payloads...)
}

// Closed reports whether Close was called.
func (f *FakePublisher) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Reset clears recorded notifications and injected errors.
func (f *FakePublisher) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = nil
	f.alerts = nil
	f.systemEvents = nil
	f.payloads = nil
	f.publishErr = nil
	f.closed = false
	f.connected = false
}
