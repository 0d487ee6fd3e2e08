package alerting

import (
	"context"
	"strings"
	"sync"
)

// MockAlerter records every alert it receives, for test assertions.
// Safe for concurrent use.
type MockAlerter struct {
	mu       sync.RWMutex
	captured []MockAlert
}

// MockAlert is one recorded alert.
type MockAlert struct {
	Severity Severity
	Message  string
	Fields   []any
}

// FieldMap folds the alert's alternating key/value fields into a map.
// Non-string keys and a trailing unpaired value are dropped.
func (a MockAlert) FieldMap() map[string]any {
	out := make(map[string]any, len(a.Fields)/2)
	for i := 0; i+1 < len(a.Fields); i += 2 {
		key, ok := a.Fields[i].(string)
		if !ok {
			continue
		}
		out[key] = a.Fields[i+1]
	}
	return out
}

// NewMockAlerter creates an empty recording alerter.
func NewMockAlerter() *MockAlerter {
	return &MockAlerter{}
}

func (m *MockAlerter) Name() string { return "mock" }

// Alert records the alert and always succeeds.
func (m *MockAlerter) Alert(_ context.Context, severity Severity, message string, fields ...any) error {
	m.mu.Lock()
	m.captured = append(m.captured, MockAlert{
		Severity: severity,
		Message:  message,
		Fields:   fields,
	})
	m.mu.Unlock()
	return nil
}

// Alerts returns the recorded alerts in arrival order.
func (m *MockAlerter) Alerts() []MockAlert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]MockAlert, len(m.captured))
	copy(out, m.captured)
	return out
}

// Count returns how many alerts were recorded.
func (m *MockAlerter) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.captured)
}

// Clear forgets everything recorded so far.
func (m *MockAlerter) Clear() {
	m.mu.Lock()
	m.captured = nil
	m.mu.Unlock()
}

// LastAlert returns the most recent alert, nil when none arrived.
func (m *MockAlerter) LastAlert() *MockAlert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.captured) == 0 {
		return nil
	}
	last := m.captured[len(m.captured)-1]
	return &last
}

// HasAlertWithSeverity reports whether any recorded alert carries the
// severity.
func (m *MockAlerter) HasAlertWithSeverity(severity Severity) bool {
	return m.anyAlert(func(a MockAlert) bool { return a.Severity == severity })
}

// HasAlertContaining reports whether any recorded message contains
// substr.
func (m *MockAlerter) HasAlertContaining(substr string) bool {
	return m.anyAlert(func(a MockAlert) bool { return strings.Contains(a.Message, substr) })
}

func (m *MockAlerter) anyAlert(pred func(MockAlert) bool) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.captured {
		if pred(a) {
			return true
		}
	}
	return false
}

var _ Alerter = (*MockAlerter)(nil)
