package notifier

import (
	"errors"
	"testing"

	"github.com/newthinker/signalflow/internal/alert"
)

type mockNotifier struct {
	name       string
	sendCalled int
	batchCalls int
	shouldFail bool
}

func (m *mockNotifier) Name() string { return m.name }

func (m *mockNotifier) Init(cfg Config) error { return nil }

func (m *mockNotifier) Send(a alert.Alert) error {
	m.sendCalled++
	if m.shouldFail {
		return errors.New("send failed")
	}
	return nil
}

func (m *mockNotifier) SendBatch(alerts []alert.Alert) error {
	m.batchCalls++
	if m.shouldFail {
		return errors.New("batch send failed")
	}
	return nil
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()

	mock := &mockNotifier{name: "test"}
	err := r.Register(mock)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Duplicate registration should fail
	err = r.Register(mock)
	if err == nil {
		t.Error("expected error for duplicate registration")
	}
}

func TestRegistry_Get(t *testing.T) {
	r := NewRegistry()

	mock := &mockNotifier{name: "test"}
	r.Register(mock)

	n, err := r.Get("test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.Name() != "test" {
		t.Errorf("expected 'test', got '%s'", n.Name())
	}

	// Non-existent notifier
	_, err = r.Get("nonexistent")
	if err == nil {
		t.Error("expected error for non-existent notifier")
	}
}

func TestRegistry_GetAll(t *testing.T) {
	r := NewRegistry()

	r.Register(&mockNotifier{name: "b"})
	r.Register(&mockNotifier{name: "a"})

	all := r.GetAll()
	if len(all) != 2 || all[0].Name() != "a" {
		t.Errorf("expected 2 notifiers sorted by name, got %d", len(all))
	}
}

func TestRegistry_NotifyAll(t *testing.T) {
	r := NewRegistry()

	mock1 := &mockNotifier{name: "n1"}
	mock2 := &mockNotifier{name: "n2"}
	r.Register(mock1)
	r.Register(mock2)

	a := alert.Alert{Rule: "max_drawdown", Severity: alert.SeverityCritical}
	errs := r.NotifyAll(a)

	if len(errs) != 0 {
		t.Errorf("expected no errors, got %v", errs)
	}

	if mock1.sendCalled != 1 {
		t.Errorf("expected mock1.sendCalled = 1, got %d", mock1.sendCalled)
	}
	if mock2.sendCalled != 1 {
		t.Errorf("expected mock2.sendCalled = 1, got %d", mock2.sendCalled)
	}
}

func TestRegistry_NotifyAll_WithFailure(t *testing.T) {
	r := NewRegistry()

	mock1 := &mockNotifier{name: "n1"}
	mock2 := &mockNotifier{name: "n2", shouldFail: true}
	r.Register(mock1)
	r.Register(mock2)

	errs := r.NotifyAll(alert.Alert{Rule: "heat"})

	if len(errs) != 1 {
		t.Errorf("expected 1 error, got %d", len(errs))
	}
	if _, ok := errs["n2"]; !ok {
		t.Error("expected error from n2")
	}
}

func TestRegistry_NotifyAllBatch(t *testing.T) {
	r := NewRegistry()

	mock := &mockNotifier{name: "batch"}
	r.Register(mock)

	alerts := []alert.Alert{{Rule: "a"}, {Rule: "b"}}
	errs := r.NotifyAllBatch(alerts)

	if len(errs) != 0 {
		t.Errorf("expected no errors, got %v", errs)
	}
	if mock.batchCalls != 1 {
		t.Errorf("expected batchCalls = 1, got %d", mock.batchCalls)
	}
}

func TestRegistry_AsAlertNotifier(t *testing.T) {
	r := NewRegistry()
	ok := &mockNotifier{name: "ok"}
	r.Register(ok)

	var n alert.Notifier = r
	if err := n.Notify(alert.Alert{Rule: "x"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	r.Register(&mockNotifier{name: "broken", shouldFail: true})
	err := n.Notify(alert.Alert{Rule: "x"})
	if err == nil {
		t.Fatal("expected joined delivery error")
	}
	if ok.sendCalled != 2 {
		t.Errorf("expected healthy notifier to receive both alerts, got %d", ok.sendCalled)
	}
}

func TestRegistry_MinSeverity(t *testing.T) {
	r := NewRegistry()

	all := &mockNotifier{name: "log"}
	pager := &mockNotifier{name: "pager"}
	if err := r.Register(all); err != nil {
		t.Fatal(err)
	}
	if err := r.RegisterMin(pager, alert.SeverityCritical); err != nil {
		t.Fatal(err)
	}

	r.NotifyAll(alert.Alert{Rule: "heat", Severity: alert.SeverityWarning})
	r.NotifyAll(alert.Alert{Rule: "max_drawdown", Severity: alert.SeverityCritical})

	if all.sendCalled != 2 {
		t.Errorf("expected log notifier to get 2 alerts, got %d", all.sendCalled)
	}
	if pager.sendCalled != 1 {
		t.Errorf("expected pager to get only the critical alert, got %d", pager.sendCalled)
	}

	r.NotifyAllBatch([]alert.Alert{{Rule: "heat", Severity: alert.SeverityInfo}})
	if pager.batchCalls != 0 {
		t.Errorf("expected pager to skip an info-only batch, got %d calls", pager.batchCalls)
	}
	if all.batchCalls != 1 {
		t.Errorf("expected 1 batch call, got %d", all.batchCalls)
	}
}
