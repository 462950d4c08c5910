package alert

import (
	"sync"
	"time"
)

// Alert is a fired rule, enriched with what it affects
type Alert struct {
	ID           string    `json:"id"`
	Time         time.Time `json:"time"`
	Rule         string    `json:"rule"`
	Severity     string    `json:"severity"`
	Category     string    `json:"category"`
	Message      string    `json:"message"`
	Value        float64   `json:"value"`
	Strategies   []string  `json:"strategies,omitempty"`
	Positions    []string  `json:"positions,omitempty"`
	Recommended  []string  `json:"recommended,omitempty"`
	AutoAction   string    `json:"auto_action,omitempty"`
	AutoActioned bool      `json:"auto_actioned"`
}

// DefaultLogSize is the number of alerts kept when no size is given
const DefaultLogSize = 100

// Log is a bounded rolling log of alerts. The oldest entries are dropped
// once the log is full.
type Log struct {
	mu    sync.RWMutex
	items []Alert
	size  int
}

// NewLog creates a log holding at most size alerts
func NewLog(size int) *Log {
	if size <= 0 {
		size = DefaultLogSize
	}
	return &Log{size: size}
}

// Append adds alerts, evicting the oldest past capacity
func (l *Log) Append(alerts ...Alert) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = append(l.items, alerts...)
	if over := len(l.items) - l.size; over > 0 {
		l.items = append([]Alert(nil), l.items[over:]...)
	}
}

// All returns a copy of the log, oldest first
func (l *Log) All() []Alert {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Alert, len(l.items))
	copy(out, l.items)
	return out
}

// Len returns the number of alerts held
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

// CountBySeverity counts held alerts per severity
func (l *Log) CountBySeverity() map[string]int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]int)
	for _, a := range l.items {
		out[a.Severity]++
	}
	return out
}
