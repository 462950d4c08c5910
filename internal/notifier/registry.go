package notifier

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/newthinker/signalflow/internal/alert"
)

// Registry manages notifier instances. Each notifier receives only alerts
// at or above its minimum severity.
type Registry struct {
	mu        sync.RWMutex
	notifiers map[string]Notifier
	minRank   map[string]int
}

// NewRegistry creates a new notifier registry
func NewRegistry() *Registry {
	return &Registry{
		notifiers: make(map[string]Notifier),
		minRank:   make(map[string]int),
	}
}

// Register adds a notifier that receives every alert
func (r *Registry) Register(n Notifier) error {
	return r.RegisterMin(n, alert.SeverityInfo)
}

// RegisterMin adds a notifier that receives alerts of minSeverity and above
func (r *Registry) RegisterMin(n Notifier, minSeverity string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := n.Name()
	if _, exists := r.notifiers[name]; exists {
		return fmt.Errorf("notifier %s already registered", name)
	}

	r.notifiers[name] = n
	r.minRank[name] = alert.SeverityRank(minSeverity)
	return nil
}

// Get retrieves a notifier by name
func (r *Registry) Get(name string) (Notifier, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, exists := r.notifiers[name]
	if !exists {
		return nil, fmt.Errorf("notifier %s not found", name)
	}
	return n, nil
}

// GetAll returns all registered notifiers sorted by name
func (r *Registry) GetAll() []Notifier {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Notifier, 0, len(r.notifiers))
	for _, n := range r.notifiers {
		result = append(result, n)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name() < result[j].Name() })
	return result
}

// NotifyAll sends an alert to every notifier whose minimum severity it meets
func (r *Registry) NotifyAll(a alert.Alert) map[string]error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rank := alert.SeverityRank(a.Severity)
	errs := make(map[string]error)
	for name, n := range r.notifiers {
		if rank < r.minRank[name] {
			continue
		}
		if err := n.Send(a); err != nil {
			errs[name] = err
		}
	}
	return errs
}

// NotifyAllBatch sends each notifier the alerts that meet its minimum
// severity. Notifiers left with nothing to send are skipped.
func (r *Registry) NotifyAllBatch(alerts []alert.Alert) map[string]error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	errs := make(map[string]error)
	for name, n := range r.notifiers {
		var batch []alert.Alert
		for _, a := range alerts {
			if alert.SeverityRank(a.Severity) >= r.minRank[name] {
				batch = append(batch, a)
			}
		}
		if len(batch) == 0 {
			continue
		}
		if err := n.SendBatch(batch); err != nil {
			errs[name] = err
		}
	}
	return errs
}

// Name lets the registry act as a single alert.Notifier
func (r *Registry) Name() string { return "registry" }

// Notify fans the alert out and joins any delivery errors
func (r *Registry) Notify(a alert.Alert) error {
	errs := r.NotifyAll(a)
	if len(errs) == 0 {
		return nil
	}
	names := make([]string, 0, len(errs))
	for name := range errs {
		names = append(names, name)
	}
	sort.Strings(names)
	joined := make([]error, 0, len(names))
	for _, name := range names {
		joined = append(joined, fmt.Errorf("%s: %w", name, errs[name]))
	}
	return errors.Join(joined...)
}

var _ alert.Notifier = (*Registry)(nil)
