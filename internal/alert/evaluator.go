package alert

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Notifier interface for sending alerts.
type Notifier interface {
	Name() string
	Notify(a Alert) error
}

// Evaluator evaluates alert rules and sends notifications.
type Evaluator struct {
	notifiers []Notifier
	metrics   map[string]float64
	cooldown  time.Duration
	limiter   *rate.Limiter
	logger    *zap.Logger

	// Track pending alerts (waiting for "for" duration)
	pending map[string]time.Time
	// Track last fired time for cooldown
	lastFired map[string]time.Time
	// Notifications dropped by the rate limiter
	dropped int

	// For testing: allow time advancement
	now func() time.Time

	mu sync.RWMutex
}

// NewEvaluator creates a new alert evaluator.
func NewEvaluator(notifiers []Notifier) *Evaluator {
	return &Evaluator{
		notifiers: notifiers,
		metrics:   make(map[string]float64),
		cooldown:  5 * time.Minute,
		limiter:   rate.NewLimiter(rate.Inf, 0),
		logger:    zap.NewNop(),
		pending:   make(map[string]time.Time),
		lastFired: make(map[string]time.Time),
		now:       time.Now,
	}
}

// SetMetrics updates the current metrics.
func (e *Evaluator) SetMetrics(metrics map[string]float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.metrics = metrics
}

// SetCooldown sets the cooldown duration between alerts.
func (e *Evaluator) SetCooldown(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cooldown = d
}

// SetRateLimit bounds outgoing notifications to r per second with burst.
// Alerts over the limit are still returned; only delivery is skipped.
func (e *Evaluator) SetRateLimit(r rate.Limit, burst int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.limiter = rate.NewLimiter(r, burst)
}

// SetLogger sets the logger used for delivery failures.
func (e *Evaluator) SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.logger = logger
}

// SetClock replaces the evaluator's time source.
func (e *Evaluator) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}

// AddNotifier registers another delivery target.
func (e *Evaluator) AddNotifier(n Notifier) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.notifiers = append(e.notifiers, n)
}

// Dropped returns how many notifications the rate limiter has skipped.
func (e *Evaluator) Dropped() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dropped
}

// Evaluate evaluates a single rule and fires notification if triggered.
// It returns the fired alert, if any.
func (e *Evaluator) Evaluate(rule Rule) (Alert, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()

	// Check if rule condition is met
	if !rule.Evaluate(e.metrics) {
		// Rule not triggered, clear pending state
		delete(e.pending, rule.Name)
		return Alert{}, false
	}

	// Rule is triggered
	if rule.For > 0 {
		// Check if we're already pending
		pendingSince, isPending := e.pending[rule.Name]
		if !isPending {
			// Start pending
			e.pending[rule.Name] = now
			return Alert{}, false
		}

		// Check if pending duration exceeded
		if now.Sub(pendingSince) < rule.For {
			return Alert{}, false // Still waiting
		}
	}

	// Check cooldown
	lastFired, hasFired := e.lastFired[rule.Name]
	if hasFired && now.Sub(lastFired) < e.cooldown {
		return Alert{}, false // In cooldown
	}

	// Fire alert
	a := Alert{
		ID:          uuid.NewString(),
		Time:        now,
		Rule:        rule.Name,
		Severity:    rule.Severity,
		Category:    rule.Category,
		Message:     rule.FormatMessage(e.metrics),
		Value:       e.metrics[rule.Metric()],
		Recommended: append([]string(nil), rule.Recommended...),
		AutoAction:  rule.AutoAction,
	}

	e.lastFired[rule.Name] = now
	delete(e.pending, rule.Name)
	return a, true
}

// EvaluateAll evaluates all rules and returns the alerts that fired.
// Notifications are not sent; see Dispatch.
func (e *Evaluator) EvaluateAll(rules []Rule) []Alert {
	var fired []Alert
	for _, rule := range rules {
		if a, ok := e.Evaluate(rule); ok {
			fired = append(fired, a)
		}
	}
	return fired
}

// Dispatch delivers alerts to every notifier, subject to the rate limit.
func (e *Evaluator) Dispatch(alerts []Alert) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, a := range alerts {
		if !e.limiter.AllowN(e.now(), 1) {
			e.dropped++
			e.logger.Warn("alert notification rate limited",
				zap.String("rule", a.Rule),
				zap.String("severity", a.Severity),
			)
			continue
		}
		for _, n := range e.notifiers {
			if err := n.Notify(a); err != nil {
				e.logger.Error("alert notification failed",
					zap.String("notifier", n.Name()),
					zap.String("rule", a.Rule),
					zap.Error(err),
				)
			}
		}
	}
}

// advanceTime is for testing - advances the internal clock.
func (e *Evaluator) advanceTime(d time.Duration) {
	oldNow := e.now
	e.now = func() time.Time {
		return oldNow().Add(d)
	}
}
