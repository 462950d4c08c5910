package alert

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Severity levels
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// SeverityRank orders severities; unknown values rank as info.
func SeverityRank(severity string) int {
	switch severity {
	case SeverityWarning:
		return 1
	case SeverityCritical:
		return 2
	default:
		return 0
	}
}

// Categories
const (
	CategoryRisk        = "risk"
	CategoryPerformance = "performance"
	CategoryCompliance  = "compliance"
	CategoryExecution   = "execution"
)

// exprPattern matches "metric op value"
var exprPattern = regexp.MustCompile(`^(\w+)\s*(>=|<=|==|!=|>|<)\s*(-?[\d.]+)$`)

// Rule defines an alert rule.
type Rule struct {
	Name     string        `mapstructure:"name"`
	Expr     string        `mapstructure:"expr"`
	For      time.Duration `mapstructure:"for"`
	Severity string        `mapstructure:"severity"`
	Category string        `mapstructure:"category"`
	Message  string        `mapstructure:"message"`
	// Recommended lists the actions suggested to an operator.
	Recommended []string `mapstructure:"recommended"`
	// AutoAction names an action the portfolio takes on its own when the
	// rule fires, e.g. "halt_entries".
	AutoAction string `mapstructure:"auto_action"`
}

type condition struct {
	metric    string
	op        string
	threshold float64
}

func (r *Rule) parse() (condition, error) {
	matches := exprPattern.FindStringSubmatch(strings.TrimSpace(r.Expr))
	if len(matches) != 4 {
		return condition{}, fmt.Errorf("alert rule %s: cannot parse %q", r.Name, r.Expr)
	}
	threshold, err := strconv.ParseFloat(matches[3], 64)
	if err != nil {
		return condition{}, fmt.Errorf("alert rule %s: bad threshold %q: %w", r.Name, matches[3], err)
	}
	return condition{metric: matches[1], op: matches[2], threshold: threshold}, nil
}

// Validate checks the rule's expression and severity
func (r *Rule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("alert rule: name is required")
	}
	if _, err := r.parse(); err != nil {
		return err
	}
	switch r.Severity {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return nil
	}
	return fmt.Errorf("alert rule %s: unknown severity %q", r.Name, r.Severity)
}

// Metric returns the metric the rule watches
func (r *Rule) Metric() string {
	c, err := r.parse()
	if err != nil {
		return ""
	}
	return c.metric
}

// Evaluate evaluates the rule expression against metrics.
func (r *Rule) Evaluate(metrics map[string]float64) bool {
	c, err := r.parse()
	if err != nil {
		return false
	}

	value, exists := metrics[c.metric]
	if !exists {
		return false
	}

	switch c.op {
	case ">":
		return value > c.threshold
	case "<":
		return value < c.threshold
	case ">=":
		return value >= c.threshold
	case "<=":
		return value <= c.threshold
	case "==":
		return value == c.threshold
	case "!=":
		return value != c.threshold
	default:
		return false
	}
}

// FormatMessage formats the alert message with the watched metric's value.
func (r *Rule) FormatMessage(metrics map[string]float64) string {
	msg := fmt.Sprintf("[%s] %s: %s", strings.ToUpper(r.Severity), r.Name, r.Message)
	if metric := r.Metric(); metric != "" {
		if v, ok := metrics[metric]; ok {
			msg += fmt.Sprintf(" (%s=%.4g)", metric, v)
		}
	}
	return msg
}
