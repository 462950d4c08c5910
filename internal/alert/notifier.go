package alert

import (
	"strings"

	"go.uber.org/zap"
)

// LogNotifier writes alerts to a zap logger
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a notifier logging through logger
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Name() string { return "log" }

func (n *LogNotifier) Notify(a Alert) error {
	fields := []zap.Field{
		zap.String("rule", a.Rule),
		zap.String("category", a.Category),
		zap.Float64("value", a.Value),
	}
	if len(a.Strategies) > 0 {
		fields = append(fields, zap.Strings("strategies", a.Strategies))
	}
	if len(a.Recommended) > 0 {
		fields = append(fields, zap.String("recommended", strings.Join(a.Recommended, "; ")))
	}
	if a.AutoActioned {
		fields = append(fields, zap.String("auto_action", a.AutoAction))
	}

	switch a.Severity {
	case SeverityCritical:
		n.logger.Error(a.Message, fields...)
	case SeverityWarning:
		n.logger.Warn(a.Message, fields...)
	default:
		n.logger.Info(a.Message, fields...)
	}
	return nil
}
