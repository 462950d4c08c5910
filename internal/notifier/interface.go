// Package notifier delivers portfolio alerts to external channels.
package notifier

import (
	"github.com/newthinker/signalflow/internal/alert"
)

// Config holds notifier configuration
type Config struct {
	Type   string         `mapstructure:"type"`
	Params map[string]any `mapstructure:"params"`
}

// Notifier defines the interface for alert delivery
type Notifier interface {
	// Name returns the unique identifier for this notifier
	Name() string

	// Init initializes the notifier with configuration
	Init(cfg Config) error

	// Send sends a single alert
	Send(a alert.Alert) error

	// SendBatch sends multiple alerts as one message
	SendBatch(alerts []alert.Alert) error
}
