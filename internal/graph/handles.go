package graph

import (
	"strings"

	"github.com/newthinker/signalflow/internal/indicator"
)

// handleTable maps editor output handles to indicator output keys. Positional
// handles follow indicator.Kind.Outputs; the named aliases are what authors
// type by hand.
var handleTable = map[indicator.Kind]map[string]string{
	indicator.KindMACD: {
		"output-1":  indicator.KeyMACDLine,
		"output-2":  indicator.KeySignalLine,
		"output-3":  indicator.KeyHistogram,
		"macd":      indicator.KeyMACDLine,
		"line":      indicator.KeyMACDLine,
		"signal":    indicator.KeySignalLine,
		"hist":      indicator.KeyHistogram,
		"histogram": indicator.KeyHistogram,
	},
	indicator.KindBollinger: {
		"output-1": indicator.KeyUpper,
		"output-2": indicator.KeyMiddle,
		"output-3": indicator.KeyLower,
		"upper":    indicator.KeyUpper,
		"middle":   indicator.KeyMiddle,
		"basis":    indicator.KeyMiddle,
		"lower":    indicator.KeyLower,
	},
	indicator.KindADX: {
		"output-1": indicator.KeyADX,
		"output-2": indicator.KeyPlusDI,
		"output-3": indicator.KeyMinusDI,
		"adx":      indicator.KeyADX,
		"+di":      indicator.KeyPlusDI,
		"-di":      indicator.KeyMinusDI,
	},
}

// resolveHandle returns the output key an edge's source handle refers to.
// An empty or unknown handle selects the primary output.
func resolveHandle(k indicator.Kind, handle string) string {
	outputs := k.Outputs()
	h := strings.ToLower(strings.TrimSpace(handle))
	if h == "" {
		return outputs[0]
	}
	for _, key := range outputs {
		if h == key {
			return key
		}
	}
	if table, ok := handleTable[k]; ok {
		if key, ok := table[h]; ok {
			return key
		}
	}
	return outputs[0]
}
