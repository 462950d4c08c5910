// Package market keeps bounded rolling windows of bars for strategy evaluation.
package market

import (
	"sync"

	"github.com/newthinker/signalflow/internal/core"
)

// DefaultLookback is used when a buffer is created with a non-positive lookback.
const DefaultLookback = 500

// Buffer is a bounded rolling window of bars for one symbol and timeframe.
// The oldest bar is evicted once the lookback is exceeded.
type Buffer struct {
	lookback int
	bars     []core.Bar
}

// NewBuffer creates a buffer holding at most lookback bars
func NewBuffer(lookback int) *Buffer {
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	return &Buffer{
		lookback: lookback,
		bars:     make([]core.Bar, 0, lookback),
	}
}

// Append adds a bar. A bar with the same timestamp as the last one replaces it;
// bars older than the last one are ignored and Append returns false.
func (b *Buffer) Append(bar core.Bar) bool {
	if n := len(b.bars); n > 0 {
		last := b.bars[n-1].Time
		switch {
		case bar.Time.Equal(last):
			b.bars[n-1] = bar
			return true
		case bar.Time.Before(last):
			return false
		}
	}

	b.bars = append(b.bars, bar)
	if len(b.bars) > b.lookback {
		b.bars = b.bars[len(b.bars)-b.lookback:]
	}
	return true
}

// Bars returns a copy of the buffered bars, oldest first
func (b *Buffer) Bars() []core.Bar {
	out := make([]core.Bar, len(b.bars))
	copy(out, b.bars)
	return out
}

// Len returns the number of buffered bars
func (b *Buffer) Len() int {
	return len(b.bars)
}

// Last returns the most recent bar
func (b *Buffer) Last() (core.Bar, bool) {
	if len(b.bars) == 0 {
		return core.Bar{}, false
	}
	return b.bars[len(b.bars)-1], true
}

type key struct {
	symbol    string
	timeframe string
}

// Set holds one Buffer per (symbol, timeframe) pair.
type Set struct {
	lookback int
	buffers  map[key]*Buffer
	mu       sync.RWMutex
}

// NewSet creates an empty buffer set
func NewSet(lookback int) *Set {
	return &Set{
		lookback: lookback,
		buffers:  make(map[key]*Buffer),
	}
}

// Append routes a bar to its buffer, creating it on first use
func (s *Set) Append(bar core.Bar) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{bar.Symbol, bar.Timeframe}
	buf, ok := s.buffers[k]
	if !ok {
		buf = NewBuffer(s.lookback)
		s.buffers[k] = buf
	}
	return buf.Append(bar)
}

// Bars returns a copy of the buffer for symbol and timeframe
func (s *Set) Bars(symbol, timeframe string) []core.Bar {
	s.mu.RLock()
	defer s.mu.RUnlock()

	buf, ok := s.buffers[key{symbol, timeframe}]
	if !ok {
		return nil
	}
	return buf.Bars()
}

// LastPrices returns the latest close for every symbol, taking the most
// recent bar across timeframes.
func (s *Set) LastPrices() map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prices := make(map[string]float64)
	latest := make(map[string]core.Bar)
	for k, buf := range s.buffers {
		bar, ok := buf.Last()
		if !ok {
			continue
		}
		if prev, seen := latest[k.symbol]; !seen || bar.Time.After(prev.Time) {
			latest[k.symbol] = bar
			prices[k.symbol] = bar.Close
		}
	}
	return prices
}
