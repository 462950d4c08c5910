package timeframe

import (
	"math"
	"sort"
	"time"

	"github.com/newthinker/signalflow/internal/core"
)

// Contribution summarizes what one secondary timeframe says about a primary signal
type Contribution struct {
	Timeframe    string  `json:"timeframe"`
	Count        int     `json:"count"`
	Strength     float64 `json:"strength"`
	Direction    int     `json:"direction"`
	Confidence   float64 `json:"confidence"`
	Contributing bool    `json:"contributing"`
}

// AlignmentQuality averages max(0, 1 - |dt|/skew) over every pair of
// timeframes' last bar times. A zero time marks a timeframe without bars
// and scores 0 against every other. Fewer than two timeframes align
// perfectly.
func AlignmentQuality(last map[string]time.Time, skew time.Duration) float64 {
	tfs := make([]string, 0, len(last))
	for tf := range last {
		tfs = append(tfs, tf)
	}
	if len(tfs) < 2 || skew <= 0 {
		return 1
	}
	sort.Strings(tfs)

	var sum float64
	var pairs int
	for i := 0; i < len(tfs); i++ {
		for j := i + 1; j < len(tfs); j++ {
			a, b := last[tfs[i]], last[tfs[j]]
			pairs++
			if a.IsZero() || b.IsZero() {
				continue
			}
			dt := a.Sub(b)
			if dt < 0 {
				dt = -dt
			}
			sum += math.Max(0, 1-float64(dt)/float64(skew))
		}
	}
	return sum / float64(pairs)
}

// Analyze measures how one secondary timeframe's signals around the primary
// signal's time agree with it.
func Analyze(primary core.Signal, tf string, secondary []core.Signal, cfg Config) Contribution {
	cfg = cfg.WithDefaults()
	c := Contribution{Timeframe: tf}

	counts := make(map[core.Action]int)
	for _, s := range secondary {
		if s.Symbol != primary.Symbol {
			continue
		}
		dt := s.GeneratedAt.Sub(primary.GeneratedAt)
		if dt < -cfg.Window || dt > cfg.Window {
			continue
		}
		counts[s.Action]++
		c.Count++
	}
	if c.Count == 0 {
		return c
	}

	var majority core.Action
	best, tied := 0, false
	for _, a := range []core.Action{core.ActionBuy, core.ActionSell, core.ActionHold} {
		switch n := counts[a]; {
		case n > best:
			majority, best, tied = a, n, false
		case n == best && n > 0:
			tied = true
		}
	}

	c.Strength = float64(best) / float64(c.Count)
	if !tied {
		c.Direction = majority.Direction()
	}
	c.Confidence = math.Min(1, float64(c.Count)/10)
	if c.Direction != 0 && c.Direction == primary.Action.Direction() {
		c.Confidence = math.Min(1, c.Confidence*cfg.AgreementBoost)
	}
	c.Contributing = c.Strength > cfg.ContributionThreshold
	return c
}

// FusedConfidence averages confidence and strength over contributing
// timeframes. It reports false when nothing contributes.
func FusedConfidence(contribs []Contribution) (float64, bool) {
	var sum float64
	var n int
	for _, c := range contribs {
		if !c.Contributing {
			continue
		}
		sum += c.Confidence + c.Strength
		n += 2
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// Fuse rewrites primary signals using the secondary timeframes' signals.
// A primary signal with at least one contributing timeframe gets the fused
// confidence and is marked Fused; others pass through unchanged.
func Fuse(primary []core.Signal, secondary map[string][]core.Signal, cfg Config) ([]core.Signal, map[string][]Contribution) {
	cfg = cfg.WithDefaults()
	tfs := make([]string, 0, len(secondary))
	for tf := range secondary {
		tfs = append(tfs, tf)
	}
	sort.Strings(tfs)

	out := make([]core.Signal, 0, len(primary))
	contributions := make(map[string][]Contribution, len(primary))
	for _, p := range primary {
		contribs := make([]Contribution, 0, len(tfs))
		for _, tf := range tfs {
			contribs = append(contribs, Analyze(p, tf, secondary[tf], cfg))
		}
		contributions[p.ID] = contribs

		sig := p.Clone()
		if conf, ok := FusedConfidence(contribs); ok {
			sig.Confidence = conf
			sig.Fused = true
			if sig.Metadata == nil {
				sig.Metadata = make(map[string]any)
			}
			sig.Metadata["primary_confidence"] = p.Confidence
			sig.Metadata["timeframe_contributions"] = contribs
		}
		out = append(out, sig)
	}
	return out, contributions
}

type dedupKey struct {
	symbol string
	action core.Action
	bucket int64
}

// Dedup collapses signals sharing symbol, action and time bucket. Non-fused
// signals win over fused ones, then the earliest signal wins. Output keeps
// the order of first appearance.
func Dedup(signals []core.Signal, bucket time.Duration) []core.Signal {
	if bucket <= 0 {
		bucket = DefaultConfig().DedupBucket
	}
	index := make(map[dedupKey]int)
	var out []core.Signal
	for _, s := range signals {
		k := dedupKey{
			symbol: s.Symbol,
			action: s.Action,
			bucket: floorDiv(s.GeneratedAt.UnixNano(), int64(bucket)),
		}
		i, seen := index[k]
		if !seen {
			index[k] = len(out)
			out = append(out, s)
			continue
		}
		if prefer(s, out[i]) {
			out[i] = s
		}
	}
	return out
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && a < 0 {
		q--
	}
	return q
}

func prefer(candidate, current core.Signal) bool {
	if candidate.Fused != current.Fused {
		return !candidate.Fused
	}
	return candidate.GeneratedAt.Before(current.GeneratedAt)
}
