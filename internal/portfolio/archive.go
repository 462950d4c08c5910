package portfolio

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/newthinker/signalflow/internal/alert"
	"github.com/newthinker/signalflow/internal/core"
	"github.com/newthinker/signalflow/internal/storage/archive"
)

// CycleSnapshot is the archived record of one cycle
type CycleSnapshot struct {
	Summary CycleSummary               `json:"summary"`
	State   State                      `json:"state"`
	Results map[string]ExecutionResult `json:"results"`
	Alerts  []alert.Alert              `json:"alerts,omitempty"`
}

// archiveCycle writes the cycle snapshot to the archive. Failures are
// logged and never fail the cycle.
func (p *Portfolio) archiveCycle(ctx context.Context, results map[string]ExecutionResult, fired []alert.Alert) {
	if p.archive == nil {
		return
	}
	snap := CycleSnapshot{
		Summary: p.last,
		State:   p.state.Clone(),
		Results: results,
		Alerts:  fired,
	}
	key := archive.SnapshotKey(p.now(), p.state.Cycle)

	data, err := json.Marshal(snap)
	if err == nil {
		err = p.archive.Write(ctx, key, data)
	}
	if err != nil {
		p.logger.Error("snapshot archive failed",
			zap.String("key", key),
			zap.Error(core.WrapError(core.ErrArchiveFailed, err)),
		)
		return
	}
	p.logger.Debug("snapshot archived", zap.String("key", key), zap.Int("bytes", len(data)))
}

// LoadSnapshot reads an archived cycle snapshot
func LoadSnapshot(ctx context.Context, store archive.Storage, key string) (CycleSnapshot, error) {
	var snap CycleSnapshot
	data, err := store.Read(ctx, key)
	if err != nil {
		return snap, core.WrapError(core.ErrArchiveFailed, err)
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, core.WrapError(core.ErrArchiveFailed, err)
	}
	return snap, nil
}
