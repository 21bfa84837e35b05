// Package cluster folds per-node counter snapshots into the coordinator's
// view of the cluster before they are differenced.
package cluster

import (
	"go.uber.org/zap"

	"memsqltop/collector"
	"memsqltop/schema"
)

// Aggregator merges worker snapshots into a coordinator snapshot.
type Aggregator struct {
	profile *schema.Profile
	summed  []string
	log     *zap.Logger
}

// NewAggregator returns an aggregator for a profile with a correlation
// function.
func NewAggregator(profile *schema.Profile, log *zap.Logger) *Aggregator {
	var summed []string
	seen := make(map[string]bool)
	for _, f := range profile.Fields {
		if f.Aggregate == schema.Sum && f.Numeric() && !seen[f.Column] {
			seen[f.Column] = true
			summed = append(summed, f.Column)
		}
	}
	return &Aggregator{profile: profile, summed: summed, log: log}
}

// Merge returns a new snapshot holding the coordinator's records with the
// resource counters of every correlated worker record added in. Outcome
// counters keep the coordinator's value; summing them would count each
// execution once per node. Inputs are not modified.
func (a *Aggregator) Merge(coordinator collector.Snapshot, workers ...collector.Snapshot) collector.Snapshot {
	out := collector.NewSnapshot(coordinator.TakenAt)
	for k, r := range coordinator.Records {
		out.Records[k] = r
	}
	if a.profile.Correlate == nil || len(a.summed) == 0 {
		return out
	}

	cloned := make(map[schema.EntityKey]bool)
	dropped := 0
	for _, w := range workers {
		for wk, wr := range w.Records {
			ck, ok := a.profile.Correlate(wk)
			if !ok {
				dropped++
				continue
			}
			cr, ok := out.Records[ck]
			if !ok {
				// No coordinator-visible counterpart, e.g. a leaf-local query.
				dropped++
				continue
			}
			if !cloned[ck] {
				cr = cr.Clone()
				out.Records[ck] = cr
				cloned[ck] = true
			}
			for _, col := range a.summed {
				cv, cok := cr[col].Num()
				wv, wok := wr[col].Num()
				if cok && wok {
					cr[col] = schema.Number(cv + wv)
				}
			}
		}
	}
	if dropped > 0 {
		a.log.Debug("worker records without coordinator counterpart", zap.Int("dropped", dropped))
	}
	return out
}
