package cluster

import (
	"context"
	"fmt"
	"strconv"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"memsqltop/collector"
	"memsqltop/storage"
)

const showLeaves = "show leaves"

// Leaf is a worker node as reported by the coordinator.
type Leaf struct {
	Host string
	Port int
}

func (l Leaf) String() string { return fmt.Sprintf("%s:%d", l.Host, l.Port) }

// Discover lists the cluster's leaves through the coordinator.
func Discover(ctx context.Context, conn storage.Conn) ([]Leaf, error) {
	rows, err := conn.Query(ctx, showLeaves)
	if err != nil {
		return nil, errors.Wrap(err, "list leaves")
	}
	defer rows.Close()

	var leaves []Leaf
	for rows.Next() {
		row, err := rows.Row()
		if err != nil {
			return nil, err
		}
		host, ok := row["Host"].(string)
		if !ok {
			return nil, errors.Newf("leaf row without host: %v", row)
		}
		port, err := strconv.Atoi(fmt.Sprint(row["Port"]))
		if err != nil {
			return nil, errors.Wrapf(err, "leaf %s port", host)
		}
		leaves = append(leaves, Leaf{Host: host, Port: port})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "list leaves")
	}
	return leaves, nil
}

// Source snapshots the coordinator and every worker and merges them. Each
// fetcher keeps its own connection, so the fetches of one cycle run in
// parallel without sharing a connection.
type Source struct {
	coordinator collector.Source
	workers     []collector.Source
	agg         *Aggregator
}

// NewSource returns a multi-node source.
func NewSource(coordinator collector.Source, workers []collector.Source, agg *Aggregator) *Source {
	return &Source{coordinator: coordinator, workers: workers, agg: agg}
}

// Snapshot implements collector.Source.
func (s *Source) Snapshot(ctx context.Context) (collector.Snapshot, error) {
	var coord collector.Snapshot
	workers := make([]collector.Snapshot, len(s.workers))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		coord, err = s.coordinator.Snapshot(gctx)
		return errors.Wrap(err, "coordinator")
	})
	for i, w := range s.workers {
		g.Go(func() error {
			var err error
			workers[i], err = w.Snapshot(gctx)
			return errors.Wrapf(err, "worker %d", i)
		})
	}
	if err := g.Wait(); err != nil {
		return collector.Snapshot{}, err
	}
	return s.agg.Merge(coord, workers...), nil
}
