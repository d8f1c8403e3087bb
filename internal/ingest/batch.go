/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package ingest

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/linuxautomates/gitsei-sub041/internal/domain"
)

type processor interface {
	Process(ctx context.Context, in Input) (domain.ProcessingDecision, error)
}

type Outcome struct {
	Key      string                    `json:"key"`
	Decision domain.ProcessingDecision `json:"decision"`
	Err      error                     `json:"-"`
}

// keyStripes bounds the per-issue locks shared by concurrent batches.
const keyStripes = 256

// Runner processes a batch on a fixed number of workers. Inputs are
// partitioned by issue, so two snapshots of one issue always land on the same
// worker and run in input order. Batches running at the same time on one
// Runner also never process the same issue concurrently; across processes
// the caller has to route an issue to a single replica.
type Runner struct {
	proc    processor
	workers int
	log     zerolog.Logger
	keys    [keyStripes]sync.Mutex
}

func NewRunner(proc processor, workers int, log zerolog.Logger) *Runner {
	if workers < 1 {
		workers = 1
	}
	return &Runner{proc: proc, workers: workers, log: log}
}

// Run returns one outcome per input, in input order. A failed issue does not
// stop the others; a cancelled context fails the inputs not yet started.
func (r *Runner) Run(ctx context.Context, inputs []Input) []Outcome {
	out := make([]Outcome, len(inputs))
	parts := make([][]int, r.workers)
	for i, in := range inputs {
		w := partition(in, r.workers)
		parts[w] = append(parts[w], i)
	}

	var g errgroup.Group
	for _, idx := range parts {
		if len(idx) == 0 {
			continue
		}
		idx := idx
		g.Go(func() error {
			for _, i := range idx {
				in := inputs[i]
				out[i].Key = in.Snapshot.Key
				if err := ctx.Err(); err != nil {
					out[i].Err = err
					continue
				}
				mu := &r.keys[keyHash(in)%keyStripes]
				mu.Lock()
				dec, err := r.proc.Process(ctx, in)
				mu.Unlock()
				out[i].Decision, out[i].Err = dec, err
				if err != nil {
					r.log.Warn().Err(err).Str("tenant", in.Tenant).Str("key", in.Snapshot.Key).Msg("ingest: issue failed")
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func partition(in Input, n int) int {
	return int(keyHash(in) % uint32(n))
}

func keyHash(in Input) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(in.Tenant))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(in.IntegrationID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(in.Snapshot.Key))
	return h.Sum32()
}
