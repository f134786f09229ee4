package gateway

import (
	"context"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// worker owns one Shard and bridges the control/reply channel pair a
// supervisor uses to drive it (§4.4).
type worker struct {
	shard *Shard
}

func (w *worker) connect(ctx context.Context) error {
	select {
	case w.shard.control <- shardControl{kind: ctrlConnect}:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case reply := <-w.shard.reply:
		return reply.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *worker) destroy(ctx context.Context, frame *CloseFrame) error {
	select {
	case w.shard.control <- shardControl{kind: ctrlDestroy, frame: frame}:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case reply := <-w.shard.reply:
		return reply.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Bucket owns a contiguous run of ShardIds whose size equals
// max_concurrency: shards within one bucket may race through the
// IdentifyQueue simultaneously, matching the server's admission model
// (§4.4).
type Bucket struct {
	shardIDs []int
	workers  []*worker

	log zerolog.Logger
}

// NewBucket constructs a Bucket over shardIDs, spawning one Worker per
// shard whose event loop runs for the lifetime of ctx. shardCount is the
// total number of shards the owning Manager manages (needed by each
// Shard's Identify payload).
func NewBucket(ctx context.Context, shardIDs []int, shardCount int, opts ShardOptions) *Bucket {
	log := opts.Logger.With().Str("component", "bucket").Ints("shard_ids", shardIDs).Logger()

	workers := make([]*worker, 0, len(shardIDs))

	for _, id := range shardIDs {
		shard := NewShard(id, shardCount, opts)
		go shard.Run(ctx)

		workers = append(workers, &worker{shard: shard})
	}

	log.Debug().Msg("bucket ready")

	return &Bucket{shardIDs: shardIDs, workers: workers, log: log}
}

// owns reports whether shardID belongs to this bucket.
func (b *Bucket) owns(shardID int) bool {
	for _, id := range b.shardIDs {
		if id == shardID {
			return true
		}
	}

	return false
}

// connect sends Connect to every worker concurrently and awaits every
// Connected reply (§4.4). ctx only bounds this rendezvous; a worker's Shard
// keeps running under the context NewBucket was called with.
func (b *Bucket) connect(ctx context.Context) error {
	b.log.Debug().Msg("connecting bucket")

	group, groupCtx := errgroup.WithContext(ctx)

	for _, w := range b.workers {
		w := w

		group.Go(func() error {
			return w.connect(groupCtx)
		})
	}

	err := group.Wait()
	if err != nil {
		b.log.Error().Err(err).Msg("bucket connect failed")
	} else {
		b.log.Debug().Msg("bucket connected")
	}

	return err
}

// destroy sends Destroy(frame) to every worker concurrently and awaits every
// Destroyed acknowledgement (§4.4).
func (b *Bucket) destroy(ctx context.Context, frame *CloseFrame) error {
	b.log.Debug().Msg("destroying bucket")

	group, groupCtx := errgroup.WithContext(ctx)

	for _, w := range b.workers {
		w := w

		group.Go(func() error {
			return w.destroy(groupCtx, frame)
		})
	}

	err := group.Wait()
	if err != nil {
		b.log.Error().Err(err).Msg("bucket destroy failed")
	}

	return err
}
