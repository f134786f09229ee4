package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/shardkit/gateway/rest"
)

// GatewayCapacity is fetched from REST once and refreshed when its reset
// window elapses (§3).
type GatewayCapacity struct {
	URL               string
	Shards            int
	SessionStartLimit SessionStartLimit
	fetchedAt         time.Time
}

// SessionStartLimit is the session-start budget governing how many
// identifies the bot may perform per rolling window (§3, §6).
type SessionStartLimit struct {
	Total          int
	Remaining      int
	ResetAfter     time.Duration
	MaxConcurrency int
}

// capacityCache guards a GatewayCapacity shared between the Manager and
// every Shard it owns (§5: "shared between Manager and all Shards; guarded
// by mutex; read-mostly").
type capacityCache struct {
	mu     sync.Mutex
	client rest.Client
	cached *GatewayCapacity
}

func newCapacityCache(client rest.Client) *capacityCache {
	return &capacityCache{client: client}
}

// fetch implements §4.5's fetch_capacity(): returns the cached value if its
// reset window has not elapsed, otherwise refreshes it from REST.
func (c *capacityCache) fetch(ctx context.Context) (*GatewayCapacity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached != nil && time.Since(c.cached.fetchedAt) < c.cached.SessionStartLimit.ResetAfter {
		return c.cached, nil
	}

	resp, err := c.client.GetGatewayBot(ctx)
	if err != nil {
		return nil, &RequestError{Endpoint: "/gateway/bot", Err: err}
	}

	c.cached = &GatewayCapacity{
		URL:    resp.URL,
		Shards: resp.Shards,
		SessionStartLimit: SessionStartLimit{
			Total:          resp.SessionStartLimit.Total,
			Remaining:      resp.SessionStartLimit.Remaining,
			ResetAfter:     time.Duration(resp.SessionStartLimit.ResetAfter) * time.Millisecond,
			MaxConcurrency: resp.SessionStartLimit.MaxConcurrency,
		},
		fetchedAt: time.Now(),
	}

	return c.cached, nil
}

// url returns the cached gateway URL, failing if nothing has been fetched yet.
func (c *capacityCache) url() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached == nil {
		return "", &ManagerError{Action: "dial", Err: errCapacityNotFetched}
	}

	return c.cached.URL, nil
}

var errCapacityNotFetched = errors.New("capacity has not been fetched yet")

// Manager discovers gateway capacity, enumerates shards, partitions them
// into concurrency Buckets, and orchestrates their lifecycle (§4.5).
type Manager struct {
	opts     ShardOptions
	capacity *capacityCache

	mu      sync.RWMutex
	buckets []*Bucket
	shards  map[int]*Shard

	log zerolog.Logger
}

// NewManager builds a Manager from cfg, using client as the REST collaborator.
func NewManager(cfg Config, client rest.Client) *Manager {
	cache := newCapacityCache(client)
	log := Logger.With().Str("component", "manager").Logger()

	return &Manager{
		capacity: cache,
		opts: ShardOptions{
			Token:          cfg.Token,
			Intents:        cfg.Intents,
			Properties:     cfg.properties(),
			Presence:       cfg.Presence,
			LargeThreshold: cfg.LargeThreshold,
			Capacity:       cache,
			Identify:       nil, // built once capacity is known (needs max_concurrency)
			Logger:         Logger,
		},
		shards: make(map[int]*Shard),
		log:    log,
	}
}

// ShardIDs returns the shard range [0, capacity.shards), or [0, overrideCount)
// when overrideCount > 0 (§4.5). The capacity it reads is the cached one; the
// slice itself is not memoized and is rebuilt on every call.
func (m *Manager) ShardIDs(ctx context.Context, overrideCount int) ([]int, error) {
	capacity, err := m.capacity.fetch(ctx)
	if err != nil {
		return nil, err
	}

	count := capacity.Shards
	if overrideCount > 0 {
		count = overrideCount
	}

	ids := make([]int, count)
	for i := range ids {
		ids[i] = i
	}

	return ids, nil
}

// Shards returns every Shard the Manager has built, in no particular order;
// it is empty until Connect has partitioned the shards into Buckets.
func (m *Manager) Shards() []*Shard {
	m.mu.RLock()
	defer m.mu.RUnlock()

	shards := make([]*Shard, 0, len(m.shards))
	for _, s := range m.shards {
		shards = append(shards, s)
	}

	return shards
}

// Bucket returns the Bucket containing shardID, or nil.
func (m *Manager) Bucket(shardID int) *Bucket {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, b := range m.buckets {
		if b.owns(shardID) {
			return b
		}
	}

	return nil
}

// Connect implements §4.5's connect(event_handler): fetches capacity,
// partitions shards into Buckets sized max_concurrency, connects every
// Bucket sequentially, then blocks until ctx is canceled.
func (m *Manager) Connect(ctx context.Context, handler EventHandler, shardCount int) error {
	capacity, err := m.capacity.fetch(ctx)
	if err != nil {
		m.log.Error().Err(err).Msg("fetch capacity failed")

		return &ManagerError{Action: "fetch_capacity", Err: err}
	}

	ids, err := m.ShardIDs(ctx, shardCount)
	if err != nil {
		m.log.Error().Err(err).Msg("shard ids failed")

		return &ManagerError{Action: "shard_ids", Err: err}
	}

	if len(ids) > capacity.SessionStartLimit.Remaining {
		err := &NotEnoughSessionsRemainingError{
			Remaining: capacity.SessionStartLimit.Remaining,
			Shards:    len(ids),
		}
		m.log.Error().Err(err).Msg("not enough sessions remaining")

		return err
	}

	m.log.Info().Int("shards", len(ids)).Int("max_concurrency", capacity.SessionStartLimit.MaxConcurrency).Msg("connecting")

	m.mu.Lock()
	m.opts.Handler = handler
	m.opts.Identify = NewIdentifyQueue(capacity.SessionStartLimit.MaxConcurrency)
	opts := m.opts
	m.mu.Unlock()

	buckets := partitionBuckets(ctx, ids, capacity.SessionStartLimit.MaxConcurrency, opts)

	m.mu.Lock()
	m.buckets = buckets
	for _, b := range buckets {
		for _, w := range b.workers {
			m.shards[w.shard.ID()] = w.shard
		}
	}
	m.mu.Unlock()

	for _, b := range buckets {
		if err := b.connect(ctx); err != nil {
			m.log.Error().Err(err).Msg("bucket connect failed")

			return &ManagerError{Action: "bucket connect", Err: err}
		}
	}

	m.log.Info().Msg("all buckets connected")

	<-ctx.Done()

	return ctx.Err()
}

// Destroy fans a Destroy(frame) out to every Bucket (§4.5).
func (m *Manager) Destroy(ctx context.Context, frame *CloseFrame) error {
	m.log.Info().Msg("destroying")

	m.mu.RLock()
	buckets := m.buckets
	m.mu.RUnlock()

	for _, b := range buckets {
		if err := b.destroy(ctx, frame); err != nil {
			m.log.Error().Err(err).Msg("bucket destroy failed")

			return &ManagerError{Action: "bucket destroy", Err: err}
		}
	}

	return nil
}

func partitionBuckets(ctx context.Context, ids []int, maxConcurrency int, opts ShardOptions) []*Bucket {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}

	var buckets []*Bucket

	for start := 0; start < len(ids); start += maxConcurrency {
		end := start + maxConcurrency
		if end > len(ids) {
			end = len(ids)
		}

		buckets = append(buckets, NewBucket(ctx, ids[start:end], len(ids), opts))
	}

	return buckets
}
