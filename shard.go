package gateway

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// identifyRateLimitInterval is Discord's documented window over which
// max_concurrency Identify slots refill.
//
// Grounded on the pack's FlagGlobalRateLimitIdentifyInterval.
const identifyRateLimitInterval = 5 * time.Second

// GatewayBotResolver fetches the current Gateway URL and session start
// limit, mirroring GET /gateway/bot. It is a separate interface from
// HTTPClient so an embedder driving only a single unsharded session never
// needs to implement it.
type GatewayBotResolver interface {
	GatewayBot(ctx context.Context) (*GatewayBotResponse, error)
}

// ShardBuilder constructs the Delegate (and its wrapping *Session) for one
// shard. shardID/shardCount are baked into MainSession.shard by the caller.
type ShardBuilder func(shardID, shardCount int) (Runnable, error)

// ShardManager runs one Supervisor per shard, gating concurrent Identifies
// to the bot's max_concurrency using a semaphore whose slots are released
// back on a timer rather than immediately, since Discord buckets Identify
// by shard_id % max_concurrency over a rolling 5s window rather than by
// strict mutual exclusion.
//
// Grounded on wrapper/shard.go's ShardManager/ShardLimit and
// shard/instance.go's InstanceShardManager.Connect, generalized from
// "start once" to a supervised loop per shard (delegated to Supervisor).
type ShardManager struct {
	Resolver GatewayBotResolver
	Build    ShardBuilder

	// ShardCount overrides the resolver's recommended shard count when > 0.
	ShardCount int

	identifySem *semaphore.Weighted
}

// Run resolves the shard count and max_concurrency, then runs a Supervisor
// per shard concurrently, returning when ctx is done or any shard's
// Supervisor returns a fatal error (Wait returns the first such error and
// cancels the group's context, stopping the remaining shards).
func (sm *ShardManager) Run(ctx context.Context) error {
	info, err := sm.Resolver.GatewayBot(ctx)
	if err != nil {
		return fmt.Errorf("shardmanager: resolving gateway bot endpoint: %w", err)
	}

	shardCount := sm.ShardCount
	if shardCount <= 0 {
		shardCount = info.Shards
	}

	if shardCount <= 0 {
		shardCount = 1
	}

	concurrency := info.SessionStartLimit.MaxConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	sm.identifySem = semaphore.NewWeighted(int64(concurrency))

	group, groupCtx := errgroup.WithContext(ctx)

	for shardID := 0; shardID < shardCount; shardID++ {
		shardID, shardCount := shardID, shardCount

		group.Go(func() error {
			return sm.runShard(groupCtx, shardID, shardCount, info.URL)
		})
	}

	return group.Wait()
}

func (sm *ShardManager) runShard(ctx context.Context, shardID, shardCount int, endpoint string) error {
	sv := &Supervisor{
		Endpoint: func() string { return gatewayURL(endpoint) },
		NewSession: func() Runnable {
			return &gatedSession{sm: sm, shardID: shardID, shardCount: shardCount}
		},
	}

	return sv.Run(ctx)
}

// gatedSession wraps a freshly built shard's Runnable so Open's Identify
// path (resume == false) acquires an identify slot first, holding it for
// identifyRateLimitInterval before releasing it back to the semaphore — a
// Resume never consumes a slot, matching Discord's accounting.
type gatedSession struct {
	sm         *ShardManager
	shardID    int
	shardCount int

	inner Runnable
}

func (g *gatedSession) Open(ctx context.Context, endpoint string, resume bool) error {
	if !resume {
		if err := g.sm.identifySem.Acquire(ctx, 1); err != nil {
			return fmt.Errorf("shardmanager: awaiting an identify slot: %w", err)
		}

		go func() {
			t := time.NewTimer(identifyRateLimitInterval)
			defer t.Stop()
			<-t.C

			g.sm.identifySem.Release(1)
		}()
	}

	inner, err := g.sm.Build(g.shardID, g.shardCount)
	if err != nil {
		return fmt.Errorf("shardmanager: building shard %d: %w", g.shardID, err)
	}

	g.inner = inner

	return g.inner.Open(ctx, endpoint, resume)
}

func (g *gatedSession) Run(ctx context.Context) error { return g.inner.Run(ctx) }

func (g *gatedSession) Teardown(ctx context.Context) error { return g.inner.Teardown(ctx) }

func (g *gatedSession) SessionID() string {
	if g.inner == nil {
		return ""
	}

	return g.inner.SessionID()
}
