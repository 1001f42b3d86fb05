// Package redis implements the distributed frontier and URL-dedup backends
// described in spec.md's distributed mode: per-host sorted sets for
// priority ordering, a lease hash for in-flight items, and a shared visited
// set. The data model mirrors internal/crawlcore/frontier.go's
// LocalFrontier (per-host ordering, lease/complete/requeue semantics) and
// implements the same Frontier interface; the two differ in which record a
// Lease returns (see Frontier.Lease).
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/deepharvest/deepharvest/internal/crawlcore"
)

const (
	keyPrefix        = "deepharvest"
	hostsSetKey      = keyPrefix + ":hosts"
	leaseHashKey     = keyPrefix + ":leases"
	visitedSetKey    = keyPrefix + ":visited"
)

func hostQueueKey(host string) string {
	return fmt.Sprintf("%s:queue:%s", keyPrefix, host)
}

// Frontier implements crawlcore.Frontier on top of Redis sorted sets, one
// per host, without requiring every worker to share process memory.
type Frontier struct {
	rdb          *redis.Client
	leaseTimeout time.Duration
}

// NewFrontier wraps an existing go-redis client.
func NewFrontier(rdb *redis.Client, leaseTimeout time.Duration) *Frontier {
	if leaseTimeout <= 0 {
		leaseTimeout = crawlcore.LeaseDuration
	}
	return &Frontier{rdb: rdb, leaseTimeout: leaseTimeout}
}

type leasedRecord struct {
	Rec      crawlcore.URLRecord `json:"rec"`
	Deadline time.Time           `json:"deadline"`
}

// score encodes (-priority, depth, discoveredAt) into a single float64 so
// ZRANGE ascending order matches LocalFrontier's betterCandidate ordering:
// higher priority first, then shallower depth, then earlier discovery.
func score(rec crawlcore.URLRecord) float64 {
	depthComponent := float64(rec.Depth) / 1e6
	timeComponent := float64(rec.DiscoveredAt.UnixNano()) / 1e18
	return float64(-rec.Priority) + depthComponent + timeComponent
}

// Push adds rec to its host's sorted set unless an identical serialized
// record is already queued there. The lease hash is not checked, so a
// record that is currently leased can be queued again.
func (f *Frontier) Push(ctx context.Context, rec crawlcore.URLRecord) (bool, error) {
	if rec.DiscoveredAt.IsZero() {
		rec.DiscoveredAt = time.Now()
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("marshal record: %w", err)
	}
	pipe := f.rdb.TxPipeline()
	pipe.SAdd(ctx, hostsSetKey, rec.Host)
	added := pipe.ZAddNX(ctx, hostQueueKey(rec.Host), redis.Z{Score: score(rec), Member: string(payload)})
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("push to frontier: %w", err)
	}
	return added.Val() > 0, nil
}

// Lease pops the best-scoring entry from the first non-empty host queue in
// the order SMEMBERS returns the hosts set, and records it in the lease hash
// with an expiry. Hosts are not rotated, and the entry is the best of that
// one host, not the best across all hosts as LocalFrontier picks.
func (f *Frontier) Lease(ctx context.Context) (crawlcore.URLRecord, error) {
	hosts, err := f.rdb.SMembers(ctx, hostsSetKey).Result()
	if err != nil {
		return crawlcore.URLRecord{}, fmt.Errorf("list hosts: %w", err)
	}
	for _, host := range hosts {
		queueKey := hostQueueKey(host)
		popped, err := f.rdb.ZPopMin(ctx, queueKey, 1).Result()
		if err != nil {
			return crawlcore.URLRecord{}, fmt.Errorf("pop host queue: %w", err)
		}
		if len(popped) == 0 {
			continue
		}
		var rec crawlcore.URLRecord
		if err := json.Unmarshal([]byte(popped[0].Member.(string)), &rec); err != nil {
			return crawlcore.URLRecord{}, fmt.Errorf("unmarshal leased record: %w", err)
		}
		leaseID := uuid.NewString()
		rec.LeaseID = leaseID
		rec.LeaseDeadline = time.Now().Add(f.leaseTimeout)
		lease := leasedRecord{Rec: rec, Deadline: rec.LeaseDeadline}
		encoded, err := json.Marshal(lease)
		if err != nil {
			return crawlcore.URLRecord{}, fmt.Errorf("marshal lease: %w", err)
		}
		if err := f.rdb.HSet(ctx, leaseHashKey, leaseID, encoded).Err(); err != nil {
			return crawlcore.URLRecord{}, fmt.Errorf("store lease: %w", err)
		}
		return rec, nil
	}
	return crawlcore.URLRecord{}, crawlcore.ErrFrontierEmpty
}

// Complete removes a lease permanently.
func (f *Frontier) Complete(ctx context.Context, leaseID string) error {
	if err := f.rdb.HDel(ctx, leaseHashKey, leaseID).Err(); err != nil {
		return fmt.Errorf("complete lease: %w", err)
	}
	return nil
}

// Requeue returns a leased record to its host queue with an incremented
// retry count, then drops the lease.
func (f *Frontier) Requeue(ctx context.Context, leaseID string) error {
	encoded, err := f.rdb.HGet(ctx, leaseHashKey, leaseID).Result()
	if err != nil {
		if err == redis.Nil {
			return nil
		}
		return fmt.Errorf("load lease: %w", err)
	}
	var lease leasedRecord
	if err := json.Unmarshal([]byte(encoded), &lease); err != nil {
		return fmt.Errorf("unmarshal lease: %w", err)
	}
	lease.Rec.Retries++
	lease.Rec.LeaseID = ""
	if _, err := f.Push(ctx, lease.Rec); err != nil {
		return fmt.Errorf("requeue: %w", err)
	}
	return f.rdb.HDel(ctx, leaseHashKey, leaseID).Err()
}

// Len sums the length of every host queue.
func (f *Frontier) Len(ctx context.Context) (int, error) {
	hosts, err := f.rdb.SMembers(ctx, hostsSetKey).Result()
	if err != nil {
		return 0, fmt.Errorf("list hosts: %w", err)
	}
	total := 0
	for _, host := range hosts {
		n, err := f.rdb.ZCard(ctx, hostQueueKey(host)).Result()
		if err != nil {
			return 0, fmt.Errorf("count host queue: %w", err)
		}
		total += int(n)
	}
	return total, nil
}

// Snapshot is a Non-goal in distributed mode per spec.md's checkpoint
// section: distributed checkpoints omit the frontier because Redis is
// itself the durable queue.
func (f *Frontier) Snapshot(context.Context) ([]crawlcore.FrontierEntry, error) {
	return nil, nil
}

// Restore is a no-op in distributed mode; see Snapshot.
func (f *Frontier) Restore(context.Context, []crawlcore.FrontierEntry) error {
	return nil
}

// ReapExpiredLeases scans the lease hash and requeues any lease past its
// deadline, guarding against a worker crashing mid-fetch. Intended to run
// on a background timer from the composition root.
func (f *Frontier) ReapExpiredLeases(ctx context.Context) (int, error) {
	entries, err := f.rdb.HGetAll(ctx, leaseHashKey).Result()
	if err != nil {
		return 0, fmt.Errorf("scan leases: %w", err)
	}
	now := time.Now()
	reaped := 0
	for leaseID, encoded := range entries {
		var lease leasedRecord
		if err := json.Unmarshal([]byte(encoded), &lease); err != nil {
			continue
		}
		if now.Before(lease.Deadline) {
			continue
		}
		if err := f.Requeue(ctx, leaseID); err != nil {
			return reaped, fmt.Errorf("requeue expired lease %s: %w", leaseID, err)
		}
		reaped++
	}
	return reaped, nil
}
