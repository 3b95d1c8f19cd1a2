package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/neomorfeo/customeriq/internal/domain"
)

// Compile-time check: CounterStore implements domain.CounterStore.
var _ domain.CounterStore = (*CounterStore)(nil)

// Hash fields per period bucket. The unscoped bucket is "all"; category
// buckets are "c:<category>" so no category name can collide with it.
const (
	allField       = "all"
	categoryPrefix = "c:"
)

// CounterStore implements domain.CounterStore on Redis. Each period is a
// hash whose fields are incremented with HINCRBY, which Redis applies
// atomically; a sorted set of period names (all scores zero) supports
// lexicographic range scans.
type CounterStore struct {
	client goredis.UniversalClient
	prefix string
}

// NewCounterStore creates a store that namespaces its keys under prefix.
func NewCounterStore(client goredis.UniversalClient, prefix string) *CounterStore {
	if prefix == "" {
		prefix = "customeriq"
	}
	return &CounterStore{client: client, prefix: prefix}
}

func (s *CounterStore) bucketKey(period string) string {
	return s.prefix + ":counters:" + period
}

func (s *CounterStore) periodsKey() string {
	return s.prefix + ":counters:periods"
}

func field(category string) string {
	if category == domain.AllCategories {
		return allField
	}
	return categoryPrefix + category
}

func categoryOf(f string) (string, bool) {
	if f == allField {
		return domain.AllCategories, true
	}
	c, ok := strings.CutPrefix(f, categoryPrefix)
	return c, ok
}

func (s *CounterStore) Increment(ctx context.Context, key domain.CounterKey) (int64, error) {
	return s.Add(ctx, key, 1)
}

// Add increases a bucket by delta. The increment and the period index update
// run in one MULTI/EXEC block.
func (s *CounterStore) Add(ctx context.Context, key domain.CounterKey, delta int64) (int64, error) {
	if delta <= 0 {
		return 0, fmt.Errorf("adding %d to %s: %w", delta, key, domain.ErrInvalidDelta)
	}
	if key.Period == "" {
		return 0, fmt.Errorf("counter key %+v has no period", key)
	}

	var incr *goredis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		incr = pipe.HIncrBy(ctx, s.bucketKey(key.Period), field(key.Category), delta)
		pipe.ZAdd(ctx, s.periodsKey(), goredis.Z{Score: 0, Member: key.Period})
		return nil
	})
	if err != nil {
		return 0, unavailable("incrementing counter "+key.String(), err)
	}
	return incr.Val(), nil
}

func (s *CounterStore) Get(ctx context.Context, key domain.CounterKey) (int64, error) {
	v, err := s.client.HGet(ctx, s.bucketKey(key.Period), field(key.Category)).Int64()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, unavailable("reading counter "+key.String(), err)
	}
	return v, nil
}

func (s *CounterStore) ListByPeriodRange(ctx context.Context, startPeriod, endPeriod string) ([]domain.CounterBucket, error) {
	if err := domain.ValidatePeriodRange(startPeriod, endPeriod); err != nil {
		return nil, err
	}

	periods, err := s.client.ZRangeByLex(ctx, s.periodsKey(), &goredis.ZRangeBy{
		Min: "[" + startPeriod,
		Max: "[" + endPeriod,
	}).Result()
	if err != nil {
		return nil, unavailable("listing counter periods", err)
	}

	var out []domain.CounterBucket
	for _, period := range periods {
		fields, err := s.client.HGetAll(ctx, s.bucketKey(period)).Result()
		if err != nil {
			return nil, unavailable("reading counters for "+period, err)
		}

		buckets := make([]domain.CounterBucket, 0, len(fields))
		for f, raw := range fields {
			category, ok := categoryOf(f)
			if !ok {
				continue
			}
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("parsing counter %s/%s: %w", period, f, err)
			}
			buckets = append(buckets, domain.CounterBucket{
				Key:   domain.CounterKey{Period: period, Category: category},
				Count: n,
			})
		}
		sort.Slice(buckets, func(i, j int) bool {
			return buckets[i].Key.Category < buckets[j].Key.Category
		})
		out = append(out, buckets...)
	}
	return out, nil
}

func unavailable(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrStorageUnavailable, op, err)
}
