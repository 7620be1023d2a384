package keypool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"generation-gateway/internal/entity"
	"generation-gateway/internal/metrics"
)

var (
	providerA = uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000001")
	providerB = uuid.MustParse("bbbbbbbb-0000-0000-0000-000000000002")
)

func newTestPool(store Store, now time.Time) *Pool {
	p := NewPool(store, zerolog.Nop())
	p.now = func() time.Time { return now }
	return p
}

func ptrTime(t time.Time) *time.Time { return &t }

func TestSelect_PriorityThenLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	low := entity.APIKey{ID: uuid.New(), ProviderID: providerA, Key: "low", Priority: 1}
	highOld := entity.APIKey{ID: uuid.New(), ProviderID: providerA, Key: "high-old", Priority: 5, LastUsedAt: ptrTime(now.Add(-time.Hour))}
	highNew := entity.APIKey{ID: uuid.New(), ProviderID: providerA, Key: "high-new", Priority: 5, LastUsedAt: ptrTime(now.Add(-time.Minute))}
	other := entity.APIKey{ID: uuid.New(), ProviderID: providerB, Key: "other", Priority: 10}

	store := NewMemoryStore(low, highOld, highNew, other)
	p := newTestPool(store, now)

	k, err := p.Select(ctx, providerA)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if k.Key != "high-old" {
		t.Fatalf("expected high-old, got %s", k.Key)
	}
	if k.LastUsedAt == nil || !k.LastUsedAt.Equal(now) {
		t.Fatalf("expected lastUsedAt stamped to now, got %v", k.LastUsedAt)
	}

	// the stamped key is now the most recently used of its priority
	p.now = func() time.Time { return now.Add(time.Second) }
	k, err = p.Select(ctx, providerA)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if k.Key != "high-new" {
		t.Fatalf("expected rotation to high-new, got %s", k.Key)
	}
}

func TestSelect_ConcurrentCallersGetDistinctKeys(t *testing.T) {
	const n = 8
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	var keys []entity.APIKey
	for i := range n {
		keys = append(keys, entity.APIKey{ID: uuid.New(), ProviderID: providerA, Key: "k" + string(rune('a'+i)), Priority: 1})
	}
	p := newTestPool(NewMemoryStore(keys...), now)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[uuid.UUID]int{}
		errs []error
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			k, err := p.Select(context.Background(), providerA)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			seen[k.ID]++
		}()
	}
	wg.Wait()

	if len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
	if len(seen) != n {
		t.Fatalf("expected %d distinct keys, got %d (%v)", n, len(seen), seen)
	}
}

func TestSelect_NeverUsedComesFirst(t *testing.T) {
	now := time.Now().UTC()
	used := entity.APIKey{ID: uuid.New(), ProviderID: providerA, Key: "used", LastUsedAt: ptrTime(now.Add(-24 * time.Hour))}
	fresh := entity.APIKey{ID: uuid.New(), ProviderID: providerA, Key: "fresh"}

	p := newTestPool(NewMemoryStore(used, fresh), now)

	k, err := p.Select(context.Background(), providerA)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if k.Key != "fresh" {
		t.Fatalf("expected never-used key first, got %s", k.Key)
	}
}

func TestSelect_SkipsUnhealthyKeys(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	store := NewMemoryStore(
		entity.APIKey{ProviderID: providerA, Key: "broken", Priority: 9, Status: entity.KeyError, ErrorCount: 3},
		entity.APIKey{ProviderID: providerA, Key: "cooling", Priority: 9, Status: entity.KeyRateLimited, RateLimitResetAt: ptrTime(now.Add(time.Minute))},
		entity.APIKey{ProviderID: providerA, Key: "active-but-reset-pending", Priority: 9, Status: entity.KeyActive, RateLimitResetAt: ptrTime(now.Add(time.Minute))},
	)
	p := newTestPool(store, now)

	_, err := p.Select(ctx, providerA)
	if !errors.Is(err, ErrNoActiveKey) {
		t.Fatalf("expected ErrNoActiveKey, got %v", err)
	}

	store.Add(entity.APIKey{ProviderID: providerA, Key: "ok", Priority: 0})
	k, err := p.Select(ctx, providerA)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if k.Key != "ok" {
		t.Fatalf("expected the only healthy key, got %s", k.Key)
	}
}

func TestSelect_ReinstatesExpiredRateLimit(t *testing.T) {
	now := time.Now().UTC()
	id := uuid.New()
	store := NewMemoryStore(entity.APIKey{
		ID: id, ProviderID: providerA, Key: "k",
		Status: entity.KeyRateLimited, RateLimitResetAt: ptrTime(now.Add(-time.Second)),
	})
	p := newTestPool(store, now)

	k, err := p.Select(context.Background(), providerA)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if k.Status != entity.KeyActive || k.RateLimitResetAt != nil {
		t.Fatalf("expected reinstated ACTIVE key, got %s reset=%v", k.Status, k.RateLimitResetAt)
	}
}

func TestReportError_ThirdErrorDisables(t *testing.T) {
	ctx := context.Background()
	id := uuid.New()
	store := NewMemoryStore(entity.APIKey{ID: id, ProviderID: providerA, Key: "k"})
	p := newTestPool(store, time.Now())

	before := testutil.ToFloat64(metrics.KeyEvents.WithLabelValues("disabled"))

	for i := 1; i <= 3; i++ {
		if err := p.ReportError(ctx, id, "boom"); err != nil {
			t.Fatalf("expected nil error, got %v", err)
		}
		k, _ := store.Get(id)
		if k.ErrorCount != i {
			t.Fatalf("expected errorCount=%d, got %d", i, k.ErrorCount)
		}
		if i < 3 && k.Status != entity.KeyActive {
			t.Fatalf("expected ACTIVE after %d errors, got %s", i, k.Status)
		}
	}

	k, _ := store.Get(id)
	if k.Status != entity.KeyError {
		t.Fatalf("expected ERROR after 3 errors, got %s", k.Status)
	}
	if k.LastError == nil || *k.LastError != "boom" {
		t.Fatalf("expected last error recorded, got %v", k.LastError)
	}
	if got := testutil.ToFloat64(metrics.KeyEvents.WithLabelValues("disabled")) - before; got != 1 {
		t.Fatalf("expected one disabled event, got %v", got)
	}
	if _, err := p.Select(ctx, providerA); !errors.Is(err, ErrNoActiveKey) {
		t.Fatalf("expected disabled key to be excluded, got %v", err)
	}
}

func TestReportSuccess_ClearsErrorCount(t *testing.T) {
	ctx := context.Background()
	id := uuid.New()
	store := NewMemoryStore(entity.APIKey{ID: id, ProviderID: providerA, Key: "k", ErrorCount: 2})
	p := newTestPool(store, time.Now())

	if err := p.ReportSuccess(ctx, id); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	k, _ := store.Get(id)
	if k.ErrorCount != 0 || k.Status != entity.KeyActive {
		t.Fatalf("expected clean ACTIVE key, got count=%d status=%s", k.ErrorCount, k.Status)
	}
}

func TestReportRateLimited_DefaultsToOneHour(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	id := uuid.New()
	store := NewMemoryStore(entity.APIKey{ID: id, ProviderID: providerA, Key: "k"})
	p := newTestPool(store, now)

	if err := p.ReportRateLimited(ctx, id, nil); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	k, _ := store.Get(id)
	if k.Status != entity.KeyRateLimited {
		t.Fatalf("expected RATE_LIMITED, got %s", k.Status)
	}
	if k.RateLimitResetAt == nil || !k.RateLimitResetAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("expected reset at now+1h, got %v", k.RateLimitResetAt)
	}

	if _, err := p.Select(ctx, providerA); !errors.Is(err, ErrNoActiveKey) {
		t.Fatalf("expected rate-limited key to be excluded, got %v", err)
	}

	p.now = func() time.Time { return now.Add(time.Hour + time.Second) }
	if _, err := p.Select(ctx, providerA); err != nil {
		t.Fatalf("expected key eligible after reset, got %v", err)
	}
}

func TestReportRateLimited_UsesProviderReset(t *testing.T) {
	now := time.Now().UTC()
	id := uuid.New()
	store := NewMemoryStore(entity.APIKey{ID: id, ProviderID: providerA, Key: "k"})
	p := newTestPool(store, now)

	resetAt := now.Add(90 * time.Second)
	if err := p.ReportRateLimited(context.Background(), id, &resetAt); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	k, _ := store.Get(id)
	if k.RateLimitResetAt == nil || !k.RateLimitResetAt.Equal(resetAt) {
		t.Fatalf("expected provider reset time, got %v", k.RateLimitResetAt)
	}
}

func TestReset_ReactivatesDisabledKey(t *testing.T) {
	ctx := context.Background()
	id := uuid.New()
	store := NewMemoryStore(entity.APIKey{ID: id, ProviderID: providerA, Key: "secret-1234", Status: entity.KeyError, ErrorCount: 3})
	p := newTestPool(store, time.Now())

	if err := p.Reset(ctx, id); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	views, err := p.List(ctx, providerA)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("expected one key, got %d", len(views))
	}
	if views[0].Status != entity.KeyActive || views[0].ErrorCount != 0 || !views[0].Eligible {
		t.Fatalf("expected reset key, got %+v", views[0])
	}
	if views[0].MaskedKey != "****1234" {
		t.Fatalf("expected masked key, got %s", views[0].MaskedKey)
	}

	if err := p.Reset(ctx, uuid.New()); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}
