package cache

import (
	"context"
	"errors"
)

// Tiered layers tiers from fastest to slowest
type Tiered[V any] struct {
	tiers    []Tier[V]
	recorder Recorder
}

// NewTiered creates a tiered cache. recorder may be nil.
func NewTiered[V any](recorder Recorder, tiers ...Tier[V]) *Tiered[V] {
	return &Tiered[V]{
		tiers:    tiers,
		recorder: recorder,
	}
}

// Get walks the tiers in order. A hit backfills the tiers above it. Tier errors
// other than a miss are skipped so a broken shared tier degrades to a miss.
func (t *Tiered[V]) Get(ctx context.Context, key string) (V, error) {
	var zero V
	for i, tier := range t.tiers {
		value, err := tier.Get(ctx, key)
		if err != nil {
			t.miss(tier.Name())
			continue
		}

		t.hit(tier.Name())
		for j := 0; j < i; j++ {
			_ = t.tiers[j].Set(ctx, key, value)
		}
		return value, nil
	}
	return zero, ErrCacheMiss
}

// Set writes value to every tier. All tiers are attempted; errors are joined.
func (t *Tiered[V]) Set(ctx context.Context, key string, value V) error {
	var errs []error
	for _, tier := range t.tiers {
		if err := tier.Set(ctx, key, value); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Delete removes key from every tier. All tiers are attempted; errors are joined.
func (t *Tiered[V]) Delete(ctx context.Context, key string) error {
	var errs []error
	for _, tier := range t.tiers {
		if err := tier.Delete(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DeleteLocal removes key from the tiers private to this process. Shared tiers
// keep their entry, which another replica has already brought up to date.
func (t *Tiered[V]) DeleteLocal(ctx context.Context, key string) error {
	var errs []error
	for _, tier := range t.tiers {
		if s, ok := tier.(interface{ Shared() bool }); ok && s.Shared() {
			continue
		}
		if err := tier.Delete(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t *Tiered[V]) hit(name string) {
	if t.recorder != nil {
		t.recorder.RecordCacheHit(name)
	}
}

func (t *Tiered[V]) miss(name string) {
	if t.recorder != nil {
		t.recorder.RecordCacheMiss(name)
	}
}
