package cache

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

// PermissionKey is the cache key of the conversation permission between two
// identities. It does not depend on argument order.
func PermissionKey(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("permission:%d:%d", a, b)
}

// Permissions memoises pairwise yes/no checks. A nil *Permissions, or one
// without a backend, always falls through to the loader.
type Permissions struct {
	backend Cache
	ttl     time.Duration
}

func NewPermissions(backend Cache, ttl time.Duration) *Permissions {
	return &Permissions{backend: backend, ttl: ttl}
}

// Check returns the cached answer for (a, b) or computes and stores it.
// Backend failures are logged and never fail the check.
func (p *Permissions) Check(ctx context.Context, a, b int64, load func(context.Context) (bool, error)) (bool, error) {
	if p == nil || p.backend == nil {
		return load(ctx)
	}
	key := PermissionKey(a, b)
	v, err := p.backend.Get(ctx, key)
	switch {
	case err == nil:
		return v == "1", nil
	case !errors.Is(err, ErrMiss):
		log.Printf("cache: get %s: %v", key, err)
	}

	ok, err := load(ctx)
	if err != nil {
		return false, err
	}
	val := "0"
	if ok {
		val = "1"
	}
	if err := p.backend.Set(ctx, key, val, p.ttl); err != nil {
		log.Printf("cache: set %s: %v", key, err)
	}
	return ok, nil
}

// Forget drops the cached answers for every pair involving id and others.
func (p *Permissions) Forget(ctx context.Context, id int64, others ...int64) {
	if p == nil || p.backend == nil || len(others) == 0 {
		return
	}
	keys := make([]string, 0, len(others))
	for _, o := range others {
		keys = append(keys, PermissionKey(id, o))
	}
	if _, err := p.backend.Del(ctx, keys...); err != nil {
		log.Printf("cache: del %v: %v", keys, err)
	}
}
