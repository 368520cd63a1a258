package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// Versioned namespaces keys under a generation counter. Bump moves every
// reader to a fresh generation, so stale entries are never read again and
// simply expire through their TTL.
type Versioned struct {
	kv  KV
	ns  string
	ttl time.Duration
}

func NewVersioned(kv KV, namespace string, ttl time.Duration) *Versioned {
	return &Versioned{kv: kv, ns: namespace, ttl: ttl}
}

func (v *Versioned) genKey() string { return v.ns + ":gen" }

func (v *Versioned) generation(ctx context.Context) (int64, error) {
	raw, err := v.kv.Get(ctx, v.genKey())
	if err == ErrMiss {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt generation %q: %w", raw, err)
	}
	return n, nil
}

func (v *Versioned) key(gen int64, key string) string {
	return fmt.Sprintf("%s:g%d:%s", v.ns, gen, key)
}

// Get returns the value stored under key in the current generation together
// with that generation. ErrMiss still carries a valid generation so the
// caller can fill the entry with SetAt.
func (v *Versioned) Get(ctx context.Context, key string) (string, int64, error) {
	gen, err := v.generation(ctx)
	if err != nil {
		return "", 0, err
	}
	val, err := v.kv.Get(ctx, v.key(gen, key))
	return val, gen, err
}

// SetAt stores value in generation gen. A Bump that happened after gen was
// read leaves the write in a generation nobody reads any more.
func (v *Versioned) SetAt(ctx context.Context, gen int64, key, value string) error {
	return v.kv.Set(ctx, v.key(gen, key), value, v.ttl)
}

// Bump invalidates every entry written so far.
func (v *Versioned) Bump(ctx context.Context) error {
	_, err := v.kv.Incr(ctx, v.genKey())
	return err
}
