package catalog

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pethealth/pethealth/internal/platform/cache"
)

// AliasLookup maps a raw report name to a standard item id. A nil id with a
// nil error means no alias matched. Matching is exact and case-sensitive.
type AliasLookup interface {
	Lookup(ctx context.Context, raw, userID string) (*uuid.UUID, error)
}

type masterLookup struct {
	aliases AliasRepository
}

func (m masterLookup) Lookup(ctx context.Context, raw, _ string) (*uuid.UUID, error) {
	a, err := m.aliases.FindMaster(ctx, raw)
	if err != nil || a == nil {
		return nil, err
	}
	id := a.StandardItemID
	return &id, nil
}

type userLookup struct {
	aliases AliasRepository
}

func (u userLookup) Lookup(ctx context.Context, raw, userID string) (*uuid.UUID, error) {
	if userID == "" {
		return nil, nil
	}
	a, err := u.aliases.FindUser(ctx, userID, raw)
	if err != nil || a == nil {
		return nil, err
	}
	id := a.StandardItemID
	return &id, nil
}

// TieredLookup consults each tier in order and returns the first hit.
type TieredLookup struct {
	tiers []AliasLookup
}

// NewTieredLookup checks the user tier before the master tier.
func NewTieredLookup(user, master AliasLookup) *TieredLookup {
	return &TieredLookup{tiers: []AliasLookup{user, master}}
}

func (t *TieredLookup) Lookup(ctx context.Context, raw, userID string) (*uuid.UUID, error) {
	for _, tier := range t.tiers {
		id, err := tier.Lookup(ctx, raw, userID)
		if err != nil {
			return nil, err
		}
		if id != nil {
			return id, nil
		}
	}
	return nil, nil
}

// missMarker is cached for names with no master alias.
const missMarker = "-"

// cachedLookup is a read-through cache in front of a lookup that ignores the
// user id. Cache failures fall through to the wrapped lookup.
type cachedLookup struct {
	next  AliasLookup
	cache *cache.Versioned
	log   zerolog.Logger
}

func (c *cachedLookup) Lookup(ctx context.Context, raw, userID string) (*uuid.UUID, error) {
	v, gen, err := c.cache.Get(ctx, raw)
	fill := false
	switch {
	case err == nil:
		if v == missMarker {
			return nil, nil
		}
		if id, perr := uuid.Parse(v); perr == nil {
			return &id, nil
		}
		fill = true
	case errors.Is(err, cache.ErrMiss):
		fill = true
	default:
		c.log.Warn().Err(err).Msg("alias cache read failed")
	}

	id, err := c.next.Lookup(ctx, raw, userID)
	if err != nil {
		return nil, err
	}
	if !fill {
		return id, nil
	}
	val := missMarker
	if id != nil {
		val = id.String()
	}
	// Filled into the generation read above; a concurrent Bump retires it.
	if err := c.cache.SetAt(ctx, gen, raw, val); err != nil {
		c.log.Warn().Err(err).Msg("alias cache write failed")
	}
	return id, nil
}
