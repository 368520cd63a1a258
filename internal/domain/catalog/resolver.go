package catalog

import (
	"context"

	"github.com/google/uuid"

	"github.com/pethealth/pethealth/internal/platform/apperr"
)

// Resolver produces per-user views of catalog items.
type Resolver struct {
	items ItemRepository
}

func NewResolver(items ItemRepository) *Resolver {
	return &Resolver{items: items}
}

// ResolveStandardItems resolves every id in one store round trip. Ids found
// in neither the master nor the user's custom table are absent from the map.
func (r *Resolver) ResolveStandardItems(ctx context.Context, ids []uuid.UUID, userID string) (map[uuid.UUID]*ResolvedItem, error) {
	out := make(map[uuid.UUID]*ResolvedItem, len(ids))
	unique := dedupIDs(ids)
	if len(unique) == 0 {
		return out, nil
	}

	rows, err := r.items.ResolveRows(ctx, unique, userID)
	if err != nil {
		return nil, apperr.Wrap("resolve items", err)
	}
	for _, row := range rows {
		switch {
		case row.Master != nil:
			out[row.Master.ID] = MergeItem(row.Master, row.Override)
		case row.Custom != nil:
			// A master row with the same id wins; ids are random so this
			// only matters for hand-crafted data.
			if _, ok := out[row.Custom.ID]; !ok {
				out[row.Custom.ID] = customToResolved(row.Custom)
			}
		}
	}
	return out, nil
}

// ResolveOne resolves a single id, reporting a miss as NotFound.
func (r *Resolver) ResolveOne(ctx context.Context, id uuid.UUID, userID string) (*ResolvedItem, error) {
	m, err := r.ResolveStandardItems(ctx, []uuid.UUID{id}, userID)
	if err != nil {
		return nil, err
	}
	item, ok := m[id]
	if !ok {
		return nil, apperr.NotFound("resolve item", "item %s not found", id)
	}
	return item, nil
}

func dedupIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
