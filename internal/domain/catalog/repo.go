package catalog

import (
	"context"

	"github.com/google/uuid"
)

type ItemRepository interface {
	Create(ctx context.Context, item *StandardItem) error
	GetByID(ctx context.Context, id uuid.UUID) (*StandardItem, error)
	// GetByName matches case-insensitively.
	GetByName(ctx context.Context, name string) (*StandardItem, error)
	Update(ctx context.Context, item *StandardItem) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, filter ItemFilter, limit, offset int) ([]*StandardItem, int, error)
	ListUnmapped(ctx context.Context) ([]*UnmappedItem, error)
	// ResolveRows fetches master (with the user's override) and custom rows
	// for all ids in a single query.
	ResolveRows(ctx context.Context, ids []uuid.UUID, userID string) ([]ResolveRow, error)
}

type OverrideRepository interface {
	UpsertOverride(ctx context.Context, o *UserItemOverride) error
	DeleteOverride(ctx context.Context, userID string, itemID uuid.UUID) (bool, error)
	DeleteOverridesForUser(ctx context.Context, userID string) (int, error)
	CreateCustom(ctx context.Context, item *UserCustomItem) error
	ListCustom(ctx context.Context, userID string) ([]*UserCustomItem, error)
	DeleteCustom(ctx context.Context, userID string, id uuid.UUID) (bool, error)
	DeleteCustomForUser(ctx context.Context, userID string) (int, error)
}

// AliasRepository covers both alias tiers. Find returns (nil, nil) on a miss.
type AliasRepository interface {
	FindMaster(ctx context.Context, alias string) (*Alias, error)
	FindUser(ctx context.Context, userID, alias string) (*Alias, error)
	// Upsert writes to the tier selected by a.UserID, keyed on the alias string.
	Upsert(ctx context.Context, a *Alias) error
	// InsertMasterIfAbsent adds a master alias unless the alias string is
	// already taken, in which case it reports false and changes nothing.
	InsertMasterIfAbsent(ctx context.Context, a *Alias) (bool, error)
	GetByID(ctx context.Context, tier AliasTier, id uuid.UUID) (*Alias, error)
	Delete(ctx context.Context, tier AliasTier, id uuid.UUID) error
	List(ctx context.Context, filter AliasFilter, limit, offset int) ([]*Alias, int, error)
	// CountByItem returns the master and user alias counts for an item.
	CountByItem(ctx context.Context, itemID uuid.UUID) (master int, user int, err error)
	// MoveToItem repoints every alias of one tier from one item to another.
	MoveToItem(ctx context.Context, tier AliasTier, from, to uuid.UUID, canonicalName string) (int, error)
	DeleteByItem(ctx context.Context, itemID uuid.UUID) (int, error)
	DeleteUserAliases(ctx context.Context, userID string) (int, error)
}

// ResultRefs is the slice of the test_results table the catalog needs to
// keep references consistent.
type ResultRefs interface {
	CountByItem(ctx context.Context, itemID uuid.UUID) (int, error)
	MoveToItem(ctx context.Context, from, to uuid.UUID) (int, error)
}

// Transactor runs fn atomically; repositories called with the ctx it passes
// join the transaction.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}
