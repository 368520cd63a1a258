package catalog

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pethealth/pethealth/internal/platform/apperr"
	"github.com/pethealth/pethealth/internal/platform/cache"
	"github.com/pethealth/pethealth/internal/platform/db"
)

type Service struct {
	items     ItemRepository
	overrides OverrideRepository
	aliases   AliasRepository
	results   ResultRefs
	tx        Transactor
	resolver  *Resolver
	lookup    AliasLookup
	cache     *cache.Versioned
	log       zerolog.Logger
}

func NewService(items ItemRepository, overrides OverrideRepository, aliases AliasRepository,
	results ResultRefs, tx Transactor, logger zerolog.Logger) *Service {
	s := &Service{
		items:     items,
		overrides: overrides,
		aliases:   aliases,
		results:   results,
		tx:        tx,
		resolver:  NewResolver(items),
		log:       logger.With().Str("component", "catalog").Logger(),
	}
	s.lookup = NewTieredLookup(userLookup{aliases}, masterLookup{aliases})
	return s
}

// SetAliasCache puts a read-through cache in front of master alias lookups.
func (s *Service) SetAliasCache(c *cache.Versioned) {
	s.cache = c
	var master AliasLookup = masterLookup{s.aliases}
	if c != nil {
		master = &cachedLookup{next: master, cache: c, log: s.log}
	}
	s.lookup = NewTieredLookup(userLookup{s.aliases}, master)
}

// Resolver exposes the batched item resolver to other domains.
func (s *Service) Resolver() *Resolver {
	return s.resolver
}

// invalidateMasterAliases drops cached master lookups once the write in ctx
// is committed.
func (s *Service) invalidateMasterAliases(ctx context.Context) {
	if s.cache == nil {
		return
	}
	db.AfterCommit(ctx, func(ctx context.Context) {
		if err := s.cache.Bump(ctx); err != nil {
			s.log.Warn().Err(err).Msg("alias cache invalidation failed")
		}
	})
}

// -- Lookup --

// Lookup returns the item a raw name maps to for the user, or nil.
func (s *Service) Lookup(ctx context.Context, raw, userID string) (*uuid.UUID, error) {
	id, err := s.lookup.Lookup(ctx, raw, userID)
	if err != nil {
		return nil, apperr.Wrap("lookup alias", err)
	}
	return id, nil
}

// errAliasTaken rolls back a placeholder when the raw name already has a
// master alias that the lookup did not see.
var errAliasTaken = errors.New("master alias already registered")

// ResolveRawName maps an OCR item name to an item id. Unknown names reuse an
// item with the same name or get a new Unmapped placeholder, and a master
// alias is registered so the next report matches directly. An existing
// master alias is never replaced.
func (s *Service) ResolveRawName(ctx context.Context, raw, userID string) (uuid.UUID, bool, error) {
	const op = "resolve raw name"
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uuid.Nil, false, apperr.Validation(op, "raw item name is required")
	}
	id, err := s.Lookup(ctx, raw, userID)
	if err != nil {
		return uuid.Nil, false, err
	}
	if id != nil {
		return *id, false, nil
	}

	var (
		itemID  uuid.UUID
		created bool
	)
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		item, isNew, err := s.itemForName(ctx, raw)
		if err != nil {
			return err
		}
		a := &Alias{Alias: raw, CanonicalName: item.Name, StandardItemID: item.ID}
		inserted, err := s.aliases.InsertMasterIfAbsent(ctx, a)
		if err != nil {
			return apperr.Wrap(op, err)
		}
		if !inserted {
			return errAliasTaken
		}
		itemID, created = item.ID, isNew
		s.invalidateMasterAliases(ctx)
		return nil
	})
	if errors.Is(err, errAliasTaken) {
		a, ferr := s.aliases.FindMaster(ctx, raw)
		if ferr != nil {
			return uuid.Nil, false, apperr.Wrap(op, ferr)
		}
		if a == nil {
			return uuid.Nil, false, apperr.Wrap(op, errAliasTaken)
		}
		return a.StandardItemID, false, nil
	}
	if err != nil {
		return uuid.Nil, false, err
	}
	if created {
		s.log.Info().Str("raw_name", raw).Str("item_id", itemID.String()).Msg("created unmapped item")
	}
	return itemID, created, nil
}

// itemForName returns the item named name, creating an Unmapped placeholder
// when there is none.
func (s *Service) itemForName(ctx context.Context, name string) (*StandardItem, bool, error) {
	const op = "create unmapped item"
	item, err := s.items.GetByName(ctx, name)
	if err == nil {
		return item, false, nil
	}
	if !errors.Is(apperr.Wrap(op, err), apperr.ErrNotFound) {
		return nil, false, apperr.Wrap(op, err)
	}

	cat := CategoryUnmapped
	item = &StandardItem{Name: name, Category: &cat}
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		return s.items.Create(ctx, item)
	})
	if err == nil {
		return item, true, nil
	}
	// Another request created it first.
	if errors.Is(apperr.Wrap(op, err), apperr.ErrConflict) {
		existing, gerr := s.items.GetByName(ctx, name)
		if gerr == nil {
			return existing, false, nil
		}
	}
	return nil, false, apperr.Wrap(op, err)
}

// -- Aliases --

func (s *Service) CreateAlias(ctx context.Context, in AliasInput) (*Alias, error) {
	const op = "create alias"
	in.Alias = strings.TrimSpace(in.Alias)
	in.CanonicalName = strings.TrimSpace(in.CanonicalName)
	if in.Alias == "" {
		return nil, apperr.Validation(op, "alias is required")
	}
	if in.CanonicalName == "" && in.StandardItemID == nil {
		return nil, apperr.Validation(op, "canonical_name or standard_item_id is required")
	}

	itemID, canonical, err := s.aliasTarget(ctx, in)
	if err != nil {
		return nil, err
	}

	a := &Alias{
		Alias:          in.Alias,
		CanonicalName:  canonical,
		StandardItemID: itemID,
		SourceHint:     in.SourceHint,
	}
	if in.UserID != "" {
		uid := in.UserID
		a.UserID = &uid
	}
	if err := s.aliases.Upsert(ctx, a); err != nil {
		return nil, apperr.Wrap(op, err)
	}
	if a.Tier() == TierMaster {
		s.invalidateMasterAliases(ctx)
	}
	return a, nil
}

// aliasTarget finds the item an alias should point at and the canonical name
// to store with it. User aliases may also target the user's custom items.
func (s *Service) aliasTarget(ctx context.Context, in AliasInput) (uuid.UUID, string, error) {
	const op = "create alias"
	if in.StandardItemID != nil {
		item, err := s.items.GetByID(ctx, *in.StandardItemID)
		if err == nil {
			return item.ID, firstNonEmpty(in.CanonicalName, item.Name), nil
		}
		if !errors.Is(apperr.Wrap(op, err), apperr.ErrNotFound) || in.UserID == "" {
			return uuid.Nil, "", apperr.Wrap(op, err)
		}
		custom, cerr := s.findCustom(ctx, in.UserID, func(c *UserCustomItem) bool { return c.ID == *in.StandardItemID })
		if cerr != nil {
			return uuid.Nil, "", cerr
		}
		if custom == nil {
			return uuid.Nil, "", apperr.Wrap(op, err)
		}
		return custom.ID, firstNonEmpty(in.CanonicalName, custom.Name), nil
	}

	item, err := s.items.GetByName(ctx, in.CanonicalName)
	if err == nil {
		return item.ID, in.CanonicalName, nil
	}
	if !errors.Is(apperr.Wrap(op, err), apperr.ErrNotFound) {
		return uuid.Nil, "", apperr.Wrap(op, err)
	}
	if in.UserID != "" {
		custom, cerr := s.findCustom(ctx, in.UserID, func(c *UserCustomItem) bool {
			return strings.EqualFold(c.Name, in.CanonicalName)
		})
		if cerr != nil {
			return uuid.Nil, "", cerr
		}
		if custom != nil {
			return custom.ID, in.CanonicalName, nil
		}
	}
	return uuid.Nil, "", apperr.NotFound(op, "no standard item named %q", in.CanonicalName)
}

func (s *Service) findCustom(ctx context.Context, userID string, match func(*UserCustomItem) bool) (*UserCustomItem, error) {
	items, err := s.overrides.ListCustom(ctx, userID)
	if err != nil {
		return nil, apperr.Wrap("list custom items", err)
	}
	for _, c := range items {
		if match(c) {
			return c, nil
		}
	}
	return nil, nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// DeleteAlias removes an alias. A non-empty userID restricts deletion to that
// user's own aliases.
func (s *Service) DeleteAlias(ctx context.Context, tier AliasTier, id uuid.UUID, userID string) error {
	const op = "delete alias"
	if userID != "" {
		a, err := s.aliases.GetByID(ctx, TierUser, id)
		if err != nil {
			return apperr.Wrap(op, err)
		}
		if a.UserID == nil || *a.UserID != userID {
			return apperr.NotFound(op, "alias %s not found", id)
		}
		tier = TierUser
	}
	if err := s.aliases.Delete(ctx, tier, id); err != nil {
		return apperr.Wrap(op, err)
	}
	if tier == TierMaster {
		s.invalidateMasterAliases(ctx)
	}
	return nil
}

func (s *Service) ListAliases(ctx context.Context, f AliasFilter, limit, offset int) ([]*Alias, int, error) {
	items, total, err := s.aliases.List(ctx, f, limit, offset)
	if err != nil {
		return nil, 0, apperr.Wrap("list aliases", err)
	}
	return items, total, nil
}

// -- Standard items --

func (s *Service) CreateItem(ctx context.Context, item *StandardItem) error {
	const op = "create item"
	item.Name = strings.TrimSpace(item.Name)
	if item.Name == "" {
		return apperr.Validation(op, "name is required")
	}
	return apperr.Wrap(op, s.items.Create(ctx, item))
}

func (s *Service) GetItem(ctx context.Context, id uuid.UUID) (*StandardItem, error) {
	item, err := s.items.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.Wrap("get item", err)
	}
	return item, nil
}

func (s *Service) UpdateItem(ctx context.Context, item *StandardItem) error {
	const op = "update item"
	item.Name = strings.TrimSpace(item.Name)
	if item.Name == "" {
		return apperr.Validation(op, "name is required")
	}
	return apperr.Wrap(op, s.items.Update(ctx, item))
}

// DeleteItem removes an item and its aliases. It is refused while test
// results still reference the item.
func (s *Service) DeleteItem(ctx context.Context, id uuid.UUID) error {
	const op = "delete item"
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.items.GetByID(ctx, id); err != nil {
			return apperr.Wrap(op, err)
		}
		n, err := s.results.CountByItem(ctx, id)
		if err != nil {
			return apperr.Wrap(op, err)
		}
		if n > 0 {
			return apperr.Conflict(op, n, "item is referenced by %d test results", n)
		}
		if _, err := s.aliases.DeleteByItem(ctx, id); err != nil {
			return apperr.Wrap(op, err)
		}
		return apperr.Wrap(op, s.items.Delete(ctx, id))
	})
	if err != nil {
		return err
	}
	s.invalidateMasterAliases(ctx)
	return nil
}

func (s *Service) ListItems(ctx context.Context, f ItemFilter, limit, offset int) ([]*StandardItem, int, error) {
	items, total, err := s.items.List(ctx, f, limit, offset)
	if err != nil {
		return nil, 0, apperr.Wrap("list items", err)
	}
	return items, total, nil
}

func (s *Service) ListUnmapped(ctx context.Context) ([]*UnmappedItem, error) {
	items, err := s.items.ListUnmapped(ctx)
	if err != nil {
		return nil, apperr.Wrap("list unmapped", err)
	}
	return items, nil
}

// -- Per-user layer --

func (s *Service) ResolveItems(ctx context.Context, ids []uuid.UUID, userID string) (map[uuid.UUID]*ResolvedItem, error) {
	return s.resolver.ResolveStandardItems(ctx, ids, userID)
}

func (s *Service) ResolveItem(ctx context.Context, id uuid.UUID, userID string) (*ResolvedItem, error) {
	return s.resolver.ResolveOne(ctx, id, userID)
}

func (s *Service) UpsertOverride(ctx context.Context, o *UserItemOverride) error {
	const op = "upsert override"
	if o.UserID == "" {
		return apperr.Validation(op, "user id is required")
	}
	if _, err := s.items.GetByID(ctx, o.StandardItemID); err != nil {
		return apperr.Wrap(op, err)
	}
	return apperr.Wrap(op, s.overrides.UpsertOverride(ctx, o))
}

func (s *Service) DeleteOverride(ctx context.Context, userID string, itemID uuid.UUID) error {
	const op = "delete override"
	ok, err := s.overrides.DeleteOverride(ctx, userID, itemID)
	if err != nil {
		return apperr.Wrap(op, err)
	}
	if !ok {
		return apperr.NotFound(op, "no override for item %s", itemID)
	}
	return nil
}

func (s *Service) CreateCustomItem(ctx context.Context, c *UserCustomItem) error {
	const op = "create custom item"
	c.Name = strings.TrimSpace(c.Name)
	if c.UserID == "" {
		return apperr.Validation(op, "user id is required")
	}
	if c.Name == "" {
		return apperr.Validation(op, "name is required")
	}
	return apperr.Wrap(op, s.overrides.CreateCustom(ctx, c))
}

func (s *Service) ListCustomItems(ctx context.Context, userID string) ([]*UserCustomItem, error) {
	items, err := s.overrides.ListCustom(ctx, userID)
	if err != nil {
		return nil, apperr.Wrap("list custom items", err)
	}
	return items, nil
}

// DeleteCustomItem removes a user's custom item and the aliases pointing at it.
func (s *Service) DeleteCustomItem(ctx context.Context, userID string, id uuid.UUID) error {
	const op = "delete custom item"
	return s.tx.InTx(ctx, func(ctx context.Context) error {
		ok, err := s.overrides.DeleteCustom(ctx, userID, id)
		if err != nil {
			return apperr.Wrap(op, err)
		}
		if !ok {
			return apperr.NotFound(op, "custom item %s not found", id)
		}
		_, err = s.aliases.DeleteByItem(ctx, id)
		return apperr.Wrap(op, err)
	})
}

// ResetUserOverrides clears every per-user row so resolution falls back to
// master data. Calling it again is a no-op.
func (s *Service) ResetUserOverrides(ctx context.Context, userID string) (ResetCounts, error) {
	const op = "reset user overrides"
	var counts ResetCounts
	if userID == "" {
		return counts, apperr.Validation(op, "user id is required")
	}
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if counts.Overrides, err = s.overrides.DeleteOverridesForUser(ctx, userID); err != nil {
			return apperr.Wrap(op, err)
		}
		if counts.CustomItems, err = s.overrides.DeleteCustomForUser(ctx, userID); err != nil {
			return apperr.Wrap(op, err)
		}
		if counts.Mappings, err = s.aliases.DeleteUserAliases(ctx, userID); err != nil {
			return apperr.Wrap(op, err)
		}
		return nil
	})
	if err != nil {
		return ResetCounts{}, err
	}
	s.log.Info().Str("user_id", userID).
		Int("overrides", counts.Overrides).
		Int("custom_items", counts.CustomItems).
		Int("mappings", counts.Mappings).
		Msg("user catalog reset")
	return counts, nil
}
