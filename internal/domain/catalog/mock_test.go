package catalog

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

// -- In-memory store shared by the mock repositories --

type overrideKey struct {
	userID string
	itemID uuid.UUID
}

type memDB struct {
	items     map[uuid.UUID]*StandardItem
	overrides map[overrideKey]*UserItemOverride
	custom    map[uuid.UUID]*UserCustomItem
	aliases   map[uuid.UUID]*Alias
	results   map[uuid.UUID]uuid.UUID // result id -> item id

	resolveCalls   int
	failAliasMove  error
	failResultMove error
}

func newMemDB() *memDB {
	return &memDB{
		items:     make(map[uuid.UUID]*StandardItem),
		overrides: make(map[overrideKey]*UserItemOverride),
		custom:    make(map[uuid.UUID]*UserCustomItem),
		aliases:   make(map[uuid.UUID]*Alias),
		results:   make(map[uuid.UUID]uuid.UUID),
	}
}

func (m *memDB) snapshot() *memDB {
	c := newMemDB()
	for k, v := range m.items {
		cp := *v
		c.items[k] = &cp
	}
	for k, v := range m.overrides {
		cp := *v
		c.overrides[k] = &cp
	}
	for k, v := range m.custom {
		cp := *v
		c.custom[k] = &cp
	}
	for k, v := range m.aliases {
		cp := *v
		c.aliases[k] = &cp
	}
	for k, v := range m.results {
		c.results[k] = v
	}
	return c
}

func (m *memDB) restore(from *memDB) {
	m.items, m.overrides, m.custom, m.aliases, m.results =
		from.items, from.overrides, from.custom, from.aliases, from.results
}

func (m *memDB) addItem(name string, category string) *StandardItem {
	s := &StandardItem{ID: uuid.New(), Name: name, OrganTags: []string{}, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if category != "" {
		s.Category = &category
	}
	m.items[s.ID] = s
	return s
}

func (m *memDB) addResults(itemID uuid.UUID, n int) {
	for i := 0; i < n; i++ {
		m.results[uuid.New()] = itemID
	}
}

func (m *memDB) addAlias(alias string, item *StandardItem, userID string) *Alias {
	a := &Alias{ID: uuid.New(), Alias: alias, CanonicalName: item.Name, StandardItemID: item.ID, CreatedAt: time.Now()}
	if userID != "" {
		a.UserID = &userID
	}
	m.aliases[a.ID] = a
	return a
}

func (m *memDB) refsTo(itemID uuid.UUID) (results, aliases int) {
	for _, id := range m.results {
		if id == itemID {
			results++
		}
	}
	for _, a := range m.aliases {
		if a.StandardItemID == itemID {
			aliases++
		}
	}
	return
}

func uniqueViolation() error {
	return &pgconn.PgError{Code: "23505", ConstraintName: "mock_unique"}
}

// -- ItemRepository --

type mockItemRepo struct{ db *memDB }

func (r *mockItemRepo) Create(_ context.Context, s *StandardItem) error {
	for _, existing := range r.db.items {
		if strings.EqualFold(existing.Name, s.Name) {
			return uniqueViolation()
		}
	}
	s.ID = uuid.New()
	s.CreatedAt, s.UpdatedAt = time.Now(), time.Now()
	cp := *s
	r.db.items[s.ID] = &cp
	return nil
}

func (r *mockItemRepo) GetByID(_ context.Context, id uuid.UUID) (*StandardItem, error) {
	s, ok := r.db.items[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *s
	return &cp, nil
}

func (r *mockItemRepo) GetByName(_ context.Context, name string) (*StandardItem, error) {
	for _, s := range r.db.items {
		if strings.EqualFold(s.Name, name) {
			cp := *s
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *mockItemRepo) Update(_ context.Context, s *StandardItem) error {
	if _, ok := r.db.items[s.ID]; !ok {
		return pgx.ErrNoRows
	}
	cp := *s
	r.db.items[s.ID] = &cp
	return nil
}

func (r *mockItemRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := r.db.items[id]; !ok {
		return pgx.ErrNoRows
	}
	delete(r.db.items, id)
	for k := range r.db.overrides {
		if k.itemID == id {
			delete(r.db.overrides, k)
		}
	}
	return nil
}

func (r *mockItemRepo) List(_ context.Context, f ItemFilter, limit, offset int) ([]*StandardItem, int, error) {
	var out []*StandardItem
	for _, s := range r.db.items {
		if f.Category != "" && (s.Category == nil || *s.Category != f.Category) {
			continue
		}
		if f.Search != "" && !strings.Contains(strings.ToLower(s.Name), strings.ToLower(f.Search)) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	total := len(out)
	if offset >= len(out) {
		return nil, total, nil
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, total, nil
}

func (r *mockItemRepo) ListUnmapped(_ context.Context) ([]*UnmappedItem, error) {
	var out []*UnmappedItem
	for _, s := range r.db.items {
		if !s.IsUnmapped() {
			continue
		}
		results, aliases := r.db.refsTo(s.ID)
		out = append(out, &UnmappedItem{StandardItem: *s, ResultCount: results, AliasCount: aliases})
	}
	return out, nil
}

func (r *mockItemRepo) ResolveRows(_ context.Context, ids []uuid.UUID, userID string) ([]ResolveRow, error) {
	r.db.resolveCalls++
	var out []ResolveRow
	for _, id := range ids {
		if s, ok := r.db.items[id]; ok {
			cp := *s
			row := ResolveRow{Master: &cp}
			if o, ok := r.db.overrides[overrideKey{userID, id}]; ok {
				ocp := *o
				row.Override = &ocp
			}
			out = append(out, row)
		}
	}
	for _, id := range ids {
		if c, ok := r.db.custom[id]; ok && c.UserID == userID {
			cp := *c
			out = append(out, ResolveRow{Custom: &cp})
		}
	}
	return out, nil
}

// -- OverrideRepository --

type mockOverrideRepo struct{ db *memDB }

func (r *mockOverrideRepo) UpsertOverride(_ context.Context, o *UserItemOverride) error {
	cp := *o
	r.db.overrides[overrideKey{o.UserID, o.StandardItemID}] = &cp
	return nil
}

func (r *mockOverrideRepo) DeleteOverride(_ context.Context, userID string, itemID uuid.UUID) (bool, error) {
	k := overrideKey{userID, itemID}
	_, ok := r.db.overrides[k]
	delete(r.db.overrides, k)
	return ok, nil
}

func (r *mockOverrideRepo) DeleteOverridesForUser(_ context.Context, userID string) (int, error) {
	n := 0
	for k := range r.db.overrides {
		if k.userID == userID {
			delete(r.db.overrides, k)
			n++
		}
	}
	return n, nil
}

func (r *mockOverrideRepo) CreateCustom(_ context.Context, c *UserCustomItem) error {
	c.ID = uuid.New()
	cp := *c
	r.db.custom[c.ID] = &cp
	return nil
}

func (r *mockOverrideRepo) ListCustom(_ context.Context, userID string) ([]*UserCustomItem, error) {
	var out []*UserCustomItem
	for _, c := range r.db.custom {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *mockOverrideRepo) DeleteCustom(_ context.Context, userID string, id uuid.UUID) (bool, error) {
	c, ok := r.db.custom[id]
	if !ok || c.UserID != userID {
		return false, nil
	}
	delete(r.db.custom, id)
	return true, nil
}

func (r *mockOverrideRepo) DeleteCustomForUser(_ context.Context, userID string) (int, error) {
	n := 0
	for id, c := range r.db.custom {
		if c.UserID == userID {
			delete(r.db.custom, id)
			n++
		}
	}
	return n, nil
}

// -- AliasRepository --

type mockAliasRepo struct {
	db          *memDB
	masterFinds int
}

func (r *mockAliasRepo) find(userID *string, alias string) *Alias {
	for _, a := range r.db.aliases {
		if a.Alias != alias {
			continue
		}
		if userID == nil && a.UserID == nil {
			return a
		}
		if userID != nil && a.UserID != nil && *a.UserID == *userID {
			return a
		}
	}
	return nil
}

func (r *mockAliasRepo) FindMaster(_ context.Context, alias string) (*Alias, error) {
	r.masterFinds++
	return r.find(nil, alias), nil
}

func (r *mockAliasRepo) FindUser(_ context.Context, userID, alias string) (*Alias, error) {
	return r.find(&userID, alias), nil
}

func (r *mockAliasRepo) Upsert(_ context.Context, a *Alias) error {
	if existing := r.find(a.UserID, a.Alias); existing != nil {
		existing.CanonicalName = a.CanonicalName
		existing.StandardItemID = a.StandardItemID
		existing.SourceHint = a.SourceHint
		a.ID, a.CreatedAt = existing.ID, existing.CreatedAt
		return nil
	}
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	cp := *a
	r.db.aliases[a.ID] = &cp
	return nil
}

func (r *mockAliasRepo) InsertMasterIfAbsent(_ context.Context, a *Alias) (bool, error) {
	if r.find(nil, a.Alias) != nil {
		return false, nil
	}
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	cp := *a
	r.db.aliases[a.ID] = &cp
	return true, nil
}

func (r *mockAliasRepo) GetByID(_ context.Context, tier AliasTier, id uuid.UUID) (*Alias, error) {
	a, ok := r.db.aliases[id]
	if !ok || a.Tier() != tier {
		return nil, pgx.ErrNoRows
	}
	cp := *a
	return &cp, nil
}

func (r *mockAliasRepo) Delete(_ context.Context, tier AliasTier, id uuid.UUID) error {
	a, ok := r.db.aliases[id]
	if !ok || a.Tier() != tier {
		return pgx.ErrNoRows
	}
	delete(r.db.aliases, id)
	return nil
}

func (r *mockAliasRepo) List(_ context.Context, f AliasFilter, limit, offset int) ([]*Alias, int, error) {
	var out []*Alias
	for _, a := range r.db.aliases {
		if f.UserID == nil && a.UserID != nil {
			continue
		}
		if f.UserID != nil && (a.UserID == nil || *a.UserID != *f.UserID) {
			continue
		}
		if f.StandardItemID != nil && a.StandardItemID != *f.StandardItemID {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Alias < out[j].Alias })
	total := len(out)
	if offset >= len(out) {
		return nil, total, nil
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, total, nil
}

func (r *mockAliasRepo) CountByItem(_ context.Context, itemID uuid.UUID) (int, int, error) {
	master, user := 0, 0
	for _, a := range r.db.aliases {
		if a.StandardItemID != itemID {
			continue
		}
		if a.UserID == nil {
			master++
		} else {
			user++
		}
	}
	return master, user, nil
}

func (r *mockAliasRepo) MoveToItem(_ context.Context, tier AliasTier, from, to uuid.UUID, canonical string) (int, error) {
	if r.db.failAliasMove != nil {
		return 0, r.db.failAliasMove
	}
	n := 0
	for _, a := range r.db.aliases {
		if a.Tier() == tier && a.StandardItemID == from {
			a.StandardItemID = to
			a.CanonicalName = canonical
			n++
		}
	}
	return n, nil
}

func (r *mockAliasRepo) DeleteByItem(_ context.Context, itemID uuid.UUID) (int, error) {
	n := 0
	for id, a := range r.db.aliases {
		if a.StandardItemID == itemID {
			delete(r.db.aliases, id)
			n++
		}
	}
	return n, nil
}

func (r *mockAliasRepo) DeleteUserAliases(_ context.Context, userID string) (int, error) {
	n := 0
	for id, a := range r.db.aliases {
		if a.UserID != nil && *a.UserID == userID {
			delete(r.db.aliases, id)
			n++
		}
	}
	return n, nil
}

// -- ResultRefs --

type mockResultRefs struct{ db *memDB }

func (r *mockResultRefs) CountByItem(_ context.Context, itemID uuid.UUID) (int, error) {
	n, _ := r.db.refsTo(itemID)
	return n, nil
}

func (r *mockResultRefs) MoveToItem(_ context.Context, from, to uuid.UUID) (int, error) {
	if r.db.failResultMove != nil {
		return 0, r.db.failResultMove
	}
	n := 0
	for id, item := range r.db.results {
		if item == from {
			r.db.results[id] = to
			n++
		}
	}
	return n, nil
}

// -- Transactor --

// mockTx restores the store when fn fails, like a rolled back transaction.
type mockTx struct{ db *memDB }

func (t *mockTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	before := t.db.snapshot()
	if err := fn(ctx); err != nil {
		t.db.restore(before)
		return err
	}
	return nil
}

type testEnv struct {
	db      *memDB
	aliases *mockAliasRepo
	svc     *Service
}

func newTestEnv() *testEnv {
	db := newMemDB()
	aliases := &mockAliasRepo{db: db}
	svc := NewService(&mockItemRepo{db}, &mockOverrideRepo{db}, aliases,
		&mockResultRefs{db}, &mockTx{db}, zerolog.Nop())
	return &testEnv{db: db, aliases: aliases, svc: svc}
}
