package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pethealth/pethealth/internal/platform/db"
)

// -- Standard items --

type itemRepoPG struct{ pool *pgxpool.Pool }

func NewItemRepoPG(pool *pgxpool.Pool) ItemRepository {
	return &itemRepoPG{pool: pool}
}

func (r *itemRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Pick(ctx, r.pool)
}

const itemCols = `id, name, display_name_ko, category, exam_type, default_unit, organ_tags,
	description_common, description_high, description_low, created_at, updated_at`

func scanItem(row pgx.Row) (*StandardItem, error) {
	var s StandardItem
	err := row.Scan(&s.ID, &s.Name, &s.DisplayNameKo, &s.Category, &s.ExamType,
		&s.DefaultUnit, &s.OrganTags, &s.DescriptionCommon, &s.DescriptionHigh,
		&s.DescriptionLow, &s.CreatedAt, &s.UpdatedAt)
	return &s, err
}

func (r *itemRepoPG) Create(ctx context.Context, s *StandardItem) error {
	s.ID = uuid.New()
	if s.OrganTags == nil {
		s.OrganTags = []string{}
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO standard_items (id, name, display_name_ko, category, exam_type, default_unit,
			organ_tags, description_common, description_high, description_low)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at, updated_at`,
		s.ID, s.Name, s.DisplayNameKo, s.Category, s.ExamType, s.DefaultUnit,
		s.OrganTags, s.DescriptionCommon, s.DescriptionHigh, s.DescriptionLow,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
}

func (r *itemRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*StandardItem, error) {
	return scanItem(r.conn(ctx).QueryRow(ctx, `SELECT `+itemCols+` FROM standard_items WHERE id = $1`, id))
}

func (r *itemRepoPG) GetByName(ctx context.Context, name string) (*StandardItem, error) {
	return scanItem(r.conn(ctx).QueryRow(ctx,
		`SELECT `+itemCols+` FROM standard_items WHERE lower(name) = lower($1)`, name))
}

func (r *itemRepoPG) Update(ctx context.Context, s *StandardItem) error {
	if s.OrganTags == nil {
		s.OrganTags = []string{}
	}
	return r.conn(ctx).QueryRow(ctx, `
		UPDATE standard_items SET name=$2, display_name_ko=$3, category=$4, exam_type=$5,
			default_unit=$6, organ_tags=$7, description_common=$8, description_high=$9,
			description_low=$10, updated_at=NOW()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		s.ID, s.Name, s.DisplayNameKo, s.Category, s.ExamType, s.DefaultUnit,
		s.OrganTags, s.DescriptionCommon, s.DescriptionHigh, s.DescriptionLow,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
}

func (r *itemRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM standard_items WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *itemRepoPG) List(ctx context.Context, f ItemFilter, limit, offset int) ([]*StandardItem, int, error) {
	where := []string{"TRUE"}
	var args []interface{}
	if f.Category != "" {
		args = append(args, f.Category)
		where = append(where, fmt.Sprintf("category = $%d", len(args)))
	}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		where = append(where, fmt.Sprintf("(name ILIKE $%[1]d OR display_name_ko ILIKE $%[1]d)", len(args)))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM standard_items WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx,
		fmt.Sprintf(`SELECT `+itemCols+` FROM standard_items WHERE %s ORDER BY category NULLS LAST, name LIMIT $%d OFFSET $%d`,
			cond, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*StandardItem
	for rows.Next() {
		s, err := scanItem(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	return items, total, rows.Err()
}

func (r *itemRepoPG) ListUnmapped(ctx context.Context) ([]*UnmappedItem, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+prefixCols("s", itemCols)+`,
			(SELECT COUNT(*) FROM test_results t WHERE t.standard_item_id = s.id),
			(SELECT COUNT(*) FROM standard_item_aliases a WHERE a.standard_item_id = s.id)
			+ (SELECT COUNT(*) FROM user_item_aliases u WHERE u.standard_item_id = s.id)
		FROM standard_items s
		WHERE s.category = $1
		ORDER BY s.created_at DESC`, CategoryUnmapped)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*UnmappedItem
	for rows.Next() {
		var u UnmappedItem
		s := &u.StandardItem
		if err := rows.Scan(&s.ID, &s.Name, &s.DisplayNameKo, &s.Category, &s.ExamType,
			&s.DefaultUnit, &s.OrganTags, &s.DescriptionCommon, &s.DescriptionHigh,
			&s.DescriptionLow, &s.CreatedAt, &s.UpdatedAt, &u.ResultCount, &u.AliasCount); err != nil {
			return nil, err
		}
		out = append(out, &u)
	}
	return out, rows.Err()
}

// resolveSQL serves a whole batch in one round trip: master rows joined with
// the caller's override, plus the caller's custom items.
const resolveSQL = `
	SELECT 'master' AS source, s.id, s.name, s.display_name_ko, s.category, s.exam_type,
		s.default_unit, s.organ_tags, s.description_common, s.description_high, s.description_low,
		(o.user_id IS NOT NULL) AS has_override,
		o.display_name_ko, o.category, o.exam_type, o.default_unit, o.organ_tags,
		o.description_common, o.description_high, o.description_low
	FROM standard_items s
	LEFT JOIN user_item_overrides o ON o.standard_item_id = s.id AND o.user_id = $2
	WHERE s.id = ANY($1)
	UNION ALL
	SELECT 'custom', c.id, c.name, c.display_name_ko, c.category, c.exam_type,
		c.default_unit, c.organ_tags, c.description_common, c.description_high, c.description_low,
		FALSE,
		NULL::text, NULL::text, NULL::text, NULL::text, NULL::text[],
		NULL::text, NULL::text, NULL::text
	FROM user_custom_items c
	WHERE c.id = ANY($1) AND c.user_id = $2`

func (r *itemRepoPG) ResolveRows(ctx context.Context, ids []uuid.UUID, userID string) ([]ResolveRow, error) {
	rows, err := r.conn(ctx).Query(ctx, resolveSQL, ids, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ResolveRow
	for rows.Next() {
		var (
			source      string
			hasOverride bool
			base        StandardItem
			o           UserItemOverride
		)
		if err := rows.Scan(&source, &base.ID, &base.Name, &base.DisplayNameKo, &base.Category,
			&base.ExamType, &base.DefaultUnit, &base.OrganTags, &base.DescriptionCommon,
			&base.DescriptionHigh, &base.DescriptionLow, &hasOverride,
			&o.DisplayNameKo, &o.Category, &o.ExamType, &o.DefaultUnit, &o.OrganTags,
			&o.DescriptionCommon, &o.DescriptionHigh, &o.DescriptionLow); err != nil {
			return nil, err
		}

		if source == "custom" {
			out = append(out, ResolveRow{Custom: &UserCustomItem{
				ID: base.ID, UserID: userID, Name: base.Name, DisplayNameKo: base.DisplayNameKo,
				Category: base.Category, ExamType: base.ExamType, DefaultUnit: base.DefaultUnit,
				OrganTags: base.OrganTags, DescriptionCommon: base.DescriptionCommon,
				DescriptionHigh: base.DescriptionHigh, DescriptionLow: base.DescriptionLow,
			}})
			continue
		}
		row := ResolveRow{Master: &base}
		if hasOverride {
			o.UserID = userID
			o.StandardItemID = base.ID
			row.Override = &o
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func prefixCols(alias, cols string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

// -- Overrides and custom items --

type overrideRepoPG struct{ pool *pgxpool.Pool }

func NewOverrideRepoPG(pool *pgxpool.Pool) OverrideRepository {
	return &overrideRepoPG{pool: pool}
}

func (r *overrideRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Pick(ctx, r.pool)
}

func (r *overrideRepoPG) UpsertOverride(ctx context.Context, o *UserItemOverride) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO user_item_overrides (user_id, standard_item_id, display_name_ko, category,
			exam_type, default_unit, organ_tags, description_common, description_high, description_low)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (user_id, standard_item_id) DO UPDATE SET
			display_name_ko = EXCLUDED.display_name_ko, category = EXCLUDED.category,
			exam_type = EXCLUDED.exam_type, default_unit = EXCLUDED.default_unit,
			organ_tags = EXCLUDED.organ_tags, description_common = EXCLUDED.description_common,
			description_high = EXCLUDED.description_high, description_low = EXCLUDED.description_low,
			updated_at = NOW()
		RETURNING created_at, updated_at`,
		o.UserID, o.StandardItemID, o.DisplayNameKo, o.Category, o.ExamType, o.DefaultUnit,
		o.OrganTags, o.DescriptionCommon, o.DescriptionHigh, o.DescriptionLow,
	).Scan(&o.CreatedAt, &o.UpdatedAt)
}

func (r *overrideRepoPG) DeleteOverride(ctx context.Context, userID string, itemID uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM user_item_overrides WHERE user_id = $1 AND standard_item_id = $2`, userID, itemID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *overrideRepoPG) DeleteOverridesForUser(ctx context.Context, userID string) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM user_item_overrides WHERE user_id = $1`, userID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

const customCols = `id, user_id, name, display_name_ko, category, exam_type, default_unit, organ_tags,
	description_common, description_high, description_low, created_at, updated_at`

func (r *overrideRepoPG) CreateCustom(ctx context.Context, c *UserCustomItem) error {
	c.ID = uuid.New()
	if c.OrganTags == nil {
		c.OrganTags = []string{}
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO user_custom_items (id, user_id, name, display_name_ko, category, exam_type,
			default_unit, organ_tags, description_common, description_high, description_low)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at, updated_at`,
		c.ID, c.UserID, c.Name, c.DisplayNameKo, c.Category, c.ExamType, c.DefaultUnit,
		c.OrganTags, c.DescriptionCommon, c.DescriptionHigh, c.DescriptionLow,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
}

func (r *overrideRepoPG) ListCustom(ctx context.Context, userID string) ([]*UserCustomItem, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+customCols+` FROM user_custom_items WHERE user_id = $1 ORDER BY name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*UserCustomItem
	for rows.Next() {
		var c UserCustomItem
		if err := rows.Scan(&c.ID, &c.UserID, &c.Name, &c.DisplayNameKo, &c.Category, &c.ExamType,
			&c.DefaultUnit, &c.OrganTags, &c.DescriptionCommon, &c.DescriptionHigh,
			&c.DescriptionLow, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (r *overrideRepoPG) DeleteCustom(ctx context.Context, userID string, id uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM user_custom_items WHERE user_id = $1 AND id = $2`, userID, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *overrideRepoPG) DeleteCustomForUser(ctx context.Context, userID string) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM user_custom_items WHERE user_id = $1`, userID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// -- Aliases --

type aliasRepoPG struct{ pool *pgxpool.Pool }

func NewAliasRepoPG(pool *pgxpool.Pool) AliasRepository {
	return &aliasRepoPG{pool: pool}
}

func (r *aliasRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Pick(ctx, r.pool)
}

func aliasTable(tier AliasTier) string {
	if tier == TierUser {
		return "user_item_aliases"
	}
	return "standard_item_aliases"
}

const (
	masterAliasCols = `id, alias, canonical_name, standard_item_id, source_hint, NULL::text, created_at`
	userAliasCols   = `id, alias, canonical_name, standard_item_id, source_hint, user_id, created_at`
)

func aliasCols(tier AliasTier) string {
	if tier == TierUser {
		return userAliasCols
	}
	return masterAliasCols
}

func scanAlias(row pgx.Row) (*Alias, error) {
	var a Alias
	err := row.Scan(&a.ID, &a.Alias, &a.CanonicalName, &a.StandardItemID, &a.SourceHint, &a.UserID, &a.CreatedAt)
	return &a, err
}

func findOne(row pgx.Row) (*Alias, error) {
	a, err := scanAlias(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (r *aliasRepoPG) FindMaster(ctx context.Context, alias string) (*Alias, error) {
	return findOne(r.conn(ctx).QueryRow(ctx,
		`SELECT `+masterAliasCols+` FROM standard_item_aliases WHERE alias = $1`, alias))
}

func (r *aliasRepoPG) FindUser(ctx context.Context, userID, alias string) (*Alias, error) {
	return findOne(r.conn(ctx).QueryRow(ctx,
		`SELECT `+userAliasCols+` FROM user_item_aliases WHERE user_id = $1 AND alias = $2`, userID, alias))
}

func (r *aliasRepoPG) Upsert(ctx context.Context, a *Alias) error {
	if a.UserID == nil {
		return r.conn(ctx).QueryRow(ctx, `
			INSERT INTO standard_item_aliases (id, alias, canonical_name, standard_item_id, source_hint)
			VALUES ($1,$2,$3,$4,$5)
			ON CONFLICT (alias) DO UPDATE SET canonical_name = EXCLUDED.canonical_name,
				standard_item_id = EXCLUDED.standard_item_id, source_hint = EXCLUDED.source_hint
			RETURNING id, created_at`,
			uuid.New(), a.Alias, a.CanonicalName, a.StandardItemID, a.SourceHint,
		).Scan(&a.ID, &a.CreatedAt)
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO user_item_aliases (id, user_id, alias, canonical_name, standard_item_id, source_hint)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (user_id, alias) DO UPDATE SET canonical_name = EXCLUDED.canonical_name,
			standard_item_id = EXCLUDED.standard_item_id, source_hint = EXCLUDED.source_hint
		RETURNING id, created_at`,
		uuid.New(), *a.UserID, a.Alias, a.CanonicalName, a.StandardItemID, a.SourceHint,
	).Scan(&a.ID, &a.CreatedAt)
}

func (r *aliasRepoPG) InsertMasterIfAbsent(ctx context.Context, a *Alias) (bool, error) {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO standard_item_aliases (id, alias, canonical_name, standard_item_id, source_hint)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (alias) DO NOTHING
		RETURNING id, created_at`,
		uuid.New(), a.Alias, a.CanonicalName, a.StandardItemID, a.SourceHint,
	).Scan(&a.ID, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *aliasRepoPG) GetByID(ctx context.Context, tier AliasTier, id uuid.UUID) (*Alias, error) {
	return scanAlias(r.conn(ctx).QueryRow(ctx,
		`SELECT `+aliasCols(tier)+` FROM `+aliasTable(tier)+` WHERE id = $1`, id))
}

func (r *aliasRepoPG) Delete(ctx context.Context, tier AliasTier, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM `+aliasTable(tier)+` WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *aliasRepoPG) List(ctx context.Context, f AliasFilter, limit, offset int) ([]*Alias, int, error) {
	tier := TierMaster
	where := []string{"TRUE"}
	var args []interface{}
	if f.UserID != nil {
		tier = TierUser
		args = append(args, *f.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if f.StandardItemID != nil {
		args = append(args, *f.StandardItemID)
		where = append(where, fmt.Sprintf("standard_item_id = $%d", len(args)))
	}
	cond := strings.Join(where, " AND ")
	table := aliasTable(tier)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM `+table+` WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE %s ORDER BY alias LIMIT $%d OFFSET $%d`,
			aliasCols(tier), table, cond, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []*Alias
	for rows.Next() {
		a, err := scanAlias(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, a)
	}
	return out, total, rows.Err()
}

func (r *aliasRepoPG) CountByItem(ctx context.Context, itemID uuid.UUID) (int, int, error) {
	var master, user int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT (SELECT COUNT(*) FROM standard_item_aliases WHERE standard_item_id = $1),
		       (SELECT COUNT(*) FROM user_item_aliases WHERE standard_item_id = $1)`, itemID,
	).Scan(&master, &user)
	return master, user, err
}

func (r *aliasRepoPG) MoveToItem(ctx context.Context, tier AliasTier, from, to uuid.UUID, canonicalName string) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE `+aliasTable(tier)+` SET standard_item_id = $2, canonical_name = $3 WHERE standard_item_id = $1`,
		from, to, canonicalName)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *aliasRepoPG) DeleteByItem(ctx context.Context, itemID uuid.UUID) (int, error) {
	master, err := r.conn(ctx).Exec(ctx, `DELETE FROM standard_item_aliases WHERE standard_item_id = $1`, itemID)
	if err != nil {
		return 0, err
	}
	user, err := r.conn(ctx).Exec(ctx, `DELETE FROM user_item_aliases WHERE standard_item_id = $1`, itemID)
	if err != nil {
		return 0, err
	}
	return int(master.RowsAffected() + user.RowsAffected()), nil
}

func (r *aliasRepoPG) DeleteUserAliases(ctx context.Context, userID string) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM user_item_aliases WHERE user_id = $1`, userID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// -- Test result references --

type resultRefsPG struct{ pool *pgxpool.Pool }

func NewResultRefsPG(pool *pgxpool.Pool) ResultRefs {
	return &resultRefsPG{pool: pool}
}

func (r *resultRefsPG) CountByItem(ctx context.Context, itemID uuid.UUID) (int, error) {
	var n int
	err := db.Pick(ctx, r.pool).QueryRow(ctx,
		`SELECT COUNT(*) FROM test_results WHERE standard_item_id = $1`, itemID).Scan(&n)
	return n, err
}

func (r *resultRefsPG) MoveToItem(ctx context.Context, from, to uuid.UUID) (int, error) {
	tag, err := db.Pick(ctx, r.pool).Exec(ctx,
		`UPDATE test_results SET standard_item_id = $2, updated_at = NOW() WHERE standard_item_id = $1`, from, to)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
