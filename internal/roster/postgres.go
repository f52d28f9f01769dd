package roster

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/fd-attendance/internal/apperr"
	"github.com/your-org/fd-attendance/internal/config"
)

// PostgresRepository is the C3 adapter, grounded on the teacher's
// internal/storage/postgres.go (same pgxpool.Pool + pgvector.Vector
// CRUD shape) retargeted at the identities/events/schedule schema.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgres connects per cfg, mirroring the teacher's NewPostgresStore.
func NewPostgres(cfg config.DatabaseConfig) (*PostgresRepository, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresRepository{pool: pool}, nil
}

func (r *PostgresRepository) Close() { r.pool.Close() }

func (r *PostgresRepository) Ping(ctx context.Context) error { return r.pool.Ping(ctx) }

func (r *PostgresRepository) ListIdentities(ctx context.Context, org string) ([]Identity, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, person_id, label, embedding, photo_path, bbox_x, bbox_y, bbox_w, bbox_h, ts
		 FROM identities WHERE org_id = $1 ORDER BY id ASC`, org)
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "list identities", err)
	}
	defer rows.Close()

	var out []Identity
	for rows.Next() {
		var id Identity
		var vec pgvector.Vector
		if err := rows.Scan(&id.ID, &id.PersonID, &id.Label, &vec, &id.PhotoPath,
			&id.BBox[0], &id.BBox[1], &id.BBox[2], &id.BBox[3], &id.Ts); err != nil {
			return nil, apperr.Wrap(apperr.Transient, "scan identity", err)
		}
		id.Embedding = vec.Slice()
		out = append(out, id)
	}
	return out, nil
}

// ReplaceIdentities performs the set-replacement inside a single
// transaction so readers observe either the full old set or the full
// new set, per spec §4.3's atomicity requirement.
func (r *PostgresRepository) ReplaceIdentities(ctx context.Context, org string, identities []Identity) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "begin replace identities", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM identities WHERE org_id = $1`, org); err != nil {
		return apperr.Wrap(apperr.Transient, "clear identities", err)
	}

	for _, id := range identities {
		vec := pgvector.NewVector(id.Embedding)
		if _, err := tx.Exec(ctx,
			`INSERT INTO identities (org_id, id, person_id, label, embedding, photo_path, bbox_x, bbox_y, bbox_w, bbox_h, ts)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			org, id.ID, id.PersonID, id.Label, vec, id.PhotoPath,
			id.BBox[0], id.BBox[1], id.BBox[2], id.BBox[3], id.Ts); err != nil {
			return apperr.Wrap(apperr.Transient, "insert identity", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return apperr.Wrap(apperr.Transient, "commit replace identities", err)
	}
	return nil
}

func (r *PostgresRepository) UpsertPerson(ctx context.Context, org, personID, label, photoPath string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO identities (org_id, person_id, label, photo_path, ts)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (org_id, person_id) DO UPDATE SET label = $3, photo_path = $4, ts = now()`,
		org, personID, label, photoPath)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "upsert person", err)
	}
	return nil
}

func (r *PostgresRepository) ListEvents(ctx context.Context, org string, filter EventFilter, page Page, order Order) ([]Event, int, error) {
	where := "WHERE org_id = $1"
	args := []interface{}{org}
	argIdx := 2

	if filter.Label != "" {
		where += fmt.Sprintf(" AND label = $%d", argIdx)
		args = append(args, filter.Label)
		argIdx++
	}
	if filter.StartDate != nil {
		where += fmt.Sprintf(" AND ts >= $%d", argIdx)
		args = append(args, *filter.StartDate)
		argIdx++
	}
	if filter.EndDate != nil {
		// EndDate is the start of a local day; include that whole day.
		where += fmt.Sprintf(" AND ts < $%d", argIdx)
		args = append(args, filter.EndDate.AddDate(0, 0, 1))
		argIdx++
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM events " + where
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, apperr.Wrap(apperr.Transient, "count events", err)
	}

	orderClause := "ORDER BY ts DESC"
	if order == OrderTsAsc {
		orderClause = "ORDER BY ts ASC"
	}

	pageSize := page.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	pageNum := page.Number
	if pageNum <= 0 {
		pageNum = 1
	}
	offset := (pageNum - 1) * pageSize

	query := fmt.Sprintf(`SELECT id, label, person_id, score, ts FROM events %s %s LIMIT $%d OFFSET $%d`,
		where, orderClause, argIdx, argIdx+1)
	args = append(args, pageSize, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, apperr.Wrap(apperr.Transient, "list events", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.Label, &ev.PersonID, &ev.Score, &ev.Ts); err != nil {
			return nil, 0, apperr.Wrap(apperr.Transient, "scan event", err)
		}
		events = append(events, ev)
	}
	return events, total, nil
}

func (r *PostgresRepository) InsertEvent(ctx context.Context, org, label string, score float64, ts *time.Time, personID *string) (Event, error) {
	ev := Event{Label: label, Score: score, PersonID: personID}
	when := time.Now()
	if ts != nil {
		when = *ts
	}
	ev.Ts = when

	err := r.pool.QueryRow(ctx,
		`INSERT INTO events (org_id, label, person_id, score, ts) VALUES ($1,$2,$3,$4,$5) RETURNING id`,
		org, label, personID, score, when).Scan(&ev.ID)
	if err != nil {
		return Event{}, apperr.Wrap(apperr.Transient, "insert event", err)
	}
	return ev, nil
}

func (r *PostgresRepository) EditEvent(ctx context.Context, org string, id int, patch EventPatch) error {
	sets := []string{}
	args := []interface{}{}
	argIdx := 1

	if patch.Label != nil {
		sets = append(sets, fmt.Sprintf("label = $%d", argIdx))
		args = append(args, *patch.Label)
		argIdx++
	}
	if patch.PersonID != nil {
		sets = append(sets, fmt.Sprintf("person_id = $%d", argIdx))
		args = append(args, *patch.PersonID)
		argIdx++
	}
	if patch.Score != nil {
		sets = append(sets, fmt.Sprintf("score = $%d", argIdx))
		args = append(args, *patch.Score)
		argIdx++
	}
	if patch.Ts != nil {
		sets = append(sets, fmt.Sprintf("ts = $%d", argIdx))
		args = append(args, *patch.Ts)
		argIdx++
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, org, id)
	query := fmt.Sprintf(`UPDATE events SET %s WHERE org_id = $%d AND id = $%d`,
		strings.Join(sets, ", "), argIdx, argIdx+1)
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "edit event", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.NotFound, "event not found")
	}
	return nil
}

func (r *PostgresRepository) BulkDeleteEvents(ctx context.Context, org string, ids []int) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.pool.Exec(ctx, `DELETE FROM events WHERE org_id = $1 AND id = ANY($2)`, org, ids)
	if err != nil {
		return 0, apperr.Wrap(apperr.Transient, "bulk delete events", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *PostgresRepository) GetScheduleRules(ctx context.Context, org string) ([]ScheduleRule, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT day, enabled, check_in, check_out, grace_in_min, grace_out_min, label, notes
		 FROM schedule_rules WHERE org_id = $1`, org)
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "get schedule rules", err)
	}
	defer rows.Close()

	var out []ScheduleRule
	for rows.Next() {
		var ru ScheduleRule
		if err := rows.Scan(&ru.Day, &ru.Enabled, &ru.CheckIn, &ru.CheckOut,
			&ru.GraceInMin, &ru.GraceOutMin, &ru.Label, &ru.Notes); err != nil {
			return nil, apperr.Wrap(apperr.Transient, "scan schedule rule", err)
		}
		out = append(out, ru)
	}
	return out, nil
}

func (r *PostgresRepository) SetScheduleRules(ctx context.Context, org string, rules []ScheduleRule) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "begin set schedule rules", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM schedule_rules WHERE org_id = $1`, org); err != nil {
		return apperr.Wrap(apperr.Transient, "clear schedule rules", err)
	}
	for _, ru := range rules {
		if _, err := tx.Exec(ctx,
			`INSERT INTO schedule_rules (org_id, day, enabled, check_in, check_out, grace_in_min, grace_out_min, label, notes)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			org, ru.Day, ru.Enabled, ru.CheckIn, ru.CheckOut, ru.GraceInMin, ru.GraceOutMin, ru.Label, ru.Notes); err != nil {
			return apperr.Wrap(apperr.Transient, "insert schedule rule", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return apperr.Wrap(apperr.Transient, "commit schedule rules", err)
	}
	return nil
}

func (r *PostgresRepository) ListScheduleOverrides(ctx context.Context, org string) ([]ScheduleOverride, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, start_date, end_date, enabled, check_in, check_out, grace_in_min, grace_out_min, label, notes
		 FROM schedule_overrides WHERE org_id = $1`, org)
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "list overrides", err)
	}
	defer rows.Close()

	var out []ScheduleOverride
	for rows.Next() {
		var o ScheduleOverride
		if err := rows.Scan(&o.ID, &o.StartDate, &o.EndDate, &o.Enabled, &o.CheckIn, &o.CheckOut,
			&o.GraceInMin, &o.GraceOutMin, &o.Label, &o.Notes); err != nil {
			return nil, apperr.Wrap(apperr.Transient, "scan override", err)
		}
		targets, err := r.loadOverrideTargets(ctx, o.ID)
		if err != nil {
			return nil, err
		}
		o.Targets = targets
		out = append(out, o)
	}
	return out, nil
}

func (r *PostgresRepository) loadOverrideTargets(ctx context.Context, overrideID int) ([]Target, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT type, value FROM schedule_override_targets WHERE override_id = $1`, overrideID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "list override targets", err)
	}
	defer rows.Close()

	var out []Target
	for rows.Next() {
		var t Target
		if err := rows.Scan(&t.Type, &t.Value); err != nil {
			return nil, apperr.Wrap(apperr.Transient, "scan override target", err)
		}
		out = append(out, t)
	}
	return out, nil
}

func (r *PostgresRepository) UpsertScheduleOverride(ctx context.Context, org string, o ScheduleOverride) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, apperr.Wrap(apperr.Transient, "begin upsert override", err)
	}
	defer tx.Rollback(ctx)

	var id int
	if o.ID == 0 {
		err = tx.QueryRow(ctx,
			`INSERT INTO schedule_overrides (org_id, start_date, end_date, enabled, check_in, check_out, grace_in_min, grace_out_min, label, notes)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id`,
			org, o.StartDate, o.EndDate, o.Enabled, o.CheckIn, o.CheckOut, o.GraceInMin, o.GraceOutMin, o.Label, o.Notes).Scan(&id)
	} else {
		id = o.ID
		_, err = tx.Exec(ctx,
			`UPDATE schedule_overrides SET start_date=$1, end_date=$2, enabled=$3, check_in=$4, check_out=$5,
			 grace_in_min=$6, grace_out_min=$7, label=$8, notes=$9 WHERE id=$10 AND org_id=$11`,
			o.StartDate, o.EndDate, o.Enabled, o.CheckIn, o.CheckOut, o.GraceInMin, o.GraceOutMin, o.Label, o.Notes, id, org)
		if err == nil {
			_, err = tx.Exec(ctx, `DELETE FROM schedule_override_targets WHERE override_id = $1`, id)
		}
	}
	if err != nil {
		return 0, apperr.Wrap(apperr.Transient, "upsert override", err)
	}

	for _, t := range o.Targets {
		if _, err := tx.Exec(ctx,
			`INSERT INTO schedule_override_targets (override_id, type, value) VALUES ($1,$2,$3)`,
			id, t.Type, t.Value); err != nil {
			return 0, apperr.Wrap(apperr.Transient, "insert override target", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, apperr.Wrap(apperr.Transient, "commit override", err)
	}
	return id, nil
}

func (r *PostgresRepository) DeleteScheduleOverride(ctx context.Context, org string, id int) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM schedule_overrides WHERE id = $1 AND org_id = $2`, id, org)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "delete override", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.NotFound, "override not found")
	}
	return nil
}

func (r *PostgresRepository) GroupMembers(ctx context.Context, org, groupRef string) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT i.person_id FROM identities i
		 JOIN group_members gm ON gm.person_id = i.person_id
		 JOIN groups g ON g.id = gm.group_id
		 WHERE i.org_id = $1 AND (g.id::text = $2 OR g.slug = $2 OR g.name = $2)`,
		org, groupRef)
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "group members", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var pid string
		if err := rows.Scan(&pid); err != nil {
			return nil, apperr.Wrap(apperr.Transient, "scan group member", err)
		}
		out = append(out, pid)
	}
	return out, nil
}
