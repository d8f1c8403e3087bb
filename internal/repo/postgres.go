package repo

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/linuxautomates/gitsei-sub041/internal/config"
	"github.com/linuxautomates/gitsei-sub041/internal/domain"
	"github.com/linuxautomates/gitsei-sub041/internal/sprints"
)

//go:embed schema.sql
var schema string

type DB struct {
	Pool *pgxpool.Pool
	log  zerolog.Logger
}

func MustOpen(ctx context.Context, cfg config.Config, log zerolog.Logger) *DB {
	pool, err := pgxpool.New(ctx, cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect failed")
	}
	ctx2, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(ctx2); err != nil {
		log.Fatal().Err(err).Msg("db ping failed")
	}
	return &DB{Pool: pool, log: log}
}

func (d *DB) Close() { d.Pool.Close() }

// querier is the part of pgxpool.Pool the repository uses.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Repository struct {
	db  querier
	log zerolog.Logger
}

func NewRepository(d *DB, log zerolog.Logger) *Repository { return &Repository{db: d.Pool, log: log} }

func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// WithAdvisoryLock runs fn in a transaction holding the advisory lock key.
// It returns false without calling fn when another session holds the lock.
func (r *Repository) WithAdvisoryLock(ctx context.Context, key int64, fn func(tx pgx.Tx) error) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	var ok bool
	if err := tx.QueryRow(ctx, "SELECT pg_try_advisory_xact_lock($1)", key).Scan(&ok); err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if err := fn(tx); err != nil {
		return true, err
	}
	return true, tx.Commit(ctx)
}

// ---- Issues ----

func (r *Repository) GetIssue(ctx context.Context, tenant, key, integrationID string, asOf time.Time) (domain.StoredIssue, bool, error) {
	const q = `SELECT id::text, issue_type, status, status_id,
        issue_created_at, issue_updated_at, issue_resolved_at, ingested_at, config_version,
        statuses, story_points, sprint_events, fields
        FROM issues
        WHERE tenant=$1 AND integration_id=$2 AND key=$3 AND ingested_at=$4`
	iss := domain.StoredIssue{IntegrationID: integrationID, Key: key}
	var created, updated *time.Time
	var statuses, points, events, fields []byte
	err := r.db.QueryRow(ctx, q, tenant, integrationID, key, asOf.UTC()).Scan(
		&iss.ID, &iss.IssueType, &iss.Status, &iss.StatusID,
		&created, &updated, &iss.IssueResolvedAt, &iss.IngestedAt, &iss.ConfigVersion,
		&statuses, &points, &events, &fields)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.StoredIssue{}, false, nil
	}
	if err != nil {
		return domain.StoredIssue{}, false, err
	}
	iss.IssueCreatedAt, iss.IssueUpdatedAt = deref(created), deref(updated)
	for _, c := range []struct {
		raw []byte
		dst any
	}{{statuses, &iss.Statuses}, {points, &iss.StoryPointsLog}, {events, &iss.SprintEvents}, {fields, &iss.Fields}} {
		if len(c.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(c.raw, c.dst); err != nil {
			return domain.StoredIssue{}, false, fmt.Errorf("decode issue %s: %w", key, err)
		}
	}
	return iss, true, nil
}

// InsertIssue writes the revision of the issue for its ingestion bucket,
// replacing an earlier write to the same bucket.
func (r *Repository) InsertIssue(ctx context.Context, tenant string, iss domain.StoredIssue) (string, error) {
	const q = `
        INSERT INTO issues(id, tenant, integration_id, key, issue_type, status, status_id,
            issue_created_at, issue_updated_at, issue_resolved_at, ingested_at, config_version,
            statuses, story_points, sprint_events, fields)
        VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13::jsonb,$14::jsonb,$15::jsonb,$16::jsonb)
        ON CONFLICT(tenant, integration_id, key, ingested_at) DO UPDATE SET
            issue_type=EXCLUDED.issue_type,
            status=EXCLUDED.status,
            status_id=EXCLUDED.status_id,
            issue_created_at=EXCLUDED.issue_created_at,
            issue_updated_at=EXCLUDED.issue_updated_at,
            issue_resolved_at=EXCLUDED.issue_resolved_at,
            config_version=EXCLUDED.config_version,
            statuses=EXCLUDED.statuses,
            story_points=EXCLUDED.story_points,
            sprint_events=EXCLUDED.sprint_events,
            fields=EXCLUDED.fields
        RETURNING id::text`
	id := iss.ID
	if id == "" {
		id = uuid.NewString()
	}
	docs, err := jsonDocs(iss.Statuses, iss.StoryPointsLog, iss.SprintEvents, iss.Fields)
	if err != nil {
		return "", fmt.Errorf("encode issue %s: %w", iss.Key, err)
	}
	var out string
	err = r.db.QueryRow(ctx, q, id, tenant, iss.IntegrationID, iss.Key, iss.IssueType, iss.Status, iss.StatusID,
		nullTime(iss.IssueCreatedAt), nullTime(iss.IssueUpdatedAt), iss.IssueResolvedAt, iss.IngestedAt.UTC(), iss.ConfigVersion,
		docs[0], docs[1], docs[2], docs[3]).Scan(&out)
	if err != nil {
		return "", err
	}
	return out, nil
}

func (r *Repository) CountIssueRevisions(ctx context.Context, tenant, integrationID, key string, limit int) (int, error) {
	const q = `SELECT count(*) FROM (
        SELECT 1 FROM issues WHERE tenant=$1 AND integration_id=$2 AND key=$3 LIMIT $4) s`
	var n int
	if err := r.db.QueryRow(ctx, q, tenant, integrationID, key, limit).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// PruneSnapshots deletes daily revisions ingested before the cutoff. Rows of
// tenants without snapshotting are kept.
func (r *Repository) PruneSnapshots(ctx context.Context, tx pgx.Tx, before time.Time) (int64, error) {
	tag, err := tx.Exec(ctx, `DELETE FROM issues WHERE ingested_at < $1 AND ingested_at <> $2`, before.UTC(), domain.DisabledSnapshotting)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ---- Sprints ----

func (r *Repository) GetSprint(ctx context.Context, tenant, integrationID, sprintID string) (domain.SprintMetadata, bool, error) {
	const q = `SELECT name, state, start_date, end_date, completed_date, updated_at
        FROM sprints WHERE tenant=$1 AND integration_id=$2 AND sprint_id=$3`
	m := domain.SprintMetadata{SprintID: sprintID}
	var start, end *time.Time
	err := r.db.QueryRow(ctx, q, tenant, integrationID, sprintID).Scan(&m.Name, &m.State, &start, &end, &m.CompletedDate, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SprintMetadata{}, false, nil
	}
	if err != nil {
		return domain.SprintMetadata{}, false, err
	}
	m.StartDate, m.EndDate = deref(start), deref(end)
	return m, true, nil
}

// UpsertSprint stores the sprint unless the stored copy is as new or newer.
// It reports whether a row was written.
func (r *Repository) UpsertSprint(ctx context.Context, tenant, integrationID string, m domain.SprintMetadata) (bool, error) {
	const q = `
        INSERT INTO sprints(tenant, integration_id, sprint_id, name, state, start_date, end_date, completed_date, updated_at)
        VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)
        ON CONFLICT(tenant, integration_id, sprint_id) DO UPDATE SET
            name=EXCLUDED.name,
            state=EXCLUDED.state,
            start_date=EXCLUDED.start_date,
            end_date=EXCLUDED.end_date,
            completed_date=EXCLUDED.completed_date,
            updated_at=EXCLUDED.updated_at
        WHERE sprints.updated_at < EXCLUDED.updated_at`
	tag, err := r.db.Exec(ctx, q, tenant, integrationID, m.SprintID, m.Name, m.State,
		nullTime(m.StartDate), nullTime(m.EndDate), m.CompletedDate, m.UpdatedAt.UTC())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ---- Sprint mappings ----

func (r *Repository) UpsertSprintMapping(ctx context.Context, tenant string, rec domain.SprintMembershipRecord) error {
	const q = `
        INSERT INTO sprint_mappings(id, tenant, integration_id, issue_key, sprint_id, added_at,
            planned, delivered, outside_of_sprint, removed_mid_sprint,
            story_points_planned, story_points_delivered, ignorable_issue_type)
        VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
        ON CONFLICT(tenant, integration_id, issue_key, sprint_id) DO UPDATE SET
            added_at=EXCLUDED.added_at,
            planned=EXCLUDED.planned,
            delivered=EXCLUDED.delivered,
            outside_of_sprint=EXCLUDED.outside_of_sprint,
            removed_mid_sprint=EXCLUDED.removed_mid_sprint,
            story_points_planned=EXCLUDED.story_points_planned,
            story_points_delivered=EXCLUDED.story_points_delivered,
            ignorable_issue_type=EXCLUDED.ignorable_issue_type,
            updated_at=now()`
	id := rec.ID
	if id == "" {
		id = uuid.NewString()
	}
	_, err := r.db.Exec(ctx, q, id, tenant, rec.IntegrationID, rec.IssueKey, rec.SprintID, rec.AddedAt.UTC(),
		rec.Planned, rec.Delivered, rec.OutsideOfSprint, rec.RemovedMidSprint,
		rec.StoryPointsPlanned, rec.StoryPointsDelivered, rec.IgnorableIssueType)
	return err
}

func (r *Repository) DeleteSprintMapping(ctx context.Context, tenant, id string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM sprint_mappings WHERE tenant=$1 AND id=$2`, tenant, id)
	return err
}

func (r *Repository) StreamSprintMappings(ctx context.Context, tenant string, f sprints.MappingFilter, fn func(domain.SprintMembershipRecord) error) error {
	const q = `SELECT id::text, integration_id, issue_key, sprint_id, added_at,
        planned, delivered, outside_of_sprint, removed_mid_sprint,
        story_points_planned, story_points_delivered, ignorable_issue_type
        FROM sprint_mappings
        WHERE tenant=$1 AND integration_id = ANY($2) AND issue_key=$3
          AND (cardinality($4::text[]) = 0 OR sprint_id = ANY($4))
        ORDER BY integration_id, sprint_id`
	sprintIDs := f.SprintIDs
	if sprintIDs == nil {
		sprintIDs = []string{}
	}
	rows, err := r.db.Query(ctx, q, tenant, f.IntegrationIDs, f.IssueKey, sprintIDs)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var m domain.SprintMembershipRecord
		if err := rows.Scan(&m.ID, &m.IntegrationID, &m.IssueKey, &m.SprintID, &m.AddedAt,
			&m.Planned, &m.Delivered, &m.OutsideOfSprint, &m.RemovedMidSprint,
			&m.StoryPointsPlanned, &m.StoryPointsDelivered, &m.IgnorableIssueType); err != nil {
			return err
		}
		if err := fn(m); err != nil {
			return err
		}
	}
	return rows.Err()
}

// ---- Status categories ----

func (r *Repository) GetStatusCategory(ctx context.Context, tenant, integrationID, statusID string) (string, bool, error) {
	const q = `SELECT category FROM status_categories WHERE tenant=$1 AND integration_id=$2 AND status_id=$3`
	var cat string
	err := r.db.QueryRow(ctx, q, tenant, integrationID, statusID).Scan(&cat)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return cat, true, nil
}

func (r *Repository) UpsertStatusCategories(ctx context.Context, tenant, integrationID string, cats []domain.StatusCategory) error {
	if len(cats) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	const q = `INSERT INTO status_categories(tenant, integration_id, status_id, name, category)
        VALUES($1,$2,$3,$4,$5)
        ON CONFLICT (tenant, integration_id, status_id) DO UPDATE SET name=EXCLUDED.name, category=EXCLUDED.category`
	for _, c := range cats {
		batch.Queue(q, tenant, integrationID, c.StatusID, c.Name, c.Category)
	}
	br := r.db.SendBatch(ctx, batch)
	defer br.Close()
	for range cats {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// ---- Ingest runs ----

func (r *Repository) StartIngestRun(ctx context.Context, tenant, integrationID string, scanned int) (int64, error) {
	const q = `INSERT INTO ingest_runs(tenant, integration_id, started_at, issues_scanned, success)
        VALUES($1, $2, now(), $3, false) RETURNING id`
	var id int64
	if err := r.db.QueryRow(ctx, q, tenant, integrationID, scanned).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (r *Repository) FinishIngestRun(ctx context.Context, id int64, inserted, failed int, success bool, errStr string) error {
	const q = `UPDATE ingest_runs SET finished_at=now(), issues_inserted=$2, issues_failed=$3, success=$4, error=$5 WHERE id=$1`
	_, err := r.db.Exec(ctx, q, id, inserted, failed, success, errStr)
	return err
}

// GetLastRun returns nil when no batch has run yet.
func (r *Repository) GetLastRun(ctx context.Context) (*domain.IngestRun, error) {
	const q = `SELECT id, tenant, integration_id, started_at, finished_at,
        issues_scanned, issues_inserted, issues_failed, success, error
        FROM ingest_runs ORDER BY id DESC LIMIT 1`
	lr := &domain.IngestRun{}
	err := r.db.QueryRow(ctx, q).Scan(&lr.ID, &lr.Tenant, &lr.IntegrationID, &lr.StartedAt, &lr.FinishedAt,
		&lr.IssuesScanned, &lr.IssuesInserted, &lr.IssuesFailed, &lr.Success, &lr.Error)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return lr, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func deref(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}

func jsonDocs(vs ...any) ([]string, error) {
	out := make([]string, len(vs))
	for i, v := range vs {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		out[i] = string(b)
	}
	return out, nil
}
