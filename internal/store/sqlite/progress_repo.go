package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/deepharvest/deepharvest/internal/store"
)

// ProgressRepo implements store.ProgressRepository on top of the same
// database HistoryDB manages, so the single crawler.sqlite_path file carries both
// the fetch history and the job/site progress rows the progress hub emits.
type ProgressRepo struct {
	db *sql.DB
}

// NewProgressRepo wraps an already-opened HistoryDB's connection. It creates
// the job_runs/site_stats tables the first time it is used.
func NewProgressRepo(h *HistoryDB) (*ProgressRepo, error) {
	r := &ProgressRepo{db: h.db}
	if err := r.createTables(context.Background()); err != nil {
		return nil, fmt.Errorf("create progress tables: %w", err)
	}
	return r, nil
}

func (r *ProgressRepo) createTables(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS job_runs (
		job_id TEXT PRIMARY KEY,
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		status TEXT NOT NULL DEFAULT 'running',
		error_message TEXT
	);

	CREATE TABLE IF NOT EXISTS site_stats (
		job_id TEXT NOT NULL,
		site TEXT NOT NULL,
		status_class TEXT NOT NULL,
		visits INTEGER NOT NULL DEFAULT 0,
		bytes_total INTEGER NOT NULL DEFAULT 0,
		last_update DATETIME,
		PRIMARY KEY (job_id, site, status_class)
	);
	`
	_, err := r.db.ExecContext(ctx, schema)
	return err
}

// UpsertJobStart records the first-seen started_at for a job.
func (r *ProgressRepo) UpsertJobStart(ctx context.Context, jobID uuid.UUID, startedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO job_runs (job_id, started_at, status)
		VALUES (?, ?, 'running')
		ON CONFLICT(job_id) DO NOTHING`,
		jobID.String(), startedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert job start: %w", err)
	}
	return nil
}

// CompleteJob marks a job_runs row finished with the given status.
func (r *ProgressRepo) CompleteJob(ctx context.Context, jobID uuid.UUID, finishedAt time.Time, status store.JobRunStatus, errMsg *string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE job_runs SET finished_at = ?, status = ?, error_message = ? WHERE job_id = ?`,
		finishedAt, string(status), errMsg, jobID.String(),
	)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

// UpsertSiteStats accumulates visit/byte deltas for one (job, site, statusClass).
func (r *ProgressRepo) UpsertSiteStats(ctx context.Context, jobID uuid.UUID, site string, deltaVisits, deltaBytes int64, statusClass string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO site_stats (job_id, site, status_class, visits, bytes_total, last_update)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id, site, status_class) DO UPDATE SET
			visits = visits + excluded.visits,
			bytes_total = bytes_total + excluded.bytes_total,
			last_update = excluded.last_update`,
		jobID.String(), site, statusClass, deltaVisits, deltaBytes, at,
	)
	if err != nil {
		return fmt.Errorf("upsert site stats: %w", err)
	}
	return nil
}

// GetJob loads a single job_runs row.
func (r *ProgressRepo) GetJob(ctx context.Context, jobID uuid.UUID) (store.JobRun, error) {
	var run store.JobRun
	var finishedAt sql.NullTime
	var errMsg sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT job_id, started_at, finished_at, status, error_message FROM job_runs WHERE job_id = ?`,
		jobID.String(),
	).Scan(&run.JobID, &run.StartedAt, &finishedAt, &run.Status, &errMsg)
	if errors.Is(err, sql.ErrNoRows) {
		return store.JobRun{}, store.ErrNotFound
	}
	if err != nil {
		return store.JobRun{}, fmt.Errorf("get job: %w", err)
	}
	run.ID = jobID
	if finishedAt.Valid {
		run.FinishedAt = &finishedAt.Time
	}
	if errMsg.Valid {
		run.ErrorMessage = &errMsg.String
	}
	return run, nil
}

// ListJobs returns job_runs rows, optionally filtered by status.
func (r *ProgressRepo) ListJobs(ctx context.Context, status *store.JobRunStatus, limit, offset int) ([]store.JobRun, error) {
	var rows *sql.Rows
	var err error
	if status != nil {
		rows, err = r.db.QueryContext(ctx, `
			SELECT job_id, started_at, finished_at, status, error_message FROM job_runs
			WHERE status = ? ORDER BY started_at DESC LIMIT ? OFFSET ?`,
			string(*status), limit, offset,
		)
	} else {
		rows, err = r.db.QueryContext(ctx, `
			SELECT job_id, started_at, finished_at, status, error_message FROM job_runs
			ORDER BY started_at DESC LIMIT ? OFFSET ?`,
			limit, offset,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []store.JobRun
	for rows.Next() {
		var run store.JobRun
		var jobIDStr string
		var finishedAt sql.NullTime
		var errMsg sql.NullString
		if err := rows.Scan(&jobIDStr, &run.StartedAt, &finishedAt, &run.Status, &errMsg); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		parsed, err := uuid.Parse(jobIDStr)
		if err != nil {
			return nil, fmt.Errorf("parse job id: %w", err)
		}
		run.ID = parsed
		run.JobID = parsed
		if finishedAt.Valid {
			run.FinishedAt = &finishedAt.Time
		}
		if errMsg.Valid {
			run.ErrorMessage = &errMsg.String
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// ListJobSites returns site_stats rows for one job, folding status-class
// buckets into the Fetch2xx..Fetch5xx counters on SiteStats.
func (r *ProgressRepo) ListJobSites(ctx context.Context, jobID uuid.UUID, limit, offset int) ([]store.SiteStats, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT site, status_class, visits, bytes_total, last_update FROM site_stats
		WHERE job_id = ? ORDER BY site LIMIT ? OFFSET ?`,
		jobID.String(), limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list job sites: %w", err)
	}
	defer rows.Close()

	bySite := make(map[string]*store.SiteStats)
	var order []string
	for rows.Next() {
		var site, statusClass string
		var visits, bytesTotal int64
		var lastUpdate sql.NullTime
		if err := rows.Scan(&site, &statusClass, &visits, &bytesTotal, &lastUpdate); err != nil {
			return nil, fmt.Errorf("scan site stats: %w", err)
		}
		stat, ok := bySite[site]
		if !ok {
			stat = &store.SiteStats{JobID: jobID, Site: site}
			bySite[site] = stat
			order = append(order, site)
		}
		stat.Visits += visits
		stat.BytesTotal += bytesTotal
		if lastUpdate.Valid && lastUpdate.Time.After(stat.LastUpdate) {
			stat.LastUpdate = lastUpdate.Time
		}
		switch statusClass {
		case "2xx":
			stat.Fetch2xx += visits
		case "3xx":
			stat.Fetch3xx += visits
		case "4xx":
			stat.Fetch4xx += visits
		case "5xx":
			stat.Fetch5xx += visits
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]store.SiteStats, 0, len(order))
	for _, site := range order {
		out = append(out, *bySite[site])
	}
	return out, nil
}
