package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/garnizeh/cvpipe/internal/models"
)

const jobColumns = `id, draft_id, user_id, type, status, meta_json, error_json, started_at, finished_at, created, updated`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var (
		j          models.Job
		draftID    sql.NullString
		userID     sql.NullString
		typ        string
		status     string
		metaJSON   string
		errorJSON  sql.NullString
		startedAt  sql.NullInt64
		finishedAt sql.NullInt64
		created    int64
		updated    int64
	)
	if err := row.Scan(&j.ID, &draftID, &userID, &typ, &status, &metaJSON, &errorJSON, &startedAt, &finishedAt, &created, &updated); err != nil {
		return nil, err
	}

	j.DraftID = stringPtr(draftID)
	j.UserID = stringPtr(userID)
	j.Type = models.JobType(typ)
	j.Status = models.JobStatus(status)
	j.StartedAt = timePtr(startedAt)
	j.FinishedAt = timePtr(finishedAt)
	j.CreatedAt = fromMillis(created)
	j.UpdatedAt = fromMillis(updated)

	j.Meta = map[string]any{}
	if metaJSON != "" {
		if err := json.Unmarshal([]byte(metaJSON), &j.Meta); err != nil {
			return nil, fmt.Errorf("decode job meta: %w", err)
		}
	}
	if errorJSON.Valid && errorJSON.String != "" {
		var je models.JobError
		if err := json.Unmarshal([]byte(errorJSON.String), &je); err != nil {
			return nil, fmt.Errorf("decode job error: %w", err)
		}
		j.Error = &je
	}

	return &j, nil
}

func (r *SQLiteRepo) FindJobByID(ctx context.Context, id string) (*models.Job, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+jobColumns+` FROM analysis_jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find job %s: %w", id, err)
	}
	return j, nil
}

// SaveJob upserts the job row. The conflict clause refuses to rewrite a row that
// is already completed with anything but another completed state, so a late
// failure or a redelivered pickup cannot revert a finished job.
func (r *SQLiteRepo) SaveJob(ctx context.Context, j *models.Job) error {
	if j == nil {
		return fmt.Errorf("job is nil")
	}
	if j.ID == "" {
		return fmt.Errorf("job id is required")
	}

	ts := now()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = ts
	}
	j.UpdatedAt = ts

	metaJSON, err := marshalJSON(j.Meta, "{}")
	if err != nil {
		return fmt.Errorf("encode job meta: %w", err)
	}
	var errorJSON any
	if j.Error != nil {
		b, err := json.Marshal(j.Error)
		if err != nil {
			return fmt.Errorf("encode job error: %w", err)
		}
		errorJSON = string(b)
	}

	q := `INSERT INTO analysis_jobs (` + jobColumns + `) VALUES (?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET draft_id = excluded.draft_id, user_id = excluded.user_id, type = excluded.type,
		status = excluded.status, meta_json = excluded.meta_json, error_json = excluded.error_json,
		started_at = excluded.started_at, finished_at = excluded.finished_at, updated = excluded.updated
		WHERE analysis_jobs.status != 'completed' OR excluded.status = 'completed'`
	res, err := r.conn.Exec(ctx, q,
		j.ID, nullString(j.DraftID), nullString(j.UserID), string(j.Type), string(j.Status), metaJSON, errorJSON,
		nullMillis(j.StartedAt), nullMillis(j.FinishedAt), toMillis(j.CreatedAt), toMillis(j.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save job %s: %w", j.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		r.logger.Debug("job save skipped: already completed", slog.String("jobId", j.ID), slog.String("status", string(j.Status)))
	}

	return nil
}

func (r *SQLiteRepo) FindRecentJobs(ctx context.Context, draftID string, typ models.JobType, limit int) ([]models.Job, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := r.conn.QueryRows(ctx, `SELECT `+jobColumns+` FROM analysis_jobs WHERE draft_id = ? AND type = ? ORDER BY created DESC, rowid DESC LIMIT ?`, draftID, string(typ), limit)
	if err != nil {
		return nil, fmt.Errorf("find recent jobs: %w", err)
	}
	defer rows.Close()

	var out []models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recent job: %w", err)
		}
		out = append(out, *j)
	}

	return out, rows.Err()
}
