package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/garnizeh/cvpipe/internal/models"
)

const draftColumns = `id, owner_user_id, owner_session_id, status, resume_text, job_description, latest_result_id, expires_at, deleted_at, created, updated`

func (r *SQLiteRepo) FindDraftByID(ctx context.Context, id string) (*models.Draft, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+draftColumns+` FROM drafts WHERE id = ?`, id)

	var (
		d              models.Draft
		ownerUser      sql.NullString
		ownerSession   sql.NullString
		status         string
		latestResultID sql.NullString
		expiresAt      sql.NullInt64
		deletedAt      sql.NullInt64
		created        int64
		updated        int64
	)
	if err := row.Scan(&d.ID, &ownerUser, &ownerSession, &status, &d.ResumeText, &d.JobDescription, &latestResultID, &expiresAt, &deletedAt, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find draft %s: %w", id, err)
	}

	d.OwnerUserID = stringPtr(ownerUser)
	d.OwnerSessionID = stringPtr(ownerSession)
	d.Status = models.DraftStatus(status)
	d.LatestResultID = stringPtr(latestResultID)
	d.ExpiresAt = timePtr(expiresAt)
	d.DeletedAt = timePtr(deletedAt)
	d.CreatedAt = fromMillis(created)
	d.UpdatedAt = fromMillis(updated)

	return &d, nil
}

func (r *SQLiteRepo) SaveDraft(ctx context.Context, d *models.Draft) error {
	if d == nil {
		return fmt.Errorf("draft is nil")
	}
	if d.ID == "" {
		return fmt.Errorf("draft id is required")
	}

	ts := now()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = ts
	}
	d.UpdatedAt = ts
	if d.Status == "" {
		d.Status = models.DraftStatusDraft
	}

	q := `INSERT INTO drafts (` + draftColumns + `) VALUES (?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET owner_user_id = excluded.owner_user_id, owner_session_id = excluded.owner_session_id,
		status = excluded.status, resume_text = excluded.resume_text, job_description = excluded.job_description,
		latest_result_id = excluded.latest_result_id, expires_at = excluded.expires_at, deleted_at = excluded.deleted_at,
		updated = excluded.updated`
	_, err := r.conn.Exec(ctx, q,
		d.ID, nullString(d.OwnerUserID), nullString(d.OwnerSessionID), string(d.Status), d.ResumeText, d.JobDescription,
		nullString(d.LatestResultID), nullMillis(d.ExpiresAt), nullMillis(d.DeletedAt), toMillis(d.CreatedAt), toMillis(d.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save draft %s: %w", d.ID, err)
	}

	return nil
}
