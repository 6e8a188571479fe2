package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/garnizeh/cvpipe/internal/models"
)

func (r *SQLiteRepo) FindAnalysisByID(ctx context.Context, id string) (*models.Analysis, error) {
	row := r.conn.QueryRow(ctx, `SELECT id, draft_id, job_id, ats_score, match_score, missing_skills_json, panels_allowed_json, parsing_meta_json, keyword_hits_json, created FROM analyses WHERE id = ?`, id)

	var (
		a            models.Analysis
		missingJSON  string
		panelsJSON   string
		parsingJSON  string
		keywordsJSON string
		created      int64
	)
	if err := row.Scan(&a.ID, &a.DraftID, &a.JobID, &a.ATSScore, &a.MatchScore, &missingJSON, &panelsJSON, &parsingJSON, &keywordsJSON, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find analysis %s: %w", id, err)
	}
	a.CreatedAt = fromMillis(created)

	decode := []struct {
		name string
		raw  string
		dst  any
	}{
		{"missing_skills", missingJSON, &a.MissingSkills},
		{"panels_allowed", panelsJSON, &a.PanelsAllowed},
		{"parsing_meta", parsingJSON, &a.ParsingMeta},
		{"keyword_hits", keywordsJSON, &a.KeywordHits},
	}
	for _, d := range decode {
		if err := json.Unmarshal([]byte(d.raw), d.dst); err != nil {
			return nil, fmt.Errorf("decode analysis %s: %w", d.name, err)
		}
	}
	if a.MissingSkills == nil {
		a.MissingSkills = []string{}
	}
	if a.PanelsAllowed == nil {
		a.PanelsAllowed = []string{}
	}

	return &a, nil
}

// SaveAnalysis inserts an analysis. Analyses are immutable: saving an id that
// already exists is a no-op.
func (r *SQLiteRepo) SaveAnalysis(ctx context.Context, a *models.Analysis) error {
	if a == nil {
		return fmt.Errorf("analysis is nil")
	}
	if a.ID == "" {
		return fmt.Errorf("analysis id is required")
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now()
	}

	missingJSON, err := marshalJSON(a.MissingSkills, "[]")
	if err != nil {
		return fmt.Errorf("encode missing skills: %w", err)
	}
	panelsJSON, err := marshalJSON(a.PanelsAllowed, "[]")
	if err != nil {
		return fmt.Errorf("encode panels: %w", err)
	}
	parsingJSON, err := marshalJSON(a.ParsingMeta, "{}")
	if err != nil {
		return fmt.Errorf("encode parsing meta: %w", err)
	}
	keywordsJSON, err := marshalJSON(a.KeywordHits, "{}")
	if err != nil {
		return fmt.Errorf("encode keyword hits: %w", err)
	}

	_, err = r.conn.Exec(ctx, `INSERT INTO analyses (id, draft_id, job_id, ats_score, match_score, missing_skills_json, panels_allowed_json, parsing_meta_json, keyword_hits_json, created)
		VALUES (?,?,?,?,?,?,?,?,?,?) ON CONFLICT(id) DO NOTHING`,
		a.ID, a.DraftID, a.JobID, a.ATSScore, a.MatchScore, missingJSON, panelsJSON, parsingJSON, keywordsJSON, toMillis(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("save analysis %s: %w", a.ID, err)
	}

	return nil
}
