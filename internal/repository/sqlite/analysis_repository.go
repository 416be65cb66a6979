package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"crowdcounter/internal/dto"
	"crowdcounter/internal/model"
)

// AnalysisRepository implements repository.AnalysisRepository for SQLite.
type AnalysisRepository struct {
	db *DB
}

// NewAnalysisRepository creates a new SQLite analysis repository.
func NewAnalysisRepository(db *DB) *AnalysisRepository {
	return &AnalysisRepository{db: db}
}

const analysisColumns = `id, user, kind, method, source, artifact, people_count, frame_counts,
	sampled_frames, total_frames, region, threshold, duration_ms, created_at`

// Insert adds a new analysis record to the database.
func (r *AnalysisRepository) Insert(a *model.Analysis) (int64, error) {
	counts := a.FrameCounts
	if counts == nil {
		counts = []int{}
	}
	encoded, err := json.Marshal(counts)
	if err != nil {
		return 0, fmt.Errorf("failed to encode frame counts: %w", err)
	}

	r.db.Lock()
	defer r.db.Unlock()

	result, err := r.db.Conn().Exec(`
		INSERT INTO analyses (user, kind, method, source, artifact, people_count, frame_counts,
			sampled_frames, total_frames, region, threshold, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.User, a.Kind, a.Method, a.Source, a.Artifact, a.PeopleCount, string(encoded),
		a.SampledFrames, a.TotalFrames, a.Region, a.Threshold, a.DurationMS, a.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert analysis: %w", err)
	}

	return result.LastInsertId()
}

// GetByID retrieves an analysis by its ID. It returns nil when no record exists.
func (r *AnalysisRepository) GetByID(id int64) (*model.Analysis, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	row := r.db.Conn().QueryRow(`SELECT `+analysisColumns+` FROM analyses WHERE id = ?`, id)
	a, err := scanAnalysis(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get analysis: %w", err)
	}
	return a, nil
}

// GetAll retrieves analyses based on filter criteria, newest first.
func (r *AnalysisRepository) GetAll(filter *dto.AnalysisFilters) ([]model.Analysis, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	where, args := buildWhere(filter)
	query := `SELECT ` + analysisColumns + ` FROM analyses WHERE 1=1` + where + ` ORDER BY created_at DESC, id DESC`

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := r.db.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query analyses: %w", err)
	}
	defer rows.Close()

	var analyses []model.Analysis
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan analysis: %w", err)
		}
		analyses = append(analyses, *a)
	}
	return analyses, rows.Err()
}

// GetTotalCount returns the number of analyses matching the filter.
func (r *AnalysisRepository) GetTotalCount(filter *dto.AnalysisFilters) (int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	where, args := buildWhere(filter)
	var count int
	if err := r.db.Conn().QueryRow(`SELECT COUNT(*) FROM analyses WHERE 1=1`+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count analyses: %w", err)
	}
	return count, nil
}

// Delete removes an analysis and its detections.
func (r *AnalysisRepository) Delete(id int64) error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().Exec(`DELETE FROM detections WHERE analysis_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete detections: %w", err)
	}
	if _, err := r.db.Conn().Exec(`DELETE FROM analyses WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete analysis: %w", err)
	}
	return nil
}

func buildWhere(filter *dto.AnalysisFilters) (string, []interface{}) {
	where := ""
	args := []interface{}{}

	if filter.User != "" {
		where += " AND user = ?"
		args = append(args, filter.User)
	}
	if filter.Kind != "" {
		where += " AND kind = ?"
		args = append(args, filter.Kind)
	}
	if !filter.DateAfter.IsZero() {
		where += " AND created_at >= ?"
		args = append(args, filter.DateAfter)
	}
	if !filter.DateBefore.IsZero() {
		where += " AND created_at <= ?"
		args = append(args, filter.DateBefore)
	}
	return where, args
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAnalysis(s scanner) (*model.Analysis, error) {
	var a model.Analysis
	var counts string
	err := s.Scan(&a.ID, &a.User, &a.Kind, &a.Method, &a.Source, &a.Artifact, &a.PeopleCount, &counts,
		&a.SampledFrames, &a.TotalFrames, &a.Region, &a.Threshold, &a.DurationMS, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(counts), &a.FrameCounts); err != nil {
		return nil, fmt.Errorf("failed to decode frame counts: %w", err)
	}
	return &a, nil
}
