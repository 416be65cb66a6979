package sqlite

import (
	"fmt"

	"crowdcounter/internal/model"
)

// DetectionRepository implements repository.DetectionRepository for SQLite.
type DetectionRepository struct {
	db *DB
}

// NewDetectionRepository creates a new SQLite detection repository.
func NewDetectionRepository(db *DB) *DetectionRepository {
	return &DetectionRepository{db: db}
}

// InsertBatch adds multiple detections in a single transaction.
func (r *DetectionRepository) InsertBatch(detections []model.Detection) error {
	if len(detections) == 0 {
		return nil
	}

	r.db.Lock()
	defer r.db.Unlock()

	tx, err := r.db.Conn().Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO detections (analysis_id, frame_index, x1, y1, x2, y2, confidence)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, det := range detections {
		if _, err := stmt.Exec(det.AnalysisID, det.FrameIndex, det.X1, det.Y1, det.X2, det.Y2, det.Confidence); err != nil {
			return fmt.Errorf("failed to insert detection: %w", err)
		}
	}

	return tx.Commit()
}

// GetByAnalysisID retrieves all detections for an analysis in insertion order.
func (r *DetectionRepository) GetByAnalysisID(analysisID int64) ([]model.Detection, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`
		SELECT id, analysis_id, frame_index, x1, y1, x2, y2, confidence
		FROM detections WHERE analysis_id = ? ORDER BY id
	`, analysisID)
	if err != nil {
		return nil, fmt.Errorf("failed to query detections: %w", err)
	}
	defer rows.Close()

	var detections []model.Detection
	for rows.Next() {
		var det model.Detection
		if err := rows.Scan(&det.ID, &det.AnalysisID, &det.FrameIndex, &det.X1, &det.Y1, &det.X2, &det.Y2, &det.Confidence); err != nil {
			return nil, fmt.Errorf("failed to scan detection: %w", err)
		}
		detections = append(detections, det)
	}

	return detections, rows.Err()
}

// DeleteByAnalysisID removes all detections for a specific analysis.
func (r *DetectionRepository) DeleteByAnalysisID(analysisID int64) error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().Exec(`DELETE FROM detections WHERE analysis_id = ?`, analysisID); err != nil {
		return fmt.Errorf("failed to delete detections: %w", err)
	}
	return nil
}
