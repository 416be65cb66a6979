package repository

import (
	"crowdcounter/internal/dto"
	"crowdcounter/internal/model"
)

// AnalysisRepository defines the interface for analysis history operations.
type AnalysisRepository interface {
	// Create operations
	Insert(a *model.Analysis) (int64, error)

	// Read operations
	GetByID(id int64) (*model.Analysis, error)
	GetAll(filter *dto.AnalysisFilters) ([]model.Analysis, error)
	GetTotalCount(filter *dto.AnalysisFilters) (int, error)

	// Delete operations
	Delete(id int64) error
}

// UserRepository defines the interface for account operations.
type UserRepository interface {
	Insert(u *model.User) (int64, error)
	GetByEmail(email string) (*model.User, error)
}

// DetectionRepository stores the boxes behind an analysis count.
type DetectionRepository interface {
	InsertBatch(detections []model.Detection) error
	GetByAnalysisID(analysisID int64) ([]model.Detection, error)
	DeleteByAnalysisID(analysisID int64) error
}
