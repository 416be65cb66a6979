package service

import (
	"crowdcounter/internal/dto"
	"crowdcounter/internal/errs"
	"crowdcounter/internal/model"
)

// ListAnalyses returns one page of the user's analysis history.
func (m *Manager) ListAnalyses(filter dto.AnalysisFilters, page int) (dto.AnalysesData, error) {
	if m.analyses == nil {
		return dto.AnalysesData{Analyses: []dto.AnalysisInfo{}, CurrentPage: 1, ResultsDir: m.store.ResultsDir()}, nil
	}
	if filter.Limit <= 0 {
		filter.Limit = 20
	}
	if page < 1 {
		page = 1
	}
	filter.Offset = (page - 1) * filter.Limit

	total, err := m.analyses.GetTotalCount(&filter)
	if err != nil {
		return dto.AnalysesData{}, err
	}
	records, err := m.analyses.GetAll(&filter)
	if err != nil {
		return dto.AnalysesData{}, err
	}

	infos := make([]dto.AnalysisInfo, 0, len(records))
	for _, a := range records {
		infos = append(infos, toInfo(a))
	}

	return dto.AnalysesData{
		Analyses:    infos,
		ResultsDir:  m.store.ResultsDir(),
		Length:      total,
		TotalPages:  (total + filter.Limit - 1) / filter.Limit,
		CurrentPage: page,
		Limit:       filter.Limit,
	}, nil
}

// DeleteAnalysis removes a record owned by user together with its artifact.
func (m *Manager) DeleteAnalysis(id int64, user string) error {
	if m.analyses == nil {
		return errs.NotFound("analysis %d", id)
	}
	a, err := m.analyses.GetByID(id)
	if err != nil {
		return err
	}
	if a == nil || a.User != user {
		return errs.NotFound("analysis %d", id)
	}

	if err := m.store.Remove(a.Artifact); err != nil {
		return err
	}
	if m.detections != nil {
		if err := m.detections.DeleteByAnalysisID(id); err != nil {
			return err
		}
	}
	if err := m.analyses.Delete(id); err != nil {
		return err
	}
	m.logger.Info("Deleted analysis %d (%s)", id, a.Artifact)
	return nil
}

// AnalysisDetections returns the stored boxes of an analysis owned by user.
// Full video scans keep no boxes and yield an empty list.
func (m *Manager) AnalysisDetections(id int64, user string) ([]model.Detection, error) {
	if m.analyses == nil {
		return nil, errs.NotFound("analysis %d", id)
	}
	a, err := m.analyses.GetByID(id)
	if err != nil {
		return nil, err
	}
	if a == nil || a.User != user {
		return nil, errs.NotFound("analysis %d", id)
	}
	if m.detections == nil {
		return []model.Detection{}, nil
	}
	detections, err := m.detections.GetByAnalysisID(id)
	if err != nil {
		return nil, err
	}
	if detections == nil {
		detections = []model.Detection{}
	}
	return detections, nil
}

func toInfo(a model.Analysis) dto.AnalysisInfo {
	return dto.AnalysisInfo{
		ID:          a.ID,
		Kind:        a.Kind,
		Source:      a.Source,
		Artifact:    a.Artifact,
		PeopleCount: a.PeopleCount,
		FrameCounts: a.FrameCounts,
		Date:        a.CreatedAt,
		TimeOfDay:   a.CreatedAt,
	}
}
