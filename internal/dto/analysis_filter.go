// AnalysisFilters describe user-provided filters to narrow the history list.
package dto

import "time"

type AnalysisFilters struct {
	User       string
	Kind       string
	DateAfter  time.Time
	DateBefore time.Time
	Limit      int
	Offset     int
}
