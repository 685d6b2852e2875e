package portal

import (
	"strconv"

	apperrors "github.com/prajiwaji-cpu/wealth-management-portal/internal/errors"
)

// StoredToken is the persisted bearer credential, exactly the two fields
// the token endpoint returned. Nothing else from the token response is
// kept.
type StoredToken struct {
	TokenType   string `json:"token_type"`
	AccessToken string `json:"access_token"`
}

// Identity is the authenticated principal returned by the self probe.
type Identity struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

// ComponentType distinguishes portal building blocks. Only list
// components carry task series.
type ComponentType string

const (
	ComponentList ComponentType = "LIST"
	ComponentForm ComponentType = "FORM"
)

// Component is one building block of the portal layout.
type Component struct {
	ID        string        `json:"id"`
	Type      ComponentType `json:"component_type"`
	Title     string        `json:"title"`
	SeriesIDs []int64       `json:"series_ids"`
}

// PortalMetadata describes the portal assigned to the signed-in user.
// Fetched fresh each session; never cached locally.
type PortalMetadata struct {
	PortalID   string      `json:"portal_id"`
	Name       string      `json:"name"`
	Components []Component `json:"components"`
}

// ListSeriesIDs returns the distinct series ids of list components in
// layout order. A portal without list components returns
// ErrNoListSeries.
func (m *PortalMetadata) ListSeriesIDs() ([]int64, error) {
	seen := make(map[int64]struct{})

	var ids []int64

	for _, comp := range m.Components {
		if comp.Type != ComponentList {
			continue
		}

		for _, id := range comp.SeriesIDs {
			if _, dup := seen[id]; dup {
				continue
			}

			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}

	if len(ids) == 0 {
		return nil, apperrors.ErrNoListSeries
	}

	return ids, nil
}

// TaskSummary is one row of a list series: the task id plus whichever
// fields the series projects. The field map is sparse; absent keys were
// never set on the task.
type TaskSummary struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

// TaskList holds the summaries of one series.
type TaskList struct {
	SeriesName string        `json:"series_name"`
	Tasks      []TaskSummary `json:"tasks"`
}

// SeriesMap is the multi-series load result, keyed by decimal series id
// as the wire sends it. A missing or null entry means the portal does
// not know the series.
type SeriesMap map[string]*TaskList

// Tasks returns the summaries for a series id, or nil when the series is
// unknown.
func (m SeriesMap) Tasks(id int64) []TaskSummary {
	tl := m[strconv.FormatInt(id, 10)]
	if tl == nil {
		return nil
	}

	return tl.Tasks
}

// UploadLimits are the task's file constraints, enforced by the Portal
// and surfaced so the client can reject oversized files before sending.
type UploadLimits struct {
	MaxFileBytes int64 `json:"max_file_bytes"`
	MaxFiles     int   `json:"max_files"`
}

// TaskDetail is the full edit view of one task.
type TaskDetail struct {
	ID               string         `json:"id"`
	Fields           map[string]any `json:"fields"`
	EditSessionToken string         `json:"edit_session_token"`
	UploadLimits     UploadLimits   `json:"upload_limits"`
}

// EditResult echoes the task state the Portal holds after a submit.
type EditResult struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

// editRequest is the PATCH body of a task submit.
type editRequest struct {
	Fields  map[string]any `json:"fields"`
	Options editOptions    `json:"options"`
}

// editOptions carries the optimistic-concurrency token on a submit.
type editOptions struct {
	EditSessionToken string `json:"editSessionToken"`
}

// uploadedBlob is one entry of the file-blob response array.
type uploadedBlob struct {
	BlobID string `json:"blob_id"`
}
