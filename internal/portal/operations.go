package portal

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

// Self probes the signed-in identity. A session the Portal rejects
// returns (nil, nil): "not signed in" is a normal answer here, not an
// error, so callers can branch without unwrapping.
func (c *Client) Self(ctx context.Context) (*Identity, error) {
	var id Identity

	signedIn := true

	err := c.do(ctx, http.MethodGet, "self", nil, &id, withUnauthorized(func() { signedIn = false }))
	if err != nil {
		return nil, fmt.Errorf("probing identity: %w", err)
	}

	if !signedIn {
		return nil, nil
	}

	return &id, nil
}

// Metadata fetches the portal layout assigned to the signed-in user.
func (c *Client) Metadata(ctx context.Context) (*PortalMetadata, error) {
	var m PortalMetadata
	if err := c.do(ctx, http.MethodGet, "portal/metadata", nil, &m); err != nil {
		return nil, fmt.Errorf("fetching portal metadata: %w", err)
	}

	return &m, nil
}

// LoadSeries fetches the task lists for the given series ids in one
// request. Ids repeat as seriesId query parameters in argument order.
func (c *Client) LoadSeries(ctx context.Context, ids []int64) (SeriesMap, error) {
	if len(ids) == 0 {
		return SeriesMap{}, nil
	}

	q := url.Values{}
	for _, id := range ids {
		q.Add("seriesId", strconv.FormatInt(id, 10))
	}

	var m SeriesMap
	if err := c.do(ctx, http.MethodGet, "portal/load?"+q.Encode(), nil, &m); err != nil {
		return nil, fmt.Errorf("loading series data: %w", err)
	}

	return m, nil
}

// Task fetches the edit view of one task.
func (c *Client) Task(ctx context.Context, id string) (*TaskDetail, error) {
	var d TaskDetail
	if err := c.do(ctx, http.MethodGet, "task/"+url.PathEscape(id), nil, &d); err != nil {
		return nil, fmt.Errorf("fetching task %s: %w", id, err)
	}

	return &d, nil
}

// SubmitTask patches edited fields under the task's edit session token.
// The Portal rejects a stale token; that rejection surfaces as a
// RequestError and nothing is mutated locally.
func (c *Client) SubmitTask(ctx context.Context, id string, fields map[string]any, editToken string) (*EditResult, error) {
	body := editRequest{
		Fields:  fields,
		Options: editOptions{EditSessionToken: editToken},
	}

	var res EditResult
	if err := c.do(ctx, http.MethodPatch, "task/"+url.PathEscape(id), body, &res); err != nil {
		return nil, fmt.Errorf("submitting task %s: %w", id, err)
	}

	return &res, nil
}

// UploadFile stores one file as a portal blob and returns the blob id
// the Portal assigned. The caller places the id into a task field and
// submits it like any other value.
func (c *Client) UploadFile(ctx context.Context, filename string, r io.Reader) (string, error) {
	id, err := c.upload(ctx, filename, r)
	if err != nil {
		return "", fmt.Errorf("uploading %s: %w", filename, err)
	}

	return id, nil
}

// FileURL composes the retrieval address of a file attached to a field
// during an edit session. Pure string composition; no request is made.
func (c *Client) FileURL(editToken, fieldID, fileID string) string {
	path := fmt.Sprintf("task-edit-session/%s/files/%s/%s",
		url.PathEscape(editToken), url.PathEscape(fieldID), url.PathEscape(fileID))

	return c.withFixedParams(c.apiURL(path))
}
