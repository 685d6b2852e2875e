package portal

import (
	"errors"
	"fmt"
)

// ErrAuthorizationRequired signals that the Portal rejected or would
// reject the call for want of a credential and the user agent has been
// sent to the authorization endpoint. The client never retries
// internally; callers re-invoke once the login completes.
var ErrAuthorizationRequired = errors.New("authorization required")

// RequestError is a non-2xx Portal API response. Message carries the
// "message" field of the JSON error body when one parses, otherwise the
// sanitized raw body text.
type RequestError struct {
	Status  int
	Message string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("portal request failed (%d): %s", e.Status, e.Message)
}

// UploadError is a non-OK response from the file-blob endpoint. No
// structured message parse is attempted on upload failures; Body is the
// sanitized raw text.
type UploadError struct {
	Status int
	Body   string
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload failed (%d): %s", e.Status, e.Body)
}
