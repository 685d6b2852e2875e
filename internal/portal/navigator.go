package portal

import "net/url"

//go:generate go run go.uber.org/mock/mockgen -source=navigator.go -destination=navigator_mock_test.go -package=portal

// KeyValueStore is the minimal storage surface the auth session needs.
// The durable implementation holds the bearer credential across runs;
// the in-memory implementation holds PKCE verifiers for the life of the
// process, the way sessionStorage held them for the life of the tab.
type KeyValueStore interface {
	// Get returns the stored value, or empty string when absent.
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
}

// Navigator is the user-agent surface the client steers during the
// OAuth dance: where the agent currently is, sending it somewhere, and
// rewriting its address without a reload.
type Navigator interface {
	// Location returns the agent's current address including query.
	Location() (*url.URL, error)

	// Navigate sends the agent to u.
	Navigate(u *url.URL) error

	// ReplaceLocation rewrites the agent's address to u in place. Used to
	// strip single-use callback parameters so re-entry is idempotent.
	ReplaceLocation(u *url.URL) error
}
