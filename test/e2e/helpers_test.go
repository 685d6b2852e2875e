package e2e_test

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/prajiwaji-cpu/wealth-management-portal/internal/config"
	"github.com/prajiwaji-cpu/wealth-management-portal/internal/portal"
	"github.com/prajiwaji-cpu/wealth-management-portal/internal/state"
)

const (
	testClientID   = "portal-web"
	testFeature    = "wealth-verification"
	callbackAddr   = "127.0.0.1:19876"
	seededTask     = "task-1"
	sparseTask     = "task-2"
	seededEditTok  = "edit-e2e-1"
	sparseEditTok  = "edit-e2e-2"
	maxUploadBytes = 1 << 20
	maxUploadFiles = 5
)

// harness wires the real client stack (auth session, portal client,
// durable state) against a fake Portal Service, with a headless address
// bar standing in for the system browser.
type harness struct {
	Portal *fakePortal
	Cfg    *config.Config
	Store  *state.State
	Bar    *addressBar
	Auth   *portal.AuthSession
	Client *portal.Client
}

// newHarness starts a fake portal, opens a temp state database, and
// builds the auth session and API client exactly the way the command
// wires them.
func newHarness(t *testing.T) *harness {
	t.Helper()

	fp := newFakePortal(t)

	store, err := state.Load(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := testConfig(fp.URL())

	logger := slog.New(slog.DiscardHandler)

	bar := newAddressBar(t, "http://"+callbackAddr+"/callback")

	auth := portal.NewAuthSession(cfg, store, state.NewMemoryStore(), bar, fp.Client(), logger)
	client := portal.NewClient(cfg, auth, fp.Client(), logger)

	return &harness{
		Portal: fp,
		Cfg:    cfg,
		Store:  store,
		Bar:    bar,
		Auth:   auth,
		Client: client,
	}
}

// testConfig builds the configuration the stack runs with, pointed at
// the fake portal.
func testConfig(baseURL string) *config.Config {
	return &config.Config{
		BaseURL:      baseURL,
		APIVersion:   "v1",
		FeatureType:  "workflow",
		FeatureKey:   testFeature,
		ClientID:     testClientID,
		Locale:       "en-US",
		Timezone:     "UTC",
		CallbackAddr: callbackAddr,
		Environment:  "development",
	}
}

// signIn drives the full authorization code + PKCE dance: build the
// authorize URL, let the portal grant a code, land the callback on the
// address bar, and complete the exchange.
func (h *harness) signIn(t *testing.T) {
	t.Helper()

	authURL, err := h.Auth.AuthorizationURL(false)
	require.NoError(t, err)

	h.completeSignIn(t, authURL)
}

// completeSignIn visits an authorize URL the way the browser would and
// finishes the exchange from the resulting callback.
func (h *harness) completeSignIn(t *testing.T, authURL *url.URL) {
	t.Helper()

	loc := h.grantCode(t, authURL)
	require.NoError(t, h.Bar.Navigate(loc))

	exchanged, err := h.Auth.CompleteExchange(t.Context())
	require.NoError(t, err)
	require.True(t, exchanged)
}

// grantCode performs the authorize GET without following the redirect
// and returns the callback location the portal issued.
func (h *harness) grantCode(t *testing.T, authURL *url.URL) *url.URL {
	t.Helper()

	client := *h.Portal.Client()
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, authURL.String(), nil)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusFound, resp.StatusCode)

	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	require.NotEmpty(t, loc.Query().Get("code"), "authorization code missing from redirect")

	return loc
}

// addressBar is a headless stand-in for the system browser: it holds a
// current location the way a real address bar would, without opening
// anything.
type addressBar struct {
	mu  sync.Mutex
	loc *url.URL
}

func newAddressBar(t *testing.T, raw string) *addressBar {
	t.Helper()

	u, err := url.Parse(raw)
	require.NoError(t, err)

	return &addressBar{loc: u}
}

func (b *addressBar) Location() (*url.URL, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	loc := *b.loc

	return &loc, nil
}

func (b *addressBar) Navigate(u *url.URL) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.loc = u

	return nil
}

func (b *addressBar) ReplaceLocation(u *url.URL) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.loc = u

	return nil
}

// fakePortal implements the Portal Service surface the client talks to:
// the OAuth2 endpoint pair plus the feature API. Authorization requests
// are granted without a login page; the PKCE material is verified at
// token exchange the way the real portal verifies it.
type fakePortal struct {
	t   *testing.T
	srv *httptest.Server

	mu         sync.Mutex
	challenges map[string]string         // state -> code challenge
	codes      map[string]string         // grant code -> state
	tokens     map[string]bool           // live access tokens
	tasks      map[string]map[string]any // task id -> current fields
	editTokens map[string]string         // task id -> edit session token
	blobs      map[string][]byte         // blob id -> uploaded bytes
	exchanges  int
}

func newFakePortal(t *testing.T) *fakePortal {
	t.Helper()

	fp := &fakePortal{
		t:          t,
		challenges: map[string]string{},
		codes:      map[string]string{},
		tokens:     map[string]bool{},
		tasks: map[string]map[string]any{
			seededTask: {
				"verification_method":   "bank_statement",
				"declared_assets":       float64(150000),
				"declared_liabilities":  float64(25000),
				"net_worth":             float64(125000),
				"supporting_documents":  []any{"blob-seed-1"},
				"signature_file":        "blob-seed-sig",
				"certification_checked": true,
				"notes":                 "opened by relationship manager",
			},
			sparseTask: {
				"notes": "second quarter review",
			},
		},
		editTokens: map[string]string{
			seededTask: seededEditTok,
			sparseTask: sparseEditTok,
		},
		blobs: map[string][]byte{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/oauth2/authorize", fp.handleAuthorize)
	mux.HandleFunc("POST /api/v1/oauth2/token", fp.handleToken)
	mux.HandleFunc("GET /api/v1/self", fp.api(fp.handleSelf))
	mux.HandleFunc("GET /api/v1/portal/metadata", fp.api(fp.handleMetadata))
	mux.HandleFunc("GET /api/v1/portal/load", fp.api(fp.handleLoad))
	mux.HandleFunc("GET /api/v1/task/{id}", fp.api(fp.handleTask))
	mux.HandleFunc("PATCH /api/v1/task/{id}", fp.api(fp.handleSubmit))
	mux.HandleFunc("POST /api/v1/file-blob", fp.api(fp.handleUpload))

	fp.srv = httptest.NewServer(mux)
	t.Cleanup(fp.srv.Close)

	return fp
}

func (fp *fakePortal) URL() string { return fp.srv.URL }

func (fp *fakePortal) Client() *http.Client { return fp.srv.Client() }

// Exchanges reports how many token exchanges the portal has served.
func (fp *fakePortal) Exchanges() int {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	return fp.exchanges
}

// RevokeAll invalidates every issued access token, so the next API call
// comes back 401.
func (fp *fakePortal) RevokeAll() {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	fp.tokens = map[string]bool{}
}

// RotateEditSession replaces a task's edit session token, staling any
// token handed out earlier.
func (fp *fakePortal) RotateEditSession(taskID string) {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	fp.editTokens[taskID] += "-rotated"
}

// TaskFields returns a snapshot of a task's current fields.
func (fp *fakePortal) TaskFields(taskID string) map[string]any {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	snapshot := make(map[string]any, len(fp.tasks[taskID]))
	for k, v := range fp.tasks[taskID] {
		snapshot[k] = v
	}

	return snapshot
}

// Blob returns the stored bytes for an uploaded blob id.
func (fp *fakePortal) Blob(id string) ([]byte, bool) {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	content, ok := fp.blobs[id]

	return content, ok
}

// api wraps a feature endpoint with the checks every call must pass:
// the fixed identification pair on the query and a live bearer token.
func (fp *fakePortal) api(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		require.Equal(fp.t, "workflow", q.Get("featureType"))
		require.Equal(fp.t, testFeature, q.Get("feature"))

		if !fp.authorized(r) {
			writeError(w, http.StatusUnauthorized, "authorization required")

			return
		}

		handler(w, r)
	}
}

func (fp *fakePortal) authorized(r *http.Request) bool {
	token, ok := trimBearer(r.Header.Get("Authorization"))
	if !ok {
		return false
	}

	fp.mu.Lock()
	defer fp.mu.Unlock()

	return fp.tokens[token]
}

func (fp *fakePortal) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	require.Equal(fp.t, "code", q.Get("response_type"))
	require.Equal(fp.t, testClientID, q.Get("client_id"))
	require.Equal(fp.t, "S256", q.Get("code_challenge_method"))
	require.NotEmpty(fp.t, q.Get("code_challenge"))
	require.NotEmpty(fp.t, q.Get("state"))
	require.Equal(fp.t, "workflow", q.Get("feature_type"))
	require.Equal(fp.t, testFeature, q.Get("feature_key"))

	redirect, err := url.Parse(q.Get("redirect_uri"))
	require.NoError(fp.t, err)

	fp.mu.Lock()
	code := fmt.Sprintf("code-%d", len(fp.codes)+1)
	fp.codes[code] = q.Get("state")
	fp.challenges[q.Get("state")] = q.Get("code_challenge")
	fp.mu.Unlock()

	callback := *redirect
	cq := callback.Query()
	cq.Set("code", code)
	cq.Set("state", q.Get("state"))
	callback.RawQuery = cq.Encode()

	http.Redirect(w, r, callback.String(), http.StatusFound)
}

func (fp *fakePortal) handleToken(w http.ResponseWriter, r *http.Request) {
	require.NoError(fp.t, r.ParseForm())
	require.Equal(fp.t, "authorization_code", r.PostForm.Get("grant_type"))
	require.Equal(fp.t, testClientID, r.PostForm.Get("client_id"))

	_, hasRedirect := r.PostForm["redirect_uri"]
	require.False(fp.t, hasRedirect, "token request must not carry redirect_uri")

	code := r.PostForm.Get("code")
	verifier := r.PostForm.Get("code_verifier")

	fp.mu.Lock()
	stateParam, ok := fp.codes[code]
	delete(fp.codes, code)
	challenge := fp.challenges[stateParam]
	fp.mu.Unlock()

	if !ok {
		writeError(w, http.StatusBadRequest, "authorization code invalid or already used")

		return
	}

	if s256(verifier) != challenge {
		writeError(w, http.StatusBadRequest, "code verifier mismatch")

		return
	}

	fp.mu.Lock()
	fp.exchanges++
	token := fmt.Sprintf("e2e-token-%d", fp.exchanges)
	fp.tokens[token] = true
	fp.mu.Unlock()

	writeJSON(w, map[string]string{"token_type": "Bearer", "access_token": token})
}

func (fp *fakePortal) handleSelf(w http.ResponseWriter, r *http.Request) {
	require.Equal(fp.t, "en-US", r.Header.Get("X-Locale"))
	require.Equal(fp.t, "UTC", r.Header.Get("X-Timezone-IANA"))

	writeJSON(w, map[string]string{
		"id":           "user-1",
		"email":        "avery@example.com",
		"display_name": "Avery Quinn",
	})
}

func (fp *fakePortal) handleMetadata(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{
		"portal_id": "portal-e2e",
		"name":      "Wealth Verification",
		"components": []map[string]any{
			{"id": "c-overview", "component_type": "FORM", "title": "Overview"},
			{"id": "c-active", "component_type": "LIST", "title": "Active", "series_ids": []int64{3}},
			{"id": "c-queue", "component_type": "LIST", "title": "Queue", "series_ids": []int64{7, 3}},
		},
	})
}

func (fp *fakePortal) handleLoad(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{}

	for _, id := range r.URL.Query()["seriesId"] {
		switch id {
		case "3":
			out[id] = map[string]any{
				"series_name": "Active checks",
				"tasks":       []map[string]any{fp.taskSummary(seededTask)},
			}
		case "7":
			out[id] = map[string]any{
				"series_name": "Awaiting documents",
				"tasks":       []map[string]any{fp.taskSummary(sparseTask)},
			}
		default:
			out[id] = nil
		}
	}

	writeJSON(w, out)
}

func (fp *fakePortal) taskSummary(taskID string) map[string]any {
	return map[string]any{"id": taskID, "fields": fp.TaskFields(taskID)}
}

func (fp *fakePortal) handleTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	fp.mu.Lock()
	_, ok := fp.tasks[id]
	editToken := fp.editTokens[id]
	fp.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "task not found")

		return
	}

	writeJSON(w, map[string]any{
		"id":                 id,
		"fields":             fp.TaskFields(id),
		"edit_session_token": editToken,
		"upload_limits": map[string]any{
			"max_file_bytes": maxUploadBytes,
			"max_files":      maxUploadFiles,
		},
	})
}

func (fp *fakePortal) handleSubmit(w http.ResponseWriter, r *http.Request) {
	require.Equal(fp.t, "application/json", r.Header.Get("Content-Type"))

	id := r.PathValue("id")

	var req struct {
		Fields  map[string]any `json:"fields"`
		Options struct {
			EditSessionToken string `json:"editSessionToken"`
		} `json:"options"`
	}

	require.NoError(fp.t, json.NewDecoder(r.Body).Decode(&req))

	fp.mu.Lock()

	current, ok := fp.tasks[id]
	if !ok {
		fp.mu.Unlock()
		writeError(w, http.StatusNotFound, "task not found")

		return
	}

	if req.Options.EditSessionToken != fp.editTokens[id] {
		fp.mu.Unlock()
		writeError(w, http.StatusConflict, "edit session expired")

		return
	}

	for k, v := range req.Fields {
		current[k] = v
	}

	fp.mu.Unlock()

	writeJSON(w, map[string]any{"id": id, "fields": fp.TaskFields(id)})
}

func (fp *fakePortal) handleUpload(w http.ResponseWriter, r *http.Request) {
	require.NoError(fp.t, r.ParseMultipartForm(4<<20))

	file, header, err := r.FormFile("file")
	require.NoError(fp.t, err)
	defer file.Close()

	require.NotEmpty(fp.t, header.Filename)

	content, err := io.ReadAll(file)
	require.NoError(fp.t, err)

	fp.mu.Lock()
	blobID := fmt.Sprintf("blob-%d", len(fp.blobs)+1)
	fp.blobs[blobID] = content
	fp.mu.Unlock()

	writeJSON(w, []map[string]string{{"blob_id": blobID}})
}

// --- small helpers ---

// s256 computes the S256 challenge for a verifier, matching what the
// client sends during authorization.
func s256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))

	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func trimBearer(value string) (string, bool) {
	token, ok := strings.CutPrefix(value, "Bearer ")
	if !ok || token == "" {
		return "", false
	}

	return token, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": message})
}
