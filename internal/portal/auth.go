package portal

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/prajiwaji-cpu/wealth-management-portal/internal/config"
	apperrors "github.com/prajiwaji-cpu/wealth-management-portal/internal/errors"
)

// credentialKey is the durable-store key holding the bearer credential.
const credentialKey = "portal_credential"

// AuthSession owns the OAuth2 authorization-code dance with PKCE and the
// bearer credential it produces. The durable store carries the credential
// across runs; the session store carries PKCE verifiers only for the
// current process.
type AuthSession struct {
	cfg        *config.Config
	durable    KeyValueStore
	session    KeyValueStore
	nav        Navigator
	httpClient *http.Client
	logger     *slog.Logger
	oauth      oauth2.Config
	rand       io.Reader
	exchange   singleflight.Group

	mu    sync.Mutex
	token *StoredToken
}

// NewAuthSession wires an auth session. If httpClient is nil, a client
// with a 30-second timeout and same-host redirect policy is created.
func NewAuthSession(cfg *config.Config, durable, session KeyValueStore, nav Navigator, httpClient *http.Client, logger *slog.Logger) *AuthSession {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:       httpClientTimeout,
			CheckRedirect: sameHostRedirectPolicy,
		}
	}

	return &AuthSession{
		cfg:        cfg,
		durable:    durable,
		session:    session,
		nav:        nav,
		httpClient: httpClient,
		logger:     logger,
		rand:       rand.Reader,
		oauth: oauth2.Config{
			ClientID: cfg.ClientID,
			// RedirectURL stays empty: the token exchange must not carry
			// redirect_uri. The authorization URL gets its redirect_uri as
			// an explicit extra parameter instead.
			Endpoint: oauth2.Endpoint{
				AuthURL:   fmt.Sprintf("%s/api/%s/oauth2/authorize", cfg.BaseURL, cfg.APIVersion),
				TokenURL:  fmt.Sprintf("%s/api/%s/oauth2/token", cfg.BaseURL, cfg.APIVersion),
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
	}
}

// AuthorizationURL builds the authorization redirect and stores the PKCE
// verifier for the generated state nonce. requestLogout asks the
// provider to confirm the account first, which is how a user switches
// identities.
func (a *AuthSession) AuthorizationURL(requestLogout bool) (*url.URL, error) {
	verifier, err := newVerifier(a.rand)
	if err != nil {
		return nil, err
	}

	state, err := newState(a.rand)
	if err != nil {
		return nil, err
	}

	loc, err := a.nav.Location()
	if err != nil {
		return nil, fmt.Errorf("reading current location: %w", err)
	}

	// The provider sends the agent back to where it currently is, minus
	// any query or fragment.
	redirect := *loc
	redirect.RawQuery = ""
	redirect.Fragment = ""

	if err := a.session.Set(verifierKey(state), verifier); err != nil {
		return nil, fmt.Errorf("storing code verifier: %w", err)
	}

	raw := a.oauth.AuthCodeURL(state,
		oauth2.SetAuthURLParam("feature_type", a.cfg.FeatureType),
		oauth2.SetAuthURLParam("feature_key", a.cfg.FeatureKey),
		oauth2.SetAuthURLParam("redirect_uri", redirect.String()),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
		oauth2.SetAuthURLParam("code_challenge", challengeS256(verifier)),
		oauth2.SetAuthURLParam("confirm", strconv.FormatBool(requestLogout)),
	)

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing authorization URL: %w", err)
	}

	return u, nil
}

// CompleteExchange finishes the authorization-code flow when the current
// location carries a callback. Returns false when no code/state pair is
// present. The verifier for the state is consumed exactly once, and
// racing callers share a single token request.
func (a *AuthSession) CompleteExchange(ctx context.Context) (bool, error) {
	loc, err := a.nav.Location()
	if err != nil {
		return false, fmt.Errorf("reading current location: %w", err)
	}

	q := loc.Query()

	code, state := q.Get("code"), q.Get("state")
	if code == "" || state == "" {
		return false, nil
	}

	// Strip the single-use parameters before exchanging so re-entering
	// with the rewritten location does not replay the code.
	stripped := *loc
	sq := stripped.Query()
	sq.Del("code")
	sq.Del("state")
	stripped.RawQuery = sq.Encode()

	if err := a.nav.ReplaceLocation(&stripped); err != nil {
		return false, fmt.Errorf("clearing callback parameters: %w", err)
	}

	_, err, _ = a.exchange.Do(state, func() (any, error) {
		verifier, err := a.session.Get(verifierKey(state))
		if err != nil {
			return nil, fmt.Errorf("loading code verifier: %w", err)
		}

		if verifier == "" {
			return nil, fmt.Errorf("no code verifier stored for state %s", state)
		}

		if err := a.session.Delete(verifierKey(state)); err != nil {
			return nil, fmt.Errorf("consuming code verifier: %w", err)
		}

		tok, err := a.oauth.Exchange(
			context.WithValue(ctx, oauth2.HTTPClient, a.httpClient),
			code,
			oauth2.VerifierOption(verifier),
		)
		if err != nil {
			return nil, fmt.Errorf("exchanging authorization code: %w", err)
		}

		stored := &StoredToken{TokenType: tok.TokenType, AccessToken: tok.AccessToken}
		if err := a.StoreToken(stored); err != nil {
			return nil, err
		}

		a.logger.Info("authorization code exchanged")

		return stored, nil
	})
	if err != nil {
		return true, err
	}

	return true, nil
}

// LoadToken pulls the stored credential into memory so requests can
// attach it. A missing credential returns ErrNoCredential.
func (a *AuthSession) LoadToken() (*StoredToken, error) {
	raw, err := a.durable.Get(credentialKey)
	if err != nil {
		return nil, fmt.Errorf("loading credential: %w", err)
	}

	if raw == "" {
		return nil, apperrors.ErrNoCredential
	}

	var t StoredToken
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return nil, fmt.Errorf("decoding stored credential: %w", err)
	}

	a.mu.Lock()
	a.token = &t
	a.mu.Unlock()

	return &t, nil
}

// StoreToken persists the credential verbatim and caches it for request
// headers. Only a successful code exchange should store.
func (a *AuthSession) StoreToken(t *StoredToken) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encoding credential: %w", err)
	}

	if err := a.durable.Set(credentialKey, string(data)); err != nil {
		return fmt.Errorf("storing credential: %w", err)
	}

	a.mu.Lock()
	a.token = t
	a.mu.Unlock()

	return nil
}

// ClearToken removes the stored credential and the in-memory copy. The
// request path never calls this; a 401 only drops the in-memory copy,
// leaving the durable one for the next exchange to overwrite.
func (a *AuthSession) ClearToken() error {
	if err := a.durable.Delete(credentialKey); err != nil {
		return fmt.Errorf("clearing credential: %w", err)
	}

	a.mu.Lock()
	a.token = nil
	a.mu.Unlock()

	return nil
}

// Init establishes the session at startup: finish a pending callback
// exchange when one is present, otherwise load the stored credential.
// With neither available, the user agent is sent to the authorization
// endpoint and ErrAuthorizationRequired is returned.
func (a *AuthSession) Init(ctx context.Context) error {
	exchanged, err := a.CompleteExchange(ctx)
	if err != nil {
		return err
	}

	if exchanged {
		return nil
	}

	_, err = a.LoadToken()
	if err == nil {
		return nil
	}

	if !errors.Is(err, apperrors.ErrNoCredential) {
		return err
	}

	if err := a.beginReauthorization(); err != nil {
		return err
	}

	return ErrAuthorizationRequired
}

// authorizationValue returns the Authorization header value for the held
// token, or empty string when signed out.
func (a *AuthSession) authorizationValue() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.token == nil {
		return ""
	}

	typ := a.token.TokenType
	if typ == "" {
		typ = "Bearer"
	}

	return typ + " " + a.token.AccessToken
}

// beginReauthorization drops the in-memory token and sends the user
// agent to the authorization endpoint.
func (a *AuthSession) beginReauthorization() error {
	a.mu.Lock()
	a.token = nil
	a.mu.Unlock()

	u, err := a.AuthorizationURL(false)
	if err != nil {
		return err
	}

	a.logger.Debug("navigating to authorization endpoint")

	return a.nav.Navigate(u)
}
