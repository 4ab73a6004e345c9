package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/cadence/internal/models"
	"github.com/desertthunder/cadence/internal/shared"
	"golang.org/x/oauth2"
)

// expiryLeeway refreshes cached tokens slightly before the provider expires them.
const expiryLeeway = time.Minute

// CredentialStore persists sealed refresh credentials.
type CredentialStore interface {
	Get(ctx context.Context, ownerID string) (*models.Credential, error)
	Save(ctx context.Context, cred *models.Credential) error
	MarkRevoked(ctx context.Context, ownerID string, at time.Time) error
}

// TokenProvider exchanges stored refresh credentials for access tokens.
//
// Access tokens are cached in memory for the life of the process and are never persisted or logged.
type TokenProvider struct {
	creds      CredentialStore
	sealer     *shared.Sealer
	config     *oauth2.Config
	retry      RetryPolicy
	httpClient *http.Client
	logger     *log.Logger
	now        func() time.Time

	mu     sync.Mutex
	cache  map[string]*oauth2.Token
	owners map[string]*sync.Mutex
}

// NewTokenProvider creates a [TokenProvider].
func NewTokenProvider(creds CredentialStore, sealer *shared.Sealer, config *oauth2.Config, retry RetryPolicy, logger *log.Logger) *TokenProvider {
	return &TokenProvider{
		creds:  creds,
		sealer: sealer,
		config: config,
		retry:  retry,
		logger: logger,
		now:    time.Now,
		cache:  make(map[string]*oauth2.Token),
		owners: make(map[string]*sync.Mutex),
	}
}

// WithHTTPClient sets the client used to reach the token endpoint.
func (p *TokenProvider) WithHTTPClient(c *http.Client) *TokenProvider {
	p.httpClient = c
	return p
}

// Get returns a valid access token for the owner.
//
// Returns [shared.AuthExpiredError] when the credential is missing, revoked or rejected with
// invalid_grant, [shared.ErrInvalidCredentials] when the token endpoint refuses the client
// itself, and [shared.TransientProviderError] when the refresh call fails after retries.
func (p *TokenProvider) Get(ctx context.Context, ownerID string) (*oauth2.Token, error) {
	lock := p.ownerLock(ownerID)
	lock.Lock()
	defer lock.Unlock()

	if tok := p.cached(ownerID); tok != nil {
		return tok, nil
	}

	cred, err := p.creds.Get(ctx, ownerID)
	if errors.Is(err, shared.ErrNotFound) {
		return nil, &shared.AuthExpiredError{OwnerID: ownerID, Err: shared.ErrNoRefreshToken}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}
	if cred.Revoked() {
		return nil, &shared.AuthExpiredError{OwnerID: ownerID, Err: shared.ErrTokenExpired}
	}

	refresh, err := p.sealer.Open(ownerID, cred.RefreshToken)
	if err != nil {
		return nil, &shared.AuthExpiredError{OwnerID: ownerID, Err: err}
	}

	var tok *oauth2.Token
	err = p.retry.Do(ctx, "token refresh", func(ctx context.Context) error {
		var rerr error
		tok, rerr = p.refresh(ctx, string(refresh))
		return rerr
	})

	var rejected *rejectedError
	if errors.As(err, &rejected) {
		if merr := p.creds.MarkRevoked(ctx, ownerID, p.now()); merr != nil {
			p.logger.Error("failed to mark credential revoked", "owner_id", ownerID, "error", merr)
		}
		p.logger.Warn("refresh credential rejected", "owner_id", ownerID)
		return nil, &shared.AuthExpiredError{OwnerID: ownerID, Err: rejected.err}
	}
	if err != nil {
		return nil, err
	}

	if tok.RefreshToken != "" && tok.RefreshToken != string(refresh) {
		if err := p.rotate(ctx, cred, tok.RefreshToken); err != nil {
			p.logger.Error("failed to store rotated refresh credential", "owner_id", ownerID, "error", err)
		}
	}

	p.mu.Lock()
	p.cache[ownerID] = tok
	p.mu.Unlock()

	p.logger.Debug("access token refreshed", "owner_id", ownerID, "expires", tok.Expiry)
	return tok, nil
}

// Invalidate drops the owner's cached access token so the next Get refreshes.
func (p *TokenProvider) Invalidate(ownerID string) {
	p.mu.Lock()
	delete(p.cache, ownerID)
	p.mu.Unlock()
}

// Store seals and saves a refresh token obtained at login.
func (p *TokenProvider) Store(ctx context.Context, ownerID string, token *oauth2.Token) error {
	if token == nil || token.RefreshToken == "" {
		return shared.ErrNoRefreshToken
	}

	sealed, err := p.sealer.Seal(ownerID, []byte(token.RefreshToken))
	if err != nil {
		return err
	}

	scopes, _ := token.Extra("scope").(string)
	if err := p.creds.Save(ctx, &models.Credential{OwnerID: ownerID, RefreshToken: sealed, Scopes: scopes}); err != nil {
		return err
	}

	p.Invalidate(ownerID)
	return nil
}

func (p *TokenProvider) cached(ownerID string) *oauth2.Token {
	p.mu.Lock()
	defer p.mu.Unlock()

	tok, ok := p.cache[ownerID]
	if !ok || tok.AccessToken == "" {
		return nil
	}
	if !tok.Expiry.IsZero() && !tok.Expiry.After(p.now().Add(expiryLeeway)) {
		return nil
	}
	return tok
}

func (p *TokenProvider) ownerLock(ownerID string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()

	m, ok := p.owners[ownerID]
	if !ok {
		m = &sync.Mutex{}
		p.owners[ownerID] = m
	}
	return m
}

func (p *TokenProvider) rotate(ctx context.Context, cred *models.Credential, refresh string) error {
	sealed, err := p.sealer.Seal(cred.OwnerID, []byte(refresh))
	if err != nil {
		return err
	}
	return p.creds.Save(ctx, &models.Credential{OwnerID: cred.OwnerID, RefreshToken: sealed, Scopes: cred.Scopes})
}

// rejectedError marks a refresh the provider refused permanently. It is not retried.
type rejectedError struct {
	err error
}

func (e *rejectedError) Error() string { return e.err.Error() }
func (e *rejectedError) Unwrap() error { return e.err }

// refresh performs a single refresh_token grant and classifies the failure.
func (p *TokenProvider) refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if p.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	}

	tok, err := p.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err == nil {
		return tok, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return nil, &shared.TransientProviderError{Op: "token refresh", Err: err}
	}

	status := 0
	if re.Response != nil {
		status = re.Response.StatusCode
	}

	// Only invalid_grant speaks about the refresh token itself. invalid_client and friends are
	// client misconfiguration and must not revoke owner credentials.
	switch {
	case re.ErrorCode == "invalid_grant":
		return nil, &rejectedError{err: fmt.Errorf("%w: %s", shared.ErrRefreshFailed, describeRetrieveError(re, status))}
	case status >= http.StatusBadRequest && status < http.StatusInternalServerError && !transientStatus(status):
		return nil, fmt.Errorf("%w: %w: %s", shared.ErrRefreshFailed, shared.ErrInvalidCredentials, describeRetrieveError(re, status))
	case transientStatus(status):
		var retryAfter time.Duration
		if re.Response != nil {
			retryAfter = parseRetryAfter(re.Response.Header, p.now())
		}
		return nil, &shared.TransientProviderError{
			Op:         "token refresh",
			StatusCode: status,
			RetryAfter: retryAfter,
			Err:        fmt.Errorf("%w: %s", shared.ErrRefreshFailed, describeRetrieveError(re, status)),
		}
	default:
		return nil, &shared.TransientProviderError{
			Op:         "token refresh",
			StatusCode: status,
			Err:        fmt.Errorf("%w: %s", shared.ErrRefreshFailed, describeRetrieveError(re, status)),
		}
	}
}

// describeRetrieveError summarizes a token endpoint failure without echoing the response body,
// which may contain credential material.
func describeRetrieveError(re *oauth2.RetrieveError, status int) string {
	if re.ErrorCode != "" {
		return fmt.Sprintf("status %d: %s", status, re.ErrorCode)
	}
	return fmt.Sprintf("status %d", status)
}
