package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/desertthunder/cadence/internal/server"
	"github.com/desertthunder/cadence/internal/services"
	"github.com/desertthunder/cadence/internal/shared"
	"github.com/urfave/cli/v3"
	"golang.org/x/oauth2"
)

const authTimeout = 2 * time.Minute

// AuthLogin performs the OAuth2 authorization code flow for an owner.
//
// Starts a local HTTP server, opens the browser for user authorization, exchanges the
// code for tokens and stores the sealed refresh token the scheduler runs on.
func (r *Runner) AuthLogin(ctx context.Context, cmd *cli.Command) error {
	ownerID := cmd.String("owner")

	svc, err := r.management(false)
	if err != nil {
		return err
	}

	owner, err := svc.GetOwner(ctx, ownerID)
	if err != nil {
		return err
	}

	spotify, tokens, err := r.openSpotify(r.db)
	if err != nil {
		return err
	}

	token, err := r.doOAuth(ctx, spotify, "authorization")
	if err != nil {
		return err
	}

	if profile, err := spotify.UserProfile(ctx, token); err != nil {
		r.logger.Warn("failed to fetch Spotify profile", "owner_id", owner.ID, "error", err)
	} else {
		r.logger.Info("authorized Spotify account", "owner_id", owner.ID, "spotify_user", profile.ID)
	}

	if err := tokens.Store(ctx, owner.ID, token); err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}

	r.writePlainln("✓ Authorization successful")
	r.writePlain("✓ Refresh token stored for %s (%s)\n\n", owner.Email, owner.ID)
	r.writePlain("Schedules owned by %s can now run unattended.\n", owner.ID)

	return nil
}

// AuthStatus refreshes an owner's stored credential to confirm it is still accepted.
func (r *Runner) AuthStatus(ctx context.Context, cmd *cli.Command) error {
	ownerID := cmd.String("owner")

	db, err := r.openDatabase()
	if err != nil {
		return err
	}

	_, tokens, err := r.openSpotify(db)
	if err != nil {
		return err
	}

	token, err := tokens.Get(ctx, ownerID)
	if err != nil {
		if shared.IsAuthExpired(err) {
			r.writePlain("✗ Credential for %s is expired or revoked\n", ownerID)
			r.writePlain("Run 'cadence auth login --owner %s' to authorize again.\n", ownerID)
		}
		return err
	}

	r.writePlain("✓ Credential for %s is valid\n", ownerID)
	if !token.Expiry.IsZero() {
		r.writePlain("Access token expires: %s\n", token.Expiry.UTC().Format(time.RFC3339))
	}
	return nil
}

// doOAuth executes the OAuth2 authorization flow with a local HTTP server
func (r *Runner) doOAuth(ctx context.Context, oauthSrv services.OAuthService, prefix string) (*oauth2.Token, error) {
	state, err := shared.GenerateState()
	if err != nil {
		return nil, fmt.Errorf("failed to generate state token: %w", err)
	}

	authURL := oauthSrv.GetAuthURL(state)
	oauthHandler := server.NewOAuthHandler(oauthSrv, state)
	router := server.NewBasicRouter()
	router.Use(server.LoggingMiddleware(r.logger))
	router.Handler(oauthHandler)

	serverAddr := fmt.Sprintf("%s:%d", r.config.Server.Host, r.config.Server.Port)
	httpServer := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		r.logger.Infof("starting OAuth server for %s at %v", prefix, serverAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()

	time.Sleep(100 * time.Millisecond)

	r.writePlain("→ Opening browser for Spotify %s...\n", prefix)
	if err := shared.OpenBrowser(authURL); err != nil {
		r.logger.Warnf("failed to open browser automatically %v", err)
		r.writePlainln("⚠ Could not open browser automatically.")
		r.writePlain("Please open this URL in your browser:\n%s\n\n", authURL)
	}

	r.writePlain("→ Waiting for authorization (%s timeout)...\n", authTimeout)

	timeout := time.NewTimer(authTimeout)
	defer timeout.Stop()

	var result server.OAuthResult

	select {
	case result = <-oauthHandler.Result():
	case err := <-serverErrors:
		return nil, fmt.Errorf("server error: %w", err)
	case <-timeout.C:
		return nil, fmt.Errorf("%w: authorization timed out after %s", shared.ErrTimeout, authTimeout)
	case <-ctx.Done():
		httpServer.Close()
		return nil, ctx.Err()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Warn("error shutting down server", "error", err)
	}

	if result.Error() != nil {
		return nil, fmt.Errorf("authorization failed: %w", result.Error())
	}

	if result.Token == nil {
		return nil, fmt.Errorf("%w: no token received", shared.ErrAuthFailed)
	}

	return result.Token, nil
}
