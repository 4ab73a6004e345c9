// Spotify API implementation of [Provider]
//
// Spotify API response types based on https://developer.spotify.com/documentation/web-api/reference/
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/desertthunder/cadence/internal/models"
	"github.com/desertthunder/cadence/internal/shared"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	spotifyBaseURL = "https://api.spotify.com/v1"

	// spotifyBatchSize is the most items Spotify accepts per playlist write or audio-features read.
	spotifyBatchSize = 100
)

// SpotifyScopes are the permissions requested at login.
var SpotifyScopes = []string{
	"user-read-email",
	"playlist-read-private",
	"playlist-read-collaborative",
	"playlist-modify-public",
	"playlist-modify-private",
}

// SpotifyUser represents a Spotify user profile.
type SpotifyUser struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
}

// SpotifyArtist represents a Spotify artist.
type SpotifyArtist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SpotifyTrack represents a Spotify track, or an episode when Type says so.
type SpotifyTrack struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Artists  []SpotifyArtist `json:"artists"`
	Explicit bool            `json:"explicit"`
	IsLocal  bool            `json:"is_local"`
	URI      string          `json:"uri"`
	Type     string          `json:"type"`
}

// SpotifyPlaylistTrack represents a track within a playlist context.
type SpotifyPlaylistTrack struct {
	AddedAt string        `json:"added_at"`
	Track   *SpotifyTrack `json:"track"`
}

// SpotifyPaginatedPlaylistTracks represents one page of playlist items.
type SpotifyPaginatedPlaylistTracks struct {
	Items  []SpotifyPlaylistTrack `json:"items"`
	Total  int                    `json:"total"`
	Limit  int                    `json:"limit"`
	Offset int                    `json:"offset"`
	Next   *string                `json:"next"`
}

// SpotifyAudioFeatures represents audio analysis for one track.
type SpotifyAudioFeatures struct {
	ID           string  `json:"id"`
	Energy       float64 `json:"energy"`
	Danceability float64 `json:"danceability"`
	Valence      float64 `json:"valence"`
	Tempo        float64 `json:"tempo"`
}

// SpotifyService talks to the Spotify Web API.
//
// One service is shared by every owner: requests from all sessions pass through a single
// rate limiter and retry policy. Access tokens are supplied per session.
type SpotifyService struct {
	config     *oauth2.Config
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      RetryPolicy
	baseURL    string
	now        func() time.Time
}

// NewSpotifyService creates a Spotify service from configuration.
func NewSpotifyService(cfg *shared.Config) (*SpotifyService, error) {
	creds := cfg.Credentials.Spotify
	if creds.ClientID == "" {
		return nil, fmt.Errorf("%w: missing spotify client_id", shared.ErrMissingCredentials)
	}
	if creds.ClientSecret == "" {
		return nil, fmt.Errorf("%w: missing spotify client_secret", shared.ErrMissingCredentials)
	}

	redirectURI := creds.RedirectURI
	if redirectURI == "" {
		redirectURI = fmt.Sprintf("http://%s:%d/callback", cfg.Server.Host, cfg.Server.Port)
	}

	limit := rate.Inf
	if cfg.API.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.API.RequestsPerSecond)
	}

	baseURL := creds.APIBaseURL
	if baseURL == "" {
		baseURL = spotifyBaseURL
	}

	return &SpotifyService{
		config: &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			RedirectURL:  redirectURI,
			Scopes:       SpotifyScopes,
			Endpoint:     creds.Endpoint(),
		},
		httpClient: &http.Client{Timeout: cfg.API.RequestTimeout.Duration},
		limiter:    rate.NewLimiter(limit, max(cfg.API.Burst, 1)),
		retry:      NewRetryPolicy(cfg.Retry),
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		now:        time.Now,
	}, nil
}

func (s *SpotifyService) Name() string {
	return "Spotify"
}

// OAuthConfig returns the OAuth2 configuration shared with the [TokenProvider].
func (s *SpotifyService) OAuthConfig() *oauth2.Config {
	return s.config
}

// Retry returns the retry policy applied to API calls.
func (s *SpotifyService) Retry() RetryPolicy {
	return s.retry
}

// GetAuthURL returns the OAuth2 authorization URL for user login.
func (s *SpotifyService) GetAuthURL(state string) string {
	return s.config.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Exchange trades an authorization code for a token pair.
func (s *SpotifyService) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
	token, err := s.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to exchange auth code: %v", shared.ErrAuthFailed, err)
	}
	if token.RefreshToken == "" {
		return nil, fmt.Errorf("%w: provider did not return a refresh token", shared.ErrNoRefreshToken)
	}
	return token, nil
}

// UserProfile retrieves the profile of the token's user.
func (s *SpotifyService) UserProfile(ctx context.Context, token *oauth2.Token) (*SpotifyUser, error) {
	var user SpotifyUser
	if err := s.call(ctx, token, "get profile", http.MethodGet, "/me", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Session binds an access token to the service.
func (s *SpotifyService) Session(token *oauth2.Token) PlaylistAPI {
	return &spotifySession{svc: s, token: token}
}

// call performs one logical API operation with rate limiting and retries.
func (s *SpotifyService) call(ctx context.Context, token *oauth2.Token, op, method, endpoint string, body, result any) error {
	return s.retry.Do(ctx, op, func(ctx context.Context) error {
		return s.doRequest(ctx, token, op, method, endpoint, body, result)
	})
}

// doRequest performs an authenticated HTTP request to the Spotify API.
func (s *SpotifyService) doRequest(ctx context.Context, token *oauth2.Token, op, method, endpoint string, body, result any) error {
	if token == nil || token.AccessToken == "" {
		return fmt.Errorf("%w: no access token for %s", shared.ErrNotAuthenticated, op)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	apiURL := endpoint
	if !strings.HasPrefix(endpoint, "http") {
		apiURL = s.baseURL + endpoint
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, apiURL, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &shared.TransientProviderError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if err := s.classify(op, resp); err != nil {
		return err
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("%w: failed to decode %s response: %v", shared.ErrAPIRequest, op, err)
		}
	}

	return nil
}

// classify maps a non-2xx response onto the error taxonomy.
func (s *SpotifyService) classify(op string, resp *http.Response) error {
	code := resp.StatusCode
	if code >= 200 && code < 300 {
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	cause := fmt.Errorf("spotify API error: status %d: %s", code, strings.TrimSpace(string(snippet)))

	switch {
	case transientStatus(code):
		return &shared.TransientProviderError{
			Op:         op,
			StatusCode: code,
			RetryAfter: parseRetryAfter(resp.Header, s.now()),
			Err:        cause,
		}
	case code == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s: %v", shared.ErrTokenExpired, op, cause)
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: %s: %v", shared.ErrPlaylistNotFound, op, cause)
	default:
		return fmt.Errorf("%w: %s: %v", shared.ErrAPIRequest, op, cause)
	}
}

type spotifySession struct {
	svc   *SpotifyService
	token *oauth2.Token
}

func (s *spotifySession) PlaylistTracks(ctx context.Context, playlistID string) ([]models.Track, error) {
	items, err := s.PlaylistItems(ctx, playlistID)
	if err != nil {
		return nil, err
	}

	tracks := items[:0]
	for _, item := range items {
		if item.Addressable() && !item.Episode {
			tracks = append(tracks, item)
		}
	}
	return tracks, nil
}

func (s *spotifySession) PlaylistItems(ctx context.Context, playlistID string) ([]models.Track, error) {
	var items []models.Track

	next := fmt.Sprintf("/playlists/%s/tracks?limit=%d&offset=0&additional_types=track,episode", url.PathEscape(playlistID), spotifyBatchSize)
	for next != "" {
		var page SpotifyPaginatedPlaylistTracks
		if err := s.svc.call(ctx, s.token, "get playlist tracks", http.MethodGet, next, nil, &page); err != nil {
			return nil, err
		}

		for _, entry := range page.Items {
			// An unavailable item keeps its slot with an empty ID and URI.
			var item models.Track
			if entry.Track != nil {
				item = toTrack(*entry.Track)
			}
			if at, err := time.Parse(time.RFC3339, entry.AddedAt); err == nil {
				item.AddedAt = at.UTC()
			}
			items = append(items, item)
		}

		next = ""
		if page.Next != nil {
			next = *page.Next
		}
	}

	return items, nil
}

func (s *spotifySession) ReplaceTracks(ctx context.Context, playlistID string, items []models.Track) error {
	if len(items) > MaxReplaceItems {
		return fmt.Errorf("%w: replace of %d items exceeds the single write limit of %d", shared.ErrInvalidArgument, len(items), MaxReplaceItems)
	}

	uris := make([]string, len(items))
	for i, item := range items {
		if !item.Addressable() {
			return fmt.Errorf("%w: item %d (%q) cannot be written back", shared.ErrInvalidArgument, i, item.Name)
		}
		uris[i] = item.ItemURI()
	}

	endpoint := fmt.Sprintf("/playlists/%s/tracks", url.PathEscape(playlistID))
	return s.svc.call(ctx, s.token, "replace playlist tracks", http.MethodPut, endpoint, map[string]any{"uris": uris}, nil)
}

func (s *spotifySession) MoveTrack(ctx context.Context, playlistID string, from, to int) error {
	endpoint := fmt.Sprintf("/playlists/%s/tracks", url.PathEscape(playlistID))
	body := map[string]int{"range_start": from, "insert_before": to, "range_length": 1}
	return s.svc.call(ctx, s.token, "reorder playlist tracks", http.MethodPut, endpoint, body, nil)
}

func (s *spotifySession) AddTracks(ctx context.Context, playlistID string, trackIDs []string) error {
	endpoint := fmt.Sprintf("/playlists/%s/tracks", url.PathEscape(playlistID))

	for _, batch := range chunk(trackIDs, spotifyBatchSize) {
		body := map[string]any{"uris": trackURIs(batch)}
		if err := s.svc.call(ctx, s.token, "add playlist tracks", http.MethodPost, endpoint, body, nil); err != nil {
			return err
		}
	}
	return nil
}

func (s *spotifySession) RemoveTracks(ctx context.Context, playlistID string, trackIDs []string) error {
	endpoint := fmt.Sprintf("/playlists/%s/tracks", url.PathEscape(playlistID))

	for _, batch := range chunk(trackIDs, spotifyBatchSize) {
		items := make([]map[string]string, len(batch))
		for i, uri := range trackURIs(batch) {
			items[i] = map[string]string{"uri": uri}
		}
		body := map[string]any{"tracks": items}
		if err := s.svc.call(ctx, s.token, "remove playlist tracks", http.MethodDelete, endpoint, body, nil); err != nil {
			return err
		}
	}
	return nil
}

func (s *spotifySession) ArtistTracks(ctx context.Context, artistID string) ([]models.Track, error) {
	endpoint := fmt.Sprintf("/artists/%s/top-tracks", url.PathEscape(artistID))

	var response struct {
		Tracks []SpotifyTrack `json:"tracks"`
	}
	if err := s.svc.call(ctx, s.token, "get artist tracks", http.MethodGet, endpoint, nil, &response); err != nil {
		return nil, err
	}

	tracks := make([]models.Track, 0, len(response.Tracks))
	for _, t := range response.Tracks {
		if t.ID == "" {
			continue
		}
		tracks = append(tracks, toTrack(t))
	}
	return tracks, nil
}

func (s *spotifySession) AudioFeatures(ctx context.Context, trackIDs []string) (map[string]models.AudioFeatures, error) {
	features := make(map[string]models.AudioFeatures, len(trackIDs))

	for _, batch := range chunk(trackIDs, spotifyBatchSize) {
		endpoint := "/audio-features?ids=" + url.QueryEscape(strings.Join(batch, ","))

		var response struct {
			AudioFeatures []*SpotifyAudioFeatures `json:"audio_features"`
		}
		if err := s.svc.call(ctx, s.token, "get audio features", http.MethodGet, endpoint, nil, &response); err != nil {
			return nil, err
		}

		for _, f := range response.AudioFeatures {
			if f == nil {
				continue
			}
			features[f.ID] = models.AudioFeatures{
				ID:           f.ID,
				Energy:       f.Energy,
				Danceability: f.Danceability,
				Valence:      f.Valence,
				Tempo:        f.Tempo,
			}
		}
	}

	return features, nil
}

func toTrack(t SpotifyTrack) models.Track {
	track := models.Track{
		ID:       t.ID,
		URI:      t.URI,
		Name:     t.Name,
		Explicit: t.Explicit,
		Local:    t.IsLocal,
		Episode:  t.Type == "episode",
	}
	for _, a := range t.Artists {
		track.Artists = append(track.Artists, a.Name)
	}
	return track
}

func trackURIs(ids []string) []string {
	uris := make([]string, len(ids))
	for i, id := range ids {
		uris[i] = "spotify:track:" + id
	}
	return uris
}

func chunk(ids []string, size int) [][]string {
	var batches [][]string
	for size < len(ids) {
		ids, batches = ids[size:], append(batches, ids[:size])
	}
	if len(ids) > 0 {
		batches = append(batches, ids)
	}
	return batches
}
