// package services defines the provider-facing interfaces used by scheduled jobs
//
// Spotify Web API, OAuth token refresh
package services

import (
	"context"

	"github.com/desertthunder/cadence/internal/models"
	"golang.org/x/oauth2"
)

// PlaylistAPI is the set of playlist operations a job performs, bound to one owner's access token.
//
// Implementations retry transient failures and surface exhausted retries as [shared.TransientProviderError].
type PlaylistAPI interface {
	// PlaylistTracks returns the playlist's addressable tracks in playlist order.
	// Local files, episodes and unavailable items are left out.
	PlaylistTracks(ctx context.Context, playlistID string) ([]models.Track, error)

	// PlaylistItems returns every item in playlist order, local files, episodes and
	// unavailable items included, so that indexes match the provider's positions.
	PlaylistItems(ctx context.Context, playlistID string) ([]models.Track, error)

	// ReplaceTracks sets the playlist to exactly items, in order, with a single write.
	// Every item must be addressable and there may be at most [MaxReplaceItems].
	ReplaceTracks(ctx context.Context, playlistID string, items []models.Track) error

	// MoveTrack moves the item at position from so that it sits before the item currently
	// at position to. Nothing is added or removed.
	MoveTrack(ctx context.Context, playlistID string, from, to int) error

	// AddTracks appends trackIDs to the playlist.
	AddTracks(ctx context.Context, playlistID string, trackIDs []string) error

	// RemoveTracks removes every occurrence of trackIDs from the playlist.
	RemoveTracks(ctx context.Context, playlistID string, trackIDs []string) error

	// ArtistTracks returns the tracks currently published for an artist.
	ArtistTracks(ctx context.Context, artistID string) ([]models.Track, error)

	// AudioFeatures returns audio analysis keyed by track ID. Tracks without analysis are omitted.
	AudioFeatures(ctx context.Context, trackIDs []string) (map[string]models.AudioFeatures, error)
}

// MaxReplaceItems is the most items one replace write accepts.
const MaxReplaceItems = 100

// Provider opens a [PlaylistAPI] for an access token.
type Provider interface {
	Session(token *oauth2.Token) PlaylistAPI
}

// Tokens resolves an owner to a short-lived access token without a live user session.
type Tokens interface {
	Get(ctx context.Context, ownerID string) (*oauth2.Token, error)
	Invalidate(ownerID string)
}

// OAuthService is implemented by providers that support the authorization code flow.
//
// Used by the CLI login flow to obtain the refresh credential the scheduler runs on.
type OAuthService interface {
	GetAuthURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
}
