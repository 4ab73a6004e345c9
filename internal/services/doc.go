// Package services implements the provider side of scheduled playlist jobs.
//
// # Playlist API
//
// Jobs operate through [PlaylistAPI], a per-owner session over the provider. [SpotifyService]
// implements [Provider] for the Spotify Web API: every request waits on one shared
// [rate.Limiter] and is wrapped in a [RetryPolicy].
//
// # Retries
//
// HTTP 429, 5xx and connection failures are [shared.TransientProviderError]. The policy doubles
// the delay from retry.base_delay until retry.max_attempts calls have been made, and a
// Retry-After header replaces the computed delay. Exhaustion returns the last transient error
// with its attempt count.
//
// # Tokens
//
// [TokenProvider] decrypts an owner's sealed refresh credential and exchanges it through
// [oauth2.Config.TokenSource]. A rejected refresh (invalid_grant, 400 or 401) becomes
// [shared.AuthExpiredError] and marks the credential revoked; anything else is transient.
// Access tokens are cached per process and never logged.
//
// # Error Handling
//
// Non-transient API failures wrap sentinel errors from the shared package:
//   - [shared.ErrTokenExpired] : the access token was refused (401)
//   - [shared.ErrPlaylistNotFound] : the playlist or artist does not exist (404)
//   - [shared.ErrAPIRequest] : any other non-2xx response or undecodable body
package services
