// package testing contains shared testing utilities
package testing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/cadence/internal/models"
	"github.com/desertthunder/cadence/internal/services"
	"github.com/desertthunder/cadence/internal/shared"
	"golang.org/x/oauth2"
)

// Call records one invocation against [FakePlaylistAPI].
type Call struct {
	Op       string
	Ref      string
	TrackIDs []string
}

// FakePlaylistAPI is an in-memory playlist provider.
//
// Errors are keyed by "Op" or "Op:ref" (e.g. "AddTracks:archive"); Drop lists track IDs
// that AddTracks accepts without storing, simulating an unacknowledged write.
type FakePlaylistAPI struct {
	mu        sync.Mutex
	playlists map[string][]models.Track
	artists   map[string][]models.Track
	catalog   map[string]models.Track

	Features map[string]models.AudioFeatures
	Errors   map[string]error
	Drop     map[string]bool
	Calls    []Call
	Now      func() time.Time

	// Before runs ahead of every call. Returning an error fails the call.
	Before func(ctx context.Context, op, ref string) error
}

// NewFakePlaylistAPI returns an empty [FakePlaylistAPI].
func NewFakePlaylistAPI() *FakePlaylistAPI {
	return &FakePlaylistAPI{
		playlists: map[string][]models.Track{},
		artists:   map[string][]models.Track{},
		catalog:   map[string]models.Track{},
		Features:  map[string]models.AudioFeatures{},
		Errors:    map[string]error{},
		Drop:      map[string]bool{},
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

// Session satisfies [services.Provider] by returning the fake itself.
func (f *FakePlaylistAPI) Session(*oauth2.Token) services.PlaylistAPI { return f }

// SetPlaylist replaces a playlist's contents.
func (f *FakePlaylistAPI) SetPlaylist(ref string, tracks ...models.Track) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range tracks {
		if t.ID != "" {
			f.catalog[t.ID] = t
		}
	}
	f.playlists[ref] = slices.Clone(tracks)
}

// SetArtist sets an artist's top tracks.
func (f *FakePlaylistAPI) SetArtist(ref string, tracks ...models.Track) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range tracks {
		f.catalog[t.ID] = t
	}
	f.artists[ref] = slices.Clone(tracks)
}

// Playlist returns a copy of a playlist's tracks.
func (f *FakePlaylistAPI) Playlist(ref string) []models.Track {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.playlists[ref])
}

// PlaylistIDs returns a playlist's track IDs in order.
func (f *FakePlaylistAPI) PlaylistIDs(ref string) []string {
	return models.TrackIDs(f.Playlist(ref))
}

// CallCount counts recorded calls for op.
func (f *FakePlaylistAPI) CallCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// CallsFor returns recorded calls in order.
func (f *FakePlaylistAPI) CallsFor(op string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Call
	for _, c := range f.Calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

func (f *FakePlaylistAPI) enter(ctx context.Context, op, ref string, ids []string) error {
	if f.Before != nil {
		if err := f.Before(ctx, op, ref); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, Call{Op: op, Ref: ref, TrackIDs: slices.Clone(ids)})
	if err, ok := f.Errors[op+":"+ref]; ok {
		return err
	}
	if err, ok := f.Errors[op]; ok {
		return err
	}
	return nil
}

func (f *FakePlaylistAPI) PlaylistTracks(ctx context.Context, ref string) ([]models.Track, error) {
	if err := f.enter(ctx, "PlaylistTracks", ref, nil); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	items, ok := f.playlists[ref]
	if !ok {
		return nil, fmt.Errorf("playlist %s not found", ref)
	}
	var tracks []models.Track
	for _, t := range items {
		if t.Addressable() && !t.Episode {
			tracks = append(tracks, t)
		}
	}
	return tracks, nil
}

func (f *FakePlaylistAPI) PlaylistItems(ctx context.Context, ref string) ([]models.Track, error) {
	if err := f.enter(ctx, "PlaylistItems", ref, nil); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	items, ok := f.playlists[ref]
	if !ok {
		return nil, fmt.Errorf("playlist %s not found", ref)
	}
	return slices.Clone(items), nil
}

// ReplaceTracks enforces the same single write contract as the real provider.
func (f *FakePlaylistAPI) ReplaceTracks(ctx context.Context, ref string, items []models.Track) error {
	if err := f.enter(ctx, "ReplaceTracks", ref, models.TrackIDs(items)); err != nil {
		return err
	}
	if len(items) > services.MaxReplaceItems {
		return fmt.Errorf("%w: replace of %d items", shared.ErrInvalidArgument, len(items))
	}
	for _, t := range items {
		if !t.Addressable() {
			return fmt.Errorf("%w: %q cannot be written back", shared.ErrInvalidArgument, t.Name)
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playlists[ref] = slices.Clone(items)
	return nil
}

func (f *FakePlaylistAPI) MoveTrack(ctx context.Context, ref string, from, to int) error {
	if err := f.enter(ctx, "MoveTrack", ref, nil); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	items := f.playlists[ref]
	if from < 0 || from >= len(items) || to < 0 || to > len(items) {
		return fmt.Errorf("%w: move %d before %d in a playlist of %d", shared.ErrInvalidArgument, from, to, len(items))
	}
	item := items[from]
	items = slices.Delete(items, from, from+1)
	if to > from {
		to--
	}
	f.playlists[ref] = slices.Insert(items, to, item)
	return nil
}

func (f *FakePlaylistAPI) AddTracks(ctx context.Context, ref string, ids []string) error {
	if err := f.enter(ctx, "AddTracks", ref, ids); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		if f.Drop[id] {
			continue
		}
		t := f.track(id)
		t.AddedAt = f.Now()
		f.playlists[ref] = append(f.playlists[ref], t)
	}
	return nil
}

func (f *FakePlaylistAPI) RemoveTracks(ctx context.Context, ref string, ids []string) error {
	if err := f.enter(ctx, "RemoveTracks", ref, ids); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	remove := map[string]bool{}
	for _, id := range ids {
		remove[id] = true
	}
	f.playlists[ref] = slices.DeleteFunc(f.playlists[ref], func(t models.Track) bool { return remove[t.ID] })
	return nil
}

func (f *FakePlaylistAPI) ArtistTracks(ctx context.Context, ref string) ([]models.Track, error) {
	if err := f.enter(ctx, "ArtistTracks", ref, nil); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.artists[ref]), nil
}

func (f *FakePlaylistAPI) AudioFeatures(ctx context.Context, ids []string) (map[string]models.AudioFeatures, error) {
	if err := f.enter(ctx, "AudioFeatures", "", ids); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]models.AudioFeatures, len(ids))
	for _, id := range ids {
		if feat, ok := f.Features[id]; ok {
			out[id] = feat
		}
	}
	return out, nil
}

// track must be called with mu held.
func (f *FakePlaylistAPI) track(id string) models.Track {
	if t, ok := f.catalog[id]; ok {
		return t
	}
	return models.Track{ID: id, Name: id}
}

// StaticTokens hands out a fixed token, or a per-owner error.
type StaticTokens struct {
	mu          sync.Mutex
	Token       *oauth2.Token
	Errors      map[string]error
	Invalidated []string
	Gets        int
}

// NewStaticTokens returns [StaticTokens] with a long-lived bearer token.
func NewStaticTokens() *StaticTokens {
	return &StaticTokens{
		Token:  &oauth2.Token{AccessToken: "test-access", TokenType: "Bearer", Expiry: time.Now().Add(time.Hour)},
		Errors: map[string]error{},
	}
}

func (s *StaticTokens) Get(ctx context.Context, ownerID string) (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Gets++
	if err, ok := s.Errors[ownerID]; ok {
		return nil, err
	}
	return s.Token, nil
}

func (s *StaticTokens) Invalidate(ownerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Invalidated = append(s.Invalidated, ownerID)
}

// MakeTracks builds tracks t1..tn by one artist, added an hour apart starting at base.
func MakeTracks(base time.Time, ids ...string) []models.Track {
	tracks := make([]models.Track, len(ids))
	for i, id := range ids {
		tracks[i] = models.Track{
			ID:      id,
			Name:    "Track " + id,
			Artists: []string{"artist-" + id},
			AddedAt: base.Add(time.Duration(i) * time.Hour),
		}
	}
	return tracks
}

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// LimitedWriter fails after a certain number of writes
type LimitedWriter struct {
	maxWrites int
	written   int
	target    io.Writer
}

func (l *LimitedWriter) Write(p []byte) (n int, err error) {
	if l.written >= l.maxWrites {
		return 0, errors.New("write limit exceeded")
	}
	l.written++
	return l.target.Write(p)
}

func NewLimitedWriter(maxWrites, written int, target io.Writer) LimitedWriter {
	return LimitedWriter{maxWrites: maxWrites, written: written, target: target}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}
