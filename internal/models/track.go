package models

import "time"

// Track is a playlist item as reported by the provider.
//
// ID is the provider's stable track identifier and is the key for every set operation.
// Items the provider no longer serves have no ID and no URI; local files have a URI but
// no ID. Neither can be written back to a playlist.
type Track struct {
	ID       string    `json:"id"`
	URI      string    `json:"uri,omitempty"`
	Name     string    `json:"name"`
	Artists  []string  `json:"artists,omitempty"`
	Explicit bool      `json:"explicit,omitempty"`
	Local    bool      `json:"local,omitempty"`
	Episode  bool      `json:"episode,omitempty"`
	AddedAt  time.Time `json:"added_at,omitzero"`
}

// Addressable reports whether the item can be written to a playlist by URI.
func (t Track) Addressable() bool {
	return t.ID != "" && !t.Local
}

// ItemURI returns the URI a write uses for the item, derived from ID when the provider reported none.
func (t Track) ItemURI() string {
	switch {
	case t.URI != "":
		return t.URI
	case t.ID == "":
		return ""
	case t.Episode:
		return "spotify:episode:" + t.ID
	default:
		return "spotify:track:" + t.ID
	}
}

// PrimaryArtist returns the first credited artist or an empty string.
func (t Track) PrimaryArtist() string {
	if len(t.Artists) == 0 {
		return ""
	}
	return t.Artists[0]
}

// AudioFeatures holds the subset of audio analysis used by raid filters.
type AudioFeatures struct {
	ID           string  `json:"id"`
	Energy       float64 `json:"energy"`
	Danceability float64 `json:"danceability"`
	Valence      float64 `json:"valence"`
	Tempo        float64 `json:"tempo"`
}

// TrackIDs returns the identifiers of tracks in order.
func TrackIDs(tracks []Track) []string {
	ids := make([]string, len(tracks))
	for i, t := range tracks {
		ids[i] = t.ID
	}
	return ids
}

// TrackSet builds a membership set of track identifiers.
func TrackSet(tracks []Track) map[string]struct{} {
	set := make(map[string]struct{}, len(tracks))
	for _, t := range tracks {
		set[t.ID] = struct{}{}
	}
	return set
}
