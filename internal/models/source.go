package models

import (
	"time"

	"github.com/desertthunder/cadence/internal/shared"
)

// SourceType is the kind of upstream a raid watches.
type SourceType string

const (
	SourcePlaylist SourceType = "playlist"
	SourceArtist   SourceType = "artist"
)

// UpstreamSource is a watched playlist or artist whose new tracks feed raid jobs.
//
// LastSnapshot is the track set seen at the last confirmed write and only moves forward after one.
type UpstreamSource struct {
	ID           string     `json:"id"`
	OwnerID      string     `json:"owner_id"`
	SourceType   SourceType `json:"source_type"`
	SourceRef    string     `json:"source_ref"`
	LastSnapshot []string   `json:"last_snapshot"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DeletedAt    *time.Time `json:"-"`
}

// NewUpstreamSource creates an [UpstreamSource] with an empty snapshot.
func NewUpstreamSource(ownerID string, sourceType SourceType, ref string) *UpstreamSource {
	now := time.Now().UTC()
	return &UpstreamSource{
		OwnerID:      ownerID,
		SourceType:   sourceType,
		SourceRef:    ref,
		LastSnapshot: []string{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func (s *UpstreamSource) Validate() error {
	switch {
	case s.OwnerID == "":
		return shared.NewValidationError("owner_id", "is required")
	case s.SourceType != SourcePlaylist && s.SourceType != SourceArtist:
		return shared.NewValidationError("source_type", "unknown source type %q", s.SourceType)
	case s.SourceRef == "":
		return shared.NewValidationError("source_ref", "is required")
	}
	return nil
}

// SnapshotSet returns LastSnapshot as a membership set.
func (s *UpstreamSource) SnapshotSet() map[string]struct{} {
	set := make(map[string]struct{}, len(s.LastSnapshot))
	for _, id := range s.LastSnapshot {
		set[id] = struct{}{}
	}
	return set
}
