package models

import (
	"time"

	"github.com/desertthunder/cadence/internal/shared"
)

// RotationPolicy decides which production tracks are stale and how production is refilled.
//
// RetainNewest keeps the N most recently added tracks; MaxAgeDays marks tracks added
// more than N days ago. Zero leaves a rule unset. A track is stale when any set rule marks it.
type RotationPolicy struct {
	RetainNewest         int    `json:"retain_newest,omitempty"`
	MaxAgeDays           int    `json:"max_age_days,omitempty"`
	ReplenishPlaylistRef string `json:"replenish_playlist_ref,omitempty"`
	ReplenishCount       int    `json:"replenish_count,omitempty"`
}

// PlaylistPair links a production playlist to the archive that receives its stale tracks.
type PlaylistPair struct {
	ID                    string         `json:"id"`
	OwnerID               string         `json:"owner_id"`
	ProductionPlaylistRef string         `json:"production_playlist_ref"`
	ArchivePlaylistRef    string         `json:"archive_playlist_ref"`
	Policy                RotationPolicy `json:"rotation_policy"`
	CreatedAt             time.Time      `json:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at"`
	DeletedAt             *time.Time     `json:"-"`
}

// NewPlaylistPair creates a [PlaylistPair] with timestamps set to now.
func NewPlaylistPair(ownerID, production, archive string, policy RotationPolicy) *PlaylistPair {
	now := time.Now().UTC()
	return &PlaylistPair{
		OwnerID:               ownerID,
		ProductionPlaylistRef: production,
		ArchivePlaylistRef:    archive,
		Policy:                policy,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
}

func (p *PlaylistPair) Validate() error {
	switch {
	case p.OwnerID == "":
		return shared.NewValidationError("owner_id", "is required")
	case p.ProductionPlaylistRef == "":
		return shared.NewValidationError("production_playlist_ref", "is required")
	case p.ArchivePlaylistRef == "":
		return shared.NewValidationError("archive_playlist_ref", "is required")
	case p.ProductionPlaylistRef == p.ArchivePlaylistRef:
		return shared.NewValidationError("archive_playlist_ref", "must differ from the production playlist")
	}

	pol := p.Policy
	switch {
	case pol.RetainNewest < 0 || pol.MaxAgeDays < 0 || pol.ReplenishCount < 0:
		return shared.NewValidationError("rotation_policy", "values must not be negative")
	case pol.RetainNewest == 0 && pol.MaxAgeDays == 0:
		return shared.NewValidationError("rotation_policy", "one of retain_newest or max_age_days is required")
	case pol.ReplenishCount > 0 && pol.ReplenishPlaylistRef == "":
		return shared.NewValidationError("rotation_policy.replenish_playlist_ref", "is required when replenish_count is set")
	case pol.ReplenishPlaylistRef != "" && pol.ReplenishPlaylistRef == p.ProductionPlaylistRef:
		return shared.NewValidationError("rotation_policy.replenish_playlist_ref", "must differ from the production playlist")
	}
	return nil
}

// Targets returns the playlists a rotation mutates.
func (p *PlaylistPair) Targets() []string {
	return []string{p.ProductionPlaylistRef, p.ArchivePlaylistRef}
}
