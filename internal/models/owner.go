package models

import (
	"strings"
	"time"

	"github.com/desertthunder/cadence/internal/shared"
)

// Owner is the account that owns schedules, playlist pairs and upstream sources.
//
// An owner is resolvable while it exists and has not been soft-deleted.
type Owner struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	DisplayName string     `json:"display_name,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

// NewOwner creates an [Owner] with timestamps set to now.
func NewOwner(email, displayName string) *Owner {
	now := time.Now().UTC()
	return &Owner{Email: strings.TrimSpace(email), DisplayName: displayName, CreatedAt: now, UpdatedAt: now}
}

func (o *Owner) Validate() error {
	if o.Email == "" {
		return shared.NewValidationError("email", "is required")
	}
	if !strings.Contains(o.Email, "@") {
		return shared.NewValidationError("email", "%q is not an email address", o.Email)
	}
	return nil
}

// Credential is an owner's sealed refresh credential.
//
// RefreshToken holds ciphertext only; see [shared.Sealer].
type Credential struct {
	OwnerID      string
	RefreshToken []byte
	Scopes       string
	UpdatedAt    time.Time
	RevokedAt    *time.Time
}

// Revoked reports whether the provider rejected this credential.
func (c *Credential) Revoked() bool {
	return c.RevokedAt != nil
}

// TargetLock marks a playlist as being mutated by one execution.
type TargetLock struct {
	TargetRef  string
	Holder     string
	AcquiredAt time.Time
	ExpiresAt  time.Time
}
