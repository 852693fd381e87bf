// Package editlock implements advisory, heartbeat-renewed edit leases over
// CRM records. A lock is scoped to one organization and one record and
// expires after a period of heartbeat silence.
package editlock

import "time"

// DefaultTimeout is how long a lock survives without a heartbeat.
const DefaultTimeout = 30 * time.Minute

// Lock is one outstanding claim of exclusive edit intent.
type Lock struct {
	EntityType        EntityType `json:"entityType"`
	EntityID          string     `json:"entityId"`
	OrganizationID    string     `json:"organizationId"`
	HolderUserID      string     `json:"holderUserId"`
	HolderDisplayName string     `json:"holderDisplayName"`
	// AcquiredAt is when the current holder first obtained the lock.
	AcquiredAt time.Time `json:"acquiredAt"`
	// RenewedAt is the most recent acquisition or heartbeat; expiry counts from it.
	RenewedAt time.Time `json:"renewedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (l Lock) Key() Key {
	return Key{OrganizationID: l.OrganizationID, EntityType: l.EntityType, EntityID: l.EntityID}
}

// Active reports whether the lock is still live at now for the given timeout.
func (l Lock) Active(now time.Time, timeout time.Duration) bool {
	return now.Sub(l.RenewedAt) < timeout
}

// Holder is the authenticated user asking for a lock.
type Holder struct {
	UserID      string
	DisplayName string
}

type CheckResult struct {
	IsLocked bool  `json:"isLocked"`
	Lock     *Lock `json:"lock"`
}

type AcquireResult struct {
	Acquired bool `json:"acquired"`
	Lock     Lock `json:"lock"`
}

// LossReason explains a failed heartbeat.
type LossReason string

const (
	// ReasonHeldByOther means the lock expired and another user took it over.
	ReasonHeldByOther LossReason = "held_by_other"
	// ReasonNotHeld means nobody holds the lock any more.
	ReasonNotHeld LossReason = "not_held"
)

type RenewResult struct {
	Renewed bool       `json:"renewed"`
	Lock    *Lock      `json:"lock,omitempty"`
	Reason  LossReason `json:"reason,omitempty"`
}
