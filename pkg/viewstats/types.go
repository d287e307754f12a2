package viewstats

import (
	"errors"
	"time"
)

// AnonymousViewerID is recorded in the fast store for unauthenticated viewers. It never
// gets a per-viewer durable row.
const AnonymousViewerID = "anonymous"

var (
	// ErrStoreUnavailable is returned for any fast counter store failure.
	ErrStoreUnavailable = errors.New("fast counter store unavailable")

	// ErrPersistence is returned when a durable store transaction fails.
	ErrPersistence = errors.New("durable store persistence failed")

	// ErrWALIO is returned when the write-ahead log cannot be read or written.
	ErrWALIO = errors.New("write-ahead log i/o failed")
)

// Source identifies which tier answered a stats read.
type Source string

const (
	SourceFast    Source = "fast"
	SourceDurable Source = "durable"
)

// Stats is the view statistics record for one item.
type Stats struct {
	TotalViews  int64            `json:"total_views"`
	UniqueViews int64            `json:"unique_views"`
	UserViews   map[string]int64 `json:"user_views"`

	// Source is set by readers and is not part of the wire representation.
	Source Source `json:"-"`
}

// NewStats returns an empty stats record with a non-nil viewer map.
func NewStats() *Stats {
	return &Stats{UserViews: make(map[string]int64)}
}

// ItemStats is the durable aggregate row for an item.
type ItemStats struct {
	ItemID      string
	TotalViews  int64
	LastUpdated time.Time
}

// ViewerItemView is the durable per-(viewer, item) row.
type ViewerItemView struct {
	ViewerID   string
	ItemID     string
	ViewCount  int64
	LastViewed time.Time
}

// Viewer is the identity attached to a view event by the authentication collaborator.
type Viewer struct {
	ID            string
	Authenticated bool
}

// Anonymous is the unauthenticated viewer.
var Anonymous = Viewer{}

// ResolvedID returns the id recorded for this viewer: the caller-supplied identity when
// authenticated, otherwise AnonymousViewerID.
func (v Viewer) ResolvedID() string {
	if v.Authenticated && v.ID != "" {
		return v.ID
	}
	return AnonymousViewerID
}

// IsAnonymous reports whether views by v are recorded under the anonymous sentinel.
func (v Viewer) IsAnonymous() bool {
	return v.ResolvedID() == AnonymousViewerID
}
