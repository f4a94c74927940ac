// Package schema provides the data structures shared by the local and
// remote note stores.
package schema

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Note is the user-visible entity being synchronized.
//
// The same note exists in two physical representations: a local document
// (see StoredNote) and a remote row (see Row). ID is the join key between
// them and never changes after creation.
type Note struct {
	// ID is a client-generated UUID, unique within a user's scope.
	ID string `json:"id"`

	// Title and Content are user-editable and may be empty.
	Title   string `json:"title"`
	Content string `json:"content"`

	// UpdatedAt is epoch milliseconds, set by the writer on every
	// mutation. It is the sole ordering signal for conflict resolution.
	UpdatedAt int64 `json:"updated_at"`

	// Deleted is the soft-delete marker. Deleted notes are pushed to the
	// remote but never returned by the remote's active query.
	Deleted bool `json:"deleted"`
}

// StoredNote is a Note as held by the local store, together with the
// revision token issued on its last write. Rev is a local-store-only
// optimistic concurrency guard; it is never sent to the remote.
type StoredNote struct {
	Note
	Rev string `json:"rev"`
}

// Row is a Note as held by the remote store, scoped to its owner.
type Row struct {
	ID        string `json:"id"`
	OwnerID   string `json:"owner_id"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	UpdatedAt int64  `json:"updated_at"`
	Deleted   bool   `json:"deleted"`
}

// New creates a note with a fresh UUID and UpdatedAt set to now.
func New(title, content string) Note {
	return Note{
		ID:        uuid.NewString(),
		Title:     title,
		Content:   content,
		UpdatedAt: NowMillis(),
	}
}

// Validate checks the fields every store requires.
// Title and Content are allowed to be empty.
func (n *Note) Validate() error {
	if n.ID == "" {
		return fmt.Errorf("id is required")
	}
	if n.UpdatedAt < 0 {
		return fmt.Errorf("updated_at must not be negative (got %d)", n.UpdatedAt)
	}
	return nil
}

// Touch sets UpdatedAt to the current time. Call on every mutation.
func (n *Note) Touch() {
	n.UpdatedAt = NowMillis()
}

// ToRow converts a note to its remote representation, stamping the owner.
// The local revision token does not cross this boundary.
func (n *Note) ToRow(ownerID string) Row {
	return Row{
		ID:        n.ID,
		OwnerID:   ownerID,
		Title:     n.Title,
		Content:   n.Content,
		UpdatedAt: n.UpdatedAt,
		Deleted:   n.Deleted,
	}
}

// ToNote converts a remote row back to the canonical entity.
func (r *Row) ToNote() Note {
	return Note{
		ID:        r.ID,
		Title:     r.Title,
		Content:   r.Content,
		UpdatedAt: r.UpdatedAt,
		Deleted:   r.Deleted,
	}
}

// NowMillis returns the current time in epoch milliseconds, the unit
// used for every UpdatedAt comparison.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
