// Package graph defines the Notelith data graph: notes organised into
// folders, folders organised into binders, owned by users and shared through
// permission grants.
//
// The graph is organised as a hierarchy of increasing scope:
//
//   - Note: a markdown document, the leaf of the graph.
//   - Folder: a named collection of notes inside a binder.
//   - Binder: a top-level named collection of folders.
//
// All interfaces are public so that external packages can supply alternative
// storage backends (Postgres, in-memory, …) without depending on notelith
// internals.
//
// Every implementation must be safe for concurrent use.
package graph

import (
	"context"
	"errors"
	"time"

	"github.com/notelith/notelith/pkg/types"
)

// ErrNotFound is returned by lookups that require the resource to exist.
var ErrNotFound = errors.New("graph: resource not found")

// ErrAmbiguousRef is returned by [Resolver.ResolveRef] when a fuzzy reference
// matches more than one resource with no clear winner.
var ErrAmbiguousRef = errors.New("graph: ambiguous resource reference")

// ErrInvalidSequence is returned by [ConversationStore.AppendMessages] when a
// batch violates the tool-call pairing rules. See [ValidateBatch].
var ErrInvalidSequence = errors.New("graph: invalid message sequence")

// ─────────────────────────────────────────────────────────────────────────────
// Resources
// ─────────────────────────────────────────────────────────────────────────────

// ResourceKind classifies a node of the data graph.
type ResourceKind string

const (
	// KindNote is a markdown document.
	KindNote ResourceKind = "note"

	// KindFolder is a collection of notes.
	KindFolder ResourceKind = "folder"

	// KindBinder is a collection of folders.
	KindBinder ResourceKind = "binder"
)

// IsValid reports whether k is one of the known resource kinds.
func (k ResourceKind) IsValid() bool {
	switch k {
	case KindNote, KindFolder, KindBinder:
		return true
	}
	return false
}

// Resource is a kind-agnostic view of a graph node, used for reference
// resolution and permission checks.
type Resource struct {
	// ID is the unique, stable identifier (a UUID).
	ID string

	// Kind classifies the resource.
	Kind ResourceKind

	// Title is the display title (note title, folder or binder name).
	Title string

	// Slug is the URL-safe short name, unique per owner and kind.
	Slug string

	// OwnerID is the user who owns this resource.
	OwnerID string

	// ParentID is the containing folder (for notes) or binder (for folders).
	// Empty for binders.
	ParentID string
}

// Note is a markdown document.
type Note struct {
	ID       string
	FolderID string
	OwnerID  string
	Title    string
	Slug     string
	Content  string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Folder is a named collection of notes inside a binder.
type Folder struct {
	ID       string
	BinderID string
	OwnerID  string
	Name     string
	Slug     string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Binder is a top-level named collection of folders.
type Binder struct {
	ID      string
	OwnerID string
	Name    string
	Slug    string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NoteUpdate carries the mutable fields of a note. Nil pointers leave the
// corresponding field unchanged.
type NoteUpdate struct {
	Title   *string
	Content *string
}

// NoteMatch pairs a note found by full-text search with its relevance rank.
type NoteMatch struct {
	// Note is the matching document.
	Note Note

	// Rank is the search relevance score (higher is better; scale is
	// implementation-defined).
	Rank float64

	// Snippet is a short excerpt around the match, when the backend
	// produces one.
	Snippet string
}

// ─────────────────────────────────────────────────────────────────────────────
// Service — graph CRUD
// ─────────────────────────────────────────────────────────────────────────────

// Service is the data-graph CRUD surface consumed by the in-process tools.
//
// Mutating operations validate the referenced parents: creating a note in a
// missing folder, or moving into a missing target, returns [ErrNotFound].
// Deletions of non-existent records are not errors.
//
// Implementations must be safe for concurrent use.
type Service interface {
	// CreateBinder inserts a new binder and returns it with ID and
	// timestamps populated.
	CreateBinder(ctx context.Context, b Binder) (*Binder, error)

	// DeleteBinder removes the binder and, recursively, all folders and
	// notes inside it. Deleting a non-existent binder is not an error.
	DeleteBinder(ctx context.Context, id string) error

	// CreateFolder inserts a new folder into its binder and returns it with
	// ID and timestamps populated.
	CreateFolder(ctx context.Context, f Folder) (*Folder, error)

	// MoveFolder reassigns the folder to a different binder.
	MoveFolder(ctx context.Context, folderID, binderID string) error

	// DeleteFolder removes the folder and all notes inside it.
	// Deleting a non-existent folder is not an error.
	DeleteFolder(ctx context.Context, id string) error

	// CreateNote inserts a new note into its folder and returns it with ID
	// and timestamps populated.
	CreateNote(ctx context.Context, n Note) (*Note, error)

	// GetNote retrieves a note by its unique ID.
	// Returns (nil, nil) when the note does not exist.
	GetNote(ctx context.Context, id string) (*Note, error)

	// UpdateNote applies upd to the note and refreshes its UpdatedAt
	// timestamp. Returns [ErrNotFound] when the note does not exist.
	UpdateNote(ctx context.Context, id string, upd NoteUpdate) (*Note, error)

	// MoveNote reassigns the note to a different folder.
	MoveNote(ctx context.Context, noteID, folderID string) error

	// DeleteNote removes the note. Deleting a non-existent note is not an error.
	DeleteNote(ctx context.Context, id string) error

	// SearchNotes performs full-text search over the owner's notes.
	// Results are ordered by descending relevance. limit caps the result
	// count; 0 means the implementation may apply its own default.
	// Returns an empty (non-nil) slice when nothing matches.
	SearchNotes(ctx context.Context, ownerID, query string, limit int) ([]NoteMatch, error)

	// GetResource returns the kind-agnostic view of any graph node.
	// Returns (nil, nil) when no resource has the given ID.
	GetResource(ctx context.Context, id string) (*Resource, error)

	// ListResources returns the kind-agnostic views of all resources the
	// user owns or holds a grant on, optionally filtered by kind.
	// Returns an empty (non-nil) slice when the user has no resources.
	ListResources(ctx context.Context, userID string, kinds ...ResourceKind) ([]Resource, error)
}

// ─────────────────────────────────────────────────────────────────────────────
// Collaborators consumed by the tool router
// ─────────────────────────────────────────────────────────────────────────────

// PermissionChecker answers access-control questions for tool execution.
//
// Ownership implies every level. Explicit grants carry a
// [types.PermissionLevel]; a grant covers a required level per
// [types.PermissionLevel.Covers]. Grants on a binder or folder extend to the
// resources inside it.
type PermissionChecker interface {
	// HasPermission reports whether userID holds at least level on the
	// resource. A missing resource is reported as (false, nil), not an
	// error — the caller decides how to surface it.
	HasPermission(ctx context.Context, userID, resourceID string, level types.PermissionLevel) (bool, error)
}

// Resolver maps user- or model-supplied references to concrete resources.
//
// A reference may be a UUID, an exact slug, an exact title
// (case-insensitive), or a close-enough fuzzy title. Resolution is scoped to
// resources visible to the user.
type Resolver interface {
	// ResolveRef resolves ref for userID. Returns [ErrNotFound] when nothing
	// matches and [ErrAmbiguousRef] when several resources match equally well.
	ResolveRef(ctx context.Context, userID, ref string) (*Resource, error)
}

// ─────────────────────────────────────────────────────────────────────────────
// Conversation persistence
// ─────────────────────────────────────────────────────────────────────────────

// ConversationStore persists durable conversation history, one message batch
// per completed turn.
type ConversationStore interface {
	// AppendMessages appends the batch produced by one completed turn.
	// The batch must satisfy [ValidateBatch]; violations are rejected with
	// an error wrapping [ErrInvalidSequence] and nothing is written.
	AppendMessages(ctx context.Context, sessionID string, msgs []types.Message) error

	// History returns the most recent messages of the session in
	// chronological order. limit caps the count; 0 means no cap.
	// Returns an empty (non-nil) slice for an unknown session.
	History(ctx context.Context, sessionID string, limit int) ([]types.Message, error)
}

// Store is the full storage surface the application wires together.
type Store interface {
	Service
	PermissionChecker
	ConversationStore
}
