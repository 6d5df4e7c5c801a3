// Package notetools provides the built-in tools that let an agent operate on
// the Notelith data graph: creating, reading, updating, moving, and deleting
// notes, folders, and binders, plus full-text search.
//
// Mutations require write access on the affected container, deletions require
// ownership, and reads require read access. The tool router enforces the
// primary permission; handlers here additionally verify destination
// containers on move operations.
package notetools

import (
	"context"
	"fmt"
	"time"

	"github.com/notelith/notelith/internal/tools"
	"github.com/notelith/notelith/pkg/graph"
	"github.com/notelith/notelith/pkg/types"
)

// noteView is the model-facing rendering of a note.
type noteView struct {
	ID        string    `json:"id"`
	FolderID  string    `json:"folder_id"`
	Title     string    `json:"title"`
	Slug      string    `json:"slug"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func viewNote(n *graph.Note) noteView {
	return noteView{
		ID:        n.ID,
		FolderID:  n.FolderID,
		Title:     n.Title,
		Slug:      n.Slug,
		Content:   n.Content,
		CreatedAt: n.CreatedAt,
		UpdatedAt: n.UpdatedAt,
	}
}

// matchView is the model-facing rendering of a search hit. The full note
// content is omitted so result payloads stay small; the model fetches
// individual notes with get_note.
type matchView struct {
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	Slug    string  `json:"slug"`
	Rank    float64 `json:"rank"`
	Snippet string  `json:"snippet,omitempty"`
}

// refProperty is the shared schema for arguments naming an existing resource.
func refProperty(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

// ─────────────────────────────────────────────────────────────────────────────
// Handlers
// ─────────────────────────────────────────────────────────────────────────────

func makeCreateNoteHandler(svc graph.Service) func(context.Context, tools.Call) (any, error) {
	return func(ctx context.Context, c tools.Call) (any, error) {
		if c.Resource.Kind != graph.KindFolder {
			return nil, fmt.Errorf("notetools: %q is a %s, not a folder", c.Resource.Title, c.Resource.Kind)
		}
		note, err := svc.CreateNote(ctx, graph.Note{
			FolderID: c.Resource.ID,
			OwnerID:  c.UserID,
			Title:    c.StringArg("title"),
			Content:  c.StringArg("content"),
		})
		if err != nil {
			return nil, fmt.Errorf("notetools: create note: %w", err)
		}
		return viewNote(note), nil
	}
}

func makeGetNoteHandler(svc graph.Service) func(context.Context, tools.Call) (any, error) {
	return func(ctx context.Context, c tools.Call) (any, error) {
		if c.Resource.Kind != graph.KindNote {
			return nil, fmt.Errorf("notetools: %q is a %s, not a note", c.Resource.Title, c.Resource.Kind)
		}
		note, err := svc.GetNote(ctx, c.Resource.ID)
		if err != nil {
			return nil, fmt.Errorf("notetools: get note: %w", err)
		}
		if note == nil {
			return nil, graph.ErrNotFound
		}
		return viewNote(note), nil
	}
}

func makeUpdateNoteHandler(svc graph.Service) func(context.Context, tools.Call) (any, error) {
	return func(ctx context.Context, c tools.Call) (any, error) {
		if c.Resource.Kind != graph.KindNote {
			return nil, fmt.Errorf("notetools: %q is a %s, not a note", c.Resource.Title, c.Resource.Kind)
		}
		var upd graph.NoteUpdate
		if v, ok := c.Args["title"].(string); ok {
			upd.Title = &v
		}
		if v, ok := c.Args["content"].(string); ok {
			upd.Content = &v
		}
		if upd.Title == nil && upd.Content == nil {
			return nil, fmt.Errorf("notetools: update note: nothing to change")
		}
		note, err := svc.UpdateNote(ctx, c.Resource.ID, upd)
		if err != nil {
			return nil, fmt.Errorf("notetools: update note: %w", err)
		}
		return viewNote(note), nil
	}
}

// resolveContainer resolves a destination reference and verifies the user may
// write into it.
func resolveContainer(ctx context.Context, resolver graph.Resolver, perms graph.PermissionChecker, c tools.Call, arg string, kind graph.ResourceKind) (*graph.Resource, error) {
	ref := c.StringArg(arg)
	if ref == "" {
		return nil, fmt.Errorf("notetools: the %q argument must name the destination %s", arg, kind)
	}
	dest, err := resolver.ResolveRef(ctx, c.UserID, ref)
	if err != nil {
		return nil, err
	}
	if dest.Kind != kind {
		return nil, fmt.Errorf("notetools: %q is a %s, not a %s", dest.Title, dest.Kind, kind)
	}
	ok, err := perms.HasPermission(ctx, c.UserID, dest.ID, types.PermissionWrite)
	if err != nil {
		return nil, fmt.Errorf("notetools: check destination permission: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("notetools: no write access to %s %q", kind, dest.Title)
	}
	return dest, nil
}

func makeMoveNoteHandler(svc graph.Service, resolver graph.Resolver, perms graph.PermissionChecker) func(context.Context, tools.Call) (any, error) {
	return func(ctx context.Context, c tools.Call) (any, error) {
		if c.Resource.Kind != graph.KindNote {
			return nil, fmt.Errorf("notetools: %q is a %s, not a note", c.Resource.Title, c.Resource.Kind)
		}
		dest, err := resolveContainer(ctx, resolver, perms, c, "folder", graph.KindFolder)
		if err != nil {
			return nil, err
		}
		if err := svc.MoveNote(ctx, c.Resource.ID, dest.ID); err != nil {
			return nil, fmt.Errorf("notetools: move note: %w", err)
		}
		return map[string]any{"moved": c.Resource.Title, "into": dest.Title}, nil
	}
}

func makeDeleteNoteHandler(svc graph.Service) func(context.Context, tools.Call) (any, error) {
	return func(ctx context.Context, c tools.Call) (any, error) {
		if c.Resource.Kind != graph.KindNote {
			return nil, fmt.Errorf("notetools: %q is a %s, not a note", c.Resource.Title, c.Resource.Kind)
		}
		if err := svc.DeleteNote(ctx, c.Resource.ID); err != nil {
			return nil, fmt.Errorf("notetools: delete note: %w", err)
		}
		return map[string]any{"deleted": c.Resource.Title}, nil
	}
}

func makeCreateFolderHandler(svc graph.Service) func(context.Context, tools.Call) (any, error) {
	return func(ctx context.Context, c tools.Call) (any, error) {
		if c.Resource.Kind != graph.KindBinder {
			return nil, fmt.Errorf("notetools: %q is a %s, not a binder", c.Resource.Title, c.Resource.Kind)
		}
		folder, err := svc.CreateFolder(ctx, graph.Folder{
			BinderID: c.Resource.ID,
			OwnerID:  c.UserID,
			Name:     c.StringArg("name"),
		})
		if err != nil {
			return nil, fmt.Errorf("notetools: create folder: %w", err)
		}
		return map[string]any{"id": folder.ID, "name": folder.Name, "slug": folder.Slug, "binder_id": folder.BinderID}, nil
	}
}

func makeMoveFolderHandler(svc graph.Service, resolver graph.Resolver, perms graph.PermissionChecker) func(context.Context, tools.Call) (any, error) {
	return func(ctx context.Context, c tools.Call) (any, error) {
		if c.Resource.Kind != graph.KindFolder {
			return nil, fmt.Errorf("notetools: %q is a %s, not a folder", c.Resource.Title, c.Resource.Kind)
		}
		dest, err := resolveContainer(ctx, resolver, perms, c, "binder", graph.KindBinder)
		if err != nil {
			return nil, err
		}
		if err := svc.MoveFolder(ctx, c.Resource.ID, dest.ID); err != nil {
			return nil, fmt.Errorf("notetools: move folder: %w", err)
		}
		return map[string]any{"moved": c.Resource.Title, "into": dest.Title}, nil
	}
}

func makeDeleteFolderHandler(svc graph.Service) func(context.Context, tools.Call) (any, error) {
	return func(ctx context.Context, c tools.Call) (any, error) {
		if c.Resource.Kind != graph.KindFolder {
			return nil, fmt.Errorf("notetools: %q is a %s, not a folder", c.Resource.Title, c.Resource.Kind)
		}
		if err := svc.DeleteFolder(ctx, c.Resource.ID); err != nil {
			return nil, fmt.Errorf("notetools: delete folder: %w", err)
		}
		return map[string]any{"deleted": c.Resource.Title}, nil
	}
}

func makeCreateBinderHandler(svc graph.Service) func(context.Context, tools.Call) (any, error) {
	return func(ctx context.Context, c tools.Call) (any, error) {
		binder, err := svc.CreateBinder(ctx, graph.Binder{
			OwnerID: c.UserID,
			Name:    c.StringArg("name"),
		})
		if err != nil {
			return nil, fmt.Errorf("notetools: create binder: %w", err)
		}
		return map[string]any{"id": binder.ID, "name": binder.Name, "slug": binder.Slug}, nil
	}
}

func makeDeleteBinderHandler(svc graph.Service) func(context.Context, tools.Call) (any, error) {
	return func(ctx context.Context, c tools.Call) (any, error) {
		if c.Resource.Kind != graph.KindBinder {
			return nil, fmt.Errorf("notetools: %q is a %s, not a binder", c.Resource.Title, c.Resource.Kind)
		}
		if err := svc.DeleteBinder(ctx, c.Resource.ID); err != nil {
			return nil, fmt.Errorf("notetools: delete binder: %w", err)
		}
		return map[string]any{"deleted": c.Resource.Title}, nil
	}
}

func makeSearchNotesHandler(svc graph.Service) func(context.Context, tools.Call) (any, error) {
	return func(ctx context.Context, c tools.Call) (any, error) {
		query := c.StringArg("query")
		matches, err := svc.SearchNotes(ctx, c.UserID, query, c.IntArg("limit", 0))
		if err != nil {
			return nil, fmt.Errorf("notetools: search notes: %w", err)
		}
		views := make([]matchView, 0, len(matches))
		for _, m := range matches {
			views = append(views, matchView{
				ID:      m.Note.ID,
				Title:   m.Note.Title,
				Slug:    m.Note.Slug,
				Rank:    m.Rank,
				Snippet: m.Snippet,
			})
		}
		return map[string]any{"query": query, "matches": views}, nil
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Tool definitions
// ─────────────────────────────────────────────────────────────────────────────

// NewTools assembles the note-graph tool set over the given collaborators.
// The returned slice is ready for [tools.Registry.RegisterAll].
func NewTools(svc graph.Service, resolver graph.Resolver, perms graph.PermissionChecker) []tools.Tool {
	return []tools.Tool{
		{
			Definition: types.ToolDefinition{
				Name:        "create_note",
				Description: "Create a new note inside a folder. Use this when the user asks to write down, save, or note something.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"folder":  refProperty("The folder to create the note in: an ID, slug, or name."),
						"title":   map[string]any{"type": "string", "description": "Title of the new note."},
						"content": map[string]any{"type": "string", "description": "Markdown body of the new note."},
					},
					"required": []string{"folder", "title"},
				},
				Permission: types.PermissionWrite,
			},
			RefArg:  "folder",
			Handler: makeCreateNoteHandler(svc),
		},
		{
			Definition: types.ToolDefinition{
				Name:        "get_note",
				Description: "Fetch a note's full content by reference.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"ref": refProperty("The note to fetch: an ID, slug, or (possibly approximate) title."),
					},
					"required": []string{"ref"},
				},
				Permission: types.PermissionRead,
			},
			RefArg:  "ref",
			Handler: makeGetNoteHandler(svc),
		},
		{
			Definition: types.ToolDefinition{
				Name:        "update_note",
				Description: "Change a note's title and/or content. Only the fields provided are changed.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"ref":     refProperty("The note to update: an ID, slug, or (possibly approximate) title."),
						"title":   map[string]any{"type": "string", "description": "New title, if it should change."},
						"content": map[string]any{"type": "string", "description": "New markdown body, if it should change."},
					},
					"required": []string{"ref"},
				},
				Permission: types.PermissionWrite,
			},
			RefArg:  "ref",
			Handler: makeUpdateNoteHandler(svc),
		},
		{
			Definition: types.ToolDefinition{
				Name:        "move_note",
				Description: "Move a note into a different folder.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"ref":    refProperty("The note to move: an ID, slug, or (possibly approximate) title."),
						"folder": refProperty("The destination folder: an ID, slug, or name."),
					},
					"required": []string{"ref", "folder"},
				},
				Permission: types.PermissionWrite,
			},
			RefArg:  "ref",
			Handler: makeMoveNoteHandler(svc, resolver, perms),
		},
		{
			Definition: types.ToolDefinition{
				Name:        "delete_note",
				Description: "Permanently delete a note. Confirm with the user before calling this.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"ref": refProperty("The note to delete: an ID, slug, or (possibly approximate) title."),
					},
					"required": []string{"ref"},
				},
				Permission: types.PermissionOwner,
			},
			RefArg:  "ref",
			Handler: makeDeleteNoteHandler(svc),
		},
		{
			Definition: types.ToolDefinition{
				Name:        "create_folder",
				Description: "Create a new folder inside a binder.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"binder": refProperty("The binder to create the folder in: an ID, slug, or name."),
						"name":   map[string]any{"type": "string", "description": "Name of the new folder."},
					},
					"required": []string{"binder", "name"},
				},
				Permission: types.PermissionWrite,
			},
			RefArg:  "binder",
			Handler: makeCreateFolderHandler(svc),
		},
		{
			Definition: types.ToolDefinition{
				Name:        "move_folder",
				Description: "Move a folder (and the notes inside it) into a different binder.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"ref":    refProperty("The folder to move: an ID, slug, or name."),
						"binder": refProperty("The destination binder: an ID, slug, or name."),
					},
					"required": []string{"ref", "binder"},
				},
				Permission: types.PermissionWrite,
			},
			RefArg:  "ref",
			Handler: makeMoveFolderHandler(svc, resolver, perms),
		},
		{
			Definition: types.ToolDefinition{
				Name:        "delete_folder",
				Description: "Permanently delete a folder and every note inside it. Confirm with the user before calling this.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"ref": refProperty("The folder to delete: an ID, slug, or name."),
					},
					"required": []string{"ref"},
				},
				Permission: types.PermissionOwner,
			},
			RefArg:  "ref",
			Handler: makeDeleteFolderHandler(svc),
		},
		{
			Definition: types.ToolDefinition{
				Name:        "create_binder",
				Description: "Create a new top-level binder owned by the user.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"name": map[string]any{"type": "string", "description": "Name of the new binder."},
					},
					"required": []string{"name"},
				},
			},
			Handler: makeCreateBinderHandler(svc),
		},
		{
			Definition: types.ToolDefinition{
				Name:        "delete_binder",
				Description: "Permanently delete a binder and everything inside it. Confirm with the user before calling this.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"ref": refProperty("The binder to delete: an ID, slug, or name."),
					},
					"required": []string{"ref"},
				},
				Permission: types.PermissionOwner,
			},
			RefArg:  "ref",
			Handler: makeDeleteBinderHandler(svc),
		},
		{
			Definition: types.ToolDefinition{
				Name:        "search_notes",
				Description: "Full-text search over the user's notes. Returns titles and snippets; use get_note for full content.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"query": map[string]any{"type": "string", "description": "Search terms."},
						"limit": map[string]any{"type": "integer", "description": "Maximum number of matches to return."},
					},
					"required": []string{"query"},
				},
			},
			Handler: makeSearchNotesHandler(svc),
		},
	}
}
