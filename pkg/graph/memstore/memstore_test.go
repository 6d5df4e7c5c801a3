package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/notelith/notelith/pkg/graph"
	"github.com/notelith/notelith/pkg/types"
)

// seed creates a binder/folder/note hierarchy owned by ownerID and returns
// the three records.
func seed(t *testing.T, s *Store, ownerID string) (*graph.Binder, *graph.Folder, *graph.Note) {
	t.Helper()
	ctx := context.Background()

	b, err := s.CreateBinder(ctx, graph.Binder{OwnerID: ownerID, Name: "Personal"})
	if err != nil {
		t.Fatalf("CreateBinder() error = %v", err)
	}
	f, err := s.CreateFolder(ctx, graph.Folder{OwnerID: ownerID, BinderID: b.ID, Name: "Journal"})
	if err != nil {
		t.Fatalf("CreateFolder() error = %v", err)
	}
	n, err := s.CreateNote(ctx, graph.Note{OwnerID: ownerID, FolderID: f.ID, Title: "Morning Pages", Content: "write every day"})
	if err != nil {
		t.Fatalf("CreateNote() error = %v", err)
	}
	return b, f, n
}

func TestCreateNote_PopulatesIDAndSlug(t *testing.T) {
	s := New()
	_, _, n := seed(t, s, "u1")

	if n.ID == "" {
		t.Error("expected generated ID")
	}
	if n.Slug != "morning-pages" {
		t.Errorf("Slug = %q, want morning-pages", n.Slug)
	}
	if n.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
}

func TestCreateNote_MissingFolder(t *testing.T) {
	s := New()
	_, err := s.CreateNote(context.Background(), graph.Note{OwnerID: "u1", FolderID: "missing", Title: "x"})
	if !errors.Is(err, graph.ErrNotFound) {
		t.Fatalf("CreateNote() error = %v, want ErrNotFound", err)
	}
}

func TestGetNote_Missing(t *testing.T) {
	s := New()
	n, err := s.GetNote(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetNote() error = %v", err)
	}
	if n != nil {
		t.Errorf("GetNote() = %v, want nil", n)
	}
}

func TestUpdateNote(t *testing.T) {
	s := New()
	_, _, n := seed(t, s, "u1")

	title := "Evening Pages"
	updated, err := s.UpdateNote(context.Background(), n.ID, graph.NoteUpdate{Title: &title})
	if err != nil {
		t.Fatalf("UpdateNote() error = %v", err)
	}
	if updated.Title != "Evening Pages" {
		t.Errorf("Title = %q, want Evening Pages", updated.Title)
	}
	if updated.Content != "write every day" {
		t.Errorf("Content changed unexpectedly: %q", updated.Content)
	}
}

func TestUpdateNote_Missing(t *testing.T) {
	s := New()
	title := "x"
	_, err := s.UpdateNote(context.Background(), "missing", graph.NoteUpdate{Title: &title})
	if !errors.Is(err, graph.ErrNotFound) {
		t.Fatalf("UpdateNote() error = %v, want ErrNotFound", err)
	}
}

func TestMoveNote(t *testing.T) {
	s := New()
	ctx := context.Background()
	b, _, n := seed(t, s, "u1")

	other, err := s.CreateFolder(ctx, graph.Folder{OwnerID: "u1", BinderID: b.ID, Name: "Archive"})
	if err != nil {
		t.Fatalf("CreateFolder() error = %v", err)
	}
	if err := s.MoveNote(ctx, n.ID, other.ID); err != nil {
		t.Fatalf("MoveNote() error = %v", err)
	}

	got, _ := s.GetNote(ctx, n.ID)
	if got.FolderID != other.ID {
		t.Errorf("FolderID = %q, want %q", got.FolderID, other.ID)
	}
}

func TestMoveNote_MissingTarget(t *testing.T) {
	s := New()
	_, _, n := seed(t, s, "u1")

	err := s.MoveNote(context.Background(), n.ID, "missing")
	if !errors.Is(err, graph.ErrNotFound) {
		t.Fatalf("MoveNote() error = %v, want ErrNotFound", err)
	}
}

func TestDeleteFolder_CascadesToNotes(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, f, n := seed(t, s, "u1")

	if err := s.DeleteFolder(ctx, f.ID); err != nil {
		t.Fatalf("DeleteFolder() error = %v", err)
	}
	got, _ := s.GetNote(ctx, n.ID)
	if got != nil {
		t.Error("expected note to be deleted with its folder")
	}
}

func TestDeleteBinder_CascadesToFoldersAndNotes(t *testing.T) {
	s := New()
	ctx := context.Background()
	b, f, n := seed(t, s, "u1")

	if err := s.DeleteBinder(ctx, b.ID); err != nil {
		t.Fatalf("DeleteBinder() error = %v", err)
	}
	if got, _ := s.GetNote(ctx, n.ID); got != nil {
		t.Error("expected note to be deleted with its binder")
	}
	if res, _ := s.GetResource(ctx, f.ID); res != nil {
		t.Error("expected folder to be deleted with its binder")
	}
}

func TestDeleteNote_NonExistentIsNotError(t *testing.T) {
	s := New()
	if err := s.DeleteNote(context.Background(), "missing"); err != nil {
		t.Fatalf("DeleteNote() error = %v", err)
	}
}

func TestSearchNotes_RanksTitleAboveContent(t *testing.T) {
	s := New()
	ctx := context.Background()
	b, _, _ := seed(t, s, "u1")
	f, _ := s.CreateFolder(ctx, graph.Folder{OwnerID: "u1", BinderID: b.ID, Name: "Recipes"})

	_, err := s.CreateNote(ctx, graph.Note{OwnerID: "u1", FolderID: f.ID, Title: "Pasta", Content: "tomato basil"})
	if err != nil {
		t.Fatalf("CreateNote() error = %v", err)
	}
	titleHit, err := s.CreateNote(ctx, graph.Note{OwnerID: "u1", FolderID: f.ID, Title: "Tomato Soup", Content: "easy dinner"})
	if err != nil {
		t.Fatalf("CreateNote() error = %v", err)
	}

	matches, err := s.SearchNotes(ctx, "u1", "tomato", 10)
	if err != nil {
		t.Fatalf("SearchNotes() error = %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("len(matches) = %d, want 2", len(matches))
	}
	if matches[0].Note.ID != titleHit.ID {
		t.Errorf("top match = %q, want title hit %q", matches[0].Note.ID, titleHit.ID)
	}
}

func TestSearchNotes_ScopedToOwner(t *testing.T) {
	s := New()
	seed(t, s, "u1")

	matches, err := s.SearchNotes(context.Background(), "u2", "write", 10)
	if err != nil {
		t.Fatalf("SearchNotes() error = %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("len(matches) = %d, want 0 for other user", len(matches))
	}
}

func TestListResources_FiltersByKind(t *testing.T) {
	s := New()
	seed(t, s, "u1")

	notes, err := s.ListResources(context.Background(), "u1", graph.KindNote)
	if err != nil {
		t.Fatalf("ListResources() error = %v", err)
	}
	if len(notes) != 1 || notes[0].Kind != graph.KindNote {
		t.Errorf("ListResources(KindNote) = %v, want exactly the note", notes)
	}

	all, err := s.ListResources(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ListResources() error = %v", err)
	}
	if len(all) != 3 {
		t.Errorf("len(all) = %d, want 3", len(all))
	}
}

func TestHasPermission_Owner(t *testing.T) {
	s := New()
	_, _, n := seed(t, s, "u1")

	ok, err := s.HasPermission(context.Background(), "u1", n.ID, types.PermissionOwner)
	if err != nil {
		t.Fatalf("HasPermission() error = %v", err)
	}
	if !ok {
		t.Error("owner should hold owner permission")
	}
}

func TestHasPermission_GrantLevels(t *testing.T) {
	s := New()
	_, _, n := seed(t, s, "u1")
	s.SetGrant("u2", n.ID, types.PermissionWrite)

	tests := []struct {
		level types.PermissionLevel
		want  bool
	}{
		{types.PermissionRead, true},
		{types.PermissionWrite, true},
		{types.PermissionOwner, false},
	}
	for _, tt := range tests {
		ok, err := s.HasPermission(context.Background(), "u2", n.ID, tt.level)
		if err != nil {
			t.Fatalf("HasPermission(%s) error = %v", tt.level, err)
		}
		if ok != tt.want {
			t.Errorf("HasPermission(%s) = %v, want %v", tt.level, ok, tt.want)
		}
	}
}

func TestHasPermission_InheritedFromBinder(t *testing.T) {
	s := New()
	b, _, n := seed(t, s, "u1")
	s.SetGrant("u2", b.ID, types.PermissionRead)

	ok, err := s.HasPermission(context.Background(), "u2", n.ID, types.PermissionRead)
	if err != nil {
		t.Fatalf("HasPermission() error = %v", err)
	}
	if !ok {
		t.Error("grant on binder should extend to contained note")
	}
}

func TestHasPermission_MissingResource(t *testing.T) {
	s := New()
	ok, err := s.HasPermission(context.Background(), "u1", "missing", types.PermissionRead)
	if err != nil {
		t.Fatalf("HasPermission() error = %v", err)
	}
	if ok {
		t.Error("missing resource should report no permission")
	}
}

func TestAppendMessages_RejectsInvalidSequence(t *testing.T) {
	s := New()
	err := s.AppendMessages(context.Background(), "sess", []types.Message{
		{Role: "tool", ToolCallID: "c1", Content: "{}"},
	})
	if !errors.Is(err, graph.ErrInvalidSequence) {
		t.Fatalf("AppendMessages() error = %v, want ErrInvalidSequence", err)
	}

	history, _ := s.History(context.Background(), "sess", 0)
	if len(history) != 0 {
		t.Errorf("len(history) = %d, want 0 after rejected batch", len(history))
	}
}

func TestAppendMessages_AndHistoryLimit(t *testing.T) {
	s := New()
	ctx := context.Background()

	batch := []types.Message{
		{Role: "user", Content: "q1"},
		{Role: "assistant", Content: "a1"},
		{Role: "user", Content: "q2"},
		{Role: "assistant", Content: "a2"},
	}
	if err := s.AppendMessages(ctx, "sess", batch); err != nil {
		t.Fatalf("AppendMessages() error = %v", err)
	}

	history, err := s.History(ctx, "sess", 2)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("len(history) = %d, want 2", len(history))
	}
	if history[0].Content != "q2" || history[1].Content != "a2" {
		t.Errorf("history = %v, want the two latest messages", history)
	}
}

func TestHistory_LimitNeverOpensOnToolResponse(t *testing.T) {
	s := New()
	ctx := context.Background()

	batch := []types.Message{
		{Role: "user", Content: "show my note"},
		{Role: "assistant", ToolCalls: []types.ToolCall{
			{ID: "c1", Name: "get_note", Arguments: "{}"},
		}},
		{Role: "tool", Name: "get_note", ToolCallID: "c1", Content: `{"success":true}`},
		{Role: "assistant", Content: "here it is"},
	}
	if err := s.AppendMessages(ctx, "sess", batch); err != nil {
		t.Fatalf("AppendMessages() error = %v", err)
	}

	// A raw two-message window would start on the tool response; the aligned
	// window drops it so the remaining messages still validate.
	history, err := s.History(ctx, "sess", 2)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 1 || history[0].Content != "here it is" {
		t.Fatalf("history = %+v, want only the closing assistant message", history)
	}
	if err := graph.ValidateBatch(history); err != nil {
		t.Errorf("ValidateBatch(history) error = %v", err)
	}
}
