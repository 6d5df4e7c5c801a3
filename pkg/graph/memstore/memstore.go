// Package memstore provides a thread-safe, in-memory implementation of the
// graph storage interfaces. It is suitable for the dev profile and testing.
package memstore

import (
	"context"
	"crypto/rand"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/notelith/notelith/pkg/graph"
	"github.com/notelith/notelith/pkg/types"
)

// Compile-time assertion that Store satisfies the full storage surface.
var _ graph.Store = (*Store)(nil)

// Store is an in-memory implementation of [graph.Store].
type Store struct {
	mu sync.RWMutex

	binders map[string]graph.Binder
	folders map[string]graph.Folder
	notes   map[string]graph.Note

	// grants maps userID -> resourceID -> level.
	grants map[string]map[string]types.PermissionLevel

	// conversations maps sessionID -> ordered message log.
	conversations map[string][]types.Message

	now func() time.Time
}

// New returns an initialised [Store].
func New() *Store {
	return &Store{
		binders:       make(map[string]graph.Binder),
		folders:       make(map[string]graph.Folder),
		notes:         make(map[string]graph.Note),
		grants:        make(map[string]map[string]types.PermissionLevel),
		conversations: make(map[string][]types.Message),
		now:           time.Now,
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Binders
// ─────────────────────────────────────────────────────────────────────────────

// CreateBinder implements [graph.Service.CreateBinder].
func (s *Store) CreateBinder(ctx context.Context, b graph.Binder) (*graph.Binder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b.ID == "" {
		id, err := generateID()
		if err != nil {
			return nil, fmt.Errorf("memstore: generate id: %w", err)
		}
		b.ID = id
	}
	if b.Slug == "" {
		b.Slug = slugify(b.Name)
	}
	b.CreatedAt = s.now()
	b.UpdatedAt = b.CreatedAt

	s.binders[b.ID] = b
	return &b, nil
}

// DeleteBinder implements [graph.Service.DeleteBinder].
func (s *Store) DeleteBinder(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for fid, f := range s.folders {
		if f.BinderID != id {
			continue
		}
		for nid, n := range s.notes {
			if n.FolderID == fid {
				delete(s.notes, nid)
			}
		}
		delete(s.folders, fid)
	}
	delete(s.binders, id)
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Folders
// ─────────────────────────────────────────────────────────────────────────────

// CreateFolder implements [graph.Service.CreateFolder].
func (s *Store) CreateFolder(ctx context.Context, f graph.Folder) (*graph.Folder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.binders[f.BinderID]; !ok {
		return nil, fmt.Errorf("memstore: binder %q: %w", f.BinderID, graph.ErrNotFound)
	}

	if f.ID == "" {
		id, err := generateID()
		if err != nil {
			return nil, fmt.Errorf("memstore: generate id: %w", err)
		}
		f.ID = id
	}
	if f.Slug == "" {
		f.Slug = slugify(f.Name)
	}
	f.CreatedAt = s.now()
	f.UpdatedAt = f.CreatedAt

	s.folders[f.ID] = f
	return &f, nil
}

// MoveFolder implements [graph.Service.MoveFolder].
func (s *Store) MoveFolder(ctx context.Context, folderID, binderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.folders[folderID]
	if !ok {
		return fmt.Errorf("memstore: folder %q: %w", folderID, graph.ErrNotFound)
	}
	if _, ok := s.binders[binderID]; !ok {
		return fmt.Errorf("memstore: binder %q: %w", binderID, graph.ErrNotFound)
	}

	f.BinderID = binderID
	f.UpdatedAt = s.now()
	s.folders[folderID] = f
	return nil
}

// DeleteFolder implements [graph.Service.DeleteFolder].
func (s *Store) DeleteFolder(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for nid, n := range s.notes {
		if n.FolderID == id {
			delete(s.notes, nid)
		}
	}
	delete(s.folders, id)
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Notes
// ─────────────────────────────────────────────────────────────────────────────

// CreateNote implements [graph.Service.CreateNote].
func (s *Store) CreateNote(ctx context.Context, n graph.Note) (*graph.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.folders[n.FolderID]; !ok {
		return nil, fmt.Errorf("memstore: folder %q: %w", n.FolderID, graph.ErrNotFound)
	}

	if n.ID == "" {
		id, err := generateID()
		if err != nil {
			return nil, fmt.Errorf("memstore: generate id: %w", err)
		}
		n.ID = id
	}
	if n.Slug == "" {
		n.Slug = slugify(n.Title)
	}
	n.CreatedAt = s.now()
	n.UpdatedAt = n.CreatedAt

	s.notes[n.ID] = n
	return &n, nil
}

// GetNote implements [graph.Service.GetNote].
func (s *Store) GetNote(ctx context.Context, id string) (*graph.Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.notes[id]
	if !ok {
		return nil, nil
	}
	return &n, nil
}

// UpdateNote implements [graph.Service.UpdateNote].
func (s *Store) UpdateNote(ctx context.Context, id string, upd graph.NoteUpdate) (*graph.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notes[id]
	if !ok {
		return nil, fmt.Errorf("memstore: note %q: %w", id, graph.ErrNotFound)
	}

	if upd.Title != nil {
		n.Title = *upd.Title
	}
	if upd.Content != nil {
		n.Content = *upd.Content
	}
	n.UpdatedAt = s.now()

	s.notes[id] = n
	return &n, nil
}

// MoveNote implements [graph.Service.MoveNote].
func (s *Store) MoveNote(ctx context.Context, noteID, folderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notes[noteID]
	if !ok {
		return fmt.Errorf("memstore: note %q: %w", noteID, graph.ErrNotFound)
	}
	if _, ok := s.folders[folderID]; !ok {
		return fmt.Errorf("memstore: folder %q: %w", folderID, graph.ErrNotFound)
	}

	n.FolderID = folderID
	n.UpdatedAt = s.now()
	s.notes[noteID] = n
	return nil
}

// DeleteNote implements [graph.Service.DeleteNote].
func (s *Store) DeleteNote(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.notes, id)
	return nil
}

// SearchNotes implements [graph.Service.SearchNotes] with naive term counting:
// each query term occurrence scores 1 in the content and 2 in the title.
func (s *Store) SearchNotes(ctx context.Context, ownerID, query string, limit int) ([]graph.NoteMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	terms := strings.Fields(strings.ToLower(query))
	matches := []graph.NoteMatch{}

	for _, n := range s.notes {
		if n.OwnerID != ownerID {
			continue
		}
		title := strings.ToLower(n.Title)
		content := strings.ToLower(n.Content)

		rank := 0.0
		for _, t := range terms {
			rank += float64(strings.Count(content, t))
			rank += 2 * float64(strings.Count(title, t))
		}
		if rank > 0 {
			matches = append(matches, graph.NoteMatch{Note: n, Rank: rank})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Rank != matches[j].Rank {
			return matches[i].Rank > matches[j].Rank
		}
		return matches[i].Note.ID < matches[j].Note.ID
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Resources
// ─────────────────────────────────────────────────────────────────────────────

// GetResource implements [graph.Service.GetResource].
func (s *Store) GetResource(ctx context.Context, id string) (*graph.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n, ok := s.notes[id]; ok {
		r := noteResource(n)
		return &r, nil
	}
	if f, ok := s.folders[id]; ok {
		r := folderResource(f)
		return &r, nil
	}
	if b, ok := s.binders[id]; ok {
		r := binderResource(b)
		return &r, nil
	}
	return nil, nil
}

// ListResources implements [graph.Service.ListResources].
func (s *Store) ListResources(ctx context.Context, userID string, kinds ...graph.ResourceKind) ([]graph.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := func(k graph.ResourceKind) bool {
		if len(kinds) == 0 {
			return true
		}
		for _, w := range kinds {
			if w == k {
				return true
			}
		}
		return false
	}

	visible := func(ownerID, resourceID string) bool {
		if ownerID == userID {
			return true
		}
		_, ok := s.grants[userID][resourceID]
		return ok
	}

	result := []graph.Resource{}
	if wanted(graph.KindNote) {
		for _, n := range s.notes {
			if visible(n.OwnerID, n.ID) {
				result = append(result, noteResource(n))
			}
		}
	}
	if wanted(graph.KindFolder) {
		for _, f := range s.folders {
			if visible(f.OwnerID, f.ID) {
				result = append(result, folderResource(f))
			}
		}
	}
	if wanted(graph.KindBinder) {
		for _, b := range s.binders {
			if visible(b.OwnerID, b.ID) {
				result = append(result, binderResource(b))
			}
		}
	}

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Permissions
// ─────────────────────────────────────────────────────────────────────────────

// SetGrant records an explicit permission grant for a user on a resource.
func (s *Store) SetGrant(userID, resourceID string, level types.PermissionLevel) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.grants[userID] == nil {
		s.grants[userID] = make(map[string]types.PermissionLevel)
	}
	s.grants[userID][resourceID] = level
}

// HasPermission implements [graph.PermissionChecker]. Ownership implies every
// level; explicit grants on the resource or any of its ancestors are honoured
// per [types.PermissionLevel.Covers].
func (s *Store) HasPermission(ctx context.Context, userID, resourceID string, level types.PermissionLevel) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for id := resourceID; id != ""; {
		ownerID, parentID, ok := s.lineage(id)
		if !ok {
			return false, nil
		}
		if ownerID == userID {
			return true, nil
		}
		if held, ok := s.grants[userID][id]; ok && held.Covers(level) {
			return true, nil
		}
		id = parentID
	}
	return false, nil
}

// lineage returns the owner and parent of the resource with the given ID.
// Callers must hold at least a read lock.
func (s *Store) lineage(id string) (ownerID, parentID string, ok bool) {
	if n, exists := s.notes[id]; exists {
		return n.OwnerID, n.FolderID, true
	}
	if f, exists := s.folders[id]; exists {
		return f.OwnerID, f.BinderID, true
	}
	if b, exists := s.binders[id]; exists {
		return b.OwnerID, "", true
	}
	return "", "", false
}

// ─────────────────────────────────────────────────────────────────────────────
// Conversations
// ─────────────────────────────────────────────────────────────────────────────

// AppendMessages implements [graph.ConversationStore.AppendMessages].
func (s *Store) AppendMessages(ctx context.Context, sessionID string, msgs []types.Message) error {
	if err := graph.ValidateBatch(msgs); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, m := range msgs {
		if m.Timestamp.IsZero() {
			m.Timestamp = now
		}
		s.conversations[sessionID] = append(s.conversations[sessionID], m)
	}
	return nil
}

// History implements [graph.ConversationStore.History].
func (s *Store) History(ctx context.Context, sessionID string, limit int) ([]types.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.conversations[sessionID]
	if limit > 0 && len(log) > limit {
		log = graph.AlignWindow(log[len(log)-limit:])
	}
	out := make([]types.Message, len(log))
	copy(out, log)
	return out, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func noteResource(n graph.Note) graph.Resource {
	return graph.Resource{ID: n.ID, Kind: graph.KindNote, Title: n.Title, Slug: n.Slug, OwnerID: n.OwnerID, ParentID: n.FolderID}
}

func folderResource(f graph.Folder) graph.Resource {
	return graph.Resource{ID: f.ID, Kind: graph.KindFolder, Title: f.Name, Slug: f.Slug, OwnerID: f.OwnerID, ParentID: f.BinderID}
}

func binderResource(b graph.Binder) graph.Resource {
	return graph.Resource{ID: b.ID, Kind: graph.KindBinder, Title: b.Name, Slug: b.Slug, OwnerID: b.OwnerID}
}

// generateID returns a random version-4 UUID string.
func generateID() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16]), nil
}

// slugify lowercases s and replaces runs of non-alphanumeric characters with
// single dashes.
func slugify(s string) string {
	var sb strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
			dash = false
		default:
			if !dash && sb.Len() > 0 {
				sb.WriteByte('-')
				dash = true
			}
		}
	}
	return strings.TrimSuffix(sb.String(), "-")
}
