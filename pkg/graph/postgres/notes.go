package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/notelith/notelith/pkg/graph"
)

// pgForeignKeyViolation is the SQLSTATE for foreign_key_violation.
const pgForeignKeyViolation = "23503"

// asGraphErr maps low-level pgx errors to graph sentinels: a missing row
// becomes [graph.ErrNotFound], and a foreign-key violation (insert or move
// into a missing parent) does too.
func asGraphErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return graph.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
		return graph.ErrNotFound
	}
	return err
}

// ─────────────────────────────────────────────────────────────────────────────
// Binders
// ─────────────────────────────────────────────────────────────────────────────

// CreateBinder implements [graph.Service.CreateBinder].
func (s *Store) CreateBinder(ctx context.Context, b graph.Binder) (*graph.Binder, error) {
	const q = `
		INSERT INTO binders (owner_id, name, slug)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at`

	if b.Slug == "" {
		b.Slug = slugify(b.Name)
	}
	err := s.pool.QueryRow(ctx, q, b.OwnerID, b.Name, b.Slug).
		Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create binder: %w", asGraphErr(err))
	}
	return &b, nil
}

// DeleteBinder implements [graph.Service.DeleteBinder]. Contained folders and
// notes are removed by ON DELETE CASCADE.
func (s *Store) DeleteBinder(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM binders WHERE id = $1`, id); err != nil {
		return fmt.Errorf("postgres store: delete binder: %w", err)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Folders
// ─────────────────────────────────────────────────────────────────────────────

// CreateFolder implements [graph.Service.CreateFolder].
func (s *Store) CreateFolder(ctx context.Context, f graph.Folder) (*graph.Folder, error) {
	const q = `
		INSERT INTO folders (binder_id, owner_id, name, slug)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`

	if f.Slug == "" {
		f.Slug = slugify(f.Name)
	}
	err := s.pool.QueryRow(ctx, q, f.BinderID, f.OwnerID, f.Name, f.Slug).
		Scan(&f.ID, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create folder: %w", asGraphErr(err))
	}
	return &f, nil
}

// MoveFolder implements [graph.Service.MoveFolder].
func (s *Store) MoveFolder(ctx context.Context, folderID, binderID string) error {
	const q = `
		UPDATE folders
		SET    binder_id = $2, updated_at = now()
		WHERE  id = $1`

	tag, err := s.pool.Exec(ctx, q, folderID, binderID)
	if err != nil {
		return fmt.Errorf("postgres store: move folder: %w", asGraphErr(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres store: move folder %q: %w", folderID, graph.ErrNotFound)
	}
	return nil
}

// DeleteFolder implements [graph.Service.DeleteFolder]. Contained notes are
// removed by ON DELETE CASCADE.
func (s *Store) DeleteFolder(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM folders WHERE id = $1`, id); err != nil {
		return fmt.Errorf("postgres store: delete folder: %w", err)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Notes
// ─────────────────────────────────────────────────────────────────────────────

// CreateNote implements [graph.Service.CreateNote].
func (s *Store) CreateNote(ctx context.Context, n graph.Note) (*graph.Note, error) {
	const q = `
		INSERT INTO notes (folder_id, owner_id, title, slug, content)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	if n.Slug == "" {
		n.Slug = slugify(n.Title)
	}
	err := s.pool.QueryRow(ctx, q, n.FolderID, n.OwnerID, n.Title, n.Slug, n.Content).
		Scan(&n.ID, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create note: %w", asGraphErr(err))
	}
	return &n, nil
}

// GetNote implements [graph.Service.GetNote].
func (s *Store) GetNote(ctx context.Context, id string) (*graph.Note, error) {
	const q = `
		SELECT id, folder_id, owner_id, title, slug, content, created_at, updated_at
		FROM   notes
		WHERE  id = $1`

	var n graph.Note
	err := s.pool.QueryRow(ctx, q, id).Scan(
		&n.ID, &n.FolderID, &n.OwnerID, &n.Title, &n.Slug, &n.Content, &n.CreatedAt, &n.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: get note: %w", err)
	}
	return &n, nil
}

// UpdateNote implements [graph.Service.UpdateNote].
func (s *Store) UpdateNote(ctx context.Context, id string, upd graph.NoteUpdate) (*graph.Note, error) {
	const q = `
		UPDATE notes
		SET    title      = COALESCE($2, title),
		       content    = COALESCE($3, content),
		       updated_at = now()
		WHERE  id = $1
		RETURNING id, folder_id, owner_id, title, slug, content, created_at, updated_at`

	var n graph.Note
	err := s.pool.QueryRow(ctx, q, id, upd.Title, upd.Content).Scan(
		&n.ID, &n.FolderID, &n.OwnerID, &n.Title, &n.Slug, &n.Content, &n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres store: update note %q: %w", id, asGraphErr(err))
	}
	return &n, nil
}

// MoveNote implements [graph.Service.MoveNote].
func (s *Store) MoveNote(ctx context.Context, noteID, folderID string) error {
	const q = `
		UPDATE notes
		SET    folder_id = $2, updated_at = now()
		WHERE  id = $1`

	tag, err := s.pool.Exec(ctx, q, noteID, folderID)
	if err != nil {
		return fmt.Errorf("postgres store: move note: %w", asGraphErr(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres store: move note %q: %w", noteID, graph.ErrNotFound)
	}
	return nil
}

// DeleteNote implements [graph.Service.DeleteNote].
func (s *Store) DeleteNote(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM notes WHERE id = $1`, id); err != nil {
		return fmt.Errorf("postgres store: delete note: %w", err)
	}
	return nil
}

// SearchNotes implements [graph.Service.SearchNotes] using PostgreSQL
// full-text search over title and content. The query is passed to
// plainto_tsquery so no special operator syntax is required; results are
// ranked by ts_rank with a ts_headline snippet.
func (s *Store) SearchNotes(ctx context.Context, ownerID, query string, limit int) ([]graph.NoteMatch, error) {
	const q = `
		SELECT id, folder_id, owner_id, title, slug, content, created_at, updated_at,
		       ts_rank(to_tsvector('english', title || ' ' || content),
		               plainto_tsquery('english', $2)) AS rank,
		       ts_headline('english', content, plainto_tsquery('english', $2)) AS snippet
		FROM   notes
		WHERE  owner_id = $1
		  AND  to_tsvector('english', title || ' ' || content) @@ plainto_tsquery('english', $2)
		ORDER  BY rank DESC
		LIMIT  $3`

	if limit <= 0 {
		limit = 20
	}

	rows, err := s.pool.Query(ctx, q, ownerID, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres store: search notes: %w", err)
	}

	matches, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (graph.NoteMatch, error) {
		var m graph.NoteMatch
		err := row.Scan(
			&m.Note.ID, &m.Note.FolderID, &m.Note.OwnerID, &m.Note.Title, &m.Note.Slug,
			&m.Note.Content, &m.Note.CreatedAt, &m.Note.UpdatedAt,
			&m.Rank, &m.Snippet,
		)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan search rows: %w", err)
	}
	if matches == nil {
		matches = []graph.NoteMatch{}
	}
	return matches, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Resources
// ─────────────────────────────────────────────────────────────────────────────

// resourceUnion is the kind-agnostic projection over the three graph tables.
const resourceUnion = `
	SELECT id, 'note' AS kind, title, slug, owner_id, folder_id::text AS parent_id FROM notes
	UNION ALL
	SELECT id, 'folder', name, slug, owner_id, binder_id::text FROM folders
	UNION ALL
	SELECT id, 'binder', name, slug, owner_id, '' FROM binders`

// GetResource implements [graph.Service.GetResource].
func (s *Store) GetResource(ctx context.Context, id string) (*graph.Resource, error) {
	q := `SELECT id, kind, title, slug, owner_id, parent_id FROM (` + resourceUnion + `) r WHERE id = $1::uuid`

	var r graph.Resource
	err := s.pool.QueryRow(ctx, q, id).Scan(&r.ID, &r.Kind, &r.Title, &r.Slug, &r.OwnerID, &r.ParentID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: get resource: %w", err)
	}
	return &r, nil
}

// ListResources implements [graph.Service.ListResources]. Visibility covers
// owned resources plus those with an explicit grant for the user.
func (s *Store) ListResources(ctx context.Context, userID string, kinds ...graph.ResourceKind) ([]graph.Resource, error) {
	q := `
		SELECT id, kind, title, slug, owner_id, parent_id
		FROM   (` + resourceUnion + `) r
		WHERE  (owner_id = $1 OR EXISTS (
		           SELECT 1 FROM grants g WHERE g.user_id = $1 AND g.resource_id = r.id))`

	args := []any{userID}
	if len(kinds) > 0 {
		ks := make([]string, len(kinds))
		for i, k := range kinds {
			ks[i] = string(k)
		}
		args = append(args, ks)
		q += fmt.Sprintf("\n  AND kind = ANY($%d)", len(args))
	}
	q += "\nORDER BY id"

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list resources: %w", err)
	}

	resources, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (graph.Resource, error) {
		var r graph.Resource
		err := row.Scan(&r.ID, &r.Kind, &r.Title, &r.Slug, &r.OwnerID, &r.ParentID)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan resource rows: %w", err)
	}
	if resources == nil {
		resources = []graph.Resource{}
	}
	return resources, nil
}

// slugify lowercases s and replaces runs of non-alphanumeric characters with
// single dashes.
func slugify(s string) string {
	out := make([]rune, 0, len(s))
	dash := false
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z':
			out = append(out, r+('a'-'A'))
			dash = false
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			out = append(out, r)
			dash = false
		default:
			if !dash && len(out) > 0 {
				out = append(out, '-')
				dash = true
			}
		}
	}
	for len(out) > 0 && out[len(out)-1] == '-' {
		out = out[:len(out)-1]
	}
	return string(out)
}
