// Package postgres provides a PostgreSQL-backed implementation of the
// Notelith data graph (binders, folders, notes), permission grants, and
// durable conversation history.
//
// All layers share a single [pgxpool.Pool] connection pool. Note content is
// indexed with a GIN full-text search index for [graph.Service.SearchNotes].
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//
//	note, _ := store.CreateNote(ctx, n)
//	matches, _ := store.SearchNotes(ctx, ownerID, "tomato soup", 10)
//	_ = store.AppendMessages(ctx, sessionID, batch)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlGraph = `
CREATE TABLE IF NOT EXISTS binders (
    id          UUID         PRIMARY KEY DEFAULT gen_random_uuid(),
    owner_id    TEXT         NOT NULL,
    name        TEXT         NOT NULL,
    slug        TEXT         NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    UNIQUE (owner_id, slug)
);

CREATE TABLE IF NOT EXISTS folders (
    id          UUID         PRIMARY KEY DEFAULT gen_random_uuid(),
    binder_id   UUID         NOT NULL REFERENCES binders (id) ON DELETE CASCADE,
    owner_id    TEXT         NOT NULL,
    name        TEXT         NOT NULL,
    slug        TEXT         NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    UNIQUE (owner_id, slug)
);

CREATE INDEX IF NOT EXISTS idx_folders_binder_id ON folders (binder_id);

CREATE TABLE IF NOT EXISTS notes (
    id          UUID         PRIMARY KEY DEFAULT gen_random_uuid(),
    folder_id   UUID         NOT NULL REFERENCES folders (id) ON DELETE CASCADE,
    owner_id    TEXT         NOT NULL,
    title       TEXT         NOT NULL,
    slug        TEXT         NOT NULL,
    content     TEXT         NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    UNIQUE (owner_id, slug)
);

CREATE INDEX IF NOT EXISTS idx_notes_folder_id ON notes (folder_id);
CREATE INDEX IF NOT EXISTS idx_notes_owner_id  ON notes (owner_id);

CREATE INDEX IF NOT EXISTS idx_notes_fts
    ON notes USING GIN (to_tsvector('english', title || ' ' || content));
`

const ddlGrants = `
CREATE TABLE IF NOT EXISTS grants (
    user_id      TEXT         NOT NULL,
    resource_id  UUID         NOT NULL,
    level        TEXT         NOT NULL CHECK (level IN ('read', 'write', 'owner')),
    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (user_id, resource_id)
);

CREATE INDEX IF NOT EXISTS idx_grants_resource_id ON grants (resource_id);
`

const ddlConversations = `
CREATE TABLE IF NOT EXISTS conversation_messages (
    id            BIGSERIAL    PRIMARY KEY,
    session_id    TEXT         NOT NULL,
    role          TEXT         NOT NULL,
    content       TEXT         NOT NULL DEFAULT '',
    name          TEXT         NOT NULL DEFAULT '',
    tool_calls    JSONB        NOT NULL DEFAULT '[]',
    tool_call_id  TEXT         NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_conversation_messages_session
    ON conversation_messages (session_id, id);
`

// Migrate creates or ensures all required database tables exist. It is
// idempotent (CREATE TABLE IF NOT EXISTS / CREATE INDEX IF NOT EXISTS) and
// safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		ddlGraph,
		ddlGrants,
		ddlConversations,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
