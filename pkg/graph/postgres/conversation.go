package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/notelith/notelith/pkg/graph"
	"github.com/notelith/notelith/pkg/types"
)

// AppendMessages implements [graph.ConversationStore.AppendMessages]. The
// batch is validated with [graph.ValidateBatch] and written in a single
// transaction so a completed turn is persisted atomically or not at all.
func (s *Store) AppendMessages(ctx context.Context, sessionID string, msgs []types.Message) error {
	if err := graph.ValidateBatch(msgs); err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}

	const q = `
		INSERT INTO conversation_messages
		    (session_id, role, content, name, tool_calls, tool_call_id)
		VALUES ($1, $2, $3, $4, $5, $6)`

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres store: append messages: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, m := range msgs {
		toolCalls, err := json.Marshal(m.ToolCalls)
		if err != nil {
			return fmt.Errorf("postgres store: append messages: marshal tool calls: %w", err)
		}
		if m.ToolCalls == nil {
			toolCalls = []byte("[]")
		}
		if _, err := tx.Exec(ctx, q, sessionID, m.Role, m.Content, m.Name, toolCalls, m.ToolCallID); err != nil {
			return fmt.Errorf("postgres store: append messages: insert: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres store: append messages: commit: %w", err)
	}
	return nil
}

// History implements [graph.ConversationStore.History]. It returns the most
// recent messages in chronological order, aligned so the window never opens
// on a tool response whose requesting call was cut off by the limit.
func (s *Store) History(ctx context.Context, sessionID string, limit int) ([]types.Message, error) {
	// The inner query selects the newest rows; the outer query restores
	// chronological order.
	const q = `
		SELECT role, content, name, tool_calls, tool_call_id, created_at
		FROM (
		    SELECT id, role, content, name, tool_calls, tool_call_id, created_at
		    FROM   conversation_messages
		    WHERE  session_id = $1
		    ORDER  BY id DESC
		    LIMIT  $2
		) newest
		ORDER BY id`

	lim := any(limit)
	if limit <= 0 {
		lim = nil // NULL limit means no cap
	}

	rows, err := s.pool.Query(ctx, q, sessionID, lim)
	if err != nil {
		return nil, fmt.Errorf("postgres store: history: %w", err)
	}

	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.Message, error) {
		var (
			m         types.Message
			toolCalls []byte
		)
		if err := row.Scan(&m.Role, &m.Content, &m.Name, &toolCalls, &m.ToolCallID, &m.Timestamp); err != nil {
			return types.Message{}, err
		}
		if len(toolCalls) > 0 {
			if err := json.Unmarshal(toolCalls, &m.ToolCalls); err != nil {
				return types.Message{}, fmt.Errorf("unmarshal tool calls: %w", err)
			}
		}
		if len(m.ToolCalls) == 0 {
			m.ToolCalls = nil
		}
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan history rows: %w", err)
	}
	msgs = graph.AlignWindow(msgs)
	if msgs == nil {
		msgs = []types.Message{}
	}
	return msgs, nil
}
