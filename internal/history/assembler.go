// Package history assembles the conversation context for one generation
// request.
package history

import (
	"context"
	"log/slog"

	"github.com/user/parley/internal/tokens"
	"github.com/user/parley/internal/types"
	"github.com/user/parley/pkg/llm"
)

// DefaultWindow is how many prior messages (user turns and their system
// replies combined) are pulled into context.
const DefaultWindow = 7

// Assembler builds the ordered chat history for a single request. A session
// boundary is a hard reset: a new session sees zero history even when the
// room holds older messages from other sessions.
type Assembler struct {
	messages types.MessageStore
	est      tokens.Counter
	window   int
}

// New creates an assembler over the message store. window <= 0 selects
// DefaultWindow.
func New(messages types.MessageStore, est tokens.Counter, window int) *Assembler {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Assembler{messages: messages, est: est, window: window}
}

// Build returns the chronological context window for the actor in the
// session and room, excluding the current message, with each entry tagged
// as a user or assistant role, plus the IDs of the source messages in the
// same order.
func (a *Assembler) Build(ctx context.Context, sessionID types.SessionID, roomID types.RoomID, actorID types.ActorID, currentID types.MessageID) ([]llm.Message, []types.MessageID, error) {
	rows, err := a.messages.RecentHistory(ctx, types.HistoryQuery{
		SessionID: sessionID,
		RoomID:    roomID,
		ActorID:   actorID,
		ExcludeID: currentID,
		Limit:     a.window,
	})
	if err != nil {
		return nil, nil, err
	}

	// Rows are newest-first; walk backwards to get chronological order.
	messages := make([]llm.Message, 0, len(rows))
	ids := make([]types.MessageID, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		role := "user"
		if row.ActorType == types.ActorSystem {
			role = "assistant"
		}
		messages = append(messages, llm.Message{Role: role, Content: row.Body})
		ids = append(ids, row.ID)
	}

	if a.est != nil {
		slog.Debug("context assembled",
			"session_id", string(sessionID),
			"messages", len(messages),
			"tokens", a.est.CountMessages(messages))
	}

	// Similarity-based recall across sessions is a future extension; its
	// results are appended after the chronological window, never replacing
	// it.
	recalled := a.recall(ctx, currentID)
	messages = append(messages, recalled...)

	return messages, ids, nil
}

// recall is the extension point for retrieval across sessions. It returns
// an empty set until implemented.
func (a *Assembler) recall(_ context.Context, _ types.MessageID) []llm.Message {
	return nil
}
