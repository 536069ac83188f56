// Package session manages actor identity linking and session lifecycle
// for inbound conversation turns.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/user/parley/internal/tokens"
	"github.com/user/parley/internal/types"
)

// Manager resolves external identities to actors and owns session
// bookkeeping on the producer side.
type Manager struct {
	actors   types.ActorStore
	rooms    types.RoomStore
	sessions types.SessionStore
	messages types.MessageStore
	est      tokens.Counter
}

func NewManager(actors types.ActorStore, rooms types.RoomStore, sessions types.SessionStore, messages types.MessageStore, est tokens.Counter) *Manager {
	return &Manager{
		actors:   actors,
		rooms:    rooms,
		sessions: sessions,
		messages: messages,
		est:      est,
	}
}

// EnsureActorLinked resolves (source, sourceID) to an actor, creating the
// link on first contact. The first identity to arrive from a source binds
// to the singleton owner actor; everyone after that becomes a plain user.
func (m *Manager) EnsureActorLinked(ctx context.Context, source, sourceID string) (*types.Actor, error) {
	actor, err := m.actors.ActorByExternalID(ctx, source, sourceID)
	if err == nil {
		return actor, nil
	}
	if !errors.Is(err, types.ErrNotFound) {
		return nil, fmt.Errorf("resolve actor: %w", err)
	}

	taken, err := m.actors.OwnerLinked(ctx, source, sourceID)
	if err != nil {
		return nil, fmt.Errorf("check owner link: %w", err)
	}
	if !taken {
		owner, err := m.actors.OwnerActor(ctx)
		if err != nil {
			return nil, fmt.Errorf("load owner actor: %w", err)
		}
		if err := m.actors.LinkExternalID(ctx, owner.ID, source, sourceID); err != nil {
			return nil, fmt.Errorf("link owner identity: %w", err)
		}
		slog.Info("bound external identity to owner", "source", source)
		return owner, nil
	}

	id, err := m.actors.CreateActor(ctx, types.ActorUser)
	if err != nil {
		return nil, fmt.Errorf("create user actor: %w", err)
	}
	if err := m.actors.LinkExternalID(ctx, id, source, sourceID); err != nil {
		return nil, fmt.Errorf("link user identity: %w", err)
	}
	slog.Info("created user actor for external identity", "source", source)
	return &types.Actor{ID: id, Type: types.ActorUser}, nil
}

// StartSession opens a fresh active session for the actor in the named room.
func (m *Manager) StartSession(ctx context.Context, actorID types.ActorID, roomName string) (types.SessionID, types.RoomID, error) {
	room, err := m.rooms.RoomByName(ctx, roomName)
	if err != nil {
		return "", "", fmt.Errorf("resolve room %q: %w", roomName, err)
	}
	id, err := m.sessions.CreateSession(ctx, actorID, room.ID)
	if err != nil {
		return "", "", fmt.Errorf("create session: %w", err)
	}
	return id, room.ID, nil
}

// SaveTurn persists one inbound message with its token count and refreshes
// the session's activity timestamp.
func (m *Manager) SaveTurn(ctx context.Context, actor *types.Actor, sessionID types.SessionID, roomID types.RoomID, body string) (types.MessageID, error) {
	id, err := m.messages.SaveMessage(ctx, &types.Message{
		ActorID:    actor.ID,
		ActorType:  actor.Type,
		SessionID:  sessionID,
		RoomID:     roomID,
		Body:       body,
		TokenCount: m.est.Count(body),
	})
	if err != nil {
		return "", fmt.Errorf("save message: %w", err)
	}
	if err := m.sessions.TouchSession(ctx, sessionID); err != nil {
		slog.Warn("touch session failed", "session_id", string(sessionID), "error", err)
	}
	return id, nil
}

// Close marks the session completed. Closing an already-closed session is
// a no-op.
func (m *Manager) Close(ctx context.Context, sessionID types.SessionID) error {
	return m.sessions.CloseSession(ctx, sessionID)
}
