// Package history bridges completed chat turns to the gateway's
// chat-task persistence and rebuilds engine state from stored records.
// Stored records carry an integer schema version; loading runs them
// through a linear migration chain before rebuilding messages.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dohr-michael/parley/internal/a2a"
	"github.com/dohr-michael/parley/internal/chat"
	"github.com/dohr-michael/parley/internal/client"
)

// Bubble is the persisted form of one message.
type Bubble struct {
	ID            string             `json:"id"`
	Type          string             `json:"type"`
	Text          string             `json:"text,omitempty"`
	Parts         []chat.ContentPart `json:"parts,omitempty"`
	UploadedFiles []string           `json:"uploadedFiles,omitempty"`
	IsError       bool               `json:"isError,omitempty"`
}

// Bubble type values.
const (
	BubbleUser  = "user"
	BubbleAgent = "agent"
)

// TaskMetadata is the persisted metadata document of one turn.
type TaskMetadata struct {
	SchemaVersion int    `json:"schema_version"`
	Status        string `json:"status,omitempty"`
	AgentName     string `json:"agent_name,omitempty"`
	Feedback      string `json:"feedback,omitempty"`
}

// RecordClient is the slice of the gateway client the bridge uses.
type RecordClient interface {
	ListChatTasks(ctx context.Context, sessionID string) ([]client.TaskRecord, error)
	SaveChatTask(ctx context.Context, sessionID string, rec client.TaskRecord) error
}

// Bridge implements the chat engine's TurnStore against the gateway's
// chat-task endpoints.
type Bridge struct {
	rc  RecordClient
	log *slog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewBridge creates a persistence bridge.
func NewBridge(rc RecordClient, log *slog.Logger) *Bridge {
	if log == nil {
		log = slog.Default()
	}
	return &Bridge{
		rc:       rc,
		log:      log,
		inflight: make(map[string]struct{}),
	}
}

// SaveTurn serializes and stores one completed turn. Saves for a task
// already being written are absorbed; the first write wins.
func (b *Bridge) SaveTurn(ctx context.Context, turn chat.Turn) error {
	if turn.TaskID == "" || turn.SessionID == "" {
		return fmt.Errorf("turn missing task or session id")
	}

	b.mu.Lock()
	if _, busy := b.inflight[turn.TaskID]; busy {
		b.mu.Unlock()
		return nil
	}
	b.inflight[turn.TaskID] = struct{}{}
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.inflight, turn.TaskID)
		b.mu.Unlock()
	}()

	rec, err := SerializeTurn(turn)
	if err != nil {
		return fmt.Errorf("serialize turn %s: %w", turn.TaskID, err)
	}
	if err := b.rc.SaveChatTask(ctx, turn.SessionID, rec); err != nil {
		return fmt.Errorf("store turn %s: %w", turn.TaskID, err)
	}
	return nil
}

// LoadSession fetches a session's stored turns and rebuilds the engine
// snapshot. Corrupted records are logged and skipped; one bad turn
// never hides the rest of the history.
func (b *Bridge) LoadSession(ctx context.Context, sessionID string) (chat.Snapshot, error) {
	recs, err := b.rc.ListChatTasks(ctx, sessionID)
	if err != nil {
		return chat.Snapshot{}, fmt.Errorf("fetch chat tasks: %w", err)
	}

	snap := chat.Snapshot{Feedback: make(map[string]string)}
	for _, raw := range recs {
		rec, err := parseRecord(raw)
		if err != nil {
			b.log.Warn("skipping corrupted chat task", "task_id", raw.TaskID, "error", err)
			continue
		}
		rec = b.migrate(rec)

		for _, bub := range rec.Bubbles {
			snap.Messages = append(snap.Messages, bubbleToMessage(rec.TaskID, sessionID, bub))
		}
		if rec.Meta.Feedback != "" {
			snap.Feedback[rec.TaskID] = rec.Meta.Feedback
		}
		if rec.Meta.AgentName != "" {
			snap.AgentName = rec.Meta.AgentName
		}
	}
	return snap, nil
}

// record is the parsed, migratable form of a stored chat task.
type record struct {
	TaskID      string
	UserMessage string
	Bubbles     []Bubble
	Meta        TaskMetadata
}

func parseRecord(raw client.TaskRecord) (record, error) {
	rec := record{TaskID: raw.TaskID, UserMessage: raw.UserMessage}
	if raw.MessageBubbles != "" {
		if err := json.Unmarshal([]byte(raw.MessageBubbles), &rec.Bubbles); err != nil {
			return record{}, fmt.Errorf("parse message bubbles: %w", err)
		}
	}
	if raw.TaskMetadata != "" {
		if err := json.Unmarshal([]byte(raw.TaskMetadata), &rec.Meta); err != nil {
			return record{}, fmt.Errorf("parse task metadata: %w", err)
		}
	}
	// Records written before versioning carry no schema_version at all;
	// they are version 0 and run the full chain.
	return rec, nil
}

// SerializeTurn builds the persisted record for one completed turn.
// Status bubbles never reach storage.
func SerializeTurn(turn chat.Turn) (client.TaskRecord, error) {
	var bubbles []Bubble
	for _, m := range turn.Messages {
		if m.IsStatusBubble {
			continue
		}
		bubbles = append(bubbles, messageToBubble(m))
	}

	bubbleJSON, err := json.Marshal(bubbles)
	if err != nil {
		return client.TaskRecord{}, fmt.Errorf("marshal bubbles: %w", err)
	}
	metaJSON, err := json.Marshal(TaskMetadata{
		SchemaVersion: SchemaVersion,
		Status:        turn.Status,
		AgentName:     turn.AgentName,
		Feedback:      turn.Feedback,
	})
	if err != nil {
		return client.TaskRecord{}, fmt.Errorf("marshal metadata: %w", err)
	}

	return client.TaskRecord{
		TaskID:         turn.TaskID,
		UserMessage:    turn.UserMessage,
		MessageBubbles: string(bubbleJSON),
		TaskMetadata:   string(metaJSON),
	}, nil
}

func messageToBubble(m chat.Message) Bubble {
	typ := BubbleAgent
	if m.Role == a2a.RoleUser {
		typ = BubbleUser
	}
	return Bubble{
		ID:            m.Metadata.MessageID,
		Type:          typ,
		Text:          m.Text(),
		Parts:         m.Parts,
		UploadedFiles: m.UploadedFiles,
		IsError:       m.IsError,
	}
}

func bubbleToMessage(taskID, sessionID string, bub Bubble) chat.Message {
	role := a2a.RoleAgent
	if bub.Type == BubbleUser {
		role = a2a.RoleUser
	}
	parts := bub.Parts
	if len(parts) == 0 && bub.Text != "" {
		parts = []chat.ContentPart{{Kind: chat.PartText, Text: bub.Text}}
	}
	return chat.Message{
		Role:       role,
		Parts:      parts,
		TaskID:     taskID,
		IsComplete: true,
		IsError:    bub.IsError,
		Metadata: chat.Metadata{
			MessageID: bub.ID,
			SessionID: sessionID,
		},
	}
}
