package a2a

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// TaskState is the lifecycle state carried in status updates.
type TaskState string

const (
	TaskStateSubmitted     TaskState = "submitted"
	TaskStateWorking       TaskState = "working"
	TaskStateInputRequired TaskState = "input-required"
	TaskStateCompleted     TaskState = "completed"
	TaskStateFailed        TaskState = "failed"
	TaskStateCanceled      TaskState = "canceled"
)

// Terminal reports whether the state ends a task.
func (s TaskState) Terminal() bool {
	return s == TaskStateCompleted || s == TaskStateFailed || s == TaskStateCanceled
}

// Message is a single user or agent message on the wire.
type Message struct {
	Kind      string         `json:"kind,omitempty"` // "message"
	MessageID string         `json:"messageId"`
	TaskID    string         `json:"taskId,omitempty"`
	ContextID string         `json:"contextId,omitempty"`
	Role      Role           `json:"role"`
	Parts     []Part         `json:"parts"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// TaskStatus pairs a state with an optional progress message.
type TaskStatus struct {
	State     TaskState `json:"state"`
	Message   *Message  `json:"message,omitempty"`
	Timestamp string    `json:"timestamp,omitempty"`
}

// Artifact is a generated file attached to a task.
type Artifact struct {
	ArtifactID  string         `json:"artifactId"`
	Name        string         `json:"name,omitempty"`
	Description string         `json:"description,omitempty"`
	Parts       []Part         `json:"parts"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Task is the final container event closing a streamed turn.
type Task struct {
	Kind      string         `json:"kind"` // "task"
	ID        string         `json:"id"`
	ContextID string         `json:"contextId,omitempty"`
	Status    TaskStatus     `json:"status"`
	Artifacts []Artifact     `json:"artifacts,omitempty"`
	History   []Message      `json:"history,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// TaskStatusUpdateEvent is streamed while a task is running. Final marks
// the end of the event stream for the task.
type TaskStatusUpdateEvent struct {
	Kind      string         `json:"kind"` // "status-update"
	TaskID    string         `json:"taskId"`
	ContextID string         `json:"contextId,omitempty"`
	Status    TaskStatus     `json:"status"`
	Final     bool           `json:"final"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// TaskArtifactUpdateEvent signals that the task's artifact set changed.
// It never carries message content.
type TaskArtifactUpdateEvent struct {
	Kind      string         `json:"kind"` // "artifact-update"
	TaskID    string         `json:"taskId"`
	ContextID string         `json:"contextId,omitempty"`
	Artifact  *Artifact      `json:"artifact,omitempty"`
	Append    bool           `json:"append,omitempty"`
	LastChunk bool           `json:"lastChunk,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Stream result kinds.
const (
	KindTask           = "task"
	KindStatusUpdate   = "status-update"
	KindArtifactUpdate = "artifact-update"
	KindMessage        = "message"
)

// StreamEvent is one decoded stream result, discriminated by Kind.
// Exactly one of the typed fields is non-nil.
type StreamEvent struct {
	Kind     string
	Task     *Task
	Status   *TaskStatusUpdateEvent
	Artifact *TaskArtifactUpdateEvent
}

// TaskID returns the task the event belongs to.
func (e StreamEvent) TaskID() string {
	switch e.Kind {
	case KindTask:
		return e.Task.ID
	case KindStatusUpdate:
		return e.Status.TaskID
	case KindArtifactUpdate:
		return e.Artifact.TaskID
	}
	return ""
}

// DecodeStreamEvent parses a stream result payload by its kind field.
func DecodeStreamEvent(data []byte) (StreamEvent, error) {
	var probe struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return StreamEvent{}, fmt.Errorf("probe event kind: %w", err)
	}

	ev := StreamEvent{Kind: probe.Kind}
	switch probe.Kind {
	case KindTask:
		ev.Task = &Task{}
		if err := json.Unmarshal(data, ev.Task); err != nil {
			return StreamEvent{}, fmt.Errorf("decode task event: %w", err)
		}
	case KindStatusUpdate:
		ev.Status = &TaskStatusUpdateEvent{}
		if err := json.Unmarshal(data, ev.Status); err != nil {
			return StreamEvent{}, fmt.Errorf("decode status-update event: %w", err)
		}
	case KindArtifactUpdate:
		ev.Artifact = &TaskArtifactUpdateEvent{}
		if err := json.Unmarshal(data, ev.Artifact); err != nil {
			return StreamEvent{}, fmt.Errorf("decode artifact-update event: %w", err)
		}
	default:
		return StreamEvent{}, fmt.Errorf("unknown event kind %q", probe.Kind)
	}
	return ev, nil
}

// MessageSendParams are the params of a message/stream request.
type MessageSendParams struct {
	Message  Message        `json:"message"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// TaskIDParams are the params of a tasks/cancel request.
type TaskIDParams struct {
	ID       string         `json:"id"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// GenerateMessageID creates a unique message identifier.
func GenerateMessageID() string {
	u := uuid.New().String()
	return "msg_" + strings.ReplaceAll(u[:13], "-", "")
}
