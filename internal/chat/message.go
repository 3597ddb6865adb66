// Package chat implements the streaming session engine: it consumes
// task update events, folds them into an ordered message list, tracks
// in-flight artifact generation, coordinates cancellation and hands
// completed turns to the persistence bridge.
package chat

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/dohr-michael/parley/internal/a2a"
)

// PartKind discriminates ContentPart. It extends the wire part kinds
// with "artifact", which only exists in the client model.
type PartKind string

const (
	PartText     PartKind = "text"
	PartFile     PartKind = "file"
	PartData     PartKind = "data"
	PartArtifact PartKind = "artifact"
)

// ContentPart is one element of a rendered message.
type ContentPart struct {
	Kind PartKind `json:"kind"`

	Text string          `json:"text,omitempty"`
	File *a2a.FileRef    `json:"file,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`

	// Artifact is set when Kind == "artifact": a file being generated
	// by the agent within this message.
	Artifact *ArtifactPart `json:"artifact,omitempty"`
}

// ArtifactPart tracks one generated file inside a message.
type ArtifactPart struct {
	Name               string            `json:"name"`
	Status             a2a.ArtifactPhase `json:"status"`
	Description        string            `json:"description,omitempty"`
	BytesTransferred   int64             `json:"bytesTransferred,omitempty"`
	AccumulatedContent string            `json:"accumulatedContent,omitempty"`
	File               *a2a.FileRef      `json:"file,omitempty"`
	Error              string            `json:"error,omitempty"`
}

// Metadata carries bookkeeping stamped onto every message mutation.
type Metadata struct {
	MessageID string `json:"messageId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`

	// LastProcessedEventSequence is the per-subscription sequence number
	// of the last event that touched this message. Consumers may use it
	// to discard stale re-renders.
	LastProcessedEventSequence uint64 `json:"lastProcessedEventSequence"`
}

// Message is one entry in the conversation. The list is append-mostly;
// only the tail may be mutated in place while a task streams.
type Message struct {
	Role           a2a.Role      `json:"role"`
	Parts          []ContentPart `json:"parts"`
	TaskID         string        `json:"taskId,omitempty"`
	IsComplete     bool          `json:"isComplete"`
	IsError        bool          `json:"isError,omitempty"`
	IsStatusBubble bool          `json:"isStatusBubble,omitempty"`
	Metadata       Metadata      `json:"metadata"`
	UploadedFiles  []string      `json:"uploadedFiles,omitempty"`
}

// Text concatenates the message's text parts.
func (m Message) Text() string {
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Kind == PartText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// HasRenderableContent reports whether the message would show anything:
// non-blank text, a file, or an artifact.
func (m Message) HasRenderableContent() bool {
	for _, p := range m.Parts {
		switch p.Kind {
		case PartText:
			if strings.TrimSpace(p.Text) != "" {
				return true
			}
		case PartFile, PartArtifact:
			return true
		}
	}
	return false
}

// ArtifactInfo is one entry in the session's artifact side-table.
type ArtifactInfo struct {
	Filename     string    `json:"filename"`
	Description  string    `json:"description,omitempty"`
	MimeType     string    `json:"mime_type,omitempty"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`

	// AccumulatedContent holds streamed chunks while generation is in
	// flight; cleared on completion.
	AccumulatedContent string `json:"-"`

	// NeedsEmbedResolution marks artifacts whose content references must
	// be resolved against the authoritative backend list.
	NeedsEmbedResolution bool `json:"-"`
}

// AttachedFile is a file the user attached to a submission.
type AttachedFile struct {
	Name     string
	MimeType string
	Content  []byte
}

// Turn is one completed user-to-agent exchange handed to the
// persistence bridge.
type Turn struct {
	TaskID      string
	SessionID   string
	UserMessage string
	Messages    []Message
	AgentName   string
	Status      string
	Feedback    string
}

// Snapshot is a session's stored history rebuilt for the engine.
type Snapshot struct {
	Messages  []Message
	Feedback  map[string]string
	AgentName string
}
