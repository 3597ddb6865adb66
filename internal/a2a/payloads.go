package a2a

import (
	"encoding/json"
	"fmt"
)

// DataPayloadType discriminates structured data-part payloads.
type DataPayloadType string

const (
	// PayloadAgentProgress is an ephemeral status-text update. It never
	// enters the message list.
	PayloadAgentProgress DataPayloadType = "agent_progress_update"

	// PayloadArtifactProgress reports chunked artifact generation.
	PayloadArtifactProgress DataPayloadType = "artifact_creation_progress"

	// PayloadToolInvocation announces a tool call starting.
	PayloadToolInvocation DataPayloadType = "tool_invocation_start"
)

// ArtifactPhase is the lifecycle of a streamed artifact.
type ArtifactPhase string

const (
	ArtifactInProgress ArtifactPhase = "in-progress"
	ArtifactCompleted  ArtifactPhase = "completed"
	ArtifactFailed     ArtifactPhase = "failed"
)

// AgentProgress carries transient status text shown while the agent works.
type AgentProgress struct {
	Type   DataPayloadType `json:"type"`
	Status string          `json:"status"`
}

// ArtifactProgress is one chunk of artifact generation progress.
type ArtifactProgress struct {
	Type             DataPayloadType `json:"type"`
	Filename         string          `json:"filename"`
	Status           ArtifactPhase   `json:"status"`
	Chunk            string          `json:"chunk,omitempty"`
	BytesTransferred int64           `json:"bytes_transferred,omitempty"`
	MimeType         string          `json:"mime_type,omitempty"`
	Description      string          `json:"description,omitempty"`
	Error            string          `json:"error,omitempty"`
}

// ToolInvocation announces a tool call.
type ToolInvocation struct {
	Type     DataPayloadType `json:"type"`
	ToolName string          `json:"tool_name"`
	Args     map[string]any  `json:"args,omitempty"`
}

// DataPayload is the decoded form of a data part, discriminated by Type.
type DataPayload struct {
	Type             DataPayloadType
	AgentProgress    *AgentProgress
	ArtifactProgress *ArtifactProgress
	ToolInvocation   *ToolInvocation
}

// DecodeDataPayload parses a data part's payload by its type field.
// Unknown types return a payload with only Type set; callers ignore them.
func DecodeDataPayload(data json.RawMessage) (DataPayload, error) {
	var probe struct {
		Type DataPayloadType `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return DataPayload{}, fmt.Errorf("probe data payload type: %w", err)
	}

	p := DataPayload{Type: probe.Type}
	switch probe.Type {
	case PayloadAgentProgress:
		p.AgentProgress = &AgentProgress{}
		if err := json.Unmarshal(data, p.AgentProgress); err != nil {
			return DataPayload{}, fmt.Errorf("decode agent progress: %w", err)
		}
	case PayloadArtifactProgress:
		p.ArtifactProgress = &ArtifactProgress{}
		if err := json.Unmarshal(data, p.ArtifactProgress); err != nil {
			return DataPayload{}, fmt.Errorf("decode artifact progress: %w", err)
		}
	case PayloadToolInvocation:
		p.ToolInvocation = &ToolInvocation{}
		if err := json.Unmarshal(data, p.ToolInvocation); err != nil {
			return DataPayload{}, fmt.Errorf("decode tool invocation: %w", err)
		}
	}
	return p, nil
}
