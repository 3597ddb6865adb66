package a2a

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestDecodeStreamEventStatusUpdate(t *testing.T) {
	raw := `{
		"kind": "status-update",
		"taskId": "task_abc123",
		"final": false,
		"status": {
			"state": "working",
			"message": {
				"messageId": "msg_1",
				"role": "agent",
				"parts": [{"kind": "text", "text": "hello"}]
			}
		}
	}`

	ev, err := DecodeStreamEvent([]byte(raw))
	if err != nil {
		t.Fatalf("DecodeStreamEvent: %v", err)
	}
	if ev.Kind != KindStatusUpdate {
		t.Errorf("Kind = %q, want %q", ev.Kind, KindStatusUpdate)
	}
	if ev.Status == nil {
		t.Fatal("Status is nil")
	}
	if ev.TaskID() != "task_abc123" {
		t.Errorf("TaskID = %q, want task_abc123", ev.TaskID())
	}
	if ev.Status.Final {
		t.Error("Final = true, want false")
	}
	msg := ev.Status.Status.Message
	if msg == nil || len(msg.Parts) != 1 || msg.Parts[0].Text != "hello" {
		t.Errorf("unexpected status message: %+v", msg)
	}
}

func TestDecodeStreamEventTask(t *testing.T) {
	raw := `{"kind":"task","id":"task_1","status":{"state":"completed"}}`

	ev, err := DecodeStreamEvent([]byte(raw))
	if err != nil {
		t.Fatalf("DecodeStreamEvent: %v", err)
	}
	if ev.Kind != KindTask || ev.Task == nil {
		t.Fatalf("expected task event, got %+v", ev)
	}
	if !ev.Task.Status.State.Terminal() {
		t.Errorf("state %q should be terminal", ev.Task.Status.State)
	}
}

func TestDecodeStreamEventUnknownKind(t *testing.T) {
	_, err := DecodeStreamEvent([]byte(`{"kind":"ping"}`))
	if err == nil {
		t.Fatal("expected error for unknown kind")
	}
	if !strings.Contains(err.Error(), "unknown event kind") {
		t.Errorf("error = %q", err)
	}
}

func TestDecodeDataPayloadArtifactProgress(t *testing.T) {
	raw := json.RawMessage(`{
		"type": "artifact_creation_progress",
		"filename": "report.md",
		"status": "in-progress",
		"chunk": "# Report\n",
		"bytes_transferred": 9
	}`)

	p, err := DecodeDataPayload(raw)
	if err != nil {
		t.Fatalf("DecodeDataPayload: %v", err)
	}
	if p.Type != PayloadArtifactProgress {
		t.Fatalf("Type = %q", p.Type)
	}
	ap := p.ArtifactProgress
	if ap.Filename != "report.md" || ap.Status != ArtifactInProgress || ap.BytesTransferred != 9 {
		t.Errorf("unexpected progress: %+v", ap)
	}
}

func TestDecodeDataPayloadUnknownTypeIgnored(t *testing.T) {
	p, err := DecodeDataPayload(json.RawMessage(`{"type":"future_thing","x":1}`))
	if err != nil {
		t.Fatalf("DecodeDataPayload: %v", err)
	}
	if p.AgentProgress != nil || p.ArtifactProgress != nil || p.ToolInvocation != nil {
		t.Errorf("unknown type should decode to bare payload: %+v", p)
	}
}

func TestPartRoundTrip(t *testing.T) {
	part, err := DataPart(AgentProgress{Type: PayloadAgentProgress, Status: "Thinking..."})
	if err != nil {
		t.Fatalf("DataPart: %v", err)
	}
	if part.IsRenderable() {
		t.Error("data part should not be renderable")
	}

	data, err := json.Marshal(Message{
		MessageID: GenerateMessageID(),
		Role:      RoleAgent,
		Parts:     []Part{TextPart("hi"), part},
	})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got Message
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(got.Parts) != 2 {
		t.Fatalf("parts = %d, want 2", len(got.Parts))
	}
	if !got.Parts[0].IsRenderable() || got.Parts[0].Text != "hi" {
		t.Errorf("text part lost: %+v", got.Parts[0])
	}
	payload, err := DecodeDataPayload(got.Parts[1].Data)
	if err != nil {
		t.Fatalf("DecodeDataPayload: %v", err)
	}
	if payload.AgentProgress == nil || payload.AgentProgress.Status != "Thinking..." {
		t.Errorf("agent progress lost: %+v", payload)
	}
}

func TestGenerateMessageID(t *testing.T) {
	id := GenerateMessageID()
	if !strings.HasPrefix(id, "msg_") {
		t.Errorf("id = %q, want msg_ prefix", id)
	}
	if id == GenerateMessageID() {
		t.Error("ids should be unique")
	}
}
