package stubgateway

import (
	"strings"

	"github.com/dohr-michael/parley/internal/a2a"
)

// scriptStep is one event of a scripted agent run.
type scriptStep struct {
	event a2a.StreamEvent
}

// buildScript produces the event sequence the stub agent streams for a
// submitted message. Plain prompts get an echo; prompts mentioning a
// "report" also stream a small markdown artifact so clients can
// exercise the artifact progress path.
func buildScript(taskID, contextID, userText string) []scriptStep {
	var steps []scriptStep

	push := func(ev a2a.StreamEvent) {
		steps = append(steps, scriptStep{event: ev})
	}

	working := func(parts ...a2a.Part) {
		var msg *a2a.Message
		if len(parts) > 0 {
			msg = &a2a.Message{Role: a2a.RoleAgent, Parts: parts}
		}
		push(a2a.StreamEvent{Kind: a2a.KindStatusUpdate, Status: &a2a.TaskStatusUpdateEvent{
			Kind:      a2a.KindStatusUpdate,
			TaskID:    taskID,
			ContextID: contextID,
			Status:    a2a.TaskStatus{State: a2a.TaskStateWorking, Message: msg},
		}})
	}

	dataPart := func(payload any) a2a.Part {
		p, err := a2a.DataPart(payload)
		if err != nil {
			panic("stub script payload: " + err.Error())
		}
		return p
	}

	working(dataPart(a2a.AgentProgress{
		Type:   a2a.PayloadAgentProgress,
		Status: "Reading your message...",
	}))

	working(a2a.TextPart("You said: "))
	working(a2a.TextPart(strings.TrimSpace(userText)))

	if strings.Contains(strings.ToLower(userText), "report") {
		const filename = "report.md"
		content := "# Report\n\nGenerated for: " + strings.TrimSpace(userText) + "\n"
		half := len(content) / 2

		working(dataPart(a2a.ArtifactProgress{
			Type:             a2a.PayloadArtifactProgress,
			Filename:         filename,
			Status:           a2a.ArtifactInProgress,
			Chunk:            content[:half],
			BytesTransferred: int64(half),
			MimeType:         "text/markdown",
			Description:      "stub-generated report",
		}))
		working(dataPart(a2a.ArtifactProgress{
			Type:             a2a.PayloadArtifactProgress,
			Filename:         filename,
			Status:           a2a.ArtifactCompleted,
			Chunk:            content[half:],
			BytesTransferred: int64(len(content)),
			MimeType:         "text/markdown",
		}))
	}

	push(a2a.StreamEvent{Kind: a2a.KindStatusUpdate, Status: &a2a.TaskStatusUpdateEvent{
		Kind:      a2a.KindStatusUpdate,
		TaskID:    taskID,
		ContextID: contextID,
		Status:    a2a.TaskStatus{State: a2a.TaskStateCompleted},
		Final:     true,
	}})

	return steps
}

// canceledFinal is the terminal event streamed when a task was canceled
// mid-script.
func canceledFinal(taskID, contextID string) a2a.StreamEvent {
	return a2a.StreamEvent{Kind: a2a.KindStatusUpdate, Status: &a2a.TaskStatusUpdateEvent{
		Kind:      a2a.KindStatusUpdate,
		TaskID:    taskID,
		ContextID: contextID,
		Status:    a2a.TaskStatus{State: a2a.TaskStateCanceled},
		Final:     true,
	}}
}

// scriptArtifactContent returns the artifact the script generates for a
// prompt, if any, so the server can persist it alongside the stream.
func scriptArtifactContent(userText string) (filename, mimeType string, content []byte, ok bool) {
	if !strings.Contains(strings.ToLower(userText), "report") {
		return "", "", nil, false
	}
	body := "# Report\n\nGenerated for: " + strings.TrimSpace(userText) + "\n"
	return "report.md", "text/markdown", []byte(body), true
}
