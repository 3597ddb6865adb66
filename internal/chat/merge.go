package chat

import (
	"strings"

	"github.com/dohr-michael/parley/internal/a2a"
	"github.com/dohr-michael/parley/internal/events"
)

// applyStatusUpdateLocked folds one status-update event into the
// conversation. Data parts carrying progress payloads update ephemeral
// state and are consumed; renderable parts merge into the message list.
func (e *Engine) applyStatusUpdateLocked(seq uint64, ev *a2a.TaskStatusUpdateEvent) {
	var renderable []a2a.Part
	if ev.Status.Message != nil {
		for _, p := range ev.Status.Message.Parts {
			if p.Kind == a2a.PartKindData {
				if e.consumeDataPartLocked(seq, ev.TaskID, p) {
					continue
				}
			}
			renderable = append(renderable, p)
		}
	}

	if len(renderable) > 0 {
		e.mergeRenderableLocked(seq, ev.TaskID, renderable)
	}

	switch ev.Status.State {
	case a2a.TaskStateWorking, a2a.TaskStateSubmitted:
		// keep streaming
	case a2a.TaskStateInputRequired:
		e.setStatusTextLocked("Waiting for your input...")
	}

	if ev.Final {
		e.finalizeTurnLocked(ev.TaskID, seq, string(ev.Status.State))
	}
}

// consumeDataPartLocked interprets a structured data part. It reports
// true when the payload was a known progress type and must not be
// rendered as message content. Unknown payload types are dropped too:
// raw JSON never reaches the transcript.
func (e *Engine) consumeDataPartLocked(seq uint64, taskID string, p a2a.Part) bool {
	payload, err := a2a.DecodeDataPayload(p.Data)
	if err != nil {
		e.log.Debug("undecodable data part", "task_id", taskID, "error", err)
		return true
	}
	switch payload.Type {
	case a2a.PayloadAgentProgress:
		e.setStatusTextLocked(payload.AgentProgress.Status)
	case a2a.PayloadArtifactProgress:
		e.applyArtifactProgressLocked(seq, taskID, payload.ArtifactProgress)
	case a2a.PayloadToolInvocation:
		e.setStatusTextLocked("Running " + payload.ToolInvocation.ToolName + "...")
	default:
		e.log.Debug("ignoring unknown data payload", "type", payload.Type)
	}
	return true
}

// mergeRenderableLocked appends renderable parts to the conversation.
// Consecutive chunks of the same task extend the trailing incomplete
// agent message instead of opening a new bubble.
func (e *Engine) mergeRenderableLocked(seq uint64, taskID string, parts []a2a.Part) {
	worthy := parts[:0]
	for _, p := range parts {
		if p.IsRenderable() {
			worthy = append(worthy, p)
		}
	}
	if len(worthy) == 0 {
		return
	}

	e.dropTailStatusBubbleLocked()

	if tail := e.tailMessageLocked(); tail != nil &&
		tail.Role == a2a.RoleAgent && !tail.IsComplete && !tail.IsError && tail.TaskID == taskID {
		for _, p := range worthy {
			appendPartToMessage(tail, p)
		}
		tail.Metadata.LastProcessedEventSequence = seq
		e.publishMessageUpdatedLocked(tail)
		return
	}

	// Whitespace-only chunks pad an existing message but never open one.
	if allBlankText(worthy) {
		return
	}

	msg := Message{
		Role:   a2a.RoleAgent,
		TaskID: taskID,
		Metadata: Metadata{
			MessageID:                  a2a.GenerateMessageID(),
			SessionID:                  e.sessionID,
			LastProcessedEventSequence: seq,
		},
	}
	for _, p := range worthy {
		appendPartToMessage(&msg, p)
	}
	e.messages = append(e.messages, msg)
	e.publishMessageUpdatedLocked(&e.messages[len(e.messages)-1])
}

// appendPartToMessage folds a wire part into a message. Adjacent text
// parts coalesce so streamed deltas read as one block.
func appendPartToMessage(msg *Message, p a2a.Part) {
	switch p.Kind {
	case a2a.PartKindText:
		if n := len(msg.Parts); n > 0 && msg.Parts[n-1].Kind == PartText {
			msg.Parts[n-1].Text += p.Text
			return
		}
		msg.Parts = append(msg.Parts, ContentPart{Kind: PartText, Text: p.Text})
	case a2a.PartKindFile:
		ref := *p.File
		msg.Parts = append(msg.Parts, ContentPart{Kind: PartFile, File: &ref})
	case a2a.PartKindData:
		msg.Parts = append(msg.Parts, ContentPart{Kind: PartData, Data: p.Data})
	}
}

func allBlankText(parts []a2a.Part) bool {
	for _, p := range parts {
		if p.Kind != a2a.PartKindText || strings.TrimSpace(p.Text) != "" {
			return false
		}
	}
	return true
}

func (e *Engine) tailMessageLocked() *Message {
	if len(e.messages) == 0 {
		return nil
	}
	return &e.messages[len(e.messages)-1]
}

// dropTailStatusBubbleLocked removes the placeholder bubble once real
// content (or a terminal condition) replaces it.
func (e *Engine) dropTailStatusBubbleLocked() {
	if n := len(e.messages); n > 0 && e.messages[n-1].IsStatusBubble {
		e.messages = e.messages[:n-1]
	}
}

// completeLastAgentMessageLocked marks the trailing agent message of a
// task complete so the transcript never shows a half-open bubble.
func (e *Engine) completeLastAgentMessageLocked(seq uint64, taskID string) {
	for i := len(e.messages) - 1; i >= 0; i-- {
		m := &e.messages[i]
		if m.Role != a2a.RoleAgent || m.IsStatusBubble {
			continue
		}
		if taskID != "" && m.TaskID != taskID {
			continue
		}
		if !m.IsComplete {
			m.IsComplete = true
			if seq > m.Metadata.LastProcessedEventSequence {
				m.Metadata.LastProcessedEventSequence = seq
			}
			e.publishMessageUpdatedLocked(m)
		}
		return
	}
}

func (e *Engine) publishMessageUpdatedLocked(m *Message) {
	e.publish(events.NewEvent(events.EventMessageUpdated, events.SourceEngine, map[string]any{
		"message_id": m.Metadata.MessageID,
		"task_id":    m.TaskID,
		"complete":   m.IsComplete,
	}))
}
