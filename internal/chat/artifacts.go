package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/dohr-michael/parley/internal/a2a"
	"github.com/dohr-michael/parley/internal/events"
)

// applyArtifactProgressLocked folds an artifact_creation_progress
// payload into the side table and, on final phases, into the message
// list. Chunks accumulate; a final status for an unknown filename is
// still honored so a lost first chunk does not strand the artifact.
func (e *Engine) applyArtifactProgressLocked(seq uint64, taskID string, p *a2a.ArtifactProgress) {
	if p == nil || p.Filename == "" {
		return
	}

	info := e.artifacts[p.Filename]
	if info == nil {
		info = &ArtifactInfo{Filename: p.Filename}
		e.artifacts[p.Filename] = info
	}
	if p.Description != "" {
		info.Description = p.Description
	}
	if p.MimeType != "" {
		info.MimeType = p.MimeType
	}
	if p.BytesTransferred > 0 {
		info.Size = p.BytesTransferred
	}
	info.AccumulatedContent += p.Chunk

	switch p.Status {
	case a2a.ArtifactInProgress:
		e.setStatusTextLocked("Generating " + p.Filename + "...")
		e.upsertArtifactPartLocked(seq, taskID, p, info)
		e.publish(events.NewEvent(events.EventArtifactProgress, events.SourceEngine, map[string]any{
			"filename": p.Filename,
			"bytes":    p.BytesTransferred,
		}))
	case a2a.ArtifactCompleted:
		info.LastModified = time.Now()
		info.NeedsEmbedResolution = true
		e.upsertArtifactPartLocked(seq, taskID, p, info)
		// Content lives on the gateway now; keep the reference, not the bytes.
		info.AccumulatedContent = ""
		e.publish(events.NewEvent(events.EventArtifactCompleted, events.SourceEngine, map[string]any{
			"filename": p.Filename,
		}))
		// The local entry is provisional until the backend listing
		// confirms size and mtime.
		go e.RefreshArtifacts(context.Background())
	case a2a.ArtifactFailed:
		e.upsertArtifactPartLocked(seq, taskID, p, info)
		e.notifyLocked(events.SeverityError, fmt.Sprintf("Artifact %s failed: %s", p.Filename, p.Error))
		e.publish(events.NewEvent(events.EventArtifactFailed, events.SourceEngine, map[string]any{
			"filename": p.Filename,
			"error":    p.Error,
		}))
	}
}

// upsertArtifactPartLocked finds the artifact part for a filename in
// the current task's messages and updates it in place, or appends one.
// One part per filename per task: progress updates mutate, never stack.
func (e *Engine) upsertArtifactPartLocked(seq uint64, taskID string, p *a2a.ArtifactProgress, info *ArtifactInfo) {
	e.dropTailStatusBubbleLocked()

	if part := e.findArtifactPartLocked(taskID, p.Filename); part != nil {
		// Final states win over a late in-progress chunk.
		if !artifactPhaseDone(part.Artifact.Status) || artifactPhaseDone(p.Status) {
			part.Artifact.Status = p.Status
		}
		part.Artifact.BytesTransferred = info.Size
		part.Artifact.AccumulatedContent = info.AccumulatedContent
		if p.Description != "" {
			part.Artifact.Description = p.Description
		}
		if p.Status == a2a.ArtifactFailed {
			part.Artifact.Error = p.Error
		}
		if p.Status == a2a.ArtifactCompleted {
			e.stampCompletedArtifactLocked(part.Artifact, info)
		}
		return
	}

	artPart := ContentPart{
		Kind: PartArtifact,
		Artifact: &ArtifactPart{
			Name:               p.Filename,
			Status:             p.Status,
			Description:        p.Description,
			BytesTransferred:   info.Size,
			AccumulatedContent: info.AccumulatedContent,
			Error:              p.Error,
		},
	}

	if p.Status == a2a.ArtifactCompleted {
		e.stampCompletedArtifactLocked(artPart.Artifact, info)
	}

	if tail := e.tailMessageLocked(); tail != nil &&
		tail.Role == a2a.RoleAgent && !tail.IsComplete && !tail.IsError && tail.TaskID == taskID {
		tail.Parts = append(tail.Parts, artPart)
		tail.Metadata.LastProcessedEventSequence = seq
		e.publishMessageUpdatedLocked(tail)
		return
	}

	e.messages = append(e.messages, Message{
		Role:   a2a.RoleAgent,
		TaskID: taskID,
		Parts:  []ContentPart{artPart},
		Metadata: Metadata{
			MessageID:                  a2a.GenerateMessageID(),
			SessionID:                  e.sessionID,
			LastProcessedEventSequence: seq,
		},
	})
	e.publishMessageUpdatedLocked(&e.messages[len(e.messages)-1])
}

// stampCompletedArtifactLocked swaps accumulated bytes for a gateway
// reference once the artifact is stored server-side.
func (e *Engine) stampCompletedArtifactLocked(part *ArtifactPart, info *ArtifactInfo) {
	part.Status = a2a.ArtifactCompleted
	part.AccumulatedContent = ""
	part.File = &a2a.FileRef{
		Name:     part.Name,
		MimeType: info.MimeType,
		URI:      e.gw.ArtifactURI(e.sessionID, part.Name),
	}
}

func (e *Engine) findArtifactPartLocked(taskID, filename string) *ContentPart {
	for i := len(e.messages) - 1; i >= 0; i-- {
		m := &e.messages[i]
		if m.TaskID != taskID {
			continue
		}
		for j := range m.Parts {
			part := &m.Parts[j]
			if part.Kind == PartArtifact && part.Artifact != nil && part.Artifact.Name == filename {
				return part
			}
		}
	}
	return nil
}

func artifactPhaseDone(s a2a.ArtifactPhase) bool {
	return s == a2a.ArtifactCompleted || s == a2a.ArtifactFailed
}

// failPendingArtifactsLocked downgrades every in-progress artifact part
// of the task to failed. Called when the turn ends without the artifact
// reaching a final phase.
func (e *Engine) failPendingArtifactsLocked(seq uint64, taskID string) {
	for i := range e.messages {
		m := &e.messages[i]
		if taskID != "" && m.TaskID != taskID {
			continue
		}
		for j := range m.Parts {
			part := &m.Parts[j]
			if part.Kind != PartArtifact || part.Artifact == nil {
				continue
			}
			if part.Artifact.Status != a2a.ArtifactInProgress {
				continue
			}
			part.Artifact.Status = a2a.ArtifactFailed
			part.Artifact.Error = "artifact generation did not complete"
			m.IsError = true
			if seq > m.Metadata.LastProcessedEventSequence {
				m.Metadata.LastProcessedEventSequence = seq
			}
			e.publish(events.NewEvent(events.EventArtifactFailed, events.SourceEngine, map[string]any{
				"filename": part.Artifact.Name,
				"error":    part.Artifact.Error,
			}))
		}
	}
}

// RefreshArtifacts replaces the artifact side table with the backend's
// authoritative listing. Entries still accumulating content locally are
// preserved so an in-flight generation is not clobbered by the refresh.
func (e *Engine) RefreshArtifacts(ctx context.Context) error {
	e.mu.Lock()
	sessionID := e.sessionID
	e.mu.Unlock()
	if sessionID == "" {
		return nil
	}

	remote, err := e.gw.ListArtifacts(ctx, sessionID)
	if err != nil {
		e.log.Warn("list artifacts failed", "session_id", sessionID, "error", err)
		return fmt.Errorf("list artifacts: %w", err)
	}

	e.mu.Lock()
	if e.sessionID != sessionID {
		e.mu.Unlock()
		return nil
	}
	next := make(map[string]*ArtifactInfo, len(remote))
	for _, r := range remote {
		info := &ArtifactInfo{
			Filename:     r.Filename,
			Description:  r.Description,
			MimeType:     r.MimeType,
			Size:         r.Size,
			LastModified: r.LastModified,
		}
		// Presence in the authoritative listing resolves any pending
		// embed reference, so NeedsEmbedResolution is left cleared.
		if prev := e.artifacts[r.Filename]; prev != nil {
			info.AccumulatedContent = prev.AccumulatedContent
		}
		next[r.Filename] = info
	}
	// Keep local entries still streaming that the backend has not
	// materialized yet.
	for name, prev := range e.artifacts {
		if _, ok := next[name]; !ok && prev.AccumulatedContent != "" && prev.LastModified.IsZero() {
			next[name] = prev
		}
	}
	e.artifacts = next
	names := make([]string, 0, len(next))
	for name := range next {
		names = append(names, name)
	}
	e.mu.Unlock()

	e.publish(events.NewEvent(events.EventArtifactList, events.SourceEngine, map[string]any{
		"session_id": sessionID,
		"count":      len(names),
	}))
	return nil
}

// Artifacts returns a snapshot of the artifact side table.
func (e *Engine) Artifacts() []ArtifactInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ArtifactInfo, 0, len(e.artifacts))
	for _, info := range e.artifacts {
		out = append(out, *info)
	}
	return out
}

// DeleteArtifact removes an artifact from the backend and the side table.
func (e *Engine) DeleteArtifact(ctx context.Context, filename string) error {
	e.mu.Lock()
	sessionID := e.sessionID
	e.mu.Unlock()
	if sessionID == "" {
		return fmt.Errorf("no active session")
	}
	if err := e.gw.DeleteArtifact(ctx, sessionID, filename); err != nil {
		return fmt.Errorf("delete artifact %s: %w", filename, err)
	}
	e.mu.Lock()
	delete(e.artifacts, filename)
	e.mu.Unlock()
	return e.RefreshArtifacts(ctx)
}

// ArtifactURI resolves the embeddable URI for a stored artifact.
func (e *Engine) ArtifactURI(filename string) string {
	e.mu.Lock()
	sessionID := e.sessionID
	e.mu.Unlock()
	if sessionID == "" {
		return ""
	}
	return e.gw.ArtifactURI(sessionID, filename)
}
