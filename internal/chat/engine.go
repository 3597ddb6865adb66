package chat

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dohr-michael/parley/internal/a2a"
	"github.com/dohr-michael/parley/internal/events"
	"github.com/dohr-michael/parley/internal/stream"
)

var (
	ErrNoAgentSelected = errors.New("no agent selected")
	ErrEmptyMessage    = errors.New("message is empty")
	ErrTaskInFlight    = errors.New("a task is already responding")
)

// Gateway is the slice of the mesh gateway API the engine depends on.
type Gateway interface {
	// SendStreamingMessage submits a user message and returns the
	// server-assigned task/session ids plus the live SSE body.
	SendStreamingMessage(ctx context.Context, params a2a.MessageSendParams) (StreamHandle, error)

	// CancelTask requests cancellation of a running task.
	CancelTask(ctx context.Context, taskID string) error

	// ListArtifacts fetches the authoritative artifact list for a session.
	ListArtifacts(ctx context.Context, sessionID string) ([]RemoteArtifact, error)

	// DeleteArtifact removes a stored artifact.
	DeleteArtifact(ctx context.Context, sessionID, filename string) error

	// ArtifactURI builds the resolvable URI for a stored artifact.
	ArtifactURI(sessionID, filename string) string

	// RenameSession sets a session's display name.
	RenameSession(ctx context.Context, sessionID, name string) error
}

// StreamHandle is the result of opening a streaming message request.
type StreamHandle struct {
	TaskID    string
	SessionID string
	Body      io.ReadCloser
}

// RemoteArtifact is one entry of the backend's artifact listing.
type RemoteArtifact struct {
	Filename     string
	Description  string
	MimeType     string
	Size         int64
	LastModified time.Time
}

// TurnStore persists completed turns and rebuilds session history.
// Implemented by the history bridge.
type TurnStore interface {
	SaveTurn(ctx context.Context, turn Turn) error
	LoadSession(ctx context.Context, sessionID string) (Snapshot, error)
}

// Options tune engine behaviour.
type Options struct {
	// CancelTimeout is the fallback after an accepted cancel request
	// before local state is force-cleared. Defaults to 15s.
	CancelTimeout time.Duration

	// AgentName preselects the agent new turns are routed to.
	AgentName string

	Logger *slog.Logger
}

// Engine owns all mutable chat state for one active session. All
// mutation is serialized through its mutex: stream events arrive on the
// subscription's reader goroutine, user actions on the caller's.
type Engine struct {
	gw    Gateway
	store TurnStore
	bus   *events.Bus
	log   *slog.Logger

	cancelTimeout time.Duration

	mu            sync.Mutex
	sessionID     string
	sessionName   string
	agentName     string
	messages      []Message
	artifacts     map[string]*ArtifactInfo
	statusText    string
	currentTaskID string
	sub           *stream.Subscription
	seq           uint64
	isResponding  bool
	isCancelling  bool
	cancelTimer   *time.Timer
	saving        map[string]struct{}
	feedback      map[string]string
}

// NewEngine creates an engine bound to a gateway, a turn store and the
// event bus.
func NewEngine(gw Gateway, store TurnStore, bus *events.Bus, opts Options) *Engine {
	if opts.CancelTimeout <= 0 {
		opts.CancelTimeout = 15 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		gw:            gw,
		store:         store,
		bus:           bus,
		log:           opts.Logger,
		cancelTimeout: opts.CancelTimeout,
		agentName:     opts.AgentName,
		artifacts:     make(map[string]*ArtifactInfo),
		saving:        make(map[string]struct{}),
		feedback:      make(map[string]string),
	}
}

// Submit sends a user message with optional attachments and opens the
// response stream. It returns once the stream is open; content arrives
// through the engine's state as events are processed.
func (e *Engine) Submit(ctx context.Context, text string, files []AttachedFile) error {
	e.mu.Lock()
	if e.agentName == "" {
		e.mu.Unlock()
		e.notify(events.SeverityWarning, "Please select an agent first.")
		return ErrNoAgentSelected
	}
	if e.isResponding {
		e.mu.Unlock()
		return ErrTaskInFlight
	}
	if strings.TrimSpace(text) == "" && len(files) == 0 {
		e.mu.Unlock()
		return ErrEmptyMessage
	}

	agent := e.agentName
	sessionID := e.sessionID
	newSession := sessionID == ""
	if newSession && e.sessionName == "" {
		e.sessionName = deriveSessionName(text)
	}

	userMsg := e.appendUserMessageLocked(text, files)
	e.appendStatusBubbleLocked()
	e.isResponding = true
	e.mu.Unlock()

	e.publish(events.NewEvent(events.EventTurnStarted, events.SourceEngine, map[string]any{
		"agent": agent,
	}))

	wireMsg := buildWireMessage(sessionID, agent, text, files)
	handle, err := e.gw.SendStreamingMessage(ctx, a2a.MessageSendParams{Message: wireMsg})
	if err != nil {
		e.mu.Lock()
		e.dropTailStatusBubbleLocked()
		e.messages = append(e.messages, e.newErrorMessageLocked("", "Failed to reach the agent: "+err.Error()))
		e.isResponding = false
		e.mu.Unlock()
		e.notify(events.SeverityError, "Failed to send message.")
		return fmt.Errorf("send message: %w", err)
	}

	e.mu.Lock()
	e.currentTaskID = handle.TaskID
	if e.sessionID == "" && handle.SessionID != "" {
		e.sessionID = handle.SessionID
	}
	// Stamp the task onto the just-appended user message and bubble.
	for i := range e.messages {
		if e.messages[i].Metadata.MessageID == userMsg.Metadata.MessageID ||
			(e.messages[i].IsStatusBubble && e.messages[i].TaskID == "") {
			e.messages[i].TaskID = handle.TaskID
			e.messages[i].Metadata.SessionID = e.sessionID
		}
	}
	name := e.sessionName
	sessID := e.sessionID
	e.sub = stream.Open(handle.TaskID, handle.Body, &subHandler{engine: e, taskID: handle.TaskID})
	e.mu.Unlock()

	if newSession && sessID != "" {
		e.publish(events.NewEvent(events.EventSessionOpened, events.SourceEngine, map[string]any{
			"session_id": sessID,
			"name":       name,
		}))
		go e.renameSession(sessID, name)
	}
	return nil
}

func (e *Engine) appendUserMessageLocked(text string, files []AttachedFile) Message {
	parts := []ContentPart{}
	if strings.TrimSpace(text) != "" {
		parts = append(parts, ContentPart{Kind: PartText, Text: text})
	}
	var uploaded []string
	for _, f := range files {
		uploaded = append(uploaded, f.Name)
		parts = append(parts, ContentPart{Kind: PartFile, File: &a2a.FileRef{
			Name:     f.Name,
			MimeType: f.MimeType,
		}})
	}
	msg := Message{
		Role:          a2a.RoleUser,
		Parts:         parts,
		IsComplete:    true,
		UploadedFiles: uploaded,
		Metadata: Metadata{
			MessageID: a2a.GenerateMessageID(),
			SessionID: e.sessionID,
		},
	}
	e.messages = append(e.messages, msg)
	return msg
}

func (e *Engine) appendStatusBubbleLocked() {
	e.messages = append(e.messages, Message{
		Role:           a2a.RoleAgent,
		IsStatusBubble: true,
		Metadata: Metadata{
			MessageID: a2a.GenerateMessageID(),
			SessionID: e.sessionID,
		},
	})
}

func buildWireMessage(sessionID, agent, text string, files []AttachedFile) a2a.Message {
	parts := []a2a.Part{}
	if strings.TrimSpace(text) != "" {
		parts = append(parts, a2a.TextPart(text))
	}
	for _, f := range files {
		parts = append(parts, a2a.FilePart(a2a.FileRef{
			Name:     f.Name,
			MimeType: f.MimeType,
			Bytes:    base64.StdEncoding.EncodeToString(f.Content),
		}))
	}
	return a2a.Message{
		Kind:      a2a.KindMessage,
		MessageID: a2a.GenerateMessageID(),
		ContextID: sessionID,
		Role:      a2a.RoleUser,
		Parts:     parts,
		Metadata:  map[string]any{"agent_name": agent},
	}
}

// deriveSessionName builds a session title from the first user message.
func deriveSessionName(text string) string {
	name := strings.Join(strings.Fields(text), " ")
	const max = 48
	if len(name) > max {
		name = strings.TrimSpace(name[:max]) + "..."
	}
	return name
}

func (e *Engine) renameSession(sessionID, name string) {
	if name == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.gw.RenameSession(ctx, sessionID, name); err != nil {
		e.log.Debug("rename session failed", "session_id", sessionID, "error", err)
	}
}

// subHandler binds a subscription to the engine. The taskID pin lets
// the engine drop events from a torn-down subscription that races a
// newer one.
type subHandler struct {
	engine *Engine
	taskID string
}

func (h *subHandler) OnEvent(seq uint64, env stream.Envelope) {
	h.engine.handleStreamEvent(h.taskID, seq, env)
}

func (h *subHandler) OnError(err error) {
	h.engine.handleStreamError(h.taskID, err)
}

func (h *subHandler) OnClose() {
	h.engine.handleStreamClosed(h.taskID)
}

func (e *Engine) handleStreamEvent(taskID string, seq uint64, env stream.Envelope) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if taskID != e.currentTaskID {
		return // stale subscription
	}
	e.seq = seq

	if env.RPCError != nil {
		e.dropTailStatusBubbleLocked()
		e.messages = append(e.messages, e.newErrorMessageLocked(taskID, "Agent error: "+env.RPCError.Message))
		e.notifyLocked(events.SeverityError, "The agent reported an error.")
		e.finalizeTurnLocked(taskID, seq, string(a2a.TaskStateFailed))
		return
	}

	ev := env.Event
	switch ev.Kind {
	case a2a.KindArtifactUpdate:
		// Pure side-channel: refresh the artifact list, never the messages.
		go e.RefreshArtifacts(context.Background())
	case a2a.KindTask:
		e.finalizeTurnLocked(taskID, seq, string(ev.Task.Status.State))
	case a2a.KindStatusUpdate:
		e.applyStatusUpdateLocked(seq, ev.Status)
	}
}

func (e *Engine) handleStreamError(taskID string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if taskID != e.currentTaskID {
		return
	}
	if e.isResponding && !e.isCancelling {
		e.notifyLocked(events.SeverityError, "Connection to the agent was lost.")
	}
	e.log.Warn("stream failed", "task_id", taskID, "error", err)
	e.settleLocked(taskID)
	e.publish(events.NewEvent(events.EventTurnFailed, events.SourceStream, map[string]any{
		"task_id": taskID,
		"error":   err.Error(),
	}))
}

func (e *Engine) handleStreamClosed(taskID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if taskID != e.currentTaskID {
		return
	}
	// Stream ended without a terminal event. Never leave the session in
	// a perpetually-loading state.
	e.settleLocked(taskID)
}

// settleLocked forces the conversation back to a quiescent state after
// a stream ended abnormally: completion forced, flags cleared.
func (e *Engine) settleLocked(taskID string) {
	e.dropTailStatusBubbleLocked()
	e.failPendingArtifactsLocked(e.seq, taskID)
	e.completeLastAgentMessageLocked(e.seq, taskID)
	e.setStatusTextLocked("")
	e.isResponding = false
	e.isCancelling = false
	e.stopCancelTimerLocked()
	sub := e.sub
	e.sub = nil
	e.currentTaskID = ""
	if sub != nil {
		sub.Close()
	}
}

// finalizeTurnLocked settles state after the turn's terminal event and
// hands the completed turn to the persistence bridge.
func (e *Engine) finalizeTurnLocked(taskID string, seq uint64, state string) {
	if taskID != e.currentTaskID {
		return
	}

	e.dropTailStatusBubbleLocked()
	e.failPendingArtifactsLocked(seq, taskID)
	e.completeLastAgentMessageLocked(seq, taskID)
	e.setStatusTextLocked("")

	wasCancelling := e.isCancelling
	e.isResponding = false
	e.isCancelling = false
	e.stopCancelTimerLocked()
	sub := e.sub
	e.sub = nil
	e.currentTaskID = ""
	if sub != nil {
		sub.Close()
	}

	switch {
	case wasCancelling:
		e.notifyLocked(events.SeveritySuccess, "Task cancelled.")
		e.publish(events.NewEvent(events.EventTurnCanceled, events.SourceEngine, map[string]any{"task_id": taskID}))
	case state == string(a2a.TaskStateFailed):
		e.publish(events.NewEvent(events.EventTurnFailed, events.SourceEngine, map[string]any{"task_id": taskID}))
	default:
		e.publish(events.NewEvent(events.EventTurnCompleted, events.SourceEngine, map[string]any{"task_id": taskID}))
	}

	if e.sessionID != "" && e.store != nil {
		turn := e.buildTurnLocked(taskID, state, wasCancelling)
		go e.persistTurn(turn)
	}
}

func (e *Engine) buildTurnLocked(taskID, state string, cancelled bool) Turn {
	status := state
	if cancelled {
		status = string(a2a.TaskStateCanceled)
	}
	turn := Turn{
		TaskID:    taskID,
		SessionID: e.sessionID,
		AgentName: e.agentName,
		Status:    status,
		Feedback:  e.feedback[taskID],
	}
	for _, m := range e.messages {
		if m.TaskID != taskID || m.IsStatusBubble {
			continue
		}
		turn.Messages = append(turn.Messages, m)
		if m.Role == a2a.RoleUser && turn.UserMessage == "" {
			turn.UserMessage = m.Text()
		}
	}
	return turn
}

// persistTurn saves best-effort: failures are logged and swallowed, and
// re-entrant invocations for the same task are absorbed.
func (e *Engine) persistTurn(turn Turn) {
	e.mu.Lock()
	if _, inFlight := e.saving[turn.TaskID]; inFlight {
		e.mu.Unlock()
		return
	}
	e.saving[turn.TaskID] = struct{}{}
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.saving, turn.TaskID)
		e.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.store.SaveTurn(ctx, turn); err != nil {
		e.log.Warn("persist turn failed", "task_id", turn.TaskID, "error", err)
	}
}

// SwitchSession tears down any active task, clears local state and
// rebuilds the message list from stored history.
func (e *Engine) SwitchSession(ctx context.Context, sessionID string) error {
	e.teardownActiveTask()

	e.mu.Lock()
	e.messages = nil
	e.artifacts = make(map[string]*ArtifactInfo)
	e.feedback = make(map[string]string)
	e.statusText = ""
	e.sessionID = sessionID
	e.sessionName = ""
	e.mu.Unlock()

	snap, err := e.store.LoadSession(ctx, sessionID)
	if err != nil {
		e.notify(events.SeverityError, "Failed to load session history.")
		return fmt.Errorf("load session %s: %w", sessionID, err)
	}

	e.mu.Lock()
	if e.sessionID == sessionID { // a rapid second switch wins
		e.messages = snap.Messages
		if snap.Feedback != nil {
			e.feedback = snap.Feedback
		}
		if snap.AgentName != "" {
			e.agentName = snap.AgentName
		}
	}
	e.mu.Unlock()

	go e.RefreshArtifacts(context.Background())
	e.publish(events.NewEvent(events.EventSessionSwitched, events.SourceEngine, map[string]any{
		"session_id": sessionID,
	}))
	return nil
}

// NewSession tears down any active task and resets to an unnamed empty
// session. The server assigns an id on the first message.
func (e *Engine) NewSession() {
	e.teardownActiveTask()

	e.mu.Lock()
	e.messages = nil
	e.artifacts = make(map[string]*ArtifactInfo)
	e.feedback = make(map[string]string)
	e.statusText = ""
	e.sessionID = ""
	e.sessionName = ""
	e.mu.Unlock()

	e.publish(events.NewEvent(events.EventSessionOpened, events.SourceEngine, nil))
}

// teardownActiveTask closes the live subscription and clears task state
// synchronously. Server-side cancellation is requested fire-and-forget:
// local state never blocks on the backend acknowledging.
func (e *Engine) teardownActiveTask() {
	e.mu.Lock()
	taskID := e.currentTaskID
	sub := e.sub
	e.sub = nil
	e.currentTaskID = ""
	e.isResponding = false
	e.isCancelling = false
	e.stopCancelTimerLocked()
	e.statusText = ""
	e.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
	if taskID != "" {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := e.gw.CancelTask(ctx, taskID); err != nil {
				e.log.Debug("best-effort cancel failed", "task_id", taskID, "error", err)
			}
		}()
	}
}

// SubmitFeedback records user feedback for a completed task. It is kept
// locally and included the next time the turn is persisted.
func (e *Engine) SubmitFeedback(taskID, feedback string) {
	e.mu.Lock()
	e.feedback[taskID] = feedback
	e.mu.Unlock()
}

// SetAgent selects the agent new turns are routed to.
func (e *Engine) SetAgent(name string) {
	e.mu.Lock()
	e.agentName = name
	e.mu.Unlock()
}

// AgentName returns the currently selected agent.
func (e *Engine) AgentName() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.agentName
}

// SessionID returns the active session id ("" for an unsaved session).
func (e *Engine) SessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionID
}

// SessionName returns the derived session title.
func (e *Engine) SessionName() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionName
}

// IsResponding reports whether a task is streaming.
func (e *Engine) IsResponding() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isResponding
}

// IsCancelling reports whether a cancel request is in flight.
func (e *Engine) IsCancelling() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isCancelling
}

// StatusText returns the ephemeral progress line.
func (e *Engine) StatusText() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statusText
}

// Feedback returns the recorded feedback for a task, if any.
func (e *Engine) Feedback(taskID string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.feedback[taskID]
}

// Messages returns a copy of the conversation.
func (e *Engine) Messages() []Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Message, len(e.messages))
	copy(out, e.messages)
	return out
}

func (e *Engine) setStatusTextLocked(text string) {
	if e.statusText == text {
		return
	}
	e.statusText = text
	e.publish(events.NewEvent(events.EventStatusText, events.SourceEngine, map[string]any{
		"text": text,
	}))
}

func (e *Engine) stopCancelTimerLocked() {
	if e.cancelTimer != nil {
		e.cancelTimer.Stop()
		e.cancelTimer = nil
	}
}

func (e *Engine) newErrorMessageLocked(taskID, text string) Message {
	return Message{
		Role:       a2a.RoleAgent,
		TaskID:     taskID,
		Parts:      []ContentPart{{Kind: PartText, Text: text}},
		IsComplete: true,
		IsError:    true,
		Metadata: Metadata{
			MessageID:                  a2a.GenerateMessageID(),
			SessionID:                  e.sessionID,
			LastProcessedEventSequence: e.seq,
		},
	}
}

func (e *Engine) notify(severity events.Severity, text string) {
	e.publish(events.NewNotification(events.SourceEngine, severity, text))
}

func (e *Engine) notifyLocked(severity events.Severity, text string) {
	// Bus publishes are non-blocking; safe while holding the mutex.
	e.publish(events.NewNotification(events.SourceEngine, severity, text))
}

func (e *Engine) publish(ev events.Event) {
	if e.bus != nil {
		e.bus.Publish(ev)
	}
}
