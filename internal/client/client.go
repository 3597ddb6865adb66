// Package client is the HTTP client for the mesh gateway REST API. It
// implements the chat engine's Gateway interface and the record surface
// the history bridge persists through.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dohr-michael/parley/internal/a2a"
	"github.com/dohr-michael/parley/internal/chat"
)

// Response headers the gateway sets on an accepted streaming request.
const (
	HeaderTaskID    = "X-Parley-Task-Id"
	HeaderContextID = "X-Parley-Context-Id"
)

// StatusError is returned when the gateway answers with a non-2xx
// status. Transport failures are wrapped errors; RPC-level errors
// surface as *a2a.RPCError from the stream.
type StatusError struct {
	StatusCode int
	Method     string
	Path       string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: gateway returned %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// IsNotFound reports whether err is a gateway 404.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// Session is a gateway session record.
type Session struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TaskRecord is the persisted shape of one completed chat turn. The
// bubbles and metadata fields are themselves JSON documents stored as
// strings, exactly as the gateway keeps them.
type TaskRecord struct {
	TaskID         string `json:"taskId"`
	UserMessage    string `json:"userMessage"`
	MessageBubbles string `json:"messageBubbles"`
	TaskMetadata   string `json:"taskMetadata"`
}

// ArtifactRecord is one entry of the gateway's artifact listing.
type ArtifactRecord struct {
	Filename     string    `json:"filename"`
	Description  string    `json:"description,omitempty"`
	MimeType     string    `json:"mime_type,omitempty"`
	Size         int64     `json:"size"`
	Versions     int       `json:"versions,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// Client talks to one gateway.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
	log     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying http.Client. The default has
// no overall timeout so streaming responses can outlive any fixed
// deadline; per-call deadlines come from the context.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpc = hc }
}

// WithLogger sets the client logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// New creates a gateway client. The token may be empty for gateways
// without auth (the local stub).
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpc:   &http.Client{},
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SendStreamingMessage posts a message/stream JSON-RPC request and
// returns the accepted task identity plus the live SSE body. The caller
// owns the body.
func (c *Client) SendStreamingMessage(ctx context.Context, params a2a.MessageSendParams) (chat.StreamHandle, error) {
	rpc, err := a2a.NewRequest(a2a.GenerateMessageID(), a2a.MethodMessageStream, params)
	if err != nil {
		return chat.StreamHandle{}, fmt.Errorf("build stream request: %w", err)
	}
	payload, err := json.Marshal(rpc)
	if err != nil {
		return chat.StreamHandle{}, fmt.Errorf("marshal stream request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/message:stream", bytes.NewReader(payload))
	if err != nil {
		return chat.StreamHandle{}, fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	c.auth(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return chat.StreamHandle{}, fmt.Errorf("open message stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return chat.StreamHandle{}, c.statusError(req, resp)
	}

	handle := chat.StreamHandle{
		TaskID:    resp.Header.Get(HeaderTaskID),
		SessionID: resp.Header.Get(HeaderContextID),
		Body:      resp.Body,
	}
	if handle.TaskID == "" {
		resp.Body.Close()
		return chat.StreamHandle{}, fmt.Errorf("gateway accepted stream without a task id")
	}
	return handle, nil
}

// CancelTask requests cancellation. Acceptance is not confirmation; the
// task's stream delivers the terminal event.
func (c *Client) CancelTask(ctx context.Context, taskID string) error {
	rpc, err := a2a.NewRequest(a2a.GenerateMessageID(), a2a.MethodTaskCancel, a2a.TaskIDParams{ID: taskID})
	if err != nil {
		return fmt.Errorf("build cancel request: %w", err)
	}
	path := "/api/v1/tasks/" + url.PathEscape(taskID) + ":cancel"
	return c.doJSON(ctx, http.MethodPost, path, rpc, nil)
}

// ListSessions returns all sessions, newest first.
func (c *Client) ListSessions(ctx context.Context) ([]Session, error) {
	var out []Session
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/sessions", nil, &out); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out, nil
}

// GetSession fetches one session record.
func (c *Client) GetSession(ctx context.Context, id string) (Session, error) {
	var out Session
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/sessions/"+url.PathEscape(id), nil, &out); err != nil {
		return Session{}, fmt.Errorf("get session %s: %w", id, err)
	}
	return out, nil
}

// RenameSession sets a session's display name.
func (c *Client) RenameSession(ctx context.Context, id, name string) error {
	body := map[string]string{"name": name}
	if err := c.doJSON(ctx, http.MethodPatch, "/api/v1/sessions/"+url.PathEscape(id), body, nil); err != nil {
		return fmt.Errorf("rename session %s: %w", id, err)
	}
	return nil
}

// DeleteSession removes a session and its stored tasks.
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	if err := c.doJSON(ctx, http.MethodDelete, "/api/v1/sessions/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

// ListChatTasks returns the stored turn records of a session in
// insertion order.
func (c *Client) ListChatTasks(ctx context.Context, sessionID string) ([]TaskRecord, error) {
	var out []TaskRecord
	path := "/api/v1/sessions/" + url.PathEscape(sessionID) + "/chat-tasks"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("list chat tasks for %s: %w", sessionID, err)
	}
	return out, nil
}

// SaveChatTask upserts one turn record.
func (c *Client) SaveChatTask(ctx context.Context, sessionID string, rec TaskRecord) error {
	path := "/api/v1/sessions/" + url.PathEscape(sessionID) + "/chat-tasks"
	if err := c.doJSON(ctx, http.MethodPost, path, rec, nil); err != nil {
		return fmt.Errorf("save chat task %s: %w", rec.TaskID, err)
	}
	return nil
}

// ListArtifacts returns the session's stored artifacts.
func (c *Client) ListArtifacts(ctx context.Context, sessionID string) ([]chat.RemoteArtifact, error) {
	var recs []ArtifactRecord
	path := "/api/v1/artifacts/" + url.PathEscape(sessionID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &recs); err != nil {
		return nil, fmt.Errorf("list artifacts for %s: %w", sessionID, err)
	}
	out := make([]chat.RemoteArtifact, 0, len(recs))
	for _, r := range recs {
		out = append(out, chat.RemoteArtifact{
			Filename:     r.Filename,
			Description:  r.Description,
			MimeType:     r.MimeType,
			Size:         r.Size,
			LastModified: r.LastModified,
		})
	}
	return out, nil
}

// FetchArtifact streams the latest version of an artifact. The caller
// closes the reader.
func (c *Client) FetchArtifact(ctx context.Context, sessionID, filename string) (io.ReadCloser, string, error) {
	return c.fetchArtifactPath(ctx, c.artifactPath(sessionID, filename))
}

// FetchArtifactVersion streams a specific stored version.
func (c *Client) FetchArtifactVersion(ctx context.Context, sessionID, filename string, version int) (io.ReadCloser, string, error) {
	path := c.artifactPath(sessionID, filename) + fmt.Sprintf("/versions/%d", version)
	return c.fetchArtifactPath(ctx, path)
}

func (c *Client) fetchArtifactPath(ctx context.Context, path string) (io.ReadCloser, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build artifact request: %w", err)
	}
	c.auth(req)
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch artifact: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, "", c.statusError(req, resp)
	}
	return resp.Body, resp.Header.Get("Content-Type"), nil
}

// UploadArtifact stores a new version of an artifact.
func (c *Client) UploadArtifact(ctx context.Context, sessionID, filename, mimeType string, content []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+c.artifactPath(sessionID, filename), bytes.NewReader(content))
	if err != nil {
		return fmt.Errorf("build upload request: %w", err)
	}
	if mimeType != "" {
		req.Header.Set("Content-Type", mimeType)
	}
	c.auth(req)
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("upload artifact %s: %w", filename, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return c.statusError(req, resp)
	}
	return nil
}

// DeleteArtifact removes an artifact and all its versions.
func (c *Client) DeleteArtifact(ctx context.Context, sessionID, filename string) error {
	if err := c.doJSON(ctx, http.MethodDelete, c.artifactPath(sessionID, filename), nil, nil); err != nil {
		return fmt.Errorf("delete artifact %s: %w", filename, err)
	}
	return nil
}

// ArtifactURI builds the stable URI for an artifact's latest version.
func (c *Client) ArtifactURI(sessionID, filename string) string {
	return c.baseURL + c.artifactPath(sessionID, filename)
}

func (c *Client) artifactPath(sessionID, filename string) string {
	return "/api/v1/artifacts/" + url.PathEscape(sessionID) + "/" + url.PathEscape(filename)
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	c.auth(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.statusError(req, resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func (c *Client) auth(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *Client) statusError(req *http.Request, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{
		StatusCode: resp.StatusCode,
		Method:     req.Method,
		Path:       req.URL.Path,
		Body:       strings.TrimSpace(string(snippet)),
	}
}
