package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dohr-michael/parley/internal/a2a"
)

func TestSendStreamingMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/message:stream" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok123" {
			t.Errorf("missing bearer token, got %q", got)
		}
		var rpc a2a.Request
		if err := json.NewDecoder(r.Body).Decode(&rpc); err != nil {
			t.Errorf("decode rpc: %v", err)
		}
		if rpc.Method != a2a.MethodMessageStream || rpc.JSONRPC != a2a.JSONRPCVersion {
			t.Errorf("unexpected rpc envelope %+v", rpc)
		}

		w.Header().Set(HeaderTaskID, "task_42")
		w.Header().Set(HeaderContextID, "sess_7")
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"jsonrpc\":\"2.0\",\"result\":{\"kind\":\"status-update\",\"taskId\":\"task_42\",\"status\":{\"state\":\"completed\"},\"final\":true}}\n\n")
	}))
	defer srv.Close()

	c := New(srv.URL, "tok123")
	handle, err := c.SendStreamingMessage(context.Background(), a2a.MessageSendParams{
		Message: a2a.Message{Role: a2a.RoleUser, Parts: []a2a.Part{a2a.TextPart("hi")}},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	defer handle.Body.Close()

	if handle.TaskID != "task_42" || handle.SessionID != "sess_7" {
		t.Fatalf("unexpected handle %+v", handle)
	}
	body, _ := io.ReadAll(handle.Body)
	if len(body) == 0 {
		t.Fatal("expected stream body")
	}
}

func TestSendStreamingMessageMissingTaskID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	if _, err := c.SendStreamingMessage(context.Background(), a2a.MessageSendParams{}); err == nil {
		t.Fatal("expected error for missing task id header")
	}
}

func TestCancelTask(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		var rpc a2a.Request
		json.NewDecoder(r.Body).Decode(&rpc)
		if rpc.Method != a2a.MethodTaskCancel {
			t.Errorf("unexpected method %q", rpc.Method)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	if err := c.CancelTask(context.Background(), "task_42"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if gotPath != "/api/v1/tasks/task_42:cancel" {
		t.Fatalf("unexpected path %q", gotPath)
	}
}

func TestStatusErrorCarriesDetails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such session", http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	_, err := c.GetSession(context.Background(), "sess_missing")
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsNotFound(err) {
		t.Fatalf("expected 404 status error, got %v", err)
	}
}

func TestChatTaskRoundTrip(t *testing.T) {
	var stored []TaskRecord
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/sessions/sess_1/chat-tasks" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		switch r.Method {
		case http.MethodPost:
			var rec TaskRecord
			json.NewDecoder(r.Body).Decode(&rec)
			stored = append(stored, rec)
			w.WriteHeader(http.StatusCreated)
		case http.MethodGet:
			json.NewEncoder(w).Encode(stored)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	rec := TaskRecord{TaskID: "task_1", UserMessage: "hello", MessageBubbles: "[]", TaskMetadata: "{}"}
	if err := c.SaveChatTask(context.Background(), "sess_1", rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := c.ListChatTasks(context.Background(), "sess_1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0] != rec {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestArtifactEndpoints(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/artifacts/sess_1":
			json.NewEncoder(w).Encode([]ArtifactRecord{{Filename: "report.md", Size: 8, MimeType: "text/markdown"}})
		case r.Method == http.MethodPut && r.URL.Path == "/api/v1/artifacts/sess_1/report.md":
			body, _ := io.ReadAll(r.Body)
			if string(body) != "# Report" {
				t.Errorf("unexpected upload body %q", body)
			}
			w.WriteHeader(http.StatusCreated)
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/artifacts/sess_1/report.md":
			w.Header().Set("Content-Type", "text/markdown")
			io.WriteString(w, "# Report")
		case r.Method == http.MethodDelete && r.URL.Path == "/api/v1/artifacts/sess_1/report.md":
			w.WriteHeader(http.StatusOK)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	ctx := context.Background()

	if err := c.UploadArtifact(ctx, "sess_1", "report.md", "text/markdown", []byte("# Report")); err != nil {
		t.Fatalf("upload: %v", err)
	}

	arts, err := c.ListArtifacts(ctx, "sess_1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(arts) != 1 || arts[0].Filename != "report.md" {
		t.Fatalf("unexpected listing %+v", arts)
	}

	body, mime, err := c.FetchArtifact(ctx, "sess_1", "report.md")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	content, _ := io.ReadAll(body)
	body.Close()
	if string(content) != "# Report" || mime != "text/markdown" {
		t.Fatalf("unexpected content %q (%s)", content, mime)
	}

	if err := c.DeleteArtifact(ctx, "sess_1", "report.md"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if uri := c.ArtifactURI("sess_1", "report.md"); uri != srv.URL+"/api/v1/artifacts/sess_1/report.md" {
		t.Fatalf("unexpected uri %q", uri)
	}
}
