package stubgateway

import (
	"context"
	"errors"
	"testing"

	"github.com/dohr-michael/parley/internal/client"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertSession(ctx, "sess_1", ""); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.RenameSession(ctx, "sess_1", "research notes"); err != nil {
		t.Fatalf("rename: %v", err)
	}

	sess, err := s.GetSession(ctx, "sess_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if sess.Name != "research notes" {
		t.Fatalf("rename not applied: %+v", sess)
	}

	// Upsert with empty name must not clobber an assigned one.
	if err := s.UpsertSession(ctx, "sess_1", ""); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	sess, _ = s.GetSession(ctx, "sess_1")
	if sess.Name != "research notes" {
		t.Fatalf("name clobbered by upsert: %+v", sess)
	}

	if err := s.DeleteSession(ctx, "sess_1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetSession(ctx, "sess_1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestChatTaskUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := client.TaskRecord{TaskID: "task_1", UserMessage: "v1", MessageBubbles: "[]", TaskMetadata: "{}"}
	if err := s.SaveChatTask(ctx, "sess_1", rec); err != nil {
		t.Fatalf("save: %v", err)
	}
	rec.UserMessage = "v2"
	if err := s.SaveChatTask(ctx, "sess_1", rec); err != nil {
		t.Fatalf("resave: %v", err)
	}

	got, err := s.ListChatTasks(ctx, "sess_1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].UserMessage != "v2" {
		t.Fatalf("upsert did not replace: %+v", got)
	}
}

func TestArtifactVersioning(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v1, err := s.PutArtifact(ctx, "sess_1", "report.md", "text/markdown", "", []byte("first"))
	if err != nil {
		t.Fatalf("put v1: %v", err)
	}
	v2, err := s.PutArtifact(ctx, "sess_1", "report.md", "text/markdown", "", []byte("second"))
	if err != nil {
		t.Fatalf("put v2: %v", err)
	}
	if v1 != 1 || v2 != 2 {
		t.Fatalf("unexpected versions %d, %d", v1, v2)
	}

	content, mime, err := s.GetArtifact(ctx, "sess_1", "report.md", 0)
	if err != nil {
		t.Fatalf("get latest: %v", err)
	}
	if string(content) != "second" || mime != "text/markdown" {
		t.Fatalf("latest mismatch: %q (%s)", content, mime)
	}

	content, _, err = s.GetArtifact(ctx, "sess_1", "report.md", 1)
	if err != nil {
		t.Fatalf("get v1: %v", err)
	}
	if string(content) != "first" {
		t.Fatalf("v1 mismatch: %q", content)
	}

	list, err := s.ListArtifacts(ctx, "sess_1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Size != int64(len("second")) {
		t.Fatalf("listing must show latest version only: %+v", list)
	}

	if err := s.DeleteArtifact(ctx, "sess_1", "report.md"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, _, err := s.GetArtifact(ctx, "sess_1", "report.md", 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
