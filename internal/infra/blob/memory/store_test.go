package memory

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"tomscore/internal/blob/core"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()
	if s.Driver() != core.DriverMemory {
		t.Fatalf("unexpected driver %s", s.Driver())
	}
	info, err := s.Put(ctx, "proposals/1/acceptance.json", strings.NewReader(`{"a":1}`), core.PutOptions{ContentType: "application/json", Metadata: map[string]string{"proposal": "1"}})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != 7 || info.ETag == "" {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := s.Put(ctx, "proposals/1/acceptance.json", strings.NewReader("x"), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	got, rc, err := s.Get(ctx, "proposals/1/acceptance.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != `{"a":1}` || got.Metadata["proposal"] != "1" {
		t.Fatalf("unexpected blob %q %+v", body, got)
	}
	_, _ = s.Put(ctx, "proposals/2/acceptance.json", strings.NewReader("{}"), core.PutOptions{})
	_, _ = s.Put(ctx, "other", strings.NewReader("{}"), core.PutOptions{})
	list, err := s.List(ctx, "proposals/")
	if err != nil || len(list) != 2 || list[0].Key != "proposals/1/acceptance.json" {
		t.Fatalf("unexpected list %+v %v", list, err)
	}
	if ok, _ := s.Delete(ctx, "other"); !ok {
		t.Fatalf("expected delete to report existing blob")
	}
	if ok, _ := s.Delete(ctx, "other"); ok {
		t.Fatalf("second delete must report missing")
	}
	if _, err := s.Head(ctx, "other"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, _, err := s.Get(ctx, "other"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
