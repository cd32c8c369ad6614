package service

import (
	"context"
	"testing"
	"time"
)

func TestMemoryDraftStoreRoundTrip(t *testing.T) {
	store := NewMemoryDraftStore()
	ctx := context.Background()

	draft := AnswerDraft{
		"q1": {Text: "4"},
		"q2": {Image: "data:image/jpeg;base64,/9j/4AAQ"},
	}
	if err := store.Set(ctx, "sub-1", draft, time.Hour); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, err := store.Get(ctx, "sub-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got["q1"].Text != "4" || got["q2"].Image != draft["q2"].Image {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	// 覆盖写入是整体替换
	if err := store.Set(ctx, "sub-1", AnswerDraft{"q1": {Text: "2"}}, time.Hour); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, _ = store.Get(ctx, "sub-1")
	if len(got) != 1 || got["q1"].Text != "2" {
		t.Fatalf("overwrite should replace whole draft: %+v", got)
	}
}

func TestMemoryDraftStoreMissingKey(t *testing.T) {
	store := NewMemoryDraftStore()

	got, err := store.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("missing key should yield empty draft, got %+v", got)
	}
}

func TestMemoryDraftStoreDelete(t *testing.T) {
	store := NewMemoryDraftStore()
	ctx := context.Background()

	if err := store.Set(ctx, "sub-1", AnswerDraft{"q1": {Text: "x"}}, time.Hour); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.Delete(ctx, "sub-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, _ := store.Get(ctx, "sub-1")
	if len(got) != 0 {
		t.Fatalf("deleted draft should be empty, got %+v", got)
	}
}
