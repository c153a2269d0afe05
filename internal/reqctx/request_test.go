package reqctx

import (
	"testing"

	"github.com/riftproxy/llmgw/internal/keys"
)

func TestManager_Revert_UndoesHeadersAndBody(t *testing.T) {
	req := &Request{Headers: map[string]string{"Authorization": "orig"}, Body: []byte("orig-body")}
	mgr := NewManager(req)

	mgr.SetHeader("Authorization", "Bearer sk-live")
	mgr.SetHeader("X-New", "added")
	mgr.RemoveHeader("Authorization")
	mgr.ReplaceBody([]byte("mutated-body"))

	if req.PendingMutations() == 0 {
		t.Fatalf("expected mutations recorded before revert")
	}

	mgr.Revert()

	if req.PendingMutations() != 0 {
		t.Fatalf("expected empty mutation log after revert, got %d", req.PendingMutations())
	}
	if req.Headers["Authorization"] != "orig" {
		t.Fatalf("expected Authorization restored to %q, got %q", "orig", req.Headers["Authorization"])
	}
	if _, ok := req.Headers["X-New"]; ok {
		t.Fatalf("expected X-New to be removed after revert")
	}
	if string(req.Body) != "orig-body" {
		t.Fatalf("expected body restored, got %q", string(req.Body))
	}
}

func TestManager_SetKey_NotReverted(t *testing.T) {
	req := &Request{}
	mgr := NewManager(req)

	mgr.SetHeader("X", "y")
	k := keys.NewSimpleKey(keys.ServiceOpenAI, "sk-test", "gpt4o")
	mgr.SetKey(k)

	mgr.Revert()

	if req.Key == nil || req.Key.Hash != k.Hash {
		t.Fatalf("expected key assignment to survive revert, got %+v", req.Key)
	}
}

func TestRequest_Revert_ReversesOrderOfMultipleSetsToSameHeader(t *testing.T) {
	req := &Request{Headers: map[string]string{}}
	mgr := NewManager(req)

	mgr.SetHeader("A", "1")
	mgr.SetHeader("A", "2")
	mgr.SetHeader("A", "3")

	mgr.Revert()

	if _, ok := req.Headers["A"]; ok {
		t.Fatalf("expected header A absent after reverting all three sets, got %q", req.Headers["A"])
	}
}
