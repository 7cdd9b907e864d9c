package webchat

import "testing"

func TestConversationAppendAdvancesWatermarkMonotonically(t *testing.T) {
	conv := NewConversation("c1", TenantClaims{Env: "dev", Tenant: "acme"}, 10)

	first, err := conv.Append(Activity{Type: "message", Text: "hi"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if first.Watermark != 1 {
		t.Fatalf("expected watermark 1, got %d", first.Watermark)
	}

	second, err := conv.Append(Activity{Type: "message", Text: "again"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if second.Watermark != 2 {
		t.Fatalf("expected watermark 2, got %d", second.Watermark)
	}

	acts, wm := conv.Since(0)
	if wm != 2 || len(acts) != 2 {
		t.Fatalf("expected 2 activities and watermark 2, got %d activities watermark %d", len(acts), wm)
	}

	acts, wm = conv.Since(1)
	if wm != 2 || len(acts) != 1 || acts[0].Activity.Text != "again" {
		t.Fatalf("expected 1 activity since watermark 1, got %+v", acts)
	}
}

func TestConversationAppendRejectsOverBacklogCap(t *testing.T) {
	conv := NewConversation("c1", TenantClaims{Env: "dev", Tenant: "acme"}, 2)
	if _, err := conv.Append(Activity{Type: "message"}); err != nil {
		t.Fatalf("append 1: %v", err)
	}
	if _, err := conv.Append(Activity{Type: "message"}); err != nil {
		t.Fatalf("append 2: %v", err)
	}
	if _, err := conv.Append(Activity{Type: "message"}); err != ErrBacklogFull {
		t.Fatalf("expected ErrBacklogFull, got %v", err)
	}
}

func TestConversationEnsureDefaultsFillsMissingFields(t *testing.T) {
	conv := NewConversation("c1", TenantClaims{Env: "dev", Tenant: "acme"}, 10)
	stored, err := conv.Append(Activity{})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if stored.Activity.ID == "" {
		t.Error("expected an id to be assigned")
	}
	if stored.Activity.Type != "message" {
		t.Errorf("expected default type message, got %q", stored.Activity.Type)
	}
	if stored.Activity.Conversation == nil || stored.Activity.Conversation.ID != "c1" {
		t.Errorf("expected conversation id c1, got %+v", stored.Activity.Conversation)
	}
}

func TestConversationCloseIsTerminal(t *testing.T) {
	conv := NewConversation("c1", TenantClaims{Env: "dev", Tenant: "acme"}, 10)
	conv.Close()
	if conv.snapshotState() != StateClosed {
		t.Fatalf("expected closed state, got %s", conv.snapshotState())
	}
	if _, err := conv.Append(Activity{Type: "message"}); err != ErrConversationNotFound {
		t.Fatalf("expected append on closed conversation to fail, got %v", err)
	}
}
