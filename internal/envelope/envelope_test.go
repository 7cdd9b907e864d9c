package envelope

import (
	"encoding/json"
	"testing"

	"github.com/greentic/gsm-gateway/internal/tenant"
)

func TestOutMessageValidateExactlyOne(t *testing.T) {
	ctx, _ := tenant.New("dev", "acme", "default", "", "")
	base := OutMessage{Ctx: ctx, Platform: PlatformSlack, ChatID: "c1", Kind: OutKindText}

	neither := base
	if err := neither.Validate(); err == nil {
		t.Error("expected error when neither text nor payload set")
	}

	withText := base
	withText.Text = "hi"
	if err := withText.Validate(); err != nil {
		t.Errorf("unexpected error with text set: %v", err)
	}

	both := withText
	both.Payload = json.RawMessage(`{"a":1}`)
	if err := both.Validate(); err == nil {
		t.Error("expected error when both text and payload set")
	}
}

func TestMessageEnvelopeBusRoundTrip(t *testing.T) {
	ctx, _ := tenant.New("dev", "acme", "default", "u1", "corr-1")
	env := MessageEnvelope{
		Ctx:      ctx,
		Platform: PlatformLocal,
		ChatID:   "c1",
		MsgID:    "m1",
		Text:     "hi",
		Metadata: map[string]string{},
	}
	data, err := MarshalBus(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got MessageEnvelope
	if err := UnmarshalBus(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ChatID != env.ChatID || got.MsgID != env.MsgID || got.Ctx.Tenant != env.Ctx.Tenant {
		t.Errorf("round trip mismatch: got %+v want %+v", got, env)
	}
}

func TestValidPlatform(t *testing.T) {
	if !ValidPlatform("slack") {
		t.Error("slack should be valid")
	}
	if ValidPlatform("myspace") {
		t.Error("myspace should not be valid")
	}
}

func TestIngressRequestToEnvelope(t *testing.T) {
	ctx, _ := tenant.New("dev", "acme", "default", "", "")
	req := IngressRequest{ChatID: "c1", UserID: "u1", Text: "hi"}
	env := req.ToEnvelope(ctx, "msg-1", PlatformLocal)
	if env.ChatID != "c1" || env.MsgID != "msg-1" || env.Platform != PlatformLocal {
		t.Errorf("unexpected envelope: %+v", env)
	}
	if env.Metadata == nil {
		t.Error("expected non-nil metadata map")
	}
}
