package egress

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/greentic/gsm-gateway/internal/envelope"
	"github.com/greentic/gsm-gateway/internal/errs"
)

func TestHTTPRunnerClientInvokeClassifiesStatusCodes(t *testing.T) {
	cases := []struct {
		name       string
		statusCode int
		body       string
		wantKind   errs.Kind
	}{
		{"success", http.StatusOK, `{"ctx":{},"platform":"local","chat_id":"c1","kind":"text","text":"hi","metadata":{}}`, ""},
		{"permanent", http.StatusBadRequest, `bad request`, errs.KindPermanent},
		{"transient", http.StatusInternalServerError, `boom`, errs.KindTransient},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.statusCode)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			client := NewHTTPRunnerClient(srv.URL, "", 2*time.Second, nil)
			out := envelope.OutMessage{Platform: envelope.PlatformLocal, ChatID: "c1", Kind: envelope.OutKindText, Text: "hi", Metadata: map[string]string{}}

			_, err := client.Invoke(context.Background(), out, "local")
			if tc.wantKind == "" {
				if err != nil {
					t.Fatalf("expected success, got error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected an error")
			}
			if got := errs.Classify(err); got != tc.wantKind {
				t.Fatalf("expected kind %s, got %s", tc.wantKind, got)
			}
		})
	}
}

func TestLoggingRunnerClientPassesThrough(t *testing.T) {
	client := NewLoggingRunnerClient(nil)
	out := envelope.OutMessage{Platform: envelope.PlatformLocal, ChatID: "c1", Kind: envelope.OutKindText, Text: "hi", Metadata: map[string]string{}}

	result, err := client.Invoke(context.Background(), out, "local")
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if result.ChatID != out.ChatID || result.Text != out.Text {
		t.Fatalf("expected passthrough result, got %+v", result)
	}
}
