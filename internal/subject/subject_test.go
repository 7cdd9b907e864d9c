package subject

import "testing"

func TestIngressSubjectDefaults(t *testing.T) {
	n := NewNamer("", "", "")
	got, err := n.IngressSubject("dev", "acme", "default", "local")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "greentic.messaging.ingress.dev.acme.default.local"
	if got != want {
		t.Errorf("got %q want %q", got, want)
	}
}

func TestIngressSubjectEmptyTeamDefaults(t *testing.T) {
	n := NewNamer("", "", "")
	got, err := n.IngressSubject("dev", "acme", "", "slack")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "greentic.messaging.ingress.dev.acme.default.slack"
	if got != want {
		t.Errorf("got %q want %q", got, want)
	}
}

func TestIngressSubjectEmptyTenantRejected(t *testing.T) {
	n := NewNamer("", "", "")
	if _, err := n.IngressSubject("dev", "", "default", "slack"); err == nil {
		t.Error("expected error for empty tenant")
	}
}

func TestIngressSubjectEmptyEnvDefaultsToDev(t *testing.T) {
	n := NewNamer("", "", "")
	got, err := n.IngressSubject("", "acme", "default", "slack")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "greentic.messaging.ingress.dev.acme.default.slack"
	if got != want {
		t.Errorf("got %q want %q", got, want)
	}
}

func TestIngressSubjectRoundTrip(t *testing.T) {
	cases := []ParsedIngress{
		{Env: "dev", Tenant: "acme", Team: "default", Platform: "local"},
		{Env: "prod", Tenant: "globex", Team: "sales", Platform: "slack"},
	}
	n := NewNamer("", "", "")
	for _, c := range cases {
		subj, err := n.IngressSubject(c.Env, c.Tenant, c.Team, c.Platform)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got, ok := n.ParseIngress(subj)
		if !ok {
			t.Fatalf("failed to parse %q", subj)
		}
		if got != c {
			t.Errorf("round trip mismatch: got %+v want %+v", got, c)
		}
	}
}

func TestEgressOutSubject(t *testing.T) {
	n := NewNamer("", "", "")
	got, err := n.EgressOutSubject("acme", "slack")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "greentic.messaging.egress.out.acme.slack" {
		t.Errorf("got %q", got)
	}
}

func TestEgressWildcard(t *testing.T) {
	n := NewNamer("", "", "")
	if got := n.EgressWildcard("dev"); got != "greentic.messaging.egress.dev.>" {
		t.Errorf("got %q", got)
	}
}

func TestDLQAndReplaySubject(t *testing.T) {
	dlq, err := DLQSubject("acme", "egress")
	if err != nil || dlq != "dlq.acme.egress" {
		t.Errorf("got %q err %v", dlq, err)
	}
	replay, err := ReplaySubject("acme", "egress")
	if err != nil || replay != "replay.acme.egress" {
		t.Errorf("got %q err %v", replay, err)
	}
}

func TestCustomPrefixes(t *testing.T) {
	n := NewNamer("custom.ingress", "custom.egress", "custom.egress.out")
	got, err := n.IngressSubject("dev", "acme", "default", "local")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "custom.ingress.dev.acme.default.local" {
		t.Errorf("got %q", got)
	}
}

func TestSubjectSanitisation(t *testing.T) {
	n := NewNamer("", "", "")
	got, err := n.IngressSubject("dev", "acme corp", "default", "local")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "greentic.messaging.ingress.dev.acme-corp.default.local" {
		t.Errorf("got %q", got)
	}
}
