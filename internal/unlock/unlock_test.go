package unlock

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func serviceByName(t *testing.T, name string) Service {
	t.Helper()
	for _, svc := range Services {
		if svc.Name == name {
			return svc
		}
	}
	t.Fatalf("no service named %q", name)
	return Service{}
}

func TestChatGPTCheck(t *testing.T) {
	svc := serviceByName(t, "ChatGPT")
	tests := []struct {
		body string
		want bool
	}{
		{`{"error":"request is not allowed"}`, true},
		{`{"error":"Request Is Not Allowed"}`, true},
		{`request is not allowed ... disallowed isp`, false},
		{`welcome`, false},
	}
	for _, tt := range tests {
		if got := svc.check(200, tt.body); got != tt.want {
			t.Errorf("check(%q) = %v, want %v", tt.body, got, tt.want)
		}
	}
}

func TestClaudeCheck(t *testing.T) {
	svc := serviceByName(t, "Claude")
	tests := []struct {
		body string
		want bool
	}{
		{"fl=1\nloc=US\nip=1.2.3.4", true},
		{"fl=1\nloc=CN\nip=1.2.3.4", false},
		{"fl=1\nloc=hk\n", false},
		{"fl=1\nip=1.2.3.4", false},
	}
	for _, tt := range tests {
		if got := svc.check(200, tt.body); got != tt.want {
			t.Errorf("check(%q) = %v, want %v", tt.body, got, tt.want)
		}
	}
}

func TestGeminiCheck(t *testing.T) {
	svc := serviceByName(t, "Gemini")
	if !svc.check(200, "...45631641,null,true...") {
		t.Error("expected unlocked for availability marker")
	}
	if svc.check(200, "something else") {
		t.Error("expected locked without marker")
	}
}

func TestStatusOnlyChecks(t *testing.T) {
	for _, name := range []string{"Copilot", "YouTube"} {
		svc := serviceByName(t, name)
		if !svc.check(200, "") {
			t.Errorf("%s: expected unlocked on 200", name)
		}
		if svc.check(403, "") {
			t.Errorf("%s: expected locked on 403", name)
		}
	}
}

func TestCheckerSelectsServices(t *testing.T) {
	c := NewChecker([]string{"Claude", "NoSuchService"}, time.Second)
	if len(c.services) != 1 || c.services[0].Name != "Claude" {
		t.Fatalf("selected services = %+v", c.services)
	}

	all := NewChecker(nil, time.Second)
	if len(all.services) != len(Services) {
		t.Fatalf("empty selection should include all services, got %d", len(all.services))
	}
}

func TestCheckerNetworkFailureIsLocked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	srv.Close() // probe will fail to connect

	c := NewChecker([]string{"YouTube"}, time.Second)
	c.services[0].URL = srv.URL

	got := c.Check(context.Background(), srv.Client())
	if got["YouTube"] {
		t.Error("expected locked when probe cannot connect")
	}
}
