package stealth

import "testing"

func TestUserAgentPoolRandomFromPool(t *testing.T) {
	p := NewUserAgentPool("a", "b")
	for i := 0; i < 20; i++ {
		if ua := p.Random(); ua != "a" && ua != "b" {
			t.Fatalf("Random returned %q", ua)
		}
	}
	if NewUserAgentPool().Len() != len(defaultUserAgents) {
		t.Error("default pool not loaded")
	}
}

func TestBrowserHeaders(t *testing.T) {
	h := BrowserHeaders("ua-1")
	if h.Get("User-Agent") != "ua-1" || h.Get("Accept-Language") == "" {
		t.Errorf("headers = %v", h)
	}
}
