package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestAPIKey(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		header string
		query  string
		want   int
	}{
		{name: "matching header", key: "secret", header: "secret", want: http.StatusOK},
		{name: "matching query", key: "secret", query: "secret", want: http.StatusOK},
		{name: "missing", key: "secret", want: http.StatusUnauthorized},
		{name: "wrong", key: "secret", header: "guess", want: http.StatusUnauthorized},
		{name: "prefix only", key: "secret", header: "sec", want: http.StatusUnauthorized},
		{name: "disabled", key: "", want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/api/web/chat"
			if tt.query != "" {
				target += "?api_key=" + tt.query
			}
			req := httptest.NewRequest(http.MethodPost, target, nil)
			if tt.header != "" {
				req.Header.Set(APIKeyHeader, tt.header)
			}
			rr := httptest.NewRecorder()
			APIKey(tt.key)(okHandler).ServeHTTP(rr, req)
			if rr.Code != tt.want {
				t.Fatalf("expected status %d, got %d", tt.want, rr.Code)
			}
		})
	}
}

func TestCORSCredentialsOnlyForExplicitOrigin(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://chat.example.com")

	rr := httptest.NewRecorder()
	CORS([]string{"*"})(okHandler).ServeHTTP(rr, req)
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://chat.example.com" {
		t.Fatalf("expected echoed origin, got %q", got)
	}
	if rr.Header().Get("Access-Control-Allow-Credentials") != "" {
		t.Fatal("wildcard match must not allow credentials")
	}

	rr = httptest.NewRecorder()
	CORS([]string{"https://chat.example.com"})(okHandler).ServeHTTP(rr, req)
	if rr.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatal("explicit origin should allow credentials")
	}
}

func TestCORSPreflight(t *testing.T) {
	tests := []struct {
		name       string
		origin     string
		wantOrigin string
	}{
		{name: "allowed", origin: "https://chat.example.com", wantOrigin: "https://chat.example.com"},
		{name: "disallowed", origin: "https://other.example.com", wantOrigin: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodOptions, "/api/web/chat", nil)
			req.Header.Set("Origin", tt.origin)
			req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			rr := httptest.NewRecorder()

			called := false
			next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true })
			CORS([]string{"https://chat.example.com/"})(next).ServeHTTP(rr, req)

			if rr.Code != http.StatusNoContent || called {
				t.Fatalf("preflight should short-circuit with 204, got %d called=%v", rr.Code, called)
			}
			if got := rr.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Fatalf("expected allow origin %q, got %q", tt.wantOrigin, got)
			}
		})
	}
}

func TestCORSPlainOptionsReachesHandler(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/api/web/chat", nil)
	rr := httptest.NewRecorder()

	called := false
	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true })
	CORS([]string{"*"})(next).ServeHTTP(rr, req)

	if !called {
		t.Fatal("OPTIONS without a preflight header should reach the handler")
	}
}
