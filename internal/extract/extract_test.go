package extract

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"argus/internal/decision"
)

func TestExtractor_Extract_PrefersMainContent(t *testing.T) {
	testHTML := `<!DOCTYPE html>
<html>
<head><title>Test</title></head>
<body>
  <nav>Home | About</nav>
  <article>
    <h1>Headline</h1>
    <p>First paragraph of the real story.</p>
    <p>Second paragraph with more detail.</p>
  </article>
  <footer>Copyright 2026</footer>
</body>
</html>`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(testHTML))
	}))
	defer server.Close()

	e := New()
	text, html, err := e.Extract(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if html != testHTML {
		t.Error("raw html was not preserved")
	}
	if !strings.Contains(text, "Headline") || !strings.Contains(text, "First paragraph") {
		t.Errorf("expected article text in output, got %q", text)
	}
	if strings.Contains(text, "Home | About") || strings.Contains(text, "Copyright") {
		t.Errorf("expected nav/footer chrome stripped, got %q", text)
	}
}

func TestExtractor_Extract_FallsBackToBody(t *testing.T) {
	testHTML := `<html><body><p>No semantic container here.</p></body></html>`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(testHTML))
	}))
	defer server.Close()

	e := New()
	text, _, err := e.Extract(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if !strings.Contains(text, "No semantic container here.") {
		t.Errorf("expected body fallback text, got %q", text)
	}
}

func TestExtractor_Extract_AccessDenied(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	e := New()
	_, _, err := e.Extract(context.Background(), server.URL)
	if !errors.Is(err, decision.ErrAccessDenied) {
		t.Errorf("expected ErrAccessDenied, got %v", err)
	}
}

func TestExtractor_Extract_NonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	e := New()
	_, _, err := e.Extract(context.Background(), server.URL)
	if err == nil {
		t.Fatal("expected an error for a 500 response")
	}
	if errors.Is(err, decision.ErrAccessDenied) {
		t.Error("a 500 should not be classified as access-denied")
	}
}

func TestPlainText_CollapsesExcessBlankLines(t *testing.T) {
	html := `<article><p>One</p><p>Two</p><p>Three</p></article>`
	text, err := plainText(html)
	if err != nil {
		t.Fatalf("plainText failed: %v", err)
	}
	if strings.Contains(text, "\n\n\n") {
		t.Errorf("expected collapsed newlines, got %q", text)
	}
}
