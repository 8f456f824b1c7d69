package webfetch

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/haasonsaas/parrot/internal/agent"
)

type fakeResolver map[string][]string

func (f fakeResolver) LookupIPAddr(_ context.Context, host string) ([]net.IPAddr, error) {
	ips, ok := f[host]
	if !ok {
		return nil, errors.New("no such host")
	}
	addrs := make([]net.IPAddr, 0, len(ips))
	for _, ip := range ips {
		addrs = append(addrs, net.IPAddr{IP: net.ParseIP(ip)})
	}
	return addrs, nil
}

func TestValidateURL(t *testing.T) {
	resolver := fakeResolver{
		"example.com":  {"93.184.216.34"},
		"internal.lan": {"10.0.0.5"},
		"mixed.test":   {"93.184.216.34", "127.0.0.1"},
	}
	tests := []struct {
		url     string
		blocked bool
	}{
		{"https://example.com/page", false},
		{"http://unresolvable.test/", false},
		{"ftp://example.com/file", true},
		{"http://localhost:8080/", true},
		{"http://app.localhost/", true},
		{"http://127.0.0.1/", true},
		{"http://169.254.169.254/latest/meta-data", true},
		{"http://[::1]/", true},
		{"http://internal.lan/", true},
		{"http://mixed.test/", true},
		{"http:///nohost", true},
	}
	for _, tt := range tests {
		_, err := ValidateURL(context.Background(), resolver, tt.url)
		if blocked := errors.Is(err, ErrBlockedURL); blocked != tt.blocked {
			t.Errorf("ValidateURL(%q) blocked = %v (err %v), want %v", tt.url, blocked, err, tt.blocked)
		}
	}
}

const samplePage = `<!doctype html>
<html><head><title>  Parrot   Facts </title><style>body{color:red}</style></head>
<body>
<nav>Home | About</nav>
<article>
<h1>Parrots</h1>
<p>Parrots are   <strong>clever</strong> birds.</p>
<script>alert("x")</script>
</article>
<footer>copyright</footer>
</body></html>`

func newPageServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/page":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte(samplePage))
		case "/plain":
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write([]byte("  just text  "))
		case "/image":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte{0x89, 'P', 'N', 'G'})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetcher_ExtractsReadableContent(t *testing.T) {
	srv := newPageServer(t)
	fetcher := NewFetcher(Config{AllowPrivate: true}, srv.Client())

	page, err := fetcher.Fetch(context.Background(), srv.URL+"/page")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if page.Title != "Parrot Facts" {
		t.Errorf("title = %q", page.Title)
	}
	if page.Text != "Parrots\nParrots are clever birds." {
		t.Errorf("text = %q", page.Text)
	}
	if !strings.Contains(page.Markdown, "# Parrots") || !strings.Contains(page.Markdown, "**clever**") {
		t.Errorf("markdown = %q", page.Markdown)
	}
	for _, unwanted := range []string{"alert", "Home | About", "copyright", "color:red"} {
		if strings.Contains(page.Markdown, unwanted) || strings.Contains(page.Text, unwanted) {
			t.Errorf("content still contains %q", unwanted)
		}
	}
}

func TestFetcher_Errors(t *testing.T) {
	srv := newPageServer(t)
	fetcher := NewFetcher(Config{AllowPrivate: true}, srv.Client())

	if _, err := fetcher.Fetch(context.Background(), srv.URL+"/missing"); err == nil || !strings.Contains(err.Error(), "HTTP 404") {
		t.Errorf("expected HTTP 404 error, got %v", err)
	}
	if _, err := fetcher.Fetch(context.Background(), srv.URL+"/image"); !errors.Is(err, errUnsupportedType) {
		t.Errorf("expected unsupported type, got %v", err)
	}

	guarded := NewFetcher(Config{}, srv.Client())
	if _, err := guarded.Fetch(context.Background(), srv.URL+"/page"); !errors.Is(err, ErrBlockedURL) {
		t.Errorf("expected loopback server to be blocked, got %v", err)
	}
}

func TestTool_Execute(t *testing.T) {
	srv := newPageServer(t)
	tool := NewTool(NewFetcher(Config{AllowPrivate: true, MaxChars: 12}, srv.Client()))

	out, err := tool.Execute(context.Background(), json.RawMessage(`{"url":"`+srv.URL+`/page","extract_mode":"text"}`), &agent.Invocation{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	var got result
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if got.ExtractMode != "text" || got.Title != "Parrot Facts" {
		t.Errorf("unexpected result: %+v", got)
	}
	if !got.Truncated || got.Content != "Parrots\nP..." {
		t.Errorf("expected truncated content, got %q (truncated=%v)", got.Content, got.Truncated)
	}

	plain, err := tool.Execute(context.Background(), json.RawMessage(`{"url":"`+srv.URL+`/plain"}`), nil)
	if err != nil {
		t.Fatalf("Execute plain: %v", err)
	}
	if !strings.Contains(plain, `"content":"just text"`) || !strings.Contains(plain, `"extract_mode":"markdown"`) {
		t.Errorf("unexpected plain result: %s", plain)
	}
}

func TestTool_ErrorKinds(t *testing.T) {
	tool := NewTool(NewFetcher(Config{}, nil))
	tests := []struct {
		args string
		kind agent.ToolErrorKind
	}{
		{`{"url":""}`, agent.ToolErrorInvalidArguments},
		{`not json`, agent.ToolErrorInvalidArguments},
		{`{"url":"http://127.0.0.1:1/"}`, agent.ToolErrorForbidden},
	}
	for _, tt := range tests {
		_, err := tool.Execute(context.Background(), json.RawMessage(tt.args), nil)
		toolErr, ok := agent.GetToolError(err)
		if !ok || toolErr.Kind != tt.kind {
			t.Errorf("Execute(%s) error = %v, want kind %s", tt.args, err, tt.kind)
		}
	}
}
