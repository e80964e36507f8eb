package fetch

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFetch(t *testing.T) {
	var gotMethod, gotAuth, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotAuth = r.Header.Get("Authorization")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	result, err := Fetch(context.Background(), srv.URL, Options{
		RoundTripper: http.DefaultTransport,
		Method:       http.MethodPost,
		Headers:      []string{"Authorization: Bearer token"},
		Body:         []byte(`{"ip":"8.8.8.8"}`),
	})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	if result.StatusCode() != http.StatusAccepted {
		t.Errorf("StatusCode() = %d, want %d", result.StatusCode(), http.StatusAccepted)
	}
	if string(result.Body) != `{"ok":true}` {
		t.Errorf("Body = %q", result.Body)
	}
	if gotMethod != http.MethodPost {
		t.Errorf("method = %s, want POST", gotMethod)
	}
	if gotAuth != "Bearer token" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer token")
	}
	if gotBody != `{"ip":"8.8.8.8"}` {
		t.Errorf("body = %q", gotBody)
	}
}

func TestFetchDirectTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("direct"))
	}))
	defer srv.Close()

	// An empty transport config dials directly.
	result, err := Fetch(context.Background(), srv.URL, Options{})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if string(result.Body) != "direct" {
		t.Errorf("Body = %q, want %q", result.Body, "direct")
	}
}

func TestFetchInvalidHeader(t *testing.T) {
	_, err := Fetch(context.Background(), "http://127.0.0.1:1", Options{
		RoundTripper: http.DefaultTransport,
		Headers:      []string{"not a header"},
	})
	if err == nil {
		t.Fatal("expected an error for a malformed header line")
	}
}

func TestNewTransportRejectsUnknownScheme(t *testing.T) {
	if _, err := NewTransport("bogus://host:1"); err == nil {
		t.Fatal("expected an error for an unknown transport scheme")
	}
}

func TestResultStatusCodeNil(t *testing.T) {
	var r *Result
	if r.StatusCode() != 0 {
		t.Errorf("StatusCode() on nil result = %d, want 0", r.StatusCode())
	}
}
