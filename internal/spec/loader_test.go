package spec

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_BlocksFileURL(t *testing.T) {
	t.Parallel()
	_, err := Load(context.Background(), "file:///etc/hosts")
	if err == nil {
		t.Fatalf("expected error for file:// URL")
	}
	var se *Error
	if !errors.As(err, &se) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if se.Kind != InputError {
		t.Fatalf("expected InputError, got %v", se.Kind)
	}
}

func TestLoad_UnsupportedScheme(t *testing.T) {
	t.Parallel()
	_, err := Load(context.Background(), "ftp://example.com/spec.yaml")
	if !errors.Is(err, ErrInput) {
		t.Fatalf("expected ErrInput, got %v (%T)", err, err)
	}
}

func TestLoad_EmptyAndDirectory(t *testing.T) {
	t.Parallel()
	if _, err := Load(context.Background(), "  "); !errors.Is(err, ErrInput) {
		t.Fatalf("expected ErrInput for empty input, got %v", err)
	}
	if _, err := Load(context.Background(), t.TempDir()); !errors.Is(err, ErrInput) {
		t.Fatalf("expected ErrInput for directory, got %v", err)
	}
}

func TestLoad_LocalFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "items.yaml")
	if err := os.WriteFile(path, []byte(itemsDoc), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	m, err := Load(context.Background(), path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(m.Endpoints) != 2 {
		t.Fatalf("expected 2 endpoints, got %d", len(m.Endpoints))
	}
}

func TestLoad_SetsLocationOnParseErrors(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "swagger.yaml")
	content := "swagger: \"2.0\"\ninfo: {title: old, version: \"1\"}\npaths: {}\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := Load(context.Background(), path)
	if !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}
	var se *Error
	if !errors.As(err, &se) || se.Location != path {
		t.Fatalf("expected location %q, got %+v", path, se)
	}
}

func TestLoad_HTTP(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write([]byte(itemsDoc))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m, err := Load(ctx, srv.URL+"/openapi.yaml")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if m.Title != "Items API" {
		t.Fatalf("unexpected title %q", m.Title)
	}
}

func TestLoad_NetworkError(t *testing.T) {
	t.Parallel()
	// Unused port to provoke a quick network failure.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := Load(ctx, "http://127.0.0.1:1/spec.yaml")
	if !errors.Is(err, ErrInput) {
		t.Fatalf("expected ErrInput, got %v (%T)", err, err)
	}
}
