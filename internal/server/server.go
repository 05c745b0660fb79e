// Package server exposes parsing and generation over HTTP. Uploaded
// documents and generated archives live in a store.Store.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mark3labs/specforge/internal/emitter"
	"github.com/mark3labs/specforge/internal/logging"
	"github.com/mark3labs/specforge/internal/pipeline"
	"github.com/mark3labs/specforge/internal/spec"
	"github.com/mark3labs/specforge/internal/store"
)

// GeneratorFactory builds the Generator for one run. Every run gets its own
// so retry and model-validation state is never shared between requests.
type GeneratorFactory func(ctx context.Context) (pipeline.Generator, error)

type Config struct {
	Store        *store.Store
	NewGenerator GeneratorFactory
	// UploadTTL and ArchiveTTL default to store.DefaultTTL.
	UploadTTL  time.Duration
	ArchiveTTL time.Duration
	// Pipeline options applied to every run before the request's own.
	Pipeline []pipeline.Option
	Logger   logging.Logger
}

type Server struct {
	cfg Config
	log logging.Logger
	mux *http.ServeMux
}

func New(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("server: store is required")
	}
	if cfg.NewGenerator == nil {
		return nil, errors.New("server: generator factory is required")
	}
	s := &Server{cfg: cfg, log: logging.OrNop(cfg.Logger).With("component", "server"), mux: http.NewServeMux()}
	s.mux.HandleFunc("GET /healthz", s.health)
	s.mux.HandleFunc("POST /v1/specs", s.upload)
	s.mux.HandleFunc("GET /v1/specs/{id}", s.describe)
	s.mux.HandleFunc("POST /v1/specs/{id}/generate", s.generate)
	s.mux.HandleFunc("GET /v1/downloads/{id}", s.download)
	return s, nil
}

// Handler returns the routed handler wrapped with panic recovery and access
// logging.
func (s *Server) Handler() http.Handler {
	return s.recovery(s.access(s.mux))
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.log.Info("listening", "addr", addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type errorBody struct {
	Error    string            `json:"error"`
	Category pipeline.Category `json:"category,omitempty"`
	Hint     string            `json:"hint,omitempty"`
}

type specBody struct {
	ID       string       `json:"id"`
	Name     string       `json:"name,omitempty"`
	Expires  time.Time    `json:"expires"`
	Summary  spec.Summary `json:"summary"`
	Warnings []string     `json:"warnings,omitempty"`
}

type generateRequest struct {
	Strategy    string `json:"strategy,omitempty"`
	Language    string `json:"language,omitempty"`
	ToolName    string `json:"toolName,omitempty"`
	PackageName string `json:"packageName,omitempty"`
}

type generateBody struct {
	DownloadID string           `json:"downloadId"`
	ToolName   string           `json:"toolName"`
	Language   string           `json:"language"`
	Endpoints  string           `json:"endpoints"`
	Expires    time.Time        `json:"expires"`
	Report     *pipeline.Report `json:"report"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, spec.MaxDocumentSize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("read body: %w", err))
		return
	}
	if len(raw) > spec.MaxDocumentSize {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("%w: document exceeds %d bytes", spec.ErrInput, spec.MaxDocumentSize))
		return
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: empty document", spec.ErrInput))
		return
	}

	m, err := spec.Parse(raw, spec.WithValidation(r.URL.Query().Get("validate") == "true"), spec.WithLogger(s.log))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	name := r.URL.Query().Get("name")
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	key, err := s.cfg.Store.Put(raw, s.cfg.UploadTTL, name, ct)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	b, err := s.cfg.Store.Get(key)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.log.Info("document stored", "id", key, "endpoints", len(m.Endpoints))
	writeJSON(w, http.StatusCreated, specBody{ID: key, Name: name, Expires: b.Expires, Summary: m.Summary(), Warnings: m.Warnings})
}

func (s *Server) describe(w http.ResponseWriter, r *http.Request) {
	b, m, ok := s.loadSpec(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, specBody{ID: b.Key, Name: b.Name, Expires: b.Expires, Summary: m.Summary(), Warnings: m.Warnings})
}

func (s *Server) generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if r.ContentLength != 0 {
		dec := json.NewDecoder(io.LimitReader(r.Body, 64<<10))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
			return
		}
	}
	strategy, err := pipeline.ParseStrategy(req.Strategy)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	_, m, ok := s.loadSpec(w, r)
	if !ok {
		return
	}
	cm := spec.Normalize(m)

	gen, err := s.cfg.NewGenerator(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	opts := append([]pipeline.Option{}, s.cfg.Pipeline...)
	opts = append(opts, pipeline.WithStrategy(strategy), pipeline.WithLogger(s.log))
	if req.Language != "" {
		opts = append(opts, pipeline.WithLanguage(req.Language))
	}
	orch, err := pipeline.New(gen, opts...)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	out, err := orch.Run(r.Context(), cm)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	res, err := emitter.Build(cm, out, emitter.Options{ToolName: req.ToolName, PackageName: req.PackageName})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	var archive bytes.Buffer
	if err := emitter.WriteZip(&archive, res); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	key, err := s.cfg.Store.Put(archive.Bytes(), s.cfg.ArchiveTTL, res.ToolName+".zip", "application/zip")
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	b, err := s.cfg.Store.Get(key)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.log.Info("package generated", "download", key, "tool", res.ToolName, "endpoints", out.Report.EndpointSummary())
	writeJSON(w, http.StatusOK, generateBody{
		DownloadID: key,
		ToolName:   res.ToolName,
		Language:   res.Language,
		Endpoints:  out.Report.EndpointSummary(),
		Expires:    b.Expires,
		Report:     out.Report,
	})
}

func (s *Server) download(w http.ResponseWriter, r *http.Request) {
	b, err := s.cfg.Store.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	ct := b.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Length", strconv.Itoa(len(b.Data)))
	if b.Name != "" {
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": b.Name}))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b.Data)
}

// loadSpec fetches and parses the stored document named by the {id} path
// value, writing the error response itself when it fails.
func (s *Server) loadSpec(w http.ResponseWriter, r *http.Request) (*store.Blob, *spec.APIModel, bool) {
	b, err := s.cfg.Store.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return nil, nil, false
	}
	m, err := spec.Parse(b.Data, spec.WithLogger(s.log))
	if err != nil {
		writeError(w, statusFor(err), err)
		return nil, nil, false
	}
	return b, m, true
}

// statusFor maps an error onto a response status by its category.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrFull):
		return http.StatusInsufficientStorage
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	}
	switch pipeline.Categorize(err) {
	case pipeline.CategoryInput:
		return http.StatusUnprocessableEntity
	case pipeline.CategoryCredentials:
		return http.StatusBadGateway
	case pipeline.CategoryTransient:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, status int, err error) {
	body := errorBody{Error: err.Error()}
	if c := pipeline.Categorize(err); c != pipeline.CategoryUnknown {
		body.Category = c
		body.Hint = c.Hint()
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func (s *Server) recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error("handler panic", "path", r.URL.Path, "panic", fmt.Sprint(rec))
				writeError(w, http.StatusInternalServerError, fmt.Errorf("internal error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) access(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		if strings.HasPrefix(r.URL.Path, "/healthz") {
			return
		}
		s.log.Debug("request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
	})
}
