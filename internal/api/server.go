package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gorilla/mux"

	"github.com/roach88/tessera/internal/ir"
	"github.com/roach88/tessera/internal/snapshot"
)

// MaxUploadSize bounds multipart uploads.
const MaxUploadSize = 32 << 20

// Snapshots resolves the snapshot service of a room.
type Snapshots interface {
	Snapshots(room string) snapshot.Service
}

// SnapshotsFunc adapts a function to Snapshots.
type SnapshotsFunc func(room string) snapshot.Service

// Snapshots implements Snapshots.
func (f SnapshotsFunc) Snapshots(room string) snapshot.Service {
	return f(room)
}

// FileStore keeps uploaded files.
type FileStore interface {
	Put(ctx context.Context, room string, a ir.Attachment) (ir.FileMeta, error)
}

// DirFiles stores uploads under Root/<room>/<name>.
type DirFiles struct {
	Root    string
	BaseURL string
}

// Put implements FileStore.
func (d DirFiles) Put(_ context.Context, room string, a ir.Attachment) (ir.FileMeta, error) {
	name := filepath.Base(a.Name)
	dir := filepath.Join(d.Root, filepath.Base(room))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ir.FileMeta{}, fmt.Errorf("create upload dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), a.Data, 0o644); err != nil {
		return ir.FileMeta{}, fmt.Errorf("write upload: %w", err)
	}
	return ir.FileMeta{
		Name:     name,
		Size:     int64(len(a.Data)),
		MimeType: a.MimeType,
		URL:      d.BaseURL + "/" + filepath.Base(room) + "/" + name,
	}, nil
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithToken requires "Authorization: Bearer <token>" on every request.
// Requests without it get 403.
func WithToken(token string) ServerOption {
	return func(s *Server) {
		s.token = token
	}
}

// WithFiles enables the upload route.
func WithFiles(f FileStore) ServerOption {
	return func(s *Server) {
		s.files = f
	}
}

// WithServerLogger sets the server logger.
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = l
	}
}

// Server serves the snapshot and upload routes.
type Server struct {
	snapshots Snapshots
	files     FileStore
	token     string
	logger    *slog.Logger
}

// NewServer creates a server over the given snapshot backend.
func NewServer(snapshots Snapshots, opts ...ServerOption) *Server {
	s := &Server{snapshots: snapshots, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register mounts the routes on r.
func (s *Server) Register(r *mux.Router) {
	rooms := r.PathPrefix("/rooms/{room}").Subrouter()
	rooms.Use(s.authorize)
	rooms.HandleFunc("/snapshots", s.listSnapshots).Methods(http.MethodGet)
	rooms.HandleFunc("/snapshots", s.createSnapshot).Methods(http.MethodPost)
	rooms.HandleFunc("/snapshots/{id}", s.getSnapshot).Methods(http.MethodGet)
	rooms.HandleFunc("/snapshots/{id}", s.renameSnapshot).Methods(http.MethodPatch)
	rooms.HandleFunc("/snapshots/{id}", s.deleteSnapshot).Methods(http.MethodDelete)
	rooms.HandleFunc("/snapshots/{id}/apply", s.applySnapshot).Methods(http.MethodPost)
	if s.files != nil {
		rooms.HandleFunc("/files", s.upload).Methods(http.MethodPost)
	}
}

// Handler returns a router serving only this server's routes.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	s.Register(r)
	return r
}

func (s *Server) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" && r.Header.Get("Authorization") != "Bearer "+s.token {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) service(r *http.Request) snapshot.Service {
	return s.snapshots.Snapshots(mux.Vars(r)["room"])
}

type renameRequest struct {
	Intent string `json:"intent"`
}

func (s *Server) listSnapshots(w http.ResponseWriter, r *http.Request) {
	infos, err := s.service(r).List(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) createSnapshot(w http.ResponseWriter, r *http.Request) {
	var snap ir.Snapshot
	if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	created, err := s.service(r).Create(r.Context(), snap)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) getSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.service(r).Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) renameSnapshot(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.service(r).Rename(r.Context(), mux.Vars(r)["id"], req.Intent); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteSnapshot(w http.ResponseWriter, r *http.Request) {
	if err := s.service(r).Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) applySnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.service(r).Apply(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSize)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	meta, err := s.files.Put(r.Context(), mux.Vars(r)["room"], ir.Attachment{
		Name:     header.Filename,
		MimeType: header.Header.Get("Content-Type"),
		Size:     int64(len(data)),
		Data:     data,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, meta)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, snapshot.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, snapshot.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	default:
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}
