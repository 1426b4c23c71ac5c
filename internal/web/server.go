// Package web serves the local JSON API used by the app shell: sync status,
// manual sync, decks and reviews.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/cors"

	"github.com/conorfennell/cardsync/internal/auth"
	"github.com/conorfennell/cardsync/internal/blob"
	"github.com/conorfennell/cardsync/internal/domain"
	"github.com/conorfennell/cardsync/internal/fsrs"
	"github.com/conorfennell/cardsync/internal/storage"
	"github.com/conorfennell/cardsync/internal/sync"
)

// Syncer runs and reports sync cycles.
type Syncer interface {
	RunFullSync(ctx context.Context) sync.Report
	State() sync.State
	LastReport() *sync.Report
}

// Store is the part of the local store the API reads.
type Store interface {
	EnsureUser(ctx context.Context, cloudID, email string) (*domain.User, error)
	ListDecks(ctx context.Context, userID int64) ([]domain.Deck, error)
}

// Reviewer schedules reviews.
type Reviewer interface {
	Next(ctx context.Context, userID int64) (*domain.Card, error)
	Review(ctx context.Context, cardID int64, rating fsrs.Rating, spent time.Duration) (*domain.Card, error)
}

// Deps are the server's collaborators. Online may be nil when no
// connectivity monitor runs.
type Deps struct {
	Engine   Syncer
	Store    Store
	Study    Reviewer
	Sessions interface {
		Current(ctx context.Context) (*auth.Session, error)
	}
	Pending interface {
		HasPendingChanges(ctx context.Context) bool
	}
	Online interface{ Get() bool }
	// Blobs, when set, serves uploaded card images under /blobs/.
	Blobs interface {
		Open(objectPath string) ([]byte, error)
	}

	AllowedOrigins []string
	Logger         *slog.Logger
}

// Server holds the dependencies for the HTTP server.
type Server struct {
	Deps
	router *http.ServeMux
}

// NewServer creates and configures a new server.
func NewServer(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	s := &Server{Deps: d, router: http.NewServeMux()}
	s.routes()
	return s
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler wraps the server with the configured CORS policy.
func (s *Server) Handler() http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: s.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Accept", "Origin"},
		MaxAge:         86400,
	}).Handler(s)
}

// routes sets up the routing for the server.
func (s *Server) routes() {
	s.router.HandleFunc("GET /status", s.handleGetStatus())
	s.router.HandleFunc("POST /sync", s.handlePostSync())
	s.router.HandleFunc("GET /decks", s.handleGetDecks())
	s.router.HandleFunc("GET /review/next", s.handleGetNextReview())
	s.router.HandleFunc("POST /review/{id}", s.handlePostReview())
	if s.Blobs != nil {
		s.router.HandleFunc("GET /blobs/{path...}", s.handleGetBlob())
	}
}

type status struct {
	State      sync.State   `json:"state"`
	Pending    bool         `json:"pending"`
	Online     *bool        `json:"online,omitempty"`
	LastReport *sync.Report `json:"last_report,omitempty"`
}

// handleGetStatus reports the engine state and the pending-changes flag.
func (s *Server) handleGetStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := status{State: s.Engine.State(), LastReport: s.Engine.LastReport()}
		if s.Pending != nil {
			st.Pending = s.Pending.HasPendingChanges(r.Context())
		}
		if s.Online != nil {
			online := s.Online.Get()
			st.Online = &online
		}
		s.writeJSON(w, http.StatusOK, st)
	}
}

// handlePostSync runs a cycle in the foreground and returns its report.
func (s *Server) handlePostSync() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := s.Engine.RunFullSync(r.Context())
		code := http.StatusOK
		if report.Skipped == sync.SkipInProgress {
			code = http.StatusConflict
		}
		s.writeJSON(w, code, report)
	}
}

func (s *Server) handleGetDecks() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.user(w, r)
		if !ok {
			return
		}
		decks, err := s.Store.ListDecks(r.Context(), user.ID)
		if err != nil {
			s.Logger.Error("Error listing decks", "error", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if decks == nil {
			decks = []domain.Deck{}
		}
		s.writeJSON(w, http.StatusOK, decks)
	}
}

// handleGetNextReview returns the next due card, 204 when none is due.
func (s *Server) handleGetNextReview() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.user(w, r)
		if !ok {
			return
		}
		card, err := s.Study.Next(r.Context(), user.ID)
		if err != nil {
			s.Logger.Error("Error getting next due card", "error", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if card == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		s.writeJSON(w, http.StatusOK, card)
	}
}

type reviewRequest struct {
	Rating  string `json:"rating"`
	Seconds int    `json:"seconds"`
}

// handlePostReview applies a rating to a card and returns the rescheduled card.
func (s *Server) handlePostReview() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil {
			http.Error(w, "Invalid card ID", http.StatusBadRequest)
			return
		}
		var req reviewRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		rating, err := fsrs.ParseRating(req.Rating)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		card, err := s.Study.Review(r.Context(), id, rating, time.Duration(req.Seconds)*time.Second)
		if errors.Is(err, storage.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		if err != nil {
			s.Logger.Error("Error reviewing card", "card_id", id, "error", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		s.writeJSON(w, http.StatusOK, card)
	}
}

// handleGetBlob serves an uploaded image.
func (s *Server) handleGetBlob() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := s.Blobs.Open(r.PathValue("path"))
		if errors.Is(err, blob.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", http.DetectContentType(data))
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		_, _ = w.Write(data)
	}
}

// user resolves the signed-in user's local row, answering 401 when there is
// no session.
func (s *Server) user(w http.ResponseWriter, r *http.Request) (*domain.User, bool) {
	session, err := s.Sessions.Current(r.Context())
	if err != nil {
		s.Logger.Warn("Failed to resolve session", "error", err)
	}
	if session == nil {
		http.Error(w, "Not signed in", http.StatusUnauthorized)
		return nil, false
	}
	user, err := s.Store.EnsureUser(r.Context(), session.UserID, session.Email)
	if err != nil {
		s.Logger.Error("Error resolving local user", "user_id", session.UserID, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return nil, false
	}
	return user, true
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Logger.Warn("Failed to write response", "error", err)
	}
}
