package httpserver

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"forumchat/internal/service"
)

// Deps is everything the HTTP surface delegates to.
type Deps struct {
	AppName     string
	CORSOrigins []string

	Identities *service.IdentityService
	Rooms      *service.RoomService
	Messages   *service.MessageService
	Threads    *service.ThreadService

	// Gateway serves websocket sessions at /ws/rooms/{roomID}.
	Gateway http.Handler
	// Ready reports backing store health for /health. Optional.
	Ready func(context.Context) error
}

// NewRouter constructs the main HTTP router and wires routes and middleware.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	// Middlewares
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"message": d.AppName + " API"})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if d.Ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := d.Ready(ctx); err != nil {
				log.Printf("health: %v", err)
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	// API routes; every one of them needs an identity. Timeouts do not
	// apply to the websocket route below.
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Use(AuthMiddleware(d.Identities))

		r.Get("/me", handleMe())
		r.Get("/forums", handleListForums(d.Rooms))

		r.Route("/rooms", func(r chi.Router) {
			r.Get("/", handleListRooms(d.Rooms))
			r.Post("/direct", handleCreateDirect(d.Rooms))
			r.Post("/group", handleCreateGroup(d.Rooms))

			r.Route("/{roomID}", func(r chi.Router) {
				r.Get("/", handleGetRoom(d.Rooms))
				r.Patch("/", handleUpdateRoom(d.Rooms))
				r.Post("/lock", handleSetRoomLocked(d.Rooms, true))
				r.Post("/unlock", handleSetRoomLocked(d.Rooms, false))
				r.Post("/read", handleMarkRead(d.Messages))
				r.Get("/messages", handleListMessages(d.Messages))
				r.Post("/messages", handleCreateMessage(d.Messages))
				r.Get("/threads", handleListThreads(d.Threads))
				r.Post("/threads", handleCreateThread(d.Threads))
			})
		})

		r.Route("/messages/{messageID}", func(r chi.Router) {
			r.Get("/", handleGetMessage(d.Messages))
			r.Patch("/", handleEditMessage(d.Messages))
			r.Delete("/", handleDeleteMessage(d.Messages))
			r.Get("/receipts", handleListReceipts(d.Messages))
		})

		r.Route("/threads/{threadID}", func(r chi.Router) {
			r.Post("/pin", handleSetThreadPinned(d.Threads, true))
			r.Post("/unpin", handleSetThreadPinned(d.Threads, false))
			r.Post("/lock", handleSetThreadLocked(d.Threads, true))
			r.Post("/unlock", handleSetThreadLocked(d.Threads, false))
		})
	})

	// WebSocket endpoint; authenticates itself before upgrading.
	if d.Gateway != nil {
		r.Get("/ws/rooms/{roomID}", d.Gateway.ServeHTTP)
	}

	return r
}

// writeJSON is a small helper to send JSON responses.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}
