package httpserver

import (
	"net/http"

	"forumchat/internal/domain"
	"forumchat/internal/service"
)

type threadCreateRequest struct {
	Title string `json:"title"`
}

func handleCreateThread(threads *service.ThreadService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID, err := pathID(r, "roomID")
		if err != nil {
			writeError(w, err)
			return
		}
		var req threadCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}
		t, err := threads.Create(r.Context(), CurrentIdentity(r), roomID, req.Title)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, t)
	}
}

func handleListThreads(threads *service.ThreadService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID, err := pathID(r, "roomID")
		if err != nil {
			writeError(w, err)
			return
		}
		list, err := threads.List(r.Context(), CurrentIdentity(r), roomID)
		if err != nil {
			writeError(w, err)
			return
		}
		if list == nil {
			list = []*domain.Thread{}
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func handleSetThreadPinned(threads *service.ThreadService, pinned bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		threadID, err := pathID(r, "threadID")
		if err != nil {
			writeError(w, err)
			return
		}
		t, err := threads.SetPinned(r.Context(), CurrentIdentity(r), threadID, pinned)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, t)
	}
}

func handleSetThreadLocked(threads *service.ThreadService, locked bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		threadID, err := pathID(r, "threadID")
		if err != nil {
			writeError(w, err)
			return
		}
		t, err := threads.SetLocked(r.Context(), CurrentIdentity(r), threadID, locked)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, t)
	}
}
