package httpserver

import (
	"net/http"

	"forumchat/internal/domain"
	"forumchat/internal/service"
)

func handleListRooms(rooms *service.RoomService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := rooms.ListRooms(r.Context(), CurrentIdentity(r))
		if err != nil {
			writeError(w, err)
			return
		}
		if list == nil {
			list = []*domain.RoomSummary{}
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func handleListForums(rooms *service.RoomService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := rooms.ListForums(r.Context(), CurrentIdentity(r))
		if err != nil {
			writeError(w, err)
			return
		}
		if list == nil {
			list = []*domain.Room{}
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func handleGetRoom(rooms *service.RoomService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID, err := pathID(r, "roomID")
		if err != nil {
			writeError(w, err)
			return
		}
		detail, err := rooms.GetRoom(r.Context(), CurrentIdentity(r), roomID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, detail)
	}
}

type directCreateRequest struct {
	IdentityID int64 `json:"identity_id"`
}

func handleCreateDirect(rooms *service.RoomService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req directCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}
		if req.IdentityID <= 0 {
			writeError(w, domain.Invalid("identity_id is required"))
			return
		}
		room, err := rooms.CreateDirect(r.Context(), CurrentIdentity(r), req.IdentityID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, room)
	}
}

type groupCreateRequest struct {
	Name                string  `json:"name"`
	ParticipantIDs      []int64 `json:"participant_ids"`
	AutoDeleteAfterDays int     `json:"auto_delete_after_days"`
}

func handleCreateGroup(rooms *service.RoomService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req groupCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}
		room, err := rooms.CreateGroup(r.Context(), CurrentIdentity(r), service.GroupCreateInput{
			Name:                req.Name,
			ParticipantIDs:      req.ParticipantIDs,
			AutoDeleteAfterDays: req.AutoDeleteAfterDays,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, room)
	}
}

func handleSetRoomLocked(rooms *service.RoomService, locked bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID, err := pathID(r, "roomID")
		if err != nil {
			writeError(w, err)
			return
		}
		room, err := rooms.SetLocked(r.Context(), CurrentIdentity(r), roomID, locked)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, room)
	}
}

type roomUpdateRequest struct {
	AutoDeleteAfterDays *int `json:"auto_delete_after_days"`
}

func handleUpdateRoom(rooms *service.RoomService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID, err := pathID(r, "roomID")
		if err != nil {
			writeError(w, err)
			return
		}
		var req roomUpdateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}
		if req.AutoDeleteAfterDays == nil {
			writeError(w, domain.Invalid("auto_delete_after_days is required"))
			return
		}
		room, err := rooms.SetRetention(r.Context(), CurrentIdentity(r), roomID, *req.AutoDeleteAfterDays)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, room)
	}
}

type markReadRequest struct {
	MessageID *int64 `json:"message_id"`
}

func handleMarkRead(msgSvc *service.MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID, err := pathID(r, "roomID")
		if err != nil {
			writeError(w, err)
			return
		}
		var req markReadRequest
		if r.ContentLength != 0 {
			if err := decodeJSON(r, &req); err != nil {
				writeError(w, err)
				return
			}
		}
		state, err := msgSvc.MarkRead(r.Context(), CurrentIdentity(r), roomID, req.MessageID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, state)
	}
}
