package httpserver

import (
	"net/http"

	"forumchat/internal/domain"
	"forumchat/internal/service"
)

type messageCreateRequest struct {
	Content   string             `json:"content"`
	Kind      domain.MessageKind `json:"kind"`
	ThreadID  *int64             `json:"thread_id"`
	ReplyToID *int64             `json:"reply_to_id"`
}

func handleCreateMessage(msgSvc *service.MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID, err := pathID(r, "roomID")
		if err != nil {
			writeError(w, err)
			return
		}
		var req messageCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}

		msg, err := msgSvc.Send(r.Context(), CurrentIdentity(r), service.MessageCreateInput{
			RoomID:    roomID,
			Content:   req.Content,
			Kind:      req.Kind,
			ThreadID:  req.ThreadID,
			ReplyToID: req.ReplyToID,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, msg)
	}
}

func handleListMessages(msgSvc *service.MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID, err := pathID(r, "roomID")
		if err != nil {
			writeError(w, err)
			return
		}
		limit, err := queryInt(r, "limit", 0)
		if err != nil {
			writeError(w, err)
			return
		}
		offset, err := queryInt(r, "offset", 0)
		if err != nil {
			writeError(w, err)
			return
		}

		msgs, err := msgSvc.History(r.Context(), CurrentIdentity(r), roomID, limit, offset)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, msgs)
	}
}

func handleGetMessage(msgSvc *service.MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		messageID, err := pathID(r, "messageID")
		if err != nil {
			writeError(w, err)
			return
		}
		msg, err := msgSvc.Get(r.Context(), CurrentIdentity(r), messageID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, msg)
	}
}

type messageEditRequest struct {
	Content string `json:"content"`
}

func handleEditMessage(msgSvc *service.MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		messageID, err := pathID(r, "messageID")
		if err != nil {
			writeError(w, err)
			return
		}
		var req messageEditRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}
		msg, err := msgSvc.Edit(r.Context(), CurrentIdentity(r), messageID, req.Content)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, msg)
	}
}

// handleDeleteMessage soft-deletes; ?hard=true removes the row (admin only).
func handleDeleteMessage(msgSvc *service.MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		messageID, err := pathID(r, "messageID")
		if err != nil {
			writeError(w, err)
			return
		}
		if r.URL.Query().Get("hard") == "true" {
			if err := msgSvc.HardDelete(r.Context(), CurrentIdentity(r), messageID); err != nil {
				writeError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
		msg, err := msgSvc.Delete(r.Context(), CurrentIdentity(r), messageID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, msg)
	}
}

func handleListReceipts(msgSvc *service.MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		messageID, err := pathID(r, "messageID")
		if err != nil {
			writeError(w, err)
			return
		}
		receipts, err := msgSvc.Receipts(r.Context(), CurrentIdentity(r), messageID)
		if err != nil {
			writeError(w, err)
			return
		}
		if receipts == nil {
			receipts = []*domain.ReadReceipt{}
		}
		writeJSON(w, http.StatusOK, receipts)
	}
}
