package handler

import (
	"encoding/json"
	"net/http"

	"collab-notes-server/internal/domain"
	"collab-notes-server/internal/middleware"
	"collab-notes-server/internal/service"
	"collab-notes-server/pkg/response"

	"github.com/gorilla/mux"
)

type NoteHandler struct {
	service *service.NoteService
}

func NewNoteHandler(service *service.NoteService) *NoteHandler {
	return &NoteHandler{
		service: service,
	}
}

func (h *NoteHandler) Create(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.GetIdentity(r)
	if !ok {
		response.Unauthorized(w, "Unauthorized")
		return
	}

	var req domain.CreateNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request payload")
		return
	}

	note, err := h.service.Create(r.Context(), *identity, &req)
	if err != nil {
		writeError(w, err, "Failed to create note")
		return
	}

	response.Created(w, note)
}

func (h *NoteHandler) List(w http.ResponseWriter, r *http.Request) {
	notes, err := h.service.List(r.Context())
	if err != nil {
		writeError(w, err, "Failed to list notes")
		return
	}

	response.Success(w, notes)
}

func (h *NoteHandler) Get(w http.ResponseWriter, r *http.Request) {
	note, err := h.service.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err, "Failed to load note")
		return
	}

	response.Success(w, note)
}

func (h *NoteHandler) Update(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.GetIdentity(r)
	if !ok {
		response.Unauthorized(w, "Unauthorized")
		return
	}

	var req domain.UpdateNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request payload")
		return
	}

	note, err := h.service.Update(r.Context(), *identity, mux.Vars(r)["id"], &req)
	if err != nil {
		writeError(w, err, "Failed to update note")
		return
	}

	response.Success(w, note)
}

func (h *NoteHandler) Delete(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.GetIdentity(r)
	if !ok {
		response.Unauthorized(w, "Unauthorized")
		return
	}

	if err := h.service.Remove(r.Context(), *identity, mux.Vars(r)["id"]); err != nil {
		writeError(w, err, "Failed to delete note")
		return
	}

	response.Message(w, http.StatusOK, "Note deleted successfully")
}

func (h *NoteHandler) History(w http.ResponseWriter, r *http.Request) {
	versions, err := h.service.History(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err, "Failed to list note versions")
		return
	}

	response.Success(w, versions)
}

func (h *NoteHandler) GetVersion(w http.ResponseWriter, r *http.Request) {
	version, err := h.service.GetVersion(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err, "Failed to load note version")
		return
	}

	response.Success(w, version)
}
