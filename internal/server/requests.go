package server

import (
	"encoding/json"
	"net/http"

	"booklend/pkg/domain"
)

type createRequestBody struct {
	UserID int64 `json:"userId"`
	BookID int64 `json:"bookId"`
}

type updateRequestStatusBody struct {
	RequestID int64           `json:"requestId"`
	Status    json.RawMessage `json:"status"`
}

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var body createRequestBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req, err := s.app.CreateRequest(r.Context(), body.UserID, body.BookID)
	if err != nil {
		writeAppError(w, r, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "Request created successfully",
		"request": req,
	})
}

func (s *Server) handleUpdateRequestStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var body updateRequestStatusBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	approve, ok := parseBool(body.Status)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid status value")
		return
	}
	if body.RequestID <= 0 {
		writeAppError(w, r, domain.Validationf("requestId is required"), http.StatusBadRequest)
		return
	}
	req, book, err := s.app.SetRequestStatus(r.Context(), body.RequestID, approve)
	if err != nil {
		writeAppError(w, r, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Request status updated successfully",
		"request": req,
		"book":    book,
	})
}

func (s *Server) handleRequests(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	reqs, err := s.app.ListAllRequests(r.Context())
	if err != nil {
		writeAppError(w, r, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, reqs)
}

// /user_requests_by_id/{id}
func (s *Server) handleUserRequestsByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	id, ok := pathID(r, "/user_requests_by_id/")
	if !ok {
		notFound(w, "not found")
		return
	}
	reqs, err := s.app.ListRequestsForUser(r.Context(), id)
	if err != nil {
		writeAppError(w, r, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, reqs)
}

// /user_requests/{id}
func (s *Server) handleUserRequestIDs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	id, ok := pathID(r, "/user_requests/")
	if !ok {
		notFound(w, "not found")
		return
	}
	ids, err := s.app.UserRequestIDs(r.Context(), id)
	if err != nil {
		writeAppError(w, r, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, ids)
}

// /book_requests/{id}
func (s *Server) handleBookRequests(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	id, ok := pathID(r, "/book_requests/")
	if !ok {
		notFound(w, "not found")
		return
	}
	reqs, err := s.app.ListRequestsForBook(r.Context(), id)
	if err != nil {
		writeAppError(w, r, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, reqs)
}
