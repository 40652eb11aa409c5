package server

import (
	"net/http"

	"booklend/pkg/domain"
)

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func boolPtr(v bool) *bool { return &v }

func (s *Server) handleCheckUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, "check_user") {
		return
	}
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	valid, err := s.app.CheckUser(r.Context(), req.Username, req.Password)
	if err != nil {
		status, resp := appError(r, err, http.StatusBadRequest)
		resp.Valid = boolPtr(false)
		writeErrorResponse(w, status, resp)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": valid})
}

func (s *Server) handleAddUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, "add_user") {
		return
	}
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := s.app.AddUser(r.Context(), req.Username, req.Password); err != nil {
		status, resp := appError(r, err, http.StatusConflict)
		resp.Message = boolPtr(false)
		writeErrorResponse(w, status, resp)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]bool{"message": true})
}

func (s *Server) handleGetUserID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	id, err := s.app.UserID(r.Context(), r.URL.Query().Get("username"))
	if err != nil {
		writeAppError(w, r, err, http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"user_id": id})
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	users, err := s.app.ListUsers(r.Context())
	if err != nil {
		writeAppError(w, r, err, http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleUserAndBook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	bookID, okBook := queryID(r, "book_id")
	userID, okUser := queryID(r, "user_id")
	if !okBook || !okUser {
		writeAppError(w, r, domain.Validationf("book_id and user_id must be positive integers"), http.StatusBadRequest)
		return
	}
	user, book, err := s.app.UserAndBook(r.Context(), userID, bookID)
	if err != nil {
		writeAppError(w, r, err, http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"book_title": book.Title,
		"username":   user.Username,
	})
}
