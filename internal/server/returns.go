package server

import (
	"encoding/json"
	"net/http"
)

type returnBookBody struct {
	RequestID int64 `json:"request_id"`
	UserID    int64 `json:"user_id"`
	BookID    int64 `json:"book_id"`
}

type updateReturnStatusBody struct {
	ReturnID   int64           `json:"return_id"`
	IsReturned json.RawMessage `json:"is_returned"`
}

func (s *Server) handleReturnBook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var body returnBookBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ret, book, err := s.app.InitiateReturn(r.Context(), body.RequestID, body.UserID, body.BookID)
	if err != nil {
		writeAppError(w, r, err, http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "Return created successfully",
		"return":  ret,
		"book":    book,
	})
}

func (s *Server) handleUpdateReturnStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w)
		return
	}
	var body updateReturnStatusBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	isReturned, ok := parseBool(body.IsReturned)
	if !ok {
		writeError(w, http.StatusBadRequest, "is_returned must be a boolean")
		return
	}
	ret, book, err := s.app.ConfirmReturn(r.Context(), body.ReturnID, isReturned)
	if err != nil {
		writeAppError(w, r, err, http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Return status updated successfully",
		"return":  ret,
		"book":    book,
	})
}

func (s *Server) handleReturns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	returns, err := s.app.ListReturns(r.Context())
	if err != nil {
		writeAppError(w, r, err, http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, returns)
}
