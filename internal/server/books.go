package server

import "net/http"

func (s *Server) handleBooks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	books, err := s.app.ListBooks(r.Context())
	if err != nil {
		writeAppError(w, r, err, http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, books)
}

func (s *Server) handleSearchBooks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	books, err := s.app.SearchBooks(r.Context(), r.URL.Query().Get("query"))
	if err != nil {
		writeAppError(w, r, err, http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, books)
}

// /book_title/{id}
func (s *Server) handleBookTitle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	id, ok := pathID(r, "/book_title/")
	if !ok {
		notFound(w, "not found")
		return
	}
	title, err := s.app.BookTitle(r.Context(), id)
	if err != nil {
		writeAppError(w, r, err, http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"title": title})
}
