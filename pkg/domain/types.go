package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// RequestStatus is the lifecycle state of a borrow request.
type RequestStatus int

const (
	RequestPending RequestStatus = iota
	RequestApproved
	RequestDenied
	// RequestReturned marks an approved request whose book has been handed back.
	RequestReturned
)

func (s RequestStatus) String() string {
	switch s {
	case RequestApproved:
		return "approved"
	case RequestDenied:
		return "denied"
	case RequestReturned:
		return "returned"
	default:
		return "pending"
	}
}

// Active reports whether the request currently holds its book.
func (s RequestStatus) Active() bool {
	return s == RequestApproved
}

// MarshalJSON keeps the client-facing tri-state: null while pending, true
// while approved, false once denied or returned.
func (s RequestStatus) MarshalJSON() ([]byte, error) {
	switch s {
	case RequestPending:
		return []byte("null"), nil
	case RequestApproved:
		return []byte("true"), nil
	default:
		return []byte("false"), nil
	}
}

// ParseRequestStatus maps a persisted state name back to a status.
func ParseRequestStatus(raw string) (RequestStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pending", "":
		return RequestPending, true
	case "approved":
		return RequestApproved, true
	case "denied":
		return RequestDenied, true
	case "returned":
		return RequestReturned, true
	default:
		return RequestPending, false
	}
}

type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// UserSummary is the public listing of a user with the ids of the requests
// the user has made.
type UserSummary struct {
	ID       int64   `json:"id"`
	Username string  `json:"username"`
	Requests []int64 `json:"requests"`
}

type Book struct {
	ID       int64           `json:"id"`
	Title    string          `json:"title"`
	Author   string          `json:"author"`
	ImageURL string          `json:"image_url"`
	Holders  json.RawMessage `json:"holders"`
	IsFree   bool            `json:"isFree"`
}

type Request struct {
	ID        int64         `json:"id"`
	UserID    int64         `json:"user_id"`
	BookID    int64         `json:"book_id"`
	BookTitle string        `json:"book_title,omitempty"`
	Status    RequestStatus `json:"status"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// MarshalJSON adds the explicit state name next to the tri-state status.
func (r Request) MarshalJSON() ([]byte, error) {
	type plain Request
	return json.Marshal(struct {
		plain
		State string `json:"state"`
	}{plain: plain(r), State: r.Status.String()})
}

type Return struct {
	ID         int64     `json:"id"`
	RequestID  int64     `json:"request_id"`
	UserID     int64     `json:"user_id"`
	BookID     int64     `json:"book_id"`
	IsReturned bool      `json:"is_returned"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}
