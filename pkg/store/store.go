package store

import (
	"context"

	"booklend/pkg/domain"
)

// RequestFilter narrows request listings. Zero fields match everything.
type RequestFilter struct {
	UserID int64
	BookID int64
}

// Store defines persistence operations for users, the catalog and the
// request/return ledgers.
type Store interface {
	// users
	CreateUser(ctx context.Context, u domain.User) (domain.User, error)
	GetUserByName(ctx context.Context, username string) (domain.User, bool, error)
	GetUserByID(ctx context.Context, id int64) (domain.User, bool, error)
	ListUsers(ctx context.Context) ([]domain.User, error)

	// books
	InsertBooks(ctx context.Context, books []domain.Book) error
	// InsertBooksIfEmpty inserts books only when the catalog has none, as one
	// unit safe against concurrent callers. It reports whether it inserted.
	InsertBooksIfEmpty(ctx context.Context, books []domain.Book) (bool, error)
	BookCount(ctx context.Context) (int64, error)
	GetBook(ctx context.Context, id int64) (domain.Book, bool, error)
	ListBooks(ctx context.Context) ([]domain.Book, error)
	SearchBooks(ctx context.Context, query string) ([]domain.Book, error)

	// ledgers
	GetRequest(ctx context.Context, id int64) (domain.Request, bool, error)
	ListRequests(ctx context.Context, filter RequestFilter) ([]domain.Request, error)
	ListReturns(ctx context.Context) ([]domain.Return, error)

	// Atomic runs fn as one all-or-nothing unit. Any error from fn discards
	// every write made through the Tx.
	Atomic(ctx context.Context, fn func(Tx) error) error

	Close() error
}

// Tx is the view of the store inside an Atomic unit.
type Tx interface {
	GetUser(id int64) (domain.User, bool, error)

	// LockBook reads a book and holds it against concurrent writers until
	// the unit ends.
	LockBook(id int64) (domain.Book, bool, error)
	SetBookFree(id int64, free bool) error

	GetRequest(id int64) (domain.Request, bool, error)
	InsertRequest(r domain.Request) (domain.Request, error)
	SetRequestStatus(id int64, status domain.RequestStatus) error
	ListRequests() ([]domain.Request, error)

	GetReturn(id int64) (domain.Return, bool, error)
	FindOpenReturn(requestID, userID, bookID int64) (domain.Return, bool, error)
	InsertReturn(r domain.Return) (domain.Return, error)
	MarkReturned(id int64) error
}
