package app

import (
	"context"

	"booklend/pkg/domain"
	"booklend/pkg/store"
)

func lockBook(tx store.Tx, id int64) (domain.Book, error) {
	b, ok, err := tx.LockBook(id)
	if err != nil {
		return domain.Book{}, err
	}
	if !ok {
		return domain.Book{}, domain.NotFoundf("book not found").WithID("book_id", id)
	}
	return b, nil
}

func getRequest(tx store.Tx, id int64) (domain.Request, error) {
	r, ok, err := tx.GetRequest(id)
	if err != nil {
		return domain.Request{}, err
	}
	if !ok {
		return domain.Request{}, domain.NotFoundf("request not found").WithID("request_id", id)
	}
	return r, nil
}

// CreateRequest records a pending borrow request for a free book.
func (a *App) CreateRequest(ctx context.Context, userID, bookID int64) (domain.Request, error) {
	if userID <= 0 || bookID <= 0 {
		return domain.Request{}, domain.Validationf("userId and bookId are required")
	}
	var created domain.Request
	err := a.mutate(ctx, func(tx store.Tx) (bool, error) {
		if _, ok, err := tx.GetUser(userID); err != nil {
			return false, err
		} else if !ok {
			return false, domain.NotFoundf("user not found").WithID("user_id", userID)
		}
		book, err := lockBook(tx, bookID)
		if err != nil {
			return false, err
		}
		if !book.IsFree {
			return false, domain.Conflictf("book is not free").WithID("book_id", bookID)
		}
		created, err = tx.InsertRequest(domain.Request{UserID: userID, BookID: bookID, Status: domain.RequestPending})
		if err != nil {
			return false, err
		}
		created.BookTitle = book.Title
		return true, nil
	})
	logOutcome(ctx, "lend.request_created", err, "request_id", created.ID, "user_id", userID, "book_id", bookID)
	return created, err
}

// SetRequestStatus approves or denies a pending request. Approval takes the
// book and fails with Conflict when it is already taken; denial leaves the
// book untouched.
func (a *App) SetRequestStatus(ctx context.Context, requestID int64, approve bool) (domain.Request, domain.Book, error) {
	var (
		req  domain.Request
		book domain.Book
	)
	err := a.mutate(ctx, func(tx store.Tx) (bool, error) {
		current, err := getRequest(tx, requestID)
		if err != nil {
			return false, err
		}
		if book, err = lockBook(tx, current.BookID); err != nil {
			return false, err
		}
		// Re-read under the book lock.
		if req, err = getRequest(tx, requestID); err != nil {
			return false, err
		}
		if req.Status != domain.RequestPending {
			return false, domain.Conflictf("request is already %s", req.Status).WithID("request_id", requestID)
		}
		if !approve {
			req.Status = domain.RequestDenied
			return true, tx.SetRequestStatus(requestID, domain.RequestDenied)
		}
		if !book.IsFree {
			return false, domain.Conflictf("approve: book is already taken").WithID("book_id", book.ID)
		}
		if err := tx.SetRequestStatus(requestID, domain.RequestApproved); err != nil {
			return false, err
		}
		if err := tx.SetBookFree(book.ID, false); err != nil {
			return false, err
		}
		req.Status = domain.RequestApproved
		book.IsFree = false
		return true, nil
	})
	logOutcome(ctx, "lend.request_status_set", err, "request_id", requestID, "approve", approve, "book_id", book.ID)
	if err != nil {
		return domain.Request{}, domain.Book{}, err
	}
	return req, book, nil
}

// GetRequest returns one request.
func (a *App) GetRequest(ctx context.Context, id int64) (domain.Request, error) {
	r, ok, err := a.store.GetRequest(ctx, id)
	if err != nil {
		return domain.Request{}, err
	}
	if !ok {
		return domain.Request{}, domain.NotFoundf("request not found").WithID("request_id", id)
	}
	return r, nil
}

// ListAllRequests returns every request.
func (a *App) ListAllRequests(ctx context.Context) ([]domain.Request, error) {
	return a.store.ListRequests(ctx, store.RequestFilter{})
}

// ListRequestsForUser returns the requests made by a user.
func (a *App) ListRequestsForUser(ctx context.Context, userID int64) ([]domain.Request, error) {
	if _, err := a.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return a.store.ListRequests(ctx, store.RequestFilter{UserID: userID})
}

// UserRequestIDs returns only the ids of a user's requests.
func (a *App) UserRequestIDs(ctx context.Context, userID int64) ([]int64, error) {
	reqs, err := a.ListRequestsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(reqs))
	for _, r := range reqs {
		ids = append(ids, r.ID)
	}
	return ids, nil
}

// ListRequestsForBook returns the requests targeting a book.
func (a *App) ListRequestsForBook(ctx context.Context, bookID int64) ([]domain.Request, error) {
	if _, err := a.GetBook(ctx, bookID); err != nil {
		return nil, err
	}
	return a.store.ListRequests(ctx, store.RequestFilter{BookID: bookID})
}
