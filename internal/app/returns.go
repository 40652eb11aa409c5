package app

import (
	"context"

	"booklend/pkg/domain"
	"booklend/pkg/store"
)

// InitiateReturn hands an approved request's book back. The return record,
// the request closing and the book freeing commit as one unit.
func (a *App) InitiateReturn(ctx context.Context, requestID, userID, bookID int64) (domain.Return, domain.Book, error) {
	if requestID <= 0 || userID <= 0 || bookID <= 0 {
		return domain.Return{}, domain.Book{}, domain.Validationf("request_id, user_id and book_id are required")
	}
	var (
		ret  domain.Return
		book domain.Book
	)
	err := a.mutate(ctx, func(tx store.Tx) (bool, error) {
		req, err := getRequest(tx, requestID)
		if err != nil {
			return false, err
		}
		if req.UserID != userID {
			return false, domain.Forbiddenf("request does not belong to this user").
				WithID("request_id", requestID).WithID("user_id", userID)
		}
		if req.BookID != bookID {
			return false, domain.Forbiddenf("request is for a different book").
				WithID("request_id", requestID).WithID("book_id", bookID)
		}
		if book, err = lockBook(tx, bookID); err != nil {
			return false, err
		}
		if open, ok, err := tx.FindOpenReturn(requestID, userID, bookID); err != nil {
			return false, err
		} else if ok {
			return false, domain.Conflictf("return already submitted").
				WithID("request_id", requestID).WithID("return_id", open.ID)
		}
		// Re-read under the book lock.
		if req, err = getRequest(tx, requestID); err != nil {
			return false, err
		}
		if req.Status != domain.RequestApproved {
			return false, domain.Conflictf("request is %s, nothing to return", req.Status).WithID("request_id", requestID)
		}
		ret, err = tx.InsertReturn(domain.Return{RequestID: requestID, UserID: userID, BookID: bookID})
		if err != nil {
			return false, err
		}
		if err := tx.SetRequestStatus(requestID, domain.RequestReturned); err != nil {
			return false, err
		}
		if err := tx.SetBookFree(bookID, true); err != nil {
			return false, err
		}
		book.IsFree = true
		return true, nil
	})
	logOutcome(ctx, "lend.return_initiated", err, "return_id", ret.ID, "request_id", requestID, "user_id", userID, "book_id", bookID)
	if err != nil {
		return domain.Return{}, domain.Book{}, err
	}
	return ret, book, nil
}

// ConfirmReturn finalizes a return. An unknown return or book is NotFound
// before isReturned=false is rejected. Confirming an already finalized
// return, or one whose book is already free, succeeds without side effects
// on the book.
func (a *App) ConfirmReturn(ctx context.Context, returnID int64, isReturned bool) (domain.Return, domain.Book, error) {
	if returnID <= 0 {
		return domain.Return{}, domain.Book{}, domain.Validationf("return_id is required")
	}
	var (
		ret  domain.Return
		book domain.Book
	)
	err := a.mutate(ctx, func(tx store.Tx) (bool, error) {
		var (
			ok  bool
			err error
		)
		ret, ok, err = tx.GetReturn(returnID)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, domain.NotFoundf("return not found").WithID("return_id", returnID)
		}
		if book, err = lockBook(tx, ret.BookID); err != nil {
			return false, err
		}
		if !isReturned {
			return false, domain.Validationf("is_returned must be true to confirm a return").WithID("return_id", returnID)
		}
		changed := false
		if !ret.IsReturned {
			if err := tx.MarkReturned(returnID); err != nil {
				return false, err
			}
			ret.IsReturned = true
			changed = true
		}
		if book.IsFree {
			return changed, nil
		}
		// Only release the book when it is still held under this return's request.
		req, ok, err := tx.GetRequest(ret.RequestID)
		if err != nil {
			return false, err
		}
		if !ok || req.Status != domain.RequestApproved || req.BookID != book.ID {
			return changed, nil
		}
		if err := tx.SetRequestStatus(req.ID, domain.RequestReturned); err != nil {
			return false, err
		}
		if err := tx.SetBookFree(book.ID, true); err != nil {
			return false, err
		}
		book.IsFree = true
		return true, nil
	})
	logOutcome(ctx, "lend.return_confirmed", err, "return_id", returnID, "book_id", book.ID)
	if err != nil {
		return domain.Return{}, domain.Book{}, err
	}
	return ret, book, nil
}

// ListReturns returns every return record.
func (a *App) ListReturns(ctx context.Context) ([]domain.Return, error) {
	return a.store.ListReturns(ctx)
}
