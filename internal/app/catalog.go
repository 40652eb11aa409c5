package app

import (
	"context"
	"strings"

	"booklend/pkg/domain"
)

// GetBook returns a book or NotFound.
func (a *App) GetBook(ctx context.Context, id int64) (domain.Book, error) {
	b, ok, err := a.store.GetBook(ctx, id)
	if err != nil {
		return domain.Book{}, err
	}
	if !ok {
		return domain.Book{}, domain.NotFoundf("book not found").WithID("book_id", id)
	}
	return b, nil
}

// BookTitle returns the title of a book.
func (a *App) BookTitle(ctx context.Context, id int64) (string, error) {
	b, err := a.GetBook(ctx, id)
	if err != nil {
		return "", err
	}
	return b.Title, nil
}

// ListBooks returns the whole catalog.
func (a *App) ListBooks(ctx context.Context) ([]domain.Book, error) {
	return a.store.ListBooks(ctx)
}

// SearchBooks matches title or author, or the id for numeric queries.
// A blank query matches nothing.
func (a *App) SearchBooks(ctx context.Context, query string) ([]domain.Book, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []domain.Book{}, nil
	}
	return a.store.SearchBooks(ctx, query)
}
