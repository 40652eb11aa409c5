package app

import (
	"context"
	"fmt"
	"strings"

	"booklend/pkg/auth"
	"booklend/pkg/domain"
	"booklend/pkg/store"
)

func normalizeCredentials(username, password string) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return "", domain.Validationf("username and password are required")
	}
	return username, nil
}

// AddUser registers a new account. A taken username is a conflict.
func (a *App) AddUser(ctx context.Context, username, password string) (domain.User, error) {
	username, err := normalizeCredentials(username, password)
	if err != nil {
		return domain.User{}, err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}
	u, err := a.store.CreateUser(ctx, domain.User{Username: username, PasswordHash: hash})
	logOutcome(ctx, "lend.user_added", err, "username", username)
	return u, err
}

// EnsureUser creates the account when it does not exist yet.
func (a *App) EnsureUser(ctx context.Context, username, password string) error {
	username, err := normalizeCredentials(username, password)
	if err != nil {
		return err
	}
	if _, ok, err := a.store.GetUserByName(ctx, username); err != nil {
		return err
	} else if ok {
		return nil
	}
	_, err = a.AddUser(ctx, username, password)
	if domain.KindOf(err) == domain.KindConflict {
		return nil
	}
	return err
}

// CheckUser reports whether the credentials match a stored account.
func (a *App) CheckUser(ctx context.Context, username, password string) (bool, error) {
	username, err := normalizeCredentials(username, password)
	if err != nil {
		return false, err
	}
	u, ok, err := a.store.GetUserByName(ctx, username)
	if err != nil {
		return false, err
	}
	return ok && auth.CheckPassword(password, u.PasswordHash), nil
}

// UserID resolves a username.
func (a *App) UserID(ctx context.Context, username string) (int64, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return 0, domain.Validationf("username is required")
	}
	u, ok, err := a.store.GetUserByName(ctx, username)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, domain.NotFoundf("user %q not found", username)
	}
	return u.ID, nil
}

// GetUser returns a user by id.
func (a *App) GetUser(ctx context.Context, id int64) (domain.User, error) {
	u, ok, err := a.store.GetUserByID(ctx, id)
	if err != nil {
		return domain.User{}, err
	}
	if !ok {
		return domain.User{}, domain.NotFoundf("user not found").WithID("user_id", id)
	}
	return u, nil
}

// ListUsers returns every user with the ids of the requests they made,
// derived from the request ledger.
func (a *App) ListUsers(ctx context.Context) ([]domain.UserSummary, error) {
	users, err := a.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	reqs, err := a.store.ListRequests(ctx, store.RequestFilter{})
	if err != nil {
		return nil, err
	}
	byUser := make(map[int64][]int64, len(users))
	for _, r := range reqs {
		byUser[r.UserID] = append(byUser[r.UserID], r.ID)
	}
	out := make([]domain.UserSummary, 0, len(users))
	for _, u := range users {
		ids := byUser[u.ID]
		if ids == nil {
			ids = []int64{}
		}
		out = append(out, domain.UserSummary{ID: u.ID, Username: u.Username, Requests: ids})
	}
	return out, nil
}

// UserAndBook resolves both ids, book first.
func (a *App) UserAndBook(ctx context.Context, userID, bookID int64) (domain.User, domain.Book, error) {
	book, err := a.GetBook(ctx, bookID)
	if err != nil {
		return domain.User{}, domain.Book{}, err
	}
	u, err := a.GetUser(ctx, userID)
	if err != nil {
		return domain.User{}, domain.Book{}, err
	}
	return u, book, nil
}
