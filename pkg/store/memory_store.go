package store

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"booklend/pkg/domain"
)

// MemoryStore keeps all records in-process. Atomic units work on a copy of
// the state and swap it in only when the unit succeeds.
type MemoryStore struct {
	mu    sync.RWMutex
	state memoryState
}

type memoryState struct {
	users     map[int64]domain.User
	usernames map[string]int64 // username -> user ID
	books     map[int64]domain.Book
	requests  map[int64]domain.Request
	returns   map[int64]domain.Return

	nextUser    int64
	nextBook    int64
	nextRequest int64
	nextReturn  int64
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: memoryState{
		users:     make(map[int64]domain.User),
		usernames: make(map[string]int64),
		books:     make(map[int64]domain.Book),
		requests:  make(map[int64]domain.Request),
		returns:   make(map[int64]domain.Return),
	}}
}

func (st memoryState) clone() memoryState {
	out := st
	out.users = make(map[int64]domain.User, len(st.users))
	for k, v := range st.users {
		out.users[k] = v
	}
	out.usernames = make(map[string]int64, len(st.usernames))
	for k, v := range st.usernames {
		out.usernames[k] = v
	}
	out.books = make(map[int64]domain.Book, len(st.books))
	for k, v := range st.books {
		out.books[k] = v
	}
	out.requests = make(map[int64]domain.Request, len(st.requests))
	for k, v := range st.requests {
		out.requests[k] = v
	}
	out.returns = make(map[int64]domain.Return, len(st.returns))
	for k, v := range st.returns {
		out.returns[k] = v
	}
	return out
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

// CreateUser registers a user; a taken username is a conflict.
func (m *MemoryStore) CreateUser(_ context.Context, u domain.User) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.state.usernames[u.Username]; exists {
		return domain.User{}, domain.Conflictf("user %q already exists", u.Username)
	}
	m.state.nextUser++
	u.ID = m.state.nextUser
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	m.state.users[u.ID] = u
	m.state.usernames[u.Username] = u.ID
	return u, nil
}

// GetUserByName looks up a user by username.
func (m *MemoryStore) GetUserByName(_ context.Context, username string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.state.usernames[username]
	if !ok {
		return domain.User{}, false, nil
	}
	u, ok := m.state.users[id]
	return u, ok, nil
}

// GetUserByID returns a user by ID.
func (m *MemoryStore) GetUserByID(_ context.Context, id int64) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.state.users[id]
	return u, ok, nil
}

// ListUsers returns all users ordered by id.
func (m *MemoryStore) ListUsers(_ context.Context) ([]domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.User, 0, len(m.state.users))
	for _, u := range m.state.users {
		res = append(res, u)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

// InsertBooks appends catalog entries, assigning ids in order.
func (m *MemoryStore) InsertBooks(_ context.Context, books []domain.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.addBooks(books)
	return nil
}

// InsertBooksIfEmpty inserts books only into an empty catalog.
func (m *MemoryStore) InsertBooksIfEmpty(_ context.Context, books []domain.Book) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.state.books) > 0 || len(books) == 0 {
		return false, nil
	}
	m.state.addBooks(books)
	return true, nil
}

func (st *memoryState) addBooks(books []domain.Book) {
	for _, b := range books {
		st.nextBook++
		b.ID = st.nextBook
		if len(b.Holders) == 0 {
			b.Holders = json.RawMessage("[]")
		}
		st.books[b.ID] = b
	}
}

// BookCount returns the catalog size.
func (m *MemoryStore) BookCount(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.state.books)), nil
}

// GetBook retrieves a book by ID.
func (m *MemoryStore) GetBook(_ context.Context, id int64) (domain.Book, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.state.books[id]
	return b, ok, nil
}

// ListBooks returns the whole catalog ordered by id.
func (m *MemoryStore) ListBooks(_ context.Context) ([]domain.Book, error) {
	return m.filterBooks(func(domain.Book) bool { return true }), nil
}

// SearchBooks matches title or author case-insensitively; a numeric query
// also matches the exact id.
func (m *MemoryStore) SearchBooks(_ context.Context, query string) ([]domain.Book, error) {
	query = strings.TrimSpace(query)
	needle := strings.ToLower(query)
	id, idErr := strconv.ParseInt(query, 10, 64)
	return m.filterBooks(func(b domain.Book) bool {
		if idErr == nil && b.ID == id {
			return true
		}
		return strings.Contains(strings.ToLower(b.Title), needle) ||
			strings.Contains(strings.ToLower(b.Author), needle)
	}), nil
}

func (m *MemoryStore) filterBooks(keep func(domain.Book) bool) []domain.Book {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Book, 0, len(m.state.books))
	for _, b := range m.state.books {
		if keep(b) {
			res = append(res, b)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// GetRequest returns one request with its book title.
func (m *MemoryStore) GetRequest(_ context.Context, id int64) (domain.Request, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.getRequest(id)
}

// ListRequests returns requests ordered by id.
func (m *MemoryStore) ListRequests(_ context.Context, filter RequestFilter) ([]domain.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listRequests(filter), nil
}

// ListReturns returns all return records ordered by id.
func (m *MemoryStore) ListReturns(_ context.Context) ([]domain.Return, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Return, 0, len(m.state.returns))
	for _, r := range m.state.returns {
		res = append(res, r)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

// Atomic runs fn against a private copy and commits it on success.
func (m *MemoryStore) Atomic(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	work := m.state.clone()
	if err := fn(&memoryTx{st: &work}); err != nil {
		return err
	}
	m.state = work
	return nil
}

func (st *memoryState) getRequest(id int64) (domain.Request, bool, error) {
	r, ok := st.requests[id]
	if !ok {
		return domain.Request{}, false, nil
	}
	r.BookTitle = st.books[r.BookID].Title
	return r, true, nil
}

func (st *memoryState) listRequests(filter RequestFilter) []domain.Request {
	res := make([]domain.Request, 0, len(st.requests))
	for _, r := range st.requests {
		if filter.UserID > 0 && r.UserID != filter.UserID {
			continue
		}
		if filter.BookID > 0 && r.BookID != filter.BookID {
			continue
		}
		r.BookTitle = st.books[r.BookID].Title
		res = append(res, r)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

type memoryTx struct {
	st *memoryState
}

func (t *memoryTx) GetUser(id int64) (domain.User, bool, error) {
	u, ok := t.st.users[id]
	return u, ok, nil
}

func (t *memoryTx) LockBook(id int64) (domain.Book, bool, error) {
	b, ok := t.st.books[id]
	return b, ok, nil
}

func (t *memoryTx) SetBookFree(id int64, free bool) error {
	b, ok := t.st.books[id]
	if !ok {
		return domain.NotFoundf("book not found").WithID("book_id", id)
	}
	b.IsFree = free
	t.st.books[id] = b
	return nil
}

func (t *memoryTx) GetRequest(id int64) (domain.Request, bool, error) {
	return t.st.getRequest(id)
}

func (t *memoryTx) InsertRequest(r domain.Request) (domain.Request, error) {
	t.st.nextRequest++
	now := time.Now().UTC()
	r.ID = t.st.nextRequest
	r.BookTitle = ""
	r.CreatedAt = now
	r.UpdatedAt = now
	t.st.requests[r.ID] = r
	return r, nil
}

func (t *memoryTx) SetRequestStatus(id int64, status domain.RequestStatus) error {
	r, ok := t.st.requests[id]
	if !ok {
		return domain.NotFoundf("request not found").WithID("request_id", id)
	}
	r.Status = status
	r.UpdatedAt = time.Now().UTC()
	t.st.requests[id] = r
	return nil
}

func (t *memoryTx) ListRequests() ([]domain.Request, error) {
	return t.st.listRequests(RequestFilter{}), nil
}

func (t *memoryTx) GetReturn(id int64) (domain.Return, bool, error) {
	r, ok := t.st.returns[id]
	return r, ok, nil
}

func (t *memoryTx) FindOpenReturn(requestID, userID, bookID int64) (domain.Return, bool, error) {
	var (
		found domain.Return
		ok    bool
	)
	for _, r := range t.st.returns {
		if r.RequestID != requestID || r.UserID != userID || r.BookID != bookID || r.IsReturned {
			continue
		}
		if !ok || r.ID < found.ID {
			found, ok = r, true
		}
	}
	return found, ok, nil
}

func (t *memoryTx) InsertReturn(r domain.Return) (domain.Return, error) {
	t.st.nextReturn++
	now := time.Now().UTC()
	r.ID = t.st.nextReturn
	r.CreatedAt = now
	r.UpdatedAt = now
	t.st.returns[r.ID] = r
	return r, nil
}

func (t *memoryTx) MarkReturned(id int64) error {
	r, ok := t.st.returns[id]
	if !ok {
		return domain.NotFoundf("return not found").WithID("return_id", id)
	}
	r.IsReturned = true
	r.UpdatedAt = time.Now().UTC()
	t.st.returns[id] = r
	return nil
}
