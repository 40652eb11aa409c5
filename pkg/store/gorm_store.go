package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"booklend/pkg/domain"
)

const (
	migrateLockID int64 = 51175117
	catalogLockID int64 = 51175118
)

const (
	dialectPostgres = "postgres"
	dialectSQLite   = "sqlite"
)

// GormStore implements Store using GORM on Postgres or SQLite.
type GormStore struct {
	db      *gorm.DB
	dialect string
}

// NewGormStore opens the DB and runs auto-migrations. DSNs starting with
// "sqlite:" or "file:" open SQLite, everything else is treated as Postgres.
func NewGormStore(dsn string) (*GormStore, error) {
	dialector, dialect := openDialector(dsn)
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLog, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if dialect == dialectSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("get sql db: %w", err)
		}
		// one connection keeps ":memory:" databases alive and serialises writers
		sqlDB.SetMaxOpenConns(1)
	}
	migrate := func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &BookModel{}, &RequestModel{}, &ReturnModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}
	if dialect == dialectPostgres {
		err = withMigrationLock(db, migrate)
	} else {
		err = migrate(db)
	}
	if err != nil {
		return nil, err
	}
	return &GormStore{db: db, dialect: dialect}, nil
}

func openDialector(dsn string) (gorm.Dialector, string) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case strings.HasPrefix(dsn, "sqlite:"):
		return sqlite.Open(strings.TrimPrefix(dsn, "sqlite:")), dialectSQLite
	case strings.HasPrefix(dsn, "file:"):
		return sqlite.Open(dsn), dialectSQLite
	default:
		return postgres.Open(dsn), dialectPostgres
	}
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateUser registers a user; a taken username is a conflict.
func (s *GormStore) CreateUser(ctx context.Context, u domain.User) (domain.User, error) {
	model := userToModel(u)
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&UserModel{}).Where("username = ?", model.Username).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return domain.Conflictf("user %q already exists", model.Username)
		}
		return tx.Create(&model).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return domain.User{}, domain.Conflictf("user %q already exists", model.Username)
	}
	if err != nil {
		return domain.User{}, err
	}
	return userFromModel(model), nil
}

// GetUserByName looks up a user by username.
func (s *GormStore) GetUserByName(ctx context.Context, username string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(ctx context.Context, id int64) (domain.User, bool, error) {
	return getUser(s.db.WithContext(ctx), id)
}

func getUser(db *gorm.DB, id int64) (domain.User, bool, error) {
	var model UserModel
	if err := db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// ListUsers returns all users ordered by id.
func (s *GormStore) ListUsers(ctx context.Context) ([]domain.User, error) {
	var models []UserModel
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.User, 0, len(models))
	for _, m := range models {
		res = append(res, userFromModel(m))
	}
	return res, nil
}

// InsertBooks stores catalog entries in one batch.
func (s *GormStore) InsertBooks(ctx context.Context, books []domain.Book) error {
	if len(books) == 0 {
		return nil
	}
	models := make([]BookModel, 0, len(books))
	for _, b := range books {
		models = append(models, bookToModel(b))
	}
	return s.db.WithContext(ctx).CreateInBatches(&models, 200).Error
}

// InsertBooksIfEmpty seeds the catalog once. On Postgres a transaction
// advisory lock serialises concurrent seeders; SQLite runs on one connection.
func (s *GormStore) InsertBooksIfEmpty(ctx context.Context, books []domain.Book) (bool, error) {
	inserted := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if s.dialect == dialectPostgres {
			if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", catalogLockID).Error; err != nil {
				return fmt.Errorf("acquire catalog lock: %w", err)
			}
		}
		var count int64
		if err := tx.Model(&BookModel{}).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 || len(books) == 0 {
			return nil
		}
		models := make([]BookModel, 0, len(books))
		for _, b := range books {
			models = append(models, bookToModel(b))
		}
		if err := tx.CreateInBatches(&models, 200).Error; err != nil {
			return err
		}
		inserted = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}

// BookCount returns the catalog size.
func (s *GormStore) BookCount(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&BookModel{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// GetBook retrieves a book.
func (s *GormStore) GetBook(ctx context.Context, id int64) (domain.Book, bool, error) {
	var model BookModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Book{}, false, nil
		}
		return domain.Book{}, false, err
	}
	return bookFromModel(model), true, nil
}

// ListBooks returns the whole catalog ordered by id.
func (s *GormStore) ListBooks(ctx context.Context) ([]domain.Book, error) {
	return s.listBooks(s.db.WithContext(ctx))
}

// SearchBooks matches title or author case-insensitively; a numeric query
// also matches the exact id.
func (s *GormStore) SearchBooks(ctx context.Context, query string) ([]domain.Book, error) {
	query = strings.TrimSpace(query)
	like := "%" + likeEscaper.Replace(strings.ToLower(query)) + "%"
	match := `LOWER(title) LIKE ? ESCAPE '\' OR LOWER(author) LIKE ? ESCAPE '\'`
	tx := s.db.WithContext(ctx)
	if id, err := strconv.ParseInt(query, 10, 64); err == nil {
		tx = tx.Where(match+" OR id = ?", like, like, id)
	} else {
		tx = tx.Where(match, like, like)
	}
	return s.listBooks(tx)
}

// likeEscaper makes LIKE metacharacters in user input match literally.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (s *GormStore) listBooks(tx *gorm.DB) ([]domain.Book, error) {
	var models []BookModel
	if err := tx.Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Book, 0, len(models))
	for _, m := range models {
		res = append(res, bookFromModel(m))
	}
	return res, nil
}

// GetRequest returns one request with its book title.
func (s *GormStore) GetRequest(ctx context.Context, id int64) (domain.Request, bool, error) {
	return getRequest(s.db.WithContext(ctx), id)
}

func getRequest(db *gorm.DB, id int64) (domain.Request, bool, error) {
	rows, err := listRequests(db, RequestFilter{}, id)
	if err != nil {
		return domain.Request{}, false, err
	}
	if len(rows) == 0 {
		return domain.Request{}, false, nil
	}
	return rows[0], true, nil
}

// ListRequests returns requests ordered by id.
func (s *GormStore) ListRequests(ctx context.Context, filter RequestFilter) ([]domain.Request, error) {
	return listRequests(s.db.WithContext(ctx), filter, 0)
}

func listRequests(db *gorm.DB, filter RequestFilter, id int64) ([]domain.Request, error) {
	tx := db.Table("request_models AS r").
		Select("r.id, r.user_id, r.book_id, r.state, COALESCE(b.title, '') AS book_title, r.created_at, r.updated_at").
		Joins("LEFT JOIN book_models AS b ON b.id = r.book_id")
	if id > 0 {
		tx = tx.Where("r.id = ?", id)
	}
	if filter.UserID > 0 {
		tx = tx.Where("r.user_id = ?", filter.UserID)
	}
	if filter.BookID > 0 {
		tx = tx.Where("r.book_id = ?", filter.BookID)
	}
	var rows []requestRow
	if err := tx.Order("r.id ASC").Scan(&rows).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Request, 0, len(rows))
	for _, row := range rows {
		r, err := requestFromRow(row)
		if err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	return res, nil
}

// ListReturns returns all return records ordered by id.
func (s *GormStore) ListReturns(ctx context.Context) ([]domain.Return, error) {
	var models []ReturnModel
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Return, 0, len(models))
	for _, m := range models {
		res = append(res, returnFromModel(m))
	}
	return res, nil
}

// Atomic runs fn inside a database transaction.
func (s *GormStore) Atomic(ctx context.Context, fn func(Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTx{db: tx, lockRows: s.dialect == dialectPostgres})
	})
}

type gormTx struct {
	db *gorm.DB
	// sqlite has no row locks; its writers are already serialised
	lockRows bool
}

func (t *gormTx) GetUser(id int64) (domain.User, bool, error) {
	return getUser(t.db, id)
}

func (t *gormTx) LockBook(id int64) (domain.Book, bool, error) {
	q := t.db
	if t.lockRows {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var model BookModel
	if err := q.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Book{}, false, nil
		}
		return domain.Book{}, false, err
	}
	return bookFromModel(model), true, nil
}

func (t *gormTx) SetBookFree(id int64, free bool) error {
	res := t.db.Model(&BookModel{}).Where("id = ?", id).Update("is_free", free)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.NotFoundf("book not found").WithID("book_id", id)
	}
	return nil
}

func (t *gormTx) GetRequest(id int64) (domain.Request, bool, error) {
	return getRequest(t.db, id)
}

func (t *gormTx) InsertRequest(r domain.Request) (domain.Request, error) {
	now := time.Now().UTC()
	model := RequestModel{
		UserID:    r.UserID,
		BookID:    r.BookID,
		State:     r.Status.String(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := t.db.Create(&model).Error; err != nil {
		return domain.Request{}, err
	}
	r.ID = model.ID
	r.CreatedAt = model.CreatedAt
	r.UpdatedAt = model.UpdatedAt
	return r, nil
}

func (t *gormTx) SetRequestStatus(id int64, status domain.RequestStatus) error {
	res := t.db.Model(&RequestModel{}).Where("id = ?", id).Updates(map[string]any{
		"state":      status.String(),
		"updated_at": time.Now().UTC(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.NotFoundf("request not found").WithID("request_id", id)
	}
	return nil
}

func (t *gormTx) ListRequests() ([]domain.Request, error) {
	return listRequests(t.db, RequestFilter{}, 0)
}

func (t *gormTx) GetReturn(id int64) (domain.Return, bool, error) {
	var model ReturnModel
	if err := t.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Return{}, false, nil
		}
		return domain.Return{}, false, err
	}
	return returnFromModel(model), true, nil
}

func (t *gormTx) FindOpenReturn(requestID, userID, bookID int64) (domain.Return, bool, error) {
	var model ReturnModel
	err := t.db.
		Where("request_id = ? AND user_id = ? AND book_id = ? AND is_returned = ?", requestID, userID, bookID, false).
		Order("id ASC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Return{}, false, nil
		}
		return domain.Return{}, false, err
	}
	return returnFromModel(model), true, nil
}

func (t *gormTx) InsertReturn(r domain.Return) (domain.Return, error) {
	model := returnToModel(r)
	now := time.Now().UTC()
	model.ID = 0
	model.CreatedAt = now
	model.UpdatedAt = now
	if err := t.db.Create(&model).Error; err != nil {
		return domain.Return{}, err
	}
	return returnFromModel(model), nil
}

func (t *gormTx) MarkReturned(id int64) error {
	res := t.db.Model(&ReturnModel{}).Where("id = ?", id).Updates(map[string]any{
		"is_returned": true,
		"updated_at":  time.Now().UTC(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.NotFoundf("return not found").WithID("return_id", id)
	}
	return nil
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Username:     u.Username,
		PasswordHash: u.PasswordHash,
		CreatedAt:    u.CreatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Username:     m.Username,
		PasswordHash: m.PasswordHash,
		CreatedAt:    m.CreatedAt,
	}
}

func bookToModel(b domain.Book) BookModel {
	holders := b.Holders
	if len(holders) == 0 {
		holders = json.RawMessage("[]")
	}
	return BookModel{
		ID:       b.ID,
		Title:    b.Title,
		Author:   b.Author,
		ImageURL: b.ImageURL,
		Holders:  datatypes.JSON(holders),
		IsFree:   b.IsFree,
	}
}

func bookFromModel(m BookModel) domain.Book {
	holders := json.RawMessage(m.Holders)
	if len(holders) == 0 {
		holders = json.RawMessage("[]")
	}
	return domain.Book{
		ID:       m.ID,
		Title:    m.Title,
		Author:   m.Author,
		ImageURL: m.ImageURL,
		Holders:  holders,
		IsFree:   m.IsFree,
	}
}

func requestFromRow(row requestRow) (domain.Request, error) {
	status, ok := domain.ParseRequestStatus(row.State)
	if !ok {
		return domain.Request{}, fmt.Errorf("request %d: unknown state %q", row.ID, row.State)
	}
	return domain.Request{
		ID:        row.ID,
		UserID:    row.UserID,
		BookID:    row.BookID,
		BookTitle: row.BookTitle,
		Status:    status,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}, nil
}

func returnToModel(r domain.Return) ReturnModel {
	return ReturnModel{
		ID:         r.ID,
		RequestID:  r.RequestID,
		UserID:     r.UserID,
		BookID:     r.BookID,
		IsReturned: r.IsReturned,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

func returnFromModel(m ReturnModel) domain.Return {
	return domain.Return{
		ID:         m.ID,
		RequestID:  m.RequestID,
		UserID:     m.UserID,
		BookID:     m.BookID,
		IsReturned: m.IsReturned,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}
