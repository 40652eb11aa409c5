package catalog

import (
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"booklend/pkg/domain"
	"booklend/pkg/storage"
	"booklend/pkg/store"
)

const sampleCatalog = `[
  {"title": "The Hobbit", "author": "J.R.R. Tolkien", "image_url": "hobbit.jpg", "isFree": "True"},
  {"title": "1984", "author": "George Orwell", "image_url": "1984.jpg", "isFree": "false", "holders": ["alice"]}
]`

func writeCatalog(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "books.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestImportFromFile(t *testing.T) {
	st := store.NewMemoryStore()
	im := NewImporter(st, nil)
	ctx := context.Background()

	res, err := im.Import(ctx, writeCatalog(t, sampleCatalog))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Imported)
	assert.False(t, res.Skipped)

	books, err := st.ListBooks(ctx)
	require.NoError(t, err)
	require.Len(t, books, 2)
	assert.True(t, books[0].IsFree)
	assert.JSONEq(t, "[]", string(books[0].Holders))
	assert.False(t, books[1].IsFree)
	assert.JSONEq(t, `["alice"]`, string(books[1].Holders))
}

func TestImportSkipsNonEmptyCatalog(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, st.InsertBooks(ctx, []domain.Book{{Title: "Existing", IsFree: true}}))

	res, err := NewImporter(st, nil).Import(ctx, writeCatalog(t, sampleCatalog))
	require.NoError(t, err)
	assert.True(t, res.Skipped)

	count, err := st.BookCount(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestDecodeRejectsBadIsFree(t *testing.T) {
	_, err := Decode(strings.NewReader(`[{"title":"A","isFree":"true"},{"title":"B","isFree":"maybe"}]`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrValidation))
	assert.Contains(t, err.Error(), "catalog entry 1")

	_, err = Decode(strings.NewReader(`[{"title":"A"}]`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "isFree is required")

	books, err := Decode(strings.NewReader(`[{"title":"A","isFree":true}]`))
	require.NoError(t, err)
	assert.True(t, books[0].IsFree)
}

func TestImportFromS3(t *testing.T) {
	backend := s3mem.New()
	server := httptest.NewServer(gofakes3.New(backend).Server())
	t.Cleanup(server.Close)
	require.NoError(t, backend.CreateBucket("seed"))

	objects, err := storage.NewMinioStore(storage.MinioConfig{
		Endpoint:  strings.TrimPrefix(server.URL, "http://"),
		AccessKey: "test",
		SecretKey: "test",
	})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, objects.Put(ctx, "seed", "books.json", strings.NewReader(sampleCatalog), int64(len(sampleCatalog)), "application/json"))

	st := store.NewMemoryStore()
	res, err := NewImporter(st, objects).Import(ctx, "s3://seed/books.json")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Imported)

	_, err = NewImporter(store.NewMemoryStore(), nil).Import(ctx, "s3://seed/books.json")
	require.Error(t, err, "s3 source without object storage must fail")
}

// staleCountStore reports an empty catalog regardless of its contents, as a
// second importer sees it when both count before either inserts.
type staleCountStore struct {
	store.Store
}

func (staleCountStore) BookCount(context.Context) (int64, error) { return 0, nil }

func TestImportSkipsWhenCatalogFilledAfterCount(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, st.InsertBooks(ctx, []domain.Book{{Title: "Existing", IsFree: true}}))

	res, err := NewImporter(staleCountStore{st}, nil).Import(ctx, writeCatalog(t, sampleCatalog))
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Zero(t, res.Imported)

	count, err := st.BookCount(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count, "catalog must not be imported twice")
}

func TestConcurrentImportsSeedOnce(t *testing.T) {
	gormStore, err := store.NewGormStore("sqlite::memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = gormStore.Close() })

	for name, st := range map[string]store.Store{"memory": store.NewMemoryStore(), "gorm": gormStore} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			path := writeCatalog(t, sampleCatalog)
			var imported atomic.Int64
			var g errgroup.Group
			for i := 0; i < 6; i++ {
				g.Go(func() error {
					res, err := NewImporter(staleCountStore{st}, nil).Import(ctx, path)
					if err != nil {
						return err
					}
					imported.Add(int64(res.Imported))
					return nil
				})
			}
			require.NoError(t, g.Wait())
			assert.EqualValues(t, 2, imported.Load())

			count, err := st.BookCount(ctx)
			require.NoError(t, err)
			assert.EqualValues(t, 2, count)
		})
	}
}
