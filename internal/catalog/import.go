// Package catalog bootstraps the book catalog from a JSON document.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"booklend/pkg/domain"
	"booklend/pkg/storage"
	"booklend/pkg/store"
)

// Entry is one element of the catalog document.
type Entry struct {
	Title    string          `json:"title"`
	Author   string          `json:"author"`
	ImageURL string          `json:"image_url"`
	IsFree   json.RawMessage `json:"isFree"`
	Holders  json.RawMessage `json:"holders,omitempty"`
}

// Result reports what an import did.
type Result struct {
	Source   string
	Imported int
	Skipped  bool
}

// Importer loads catalog documents from local files or s3:// URIs.
type Importer struct {
	store   store.Store
	objects storage.ObjectStore
}

// NewImporter returns an importer. objects may be nil when only local paths
// are used.
func NewImporter(st store.Store, objects storage.ObjectStore) *Importer {
	return &Importer{store: st, objects: objects}
}

// Import populates the catalog from source unless it already has books.
func (im *Importer) Import(ctx context.Context, source string) (Result, error) {
	source = strings.TrimSpace(source)
	res := Result{Source: source}
	if source == "" {
		return res, domain.Validationf("catalog source is required")
	}
	count, err := im.store.BookCount(ctx)
	if err != nil {
		return res, fmt.Errorf("count books: %w", err)
	}
	if count > 0 {
		res.Skipped = true
		slog.Info("catalog.import_skipped", "source", source, "books", count)
		return res, nil
	}

	rc, err := im.open(ctx, source)
	if err != nil {
		return res, err
	}
	defer rc.Close()

	books, err := Decode(rc)
	if err != nil {
		return res, fmt.Errorf("decode catalog %s: %w", source, err)
	}
	if len(books) == 0 {
		slog.Info("catalog.imported", "source", source, "books", 0)
		return res, nil
	}
	inserted, err := im.store.InsertBooksIfEmpty(ctx, books)
	if err != nil {
		return res, fmt.Errorf("insert books: %w", err)
	}
	if !inserted {
		// another importer filled the catalog after the count above
		res.Skipped = true
		slog.Info("catalog.import_skipped", "source", source, "reason", "catalog populated concurrently")
		return res, nil
	}
	res.Imported = len(books)
	slog.Info("catalog.imported", "source", source, "books", res.Imported)
	return res, nil
}

func (im *Importer) open(ctx context.Context, source string) (io.ReadCloser, error) {
	if strings.HasPrefix(source, "s3://") {
		bucket, key, ok := storage.ParseS3URI(source)
		if !ok {
			return nil, domain.Validationf("catalog source %q is not s3://bucket/key", source)
		}
		if im.objects == nil {
			return nil, errors.New("catalog source is s3 but object storage is not configured")
		}
		rc, err := im.objects.Open(ctx, bucket, key)
		if err != nil {
			return nil, fmt.Errorf("open catalog: %w", err)
		}
		return rc, nil
	}
	f, err := os.Open(source)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	return f, nil
}

// Decode parses a catalog document into books ready for insertion.
func Decode(r io.Reader) ([]domain.Book, error) {
	var entries []Entry
	dec := json.NewDecoder(r)
	if err := dec.Decode(&entries); err != nil {
		return nil, domain.Validationf("catalog is not a JSON array of books: %v", err)
	}
	books := make([]domain.Book, 0, len(entries))
	for i, e := range entries {
		if strings.TrimSpace(e.Title) == "" {
			return nil, domain.Validationf("catalog entry %d: title is required", i)
		}
		free, err := parseFree(e.IsFree)
		if err != nil {
			return nil, domain.Validationf("catalog entry %d: %v", i, err)
		}
		holders := e.Holders
		if len(bytes.TrimSpace(holders)) == 0 || bytes.Equal(bytes.TrimSpace(holders), []byte("null")) {
			holders = json.RawMessage("[]")
		}
		books = append(books, domain.Book{
			Title:    e.Title,
			Author:   e.Author,
			ImageURL: e.ImageURL,
			Holders:  holders,
			IsFree:   free,
		})
	}
	return books, nil
}

// parseFree accepts the "true"/"false" strings of the catalog format, in any
// case, and plain JSON booleans.
func parseFree(raw json.RawMessage) (bool, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return false, errors.New("isFree is required")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return false, fmt.Errorf("isFree must be \"true\" or \"false\", got %q", s)
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, nil
	}
	return false, fmt.Errorf("isFree must be \"true\" or \"false\", got %s", string(raw))
}
