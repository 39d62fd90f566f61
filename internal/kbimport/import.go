// Package kbimport turns text, Markdown and PDF files into knowledge-base
// articles.
package kbimport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/torva/torva/internal/storage"
)

// maxTitleLength matches the knowledge_base.title column.
const maxTitleLength = 255

// Store is the storage surface the importer needs. *storage.Store satisfies
// it.
type Store interface {
	CreateKnowledgeBase(ctx context.Context, k *storage.KnowledgeBase) error
	FindCategoryByName(ctx context.Context, name string) (*storage.Category, error)
}

// Request describes one file to import.
type Request struct {
	Path       string
	CustomerID string
	// Category is an optional category name. It must already exist.
	Category string
	// Title overrides the title found in the file.
	Title string
	// Status defaults to draft.
	Status storage.ArticleStatus
}

// Importer creates knowledge-base articles from files.
type Importer struct {
	store Store
}

func New(store Store) *Importer {
	return &Importer{store: store}
}

// Import extracts req.Path and stores it as an article owned by
// req.CustomerID.
func (im *Importer) Import(ctx context.Context, req Request) (*storage.KnowledgeBase, error) {
	if req.CustomerID == "" {
		return nil, errors.New("customer id is required")
	}

	doc, err := Extract(req.Path)
	if err != nil {
		return nil, err
	}
	if doc.Content == "" {
		return nil, fmt.Errorf("%s has no text content", req.Path)
	}

	article := &storage.KnowledgeBase{
		CustomerID: req.CustomerID,
		Title:      articleTitle(req, doc),
		Content:    doc.Content,
		Status:     req.Status,
	}

	if req.Category != "" {
		cat, err := im.store.FindCategoryByName(ctx, req.Category)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("category %q does not exist", req.Category)
		}
		if err != nil {
			return nil, fmt.Errorf("finding category: %w", err)
		}
		article.CategoryID = &cat.ID
	}

	meta, err := json.Marshal(map[string]string{
		"source": filepath.Base(req.Path),
		"format": string(doc.Format),
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling metadata: %w", err)
	}
	article.Metadata = meta

	if err := im.store.CreateKnowledgeBase(ctx, article); err != nil {
		return nil, fmt.Errorf("saving article: %w", err)
	}

	slog.Debug("article imported",
		"id", article.ID,
		"format", doc.Format,
		"bytes", len(article.Content),
	)
	return article, nil
}

func articleTitle(req Request, doc *Document) string {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = doc.Title
	}
	if title == "" {
		base := filepath.Base(req.Path)
		title = strings.TrimSuffix(base, filepath.Ext(base))
	}
	title = strings.Join(strings.Fields(title), " ")
	if utf8.RuneCountInString(title) > maxTitleLength {
		runes := []rune(title)
		title = string(runes[:maxTitleLength-3]) + "..."
	}
	return title
}
