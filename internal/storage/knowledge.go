package storage

import (
	"context"
	"database/sql"
)

var categoryModel = model[Category]{
	table:   TableCategory,
	columns: []string{"id", "name", "parent_id", "created_at", "updated_at"},
	key:     []string{"id"},
	values: func(c *Category) []any {
		return []any{c.ID, c.Name, c.ParentID, formatTime(c.CreatedAt), formatTime(c.UpdatedAt)}
	},
	scan: func(sc rowScanner) (Category, error) {
		var c Category
		var parent, created, updated sql.NullString
		if err := sc.Scan(&c.ID, &c.Name, &parent, &created, &updated); err != nil {
			return Category{}, err
		}
		var err error
		if c.CreatedAt, err = requiredTime(created, "created_at"); err != nil {
			return Category{}, err
		}
		if c.UpdatedAt, err = requiredTime(updated, "updated_at"); err != nil {
			return Category{}, err
		}
		c.ParentID = nullString(parent)
		return c, nil
	},
}

// CreateCategory inserts c. Names are unique across all categories.
func (s *Store) CreateCategory(ctx context.Context, c *Category) error {
	if err := s.assignID(TableCategory, &c.ID); err != nil {
		return err
	}
	if err := s.canonicalUUID(TableCategory, "parent_id", c.ParentID); err != nil {
		return err
	}
	c.CreatedAt = s.now()
	c.UpdatedAt = c.CreatedAt
	return insertRow(ctx, s, categoryModel, c)
}

func (s *Store) UpdateCategory(ctx context.Context, c *Category) error {
	if err := s.canonicalUUID(TableCategory, "parent_id", c.ParentID); err != nil {
		return err
	}
	c.UpdatedAt = s.now()
	return updateRow(ctx, s, categoryModel, c)
}

func (s *Store) GetCategory(ctx context.Context, id string) (*Category, error) {
	return getByKey(ctx, s, categoryModel, id)
}

// FindCategoryByName returns ErrNotFound when no category is called name.
func (s *Store) FindCategoryByName(ctx context.Context, name string) (*Category, error) {
	query := "SELECT " + categoryModel.selectList("") + " FROM " + s.reg.PhysicalName(TableCategory) + " WHERE name = ?"
	return queryOne(ctx, s, categoryModel, "finding category", query, name)
}

func (s *Store) ListCategories(ctx context.Context, limit int) ([]Category, error) {
	return listRecent(ctx, s, categoryModel, limit)
}

// DeleteCategory fails with a foreign_key ConstraintError while child
// categories or articles still reference the category.
func (s *Store) DeleteCategory(ctx context.Context, id string) (int64, error) {
	return deleteByKey(ctx, s, categoryModel, id)
}

var knowledgeBaseModel = model[KnowledgeBase]{
	table: TableKnowledgeBase,
	columns: []string{"id", "customer_id", "title", "content", "category_id", "status",
		"created_at", "updated_at", "metadata"},
	key: []string{"id"},
	values: func(k *KnowledgeBase) []any {
		return []any{k.ID, k.CustomerID, k.Title, k.Content, k.CategoryID, string(k.Status),
			formatTime(k.CreatedAt), formatTime(k.UpdatedAt), jsonArg(k.Metadata)}
	},
	scan: func(sc rowScanner) (KnowledgeBase, error) {
		var k KnowledgeBase
		var status string
		var category, created, updated, metadata sql.NullString
		if err := sc.Scan(&k.ID, &k.CustomerID, &k.Title, &k.Content, &category, &status,
			&created, &updated, &metadata); err != nil {
			return KnowledgeBase{}, err
		}
		var err error
		if k.CreatedAt, err = requiredTime(created, "created_at"); err != nil {
			return KnowledgeBase{}, err
		}
		if k.UpdatedAt, err = requiredTime(updated, "updated_at"); err != nil {
			return KnowledgeBase{}, err
		}
		k.CategoryID = nullString(category)
		k.Status = ArticleStatus(status)
		k.Metadata = nullJSON(metadata)
		return k, nil
	},
}

func (s *Store) validateArticle(k *KnowledgeBase) error {
	if err := s.checkEnum(TableKnowledgeBase, "status", string(k.Status)); err != nil {
		return err
	}
	if err := s.canonicalUUID(TableKnowledgeBase, "customer_id", &k.CustomerID); err != nil {
		return err
	}
	if err := s.canonicalUUID(TableKnowledgeBase, "category_id", k.CategoryID); err != nil {
		return err
	}
	return s.checkJSON(TableKnowledgeBase, "metadata", k.Metadata)
}

// CreateKnowledgeBase inserts k. An empty status defaults to draft.
func (s *Store) CreateKnowledgeBase(ctx context.Context, k *KnowledgeBase) error {
	if k.Status == "" {
		k.Status = ArticleDraft
	}
	if err := s.validateArticle(k); err != nil {
		return err
	}
	if err := s.assignID(TableKnowledgeBase, &k.ID); err != nil {
		return err
	}
	k.CreatedAt = s.now()
	k.UpdatedAt = k.CreatedAt
	return insertRow(ctx, s, knowledgeBaseModel, k)
}

func (s *Store) UpdateKnowledgeBase(ctx context.Context, k *KnowledgeBase) error {
	if err := s.validateArticle(k); err != nil {
		return err
	}
	k.UpdatedAt = s.now()
	return updateRow(ctx, s, knowledgeBaseModel, k)
}

func (s *Store) GetKnowledgeBase(ctx context.Context, id string) (*KnowledgeBase, error) {
	return getByKey(ctx, s, knowledgeBaseModel, id)
}

func (s *Store) ListKnowledgeBase(ctx context.Context, limit int) ([]KnowledgeBase, error) {
	return listRecent(ctx, s, knowledgeBaseModel, limit)
}

func (s *Store) DeleteKnowledgeBase(ctx context.Context, id string) (int64, error) {
	return deleteByKey(ctx, s, knowledgeBaseModel, id)
}
