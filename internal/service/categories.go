package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"multikasir/backend/internal/category"
	"multikasir/backend/internal/domain"
	"multikasir/backend/internal/store"
	"multikasir/backend/internal/xid"
)

func (s *Service) categoryGetter(tenantID string) category.Getter {
	return func(ctx context.Context, id string) (domain.Category, error) {
		return s.repo.GetCategory(ctx, tenantID, id)
	}
}

func (s *Service) CreateCategory(ctx context.Context, req domain.CategoryCreateRequest) (domain.Category, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return domain.Category{}, err
	}
	if err := s.validateRequest(req); err != nil {
		return domain.Category{}, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Category{}, invalid("name is required")
	}
	slug := categorySlug(name)

	now := s.clock()
	c := domain.Category{
		ID:           xid.New(""),
		TenantID:     actor.TenantID,
		Name:         name,
		Description:  strings.TrimSpace(req.Description),
		Slug:         slug,
		DisplayOrder: req.DisplayOrder,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if req.IsActive != nil {
		c.IsActive = *req.IsActive
	}
	if parentID := trimmedID(req.ParentID); parentID != "" {
		if _, err := s.repo.GetCategory(ctx, actor.TenantID, parentID); err != nil {
			return domain.Category{}, notFound("parent category", parentID, err)
		}
		c.ParentID = &parentID
	}

	created, err := s.repo.CreateCategory(ctx, c)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.Category{}, fmt.Errorf("category with slug %q %w", slug, store.ErrConflict)
		}
		return domain.Category{}, err
	}

	s.invalidateTree(ctx, actor.TenantID)
	s.logAudit(ctx, "category_create", "category", created.ID, zap.String("slug", created.Slug))
	return created, nil
}

func (s *Service) ListCategories(ctx context.Context, includeInactive bool) ([]domain.Category, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListCategories(ctx, actor.TenantID, includeInactive)
}

func (s *Service) GetCategory(ctx context.Context, id string) (domain.Category, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return domain.Category{}, err
	}
	c, err := s.repo.GetCategory(ctx, actor.TenantID, id)
	if err != nil {
		return domain.Category{}, notFound("category", id, err)
	}
	return c, nil
}

// UpdateCategory applies the non-nil fields. A rename re-derives the slug.
// ParentID "" detaches the category to the root; nil leaves the parent alone.
func (s *Service) UpdateCategory(ctx context.Context, id string, req domain.CategoryUpdateRequest) (domain.Category, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return domain.Category{}, err
	}
	if err := s.validateRequest(req); err != nil {
		return domain.Category{}, err
	}

	existing, err := s.repo.GetCategory(ctx, actor.TenantID, id)
	if err != nil {
		return domain.Category{}, notFound("category", id, err)
	}

	updated := existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Category{}, invalid("name must not be blank")
		}
		if name != existing.Name {
			updated.Name = name
			updated.Slug = categorySlug(name)
		}
	}
	if req.Description != nil {
		updated.Description = strings.TrimSpace(*req.Description)
	}
	if req.DisplayOrder != nil {
		updated.DisplayOrder = *req.DisplayOrder
	}
	if req.IsActive != nil {
		updated.IsActive = *req.IsActive
	}
	if req.ParentID != nil {
		parentID, err := s.resolveParent(ctx, actor.TenantID, id, *req.ParentID)
		if err != nil {
			return domain.Category{}, err
		}
		updated.ParentID = parentID
	}
	updated.UpdatedAt = s.clock()

	saved, err := s.repo.UpdateCategory(ctx, updated)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.Category{}, fmt.Errorf("category with slug %q %w", updated.Slug, store.ErrConflict)
		}
		return domain.Category{}, notFound("category", id, err)
	}

	s.invalidateTree(ctx, actor.TenantID)
	s.logAudit(ctx, "category_update", "category", saved.ID)
	return saved, nil
}

// MoveCategory re-parents a category. A nil or empty parent makes it a root.
func (s *Service) MoveCategory(ctx context.Context, id string, req domain.CategoryMoveRequest) (domain.Category, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return domain.Category{}, err
	}

	existing, err := s.repo.GetCategory(ctx, actor.TenantID, id)
	if err != nil {
		return domain.Category{}, notFound("category", id, err)
	}

	parentID, err := s.resolveParent(ctx, actor.TenantID, id, trimmedID(req.ParentID))
	if err != nil {
		return domain.Category{}, err
	}
	existing.ParentID = parentID
	existing.UpdatedAt = s.clock()

	saved, err := s.repo.UpdateCategory(ctx, existing)
	if err != nil {
		return domain.Category{}, notFound("category", id, err)
	}

	s.invalidateTree(ctx, actor.TenantID)
	s.logAudit(ctx, "category_move", "category", saved.ID, zap.String("parent_id", saved.Parent()))
	return saved, nil
}

// resolveParent validates a new parent for id. It returns nil for a root.
func (s *Service) resolveParent(ctx context.Context, tenantID string, id string, parentID string) (*string, error) {
	parentID = strings.TrimSpace(parentID)
	if parentID == "" {
		return nil, nil
	}
	if parentID == id {
		return nil, fmt.Errorf("category cannot be its own parent: %w", store.ErrCircularReference)
	}
	if _, err := s.repo.GetCategory(ctx, tenantID, parentID); err != nil {
		return nil, notFound("parent category", parentID, err)
	}
	if err := category.CheckNoCycle(ctx, s.categoryGetter(tenantID), parentID, id); err != nil {
		return nil, err
	}
	return &parentID, nil
}

func (s *Service) DeleteCategory(ctx context.Context, id string) error {
	actor, err := actorFrom(ctx)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteCategory(ctx, actor.TenantID, id); err != nil {
		return notFound("category", id, err)
	}

	s.invalidateTree(ctx, actor.TenantID)
	s.logAudit(ctx, "category_delete", "category", id)
	return nil
}

// CategoryTree returns the nested forest of active categories. A cache
// failure degrades to a fresh build.
func (s *Service) CategoryTree(ctx context.Context) ([]*domain.CategoryNode, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}

	tree, hit, err := s.trees.GetTree(ctx, actor.TenantID, false)
	if err != nil {
		s.logger.Warn("category tree cache read failed", zap.String("tenant_id", actor.TenantID), zap.Error(err))
	}
	if hit {
		s.metrics.TreeCache(true)
		return tree, nil
	}
	s.metrics.TreeCache(false)

	categories, err := s.repo.ListCategories(ctx, actor.TenantID, false)
	if err != nil {
		return nil, err
	}
	tree = category.BuildTree(categories)

	if err := s.trees.SetTree(ctx, actor.TenantID, false, tree, s.treeTTL); err != nil {
		s.logger.Warn("category tree cache write failed", zap.String("tenant_id", actor.TenantID), zap.Error(err))
	}
	return tree, nil
}

func (s *Service) CategoryPath(ctx context.Context, id string) (string, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return "", err
	}
	path, err := category.Path(ctx, s.categoryGetter(actor.TenantID), id)
	if err != nil {
		return "", notFound("category", id, err)
	}
	return path, nil
}

func (s *Service) invalidateTree(ctx context.Context, tenantID string) {
	if err := s.trees.InvalidateTree(ctx, tenantID); err != nil {
		s.logger.Warn("category tree cache invalidation failed", zap.String("tenant_id", tenantID), zap.Error(err))
	}
}

// categorySlug derives the slug from name. A name with no letters or digits
// gets a generated one so any non-empty name is accepted.
func categorySlug(name string) string {
	if slug := category.Slugify(name); slug != "" {
		return slug
	}
	return "category-" + xid.New("")[:8]
}

func trimmedID(id *string) string {
	if id == nil {
		return ""
	}
	return strings.TrimSpace(*id)
}
