package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"multikasir/backend/internal/domain"
	"multikasir/backend/internal/store"
	"multikasir/backend/internal/xid"
)

// RegisterTenant opens a new tenant and its first tenant_admin account.
func (s *Service) RegisterTenant(ctx context.Context, req domain.RegisterRequest) (domain.User, error) {
	if err := s.validateRequest(req); err != nil {
		return domain.User{}, err
	}

	now := s.clock()
	tenant := domain.Tenant{
		ID:        xid.New("tnt"),
		Name:      strings.TrimSpace(req.BusinessName),
		CreatedAt: now,
	}
	if err := s.repo.CreateTenant(ctx, tenant); err != nil {
		return domain.User{}, fmt.Errorf("create tenant: %w", err)
	}

	hash, err := s.hashPassword(req.Password)
	if err != nil {
		return domain.User{}, err
	}
	user, err := s.repo.CreateUser(ctx, domain.User{
		ID:           xid.New(""),
		TenantID:     tenant.ID,
		Email:        normalizeEmail(req.Email),
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		Role:         domain.RoleTenantAdmin,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return domain.User{}, fmt.Errorf("create tenant admin: %w", err)
	}

	ctx = WithActor(ctx, domain.Actor{UserID: user.ID, TenantID: tenant.ID, Email: user.Email, Role: user.Role})
	s.logAudit(ctx, "tenant_register", "tenant", tenant.ID, zap.String("name", tenant.Name))
	return user, nil
}

// Authenticate checks credentials within one tenant. Unknown email, wrong
// password and inactive account all fail the same way.
func (s *Service) Authenticate(ctx context.Context, tenantID string, email string, password string) (domain.User, error) {
	user, err := s.authenticate(ctx, tenantID, email, password)
	s.metrics.AuthAttempt(err == nil)
	if err != nil {
		s.logger.Info("login rejected", zap.String("tenant_id", tenantID), zap.String("email", normalizeEmail(email)))
		return domain.User{}, err
	}
	return user, nil
}

func (s *Service) authenticate(ctx context.Context, tenantID string, email string, password string) (domain.User, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return domain.User{}, store.ErrUnauthorized
	}
	user, err := s.repo.GetUserByEmail(ctx, tenantID, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.User{}, fmt.Errorf("invalid credentials: %w", store.ErrUnauthorized)
		}
		return domain.User{}, err
	}
	if !verifyPassword(user.PasswordHash, password) || !user.IsActive {
		return domain.User{}, fmt.Errorf("invalid credentials: %w", store.ErrUnauthorized)
	}

	now := s.clock()
	user.LastLoginAt = &now
	updated, err := s.repo.UpdateUser(ctx, user)
	if err != nil {
		return domain.User{}, err
	}
	return updated, nil
}

// LookupActiveUser resolves a token subject. Deactivated or deleted users are unauthorized.
func (s *Service) LookupActiveUser(ctx context.Context, tenantID string, userID string) (domain.User, error) {
	user, err := s.repo.GetUser(ctx, tenantID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.User{}, store.ErrUnauthorized
		}
		return domain.User{}, err
	}
	if !user.IsActive {
		return domain.User{}, store.ErrUnauthorized
	}
	return user, nil
}

func (s *Service) CurrentUser(ctx context.Context) (domain.User, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return domain.User{}, err
	}
	return s.LookupActiveUser(ctx, actor.TenantID, actor.UserID)
}

func (s *Service) CreateUser(ctx context.Context, req domain.UserCreateRequest) (domain.User, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return domain.User{}, err
	}
	if err := s.validateRequest(req); err != nil {
		return domain.User{}, err
	}
	role := req.Role
	if role == "" {
		role = domain.RoleCashier
	}
	if err := checkRoleGrant(actor, role); err != nil {
		return domain.User{}, err
	}

	hash, err := s.hashPassword(req.Password)
	if err != nil {
		return domain.User{}, err
	}
	now := s.clock()
	email := normalizeEmail(req.Email)
	user, err := s.repo.CreateUser(ctx, domain.User{
		ID:           xid.New(""),
		TenantID:     actor.TenantID,
		Email:        email,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		Role:         role,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.User{}, fmt.Errorf("user with email %s %w", email, store.ErrConflict)
		}
		return domain.User{}, err
	}

	s.logAudit(ctx, "user_create", "user", user.ID, zap.String("role", user.Role))
	return user, nil
}

func (s *Service) ListUsers(ctx context.Context) ([]domain.User, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListUsers(ctx, actor.TenantID)
}

func (s *Service) GetUser(ctx context.Context, id string) (domain.User, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return domain.User{}, err
	}
	user, err := s.repo.GetUser(ctx, actor.TenantID, id)
	if err != nil {
		return domain.User{}, notFound("user", id, err)
	}
	return user, nil
}

func (s *Service) UpdateUser(ctx context.Context, id string, req domain.UserUpdateRequest) (domain.User, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return domain.User{}, err
	}
	if err := s.validateRequest(req); err != nil {
		return domain.User{}, err
	}

	user, err := s.repo.GetUser(ctx, actor.TenantID, id)
	if err != nil {
		return domain.User{}, notFound("user", id, err)
	}
	if user.Role == domain.RoleSuperAdmin && actor.Role != domain.RoleSuperAdmin {
		return domain.User{}, fmt.Errorf("%w: only a super_admin may modify a super_admin", store.ErrForbidden)
	}

	if req.Email != nil {
		user.Email = normalizeEmail(*req.Email)
	}
	if req.Password != nil {
		hash, err := s.hashPassword(*req.Password)
		if err != nil {
			return domain.User{}, err
		}
		user.PasswordHash = hash
	}
	if req.FirstName != nil {
		user.FirstName = strings.TrimSpace(*req.FirstName)
	}
	if req.LastName != nil {
		user.LastName = strings.TrimSpace(*req.LastName)
	}
	if req.Role != nil {
		if err := checkRoleGrant(actor, *req.Role); err != nil {
			return domain.User{}, err
		}
		user.Role = *req.Role
	}
	if req.IsActive != nil {
		if !*req.IsActive && user.ID == actor.UserID {
			return domain.User{}, fmt.Errorf("%w: you cannot deactivate your own account", store.ErrForbidden)
		}
		user.IsActive = *req.IsActive
	}
	user.UpdatedAt = s.clock()

	updated, err := s.repo.UpdateUser(ctx, user)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.User{}, fmt.Errorf("user with email %s %w", user.Email, store.ErrConflict)
		}
		return domain.User{}, notFound("user", id, err)
	}

	s.logAudit(ctx, "user_update", "user", updated.ID, zap.String("role", updated.Role), zap.Bool("active", updated.IsActive))
	return updated, nil
}

func (s *Service) DeleteUser(ctx context.Context, id string) error {
	actor, err := actorFrom(ctx)
	if err != nil {
		return err
	}
	if id == actor.UserID {
		return fmt.Errorf("%w: you cannot delete your own account", store.ErrForbidden)
	}
	user, err := s.repo.GetUser(ctx, actor.TenantID, id)
	if err != nil {
		return notFound("user", id, err)
	}
	if user.Role == domain.RoleSuperAdmin && actor.Role != domain.RoleSuperAdmin {
		return fmt.Errorf("%w: only a super_admin may delete a super_admin", store.ErrForbidden)
	}
	if err := s.repo.DeleteUser(ctx, actor.TenantID, id); err != nil {
		return notFound("user", id, err)
	}
	s.logAudit(ctx, "user_delete", "user", id)
	return nil
}

func checkRoleGrant(actor domain.Actor, role string) error {
	if role == domain.RoleSuperAdmin && actor.Role != domain.RoleSuperAdmin {
		return fmt.Errorf("%w: only a super_admin may grant super_admin", store.ErrForbidden)
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Service) hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.passwordCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
