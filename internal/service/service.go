package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"multikasir/backend/internal/cache"
	"multikasir/backend/internal/domain"
	"multikasir/backend/internal/logger"
	"multikasir/backend/internal/metrics"
	"multikasir/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Options carries every collaborator of the service. Only Repo is required.
type Options struct {
	Repo store.Repository
	// Sequencer defaults to Repo.
	Sequencer store.SaleSequencer
	// Trees defaults to a no-op cache.
	Trees   cache.CategoryTreeCache
	TreeTTL time.Duration
	Metrics *metrics.Metrics
	Logger  *zap.Logger
	// Location is the zone that defines a business day. Defaults to time.Local.
	Location     *time.Location
	Now          func() time.Time
	PasswordCost int
}

type Service struct {
	repo         store.Repository
	sequencer    store.SaleSequencer
	trees        cache.CategoryTreeCache
	treeTTL      time.Duration
	metrics      *metrics.Metrics
	logger       *zap.Logger
	validate     *validator.Validate
	location     *time.Location
	now          func() time.Time
	passwordCost int
}

func New(opts Options) *Service {
	s := &Service{
		repo:         opts.Repo,
		sequencer:    opts.Sequencer,
		trees:        opts.Trees,
		treeTTL:      opts.TreeTTL,
		metrics:      opts.Metrics,
		logger:       opts.Logger,
		location:     opts.Location,
		now:          opts.Now,
		passwordCost: opts.PasswordCost,
	}
	if s.sequencer == nil {
		s.sequencer = opts.Repo
	}
	if s.trees == nil {
		s.trees = cache.NoopCategoryTreeCache{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.location == nil {
		s.location = time.Local
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.passwordCost == 0 {
		s.passwordCost = bcrypt.DefaultCost
	}

	s.validate = validator.New(validator.WithRequiredStructEnabled())
	s.validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return s
}

// actorFrom returns the caller. Every tenant-scoped operation starts here so
// no store call runs without a tenant id.
func actorFrom(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.TenantID == "" {
		return domain.Actor{}, store.ErrUnauthorized
	}
	return actor, nil
}

func (s *Service) validateRequest(req any) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		field := fe.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return fmt.Errorf("%w: %s", store.ErrInvalidInput, strings.Join(msgs, "; "))
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", store.ErrInvalidInput, fmt.Sprintf(format, args...))
}

func notFound(entity string, id string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%s %s %w", entity, id, store.ErrNotFound)
	}
	return err
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, fields ...zap.Field) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{UserID: "system", Role: "system"}
	}
	base := []zap.Field{
		zap.String("action", action),
		zap.String("entity_type", entityType),
		zap.String("entity_id", entityID),
		zap.String("tenant_id", actor.TenantID),
		zap.String("actor_id", actor.UserID),
		zap.String("actor_role", actor.Role),
	}
	logger.FromContext(ctx, s.logger).Info("audit", append(base, fields...)...)
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}
