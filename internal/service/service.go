package service

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"retailpos/backend/internal/clock"
	"retailpos/backend/internal/config"
	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/metrics"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/xid"
)

const maxTxAttempts = 3

type actorContextKey struct{}

type requestMetaKey struct{}

type requestMeta struct {
	ip        string
	userAgent string
}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// WithRequestMeta attaches the client address and user agent recorded on
// audit entries.
func WithRequestMeta(ctx context.Context, ip string, userAgent string) context.Context {
	return context.WithValue(ctx, requestMetaKey{}, requestMeta{ip: ip, userAgent: userAgent})
}

func requestMetaFrom(ctx context.Context) requestMeta {
	meta, _ := ctx.Value(requestMetaKey{}).(requestMeta)
	return meta
}

type Service struct {
	repo      store.Repository
	rules     config.Rules
	clock     clock.Clock
	loc       *time.Location
	log       zerolog.Logger
	metrics   *metrics.Metrics
	validate  *validator.Validate
	hashCost  int
	dummyHash []byte
}

type Option func(*Service)

func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) {
		s.log = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithLocation sets the timezone that receipt and return numbers roll over in.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithHashCost overrides the bcrypt cost. Tests use bcrypt.MinCost.
func WithHashCost(cost int) Option {
	return func(s *Service) {
		s.hashCost = cost
	}
}

func New(repo store.Repository, rules config.Rules, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		rules:    rules,
		clock:    clock.System{},
		loc:      time.UTC,
		log:      zerolog.Nop(),
		hashCost: bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.validate = validator.New(validator.WithRequiredStructEnabled())
	s.validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})

	hash, err := bcrypt.GenerateFromPassword([]byte(xid.New("dummy")), s.hashCost)
	if err != nil {
		s.log.Error().Err(err).Msg("generate dummy password hash")
	}
	s.dummyHash = hash
	s.log = s.log.With().Str("component", "service").Logger()
	return s
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC()
}

// inTx runs fn in a transaction and retries the whole unit when the store
// reports a serialization conflict.
func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = s.repo.RunInTx(ctx, fn)
		if !errors.Is(err, domain.ErrConcurrencyConflict) || ctx.Err() != nil {
			return err
		}
		if attempt < maxTxAttempts {
			s.metrics.ConflictRetried()
			s.log.Debug().Err(err).Int("attempt", attempt).Msg("retrying transaction after conflict")
		}
	}
	return err
}

func (s *Service) validateRequest(req any) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return domain.Invalid(fe.Field(), describeRule(fe))
	}
	return domain.Invalid("", err.Error())
}

func describeRule(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		if fe.Kind() == reflect.Slice {
			return "needs at least " + fe.Param() + " entries"
		}
		return "must be at least " + fe.Param() + " characters"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "gte":
		return "must be " + fe.Param() + " or more"
	case "ne":
		return "must not be " + fe.Param()
	case "email":
		return "must be a valid email address"
	default:
		return "failed " + fe.Tag() + " rule"
	}
}

// requireCapability resolves the context actor against the live account and
// role rows so that deactivation and role edits apply immediately.
func (s *Service) requireCapability(ctx context.Context, tx store.Tx, capability domain.Capability) (*domain.Account, error) {
	return s.requireAnyCapability(ctx, tx, capability)
}

func (s *Service) requireAnyCapability(ctx context.Context, tx store.Tx, capabilities ...domain.Capability) (*domain.Account, error) {
	denied := &domain.ForbiddenError{}
	if len(capabilities) > 0 {
		denied.Capability = capabilities[0]
	}

	actor, ok := ActorFromContext(ctx)
	if !ok || actor.AccountID == "" {
		return nil, denied
	}
	account, err := tx.GetAccountByID(ctx, actor.AccountID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, denied
	}
	if err != nil {
		return nil, err
	}
	if domain.StateOf(*account, s.rules.LockoutThreshold) != domain.StateActiveUnlocked {
		return nil, denied
	}
	role, err := tx.GetRole(ctx, account.Role)
	if errors.Is(err, store.ErrNotFound) {
		return nil, denied
	}
	if err != nil {
		return nil, err
	}
	for _, capability := range capabilities {
		if role.Capabilities.Allows(capability) {
			return account, nil
		}
	}
	return nil, denied
}

type auditEntry struct {
	action      domain.AuditAction
	entityType  string
	entityID    string
	description string
	oldValues   any
	newValues   any
}

func actorOf(account *domain.Account) domain.Actor {
	if account == nil {
		return domain.Actor{}
	}
	return domain.Actor{AccountID: account.ID, Username: account.Username, Role: account.Role}
}

func (s *Service) buildAuditLog(ctx context.Context, actor domain.Actor, entry auditEntry) (domain.AuditLog, error) {
	meta := requestMetaFrom(ctx)
	log := domain.AuditLog{
		ID:          xid.New("audit"),
		AccountID:   actor.AccountID,
		Username:    actor.Username,
		Action:      entry.action,
		EntityType:  entry.entityType,
		EntityID:    entry.entityID,
		Description: entry.description,
		IPAddress:   meta.ip,
		UserAgent:   meta.userAgent,
		CreatedAt:   s.now(),
	}
	var err error
	if log.OldValues, err = marshalValues(entry.oldValues); err != nil {
		return domain.AuditLog{}, err
	}
	if log.NewValues, err = marshalValues(entry.newValues); err != nil {
		return domain.AuditLog{}, err
	}
	return log, nil
}

func marshalValues(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// logAudit writes inside the business transaction; an error aborts it.
func (s *Service) logAudit(ctx context.Context, tx store.Tx, actor domain.Actor, entry auditEntry) error {
	log, err := s.buildAuditLog(ctx, actor, entry)
	if err != nil {
		return err
	}
	return tx.AppendAuditLog(ctx, log)
}

// auditFailure records a failed operation in its own transaction, after the
// business transaction has rolled back.
func (s *Service) auditFailure(ctx context.Context, actor domain.Actor, entry auditEntry) {
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}
	err := s.repo.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return s.logAudit(ctx, tx, actor, entry)
	})
	if err != nil {
		s.log.Warn().Err(err).
			Str("action", string(entry.action)).
			Str("entity_id", entry.entityID).
			Msg("failed to write audit entry")
	}
}

func contextActor(ctx context.Context) domain.Actor {
	actor, _ := ActorFromContext(ctx)
	return actor
}

// failureReason is the metrics label for a failed operation.
func failureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, domain.ErrPaymentMismatch):
		return "payment_mismatch"
	case errors.Is(err, domain.ErrNegativeStock):
		return "negative_stock"
	case errors.Is(err, domain.ErrReturnWindowExpired):
		return "return_window_expired"
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	case errors.Is(err, domain.ErrForbidden):
		return "forbidden"
	case errors.Is(err, domain.ErrConcurrencyConflict):
		return "conflict"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	default:
		return "internal"
	}
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}
