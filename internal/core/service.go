package core

import (
	"context"
	"time"

	"go.uber.org/zap"

	"library-service/internal/core/model"
)

type BookRepository interface {
	Create(ctx context.Context, b model.Book) (model.Book, error)
	GetByID(ctx context.Context, id string) (model.Book, error)
	List(ctx context.Context, q model.BookQuery) (model.Page[model.Book], error)
	Delete(ctx context.Context, id string) error
	// DecrementInventory fails with model.ErrOutOfStock when no copy is left.
	DecrementInventory(ctx context.Context, id string) error
	IncrementInventory(ctx context.Context, id string) error
}

type BorrowingRepository interface {
	Create(ctx context.Context, b model.Borrowing) (model.Borrowing, error)
	GetByID(ctx context.Context, id string) (model.Borrowing, error)
	List(ctx context.Context, q model.BorrowingQuery) ([]model.Borrowing, error)
	// ListDue returns active borrowings expected back on or before the given date.
	ListDue(ctx context.Context, by time.Time) ([]model.Borrowing, error)
	// MarkReturned fails with model.ErrAlreadyReturned when the date is already set.
	MarkReturned(ctx context.Context, id string, on time.Time) error
	Delete(ctx context.Context, id string) error
}

type PaymentRepository interface {
	Create(ctx context.Context, p model.Payment) (model.Payment, error)
	GetByID(ctx context.Context, id string) (model.Payment, error)
	GetBySessionID(ctx context.Context, sessionID string) (model.Payment, error)
	ListByBorrowing(ctx context.Context, borrowingID string) ([]model.Payment, error)
	List(ctx context.Context, q model.PaymentQuery) ([]model.Payment, error)
	// HasPendingForUser called through a transaction stays true or false for
	// that user until the transaction ends.
	HasPendingForUser(ctx context.Context, userID string) (bool, error)
	AttachSession(ctx context.Context, id string, s model.CheckoutSession) error
	// MarkPaid reports whether the row moved from PENDING to PAID.
	MarkPaid(ctx context.Context, id string) (bool, error)
	Delete(ctx context.Context, id string) error
}

type Repositories interface {
	Books() BookRepository
	Borrowings() BorrowingRepository
	Payments() PaymentRepository
}

// Store runs fn atomically: either every write made through tx is kept or none is.
// Book rows read through tx are locked until fn returns.
type Store interface {
	Repositories
	WithinTx(ctx context.Context, fn func(tx Repositories) error) error
}

type CheckoutProvider interface {
	CreateSession(ctx context.Context, req model.CheckoutRequest) (model.CheckoutSession, error)
	RetrieveSession(ctx context.Context, sessionID string) (model.SessionStatus, error)
	// ExpireSession closes an open session so it can no longer be paid.
	ExpireSession(ctx context.Context, sessionID string) error
}

type Notifier interface {
	Notify(ctx context.Context, n model.Notification) error
}

type Settings struct {
	// PublicBaseURL prefixes the checkout success/cancel redirect URLs.
	PublicBaseURL string
	Currency      string
	// NotifyChannel is the channel id passed with every notification.
	NotifyChannel string
}

type Service struct {
	Store    Store
	Checkout CheckoutProvider
	Notifier Notifier
	Settings Settings

	log *zap.Logger
	now func() time.Time
}

type Option func(*Service)

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithClock replaces time.Now; tests use it to pin "today".
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store Store, checkout CheckoutProvider, notifier Notifier, settings Settings, opts ...Option) *Service {
	if settings.Currency == "" {
		settings.Currency = "usd"
	}
	s := &Service{
		Store:    store,
		Checkout: checkout,
		Notifier: notifier,
		Settings: settings,
		log:      zap.NewNop(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) today() time.Time { return DateOf(s.now()) }

// notify is best effort: failures are logged, never returned.
func (s *Service) notify(ctx context.Context, event, text string) {
	if s.Notifier == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("notifier panicked", zap.String("event", event), zap.Any("panic", r))
		}
	}()
	n := model.Notification{Event: event, Text: text, ChannelID: s.Settings.NotifyChannel}
	if err := s.Notifier.Notify(context.WithoutCancel(ctx), n); err != nil {
		s.log.Warn("notification dropped", zap.String("event", event), zap.Error(err))
	}
}
