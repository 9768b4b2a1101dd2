package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// All core models live here together for simplicity.

type Cover string

const (
	CoverHard Cover = "HARD"
	CoverSoft Cover = "SOFT"
)

func (c Cover) Valid() bool { return c == CoverHard || c == CoverSoft }

type PaymentStatus int

const (
	PaymentPending PaymentStatus = 0
	PaymentPaid    PaymentStatus = 1
)

func (s PaymentStatus) String() string {
	switch s {
	case PaymentPending:
		return "PENDING"
	case PaymentPaid:
		return "PAID"
	}
	return fmt.Sprintf("PaymentStatus(%d)", int(s))
}

type PaymentType int

const (
	PaymentTypePayment PaymentType = 0
	PaymentTypeFine    PaymentType = 1
)

func (t PaymentType) String() string {
	switch t {
	case PaymentTypePayment:
		return "PAYMENT"
	case PaymentTypeFine:
		return "FINE"
	}
	return fmt.Sprintf("PaymentType(%d)", int(t))
}

// FineMultiplier scales the daily fee for every day past the expected return date.
const FineMultiplier = 2

var (
	ErrValidation          = errors.New("validation")
	ErrConflict            = errors.New("conflict")
	ErrNotFound            = errors.New("not_found")
	ErrForbidden           = errors.New("forbidden")
	ErrOutOfStock          = errors.New("out_of_stock")
	ErrHasPendingPayment   = errors.New("has_pending_payment")
	ErrInvalidDate         = errors.New("invalid_date")
	ErrInvalidRange        = errors.New("invalid_range")
	ErrAlreadyReturned     = errors.New("already_returned")
	ErrPendingPayment      = errors.New("pending_payment")
	ErrCheckoutFailed      = errors.New("checkout_failed")
	ErrSessionNotFound     = errors.New("session_not_found")
	ErrPaymentNotCompleted = errors.New("payment_not_completed")
	ErrInvalidState        = errors.New("invalid_state")
)

// PendingPaymentError is returned when a borrowing still has an unpaid payment.
// The caller is expected to send the user to SessionURL.
type PendingPaymentError struct {
	PaymentID  string
	SessionURL string
}

func (e *PendingPaymentError) Error() string {
	return fmt.Sprintf("pending payment %s", e.PaymentID)
}

func (e *PendingPaymentError) Unwrap() error { return ErrPendingPayment }

// CheckoutError wraps a checkout provider failure. Rejected is true when the
// provider answered with a business error rather than being unreachable.
type CheckoutError struct {
	PaymentID string
	Rejected  bool
	Err       error
}

func (e *CheckoutError) Error() string {
	kind := "unavailable"
	if e.Rejected {
		kind = "rejected"
	}
	return fmt.Sprintf("checkout %s for payment %s: %v", kind, e.PaymentID, e.Err)
}

func (e *CheckoutError) Unwrap() []error { return []error{ErrCheckoutFailed, e.Err} }

type Book struct {
	ID        string
	Title     string
	Author    string
	Cover     Cover
	Inventory int
	DailyFee  decimal.Decimal
	CreatedAt time.Time
}

type Borrowing struct {
	ID                 string
	BookID             string
	UserID             string
	BorrowDate         time.Time
	ExpectedReturnDate time.Time
	ActualReturnDate   *time.Time
}

func (b Borrowing) Active() bool { return b.ActualReturnDate == nil }

type Payment struct {
	ID          string
	BorrowingID string
	Status      PaymentStatus
	Type        PaymentType
	SessionID   string
	SessionURL  string
	MoneyToPay  decimal.Decimal
	CreatedAt   time.Time
}

// BorrowingDetail is a borrowing together with its book and payments,
// loaded explicitly by the service.
type BorrowingDetail struct {
	Borrowing
	Book     Book
	Payments []Payment
}

type Page[T any] struct {
	Data     []T
	Page     int
	PageSize int
	Total    int
}

type SortKey struct {
	Field string // title | author | inventory | daily_fee | created_at
	Desc  bool
}

type BookQuery struct {
	Q        *string // contained in title, case-insensitive
	Author   *string // contains, case-insensitive
	Cover    *Cover
	Sort     []SortKey
	Page     int
	PageSize int
}

type BorrowingQuery struct {
	UserID   *string
	IsActive *bool
}

type PaymentQuery struct {
	UserID *string
}

type CreateBookInput struct {
	Title     *string
	Author    *string
	Cover     *Cover
	Inventory *int
	DailyFee  *decimal.Decimal
}

type CreateBorrowingInput struct {
	BookID             string
	UserID             string
	ExpectedReturnDate time.Time
}

// Actor is the authenticated caller. Staff may see and filter every record.
type Actor struct {
	UserID  string
	IsStaff bool
}

type Notification struct {
	Event     string
	Text      string
	ChannelID string
}

const (
	EventBorrowingCreated  = "borrowing.created"
	EventBorrowingReturned = "borrowing.returned"
	EventPaymentCompleted  = "payment.completed"
	EventOverdueReport     = "borrowing.overdue"
)

type CheckoutRequest struct {
	PaymentID   string
	AmountMinor int64
	Currency    string
	Description string
	SuccessURL  string
	CancelURL   string
}

type CheckoutSession struct {
	ID  string
	URL string
}

const (
	SessionPaid = "paid"
	SessionOpen = "open"
)

type SessionStatus struct {
	ID            string
	PaymentStatus string // "paid" | "unpaid" | "no_payment_required"
	// Status is the session state: "open", "complete" or "expired".
	Status string
}
