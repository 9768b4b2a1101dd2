package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"library-service/internal/core/model"
)

// CreateBorrowing lends one copy of a book to the user and opens a checkout
// session for the rental price. The borrowing, the inventory reservation and the
// payment are committed first; if the checkout provider fails they are undone.
func (s *Service) CreateBorrowing(ctx context.Context, in model.CreateBorrowingInput) (model.BorrowingDetail, error) {
	if in.BookID == "" || in.UserID == "" || in.ExpectedReturnDate.IsZero() {
		return model.BorrowingDetail{}, model.ErrValidation
	}
	today := s.today()
	expected := DateOf(in.ExpectedReturnDate)

	var (
		book      model.Book
		borrowing model.Borrowing
		payment   model.Payment
	)
	err := s.Store.WithinTx(ctx, func(tx Repositories) error {
		var err error
		book, err = tx.Books().GetByID(ctx, in.BookID)
		if err != nil {
			return err
		}
		if err := checkStock(book); err != nil {
			return err
		}
		pending, err := tx.Payments().HasPendingForUser(ctx, in.UserID)
		if err != nil {
			return err
		}
		if pending {
			return model.ErrHasPendingPayment
		}
		if expected.Before(today) {
			return model.ErrInvalidDate
		}

		if err := reserveCopy(ctx, tx.Books(), book); err != nil {
			return err
		}
		book.Inventory--

		borrowing, err = tx.Borrowings().Create(ctx, model.Borrowing{
			ID:                 uuid.NewString(),
			BookID:             book.ID,
			UserID:             in.UserID,
			BorrowDate:         today,
			ExpectedReturnDate: expected,
		})
		if err != nil {
			return err
		}

		price, err := RentalPrice(book.DailyFee, borrowing.BorrowDate, borrowing.ExpectedReturnDate)
		if err != nil {
			return err
		}
		payment, err = tx.Payments().Create(ctx, model.Payment{
			ID:          uuid.NewString(),
			BorrowingID: borrowing.ID,
			Status:      model.PaymentPending,
			Type:        model.PaymentTypePayment,
			MoneyToPay:  price,
			CreatedAt:   s.now(),
		})
		return err
	})
	if err != nil {
		return model.BorrowingDetail{}, err
	}

	session, err := s.openSession(ctx, payment, fmt.Sprintf("Borrowing of %q", book.Title))
	if err != nil {
		if cerr := s.undoBorrowing(ctx, borrowing, payment); cerr != nil {
			s.log.Error("compensation failed", zap.String("borrowing_id", borrowing.ID), zap.Error(cerr))
			return model.BorrowingDetail{}, errors.Join(err, cerr)
		}
		return model.BorrowingDetail{}, err
	}
	payment.SessionID, payment.SessionURL = session.ID, session.URL

	s.log.Info("borrowing created",
		zap.String("borrowing_id", borrowing.ID),
		zap.String("book_id", book.ID),
		zap.String("user_id", borrowing.UserID),
		zap.String("price", payment.MoneyToPay.StringFixed(2)))
	s.notify(ctx, model.EventBorrowingCreated, fmt.Sprintf(
		"New borrowing created at %s.\nID: %s\nBook: %s",
		borrowing.BorrowDate.Format(time.DateOnly), borrowing.ID, book.Title))

	return model.BorrowingDetail{Borrowing: borrowing, Book: book, Payments: []model.Payment{payment}}, nil
}

// undoBorrowing is the compensating transaction for a failed checkout session.
func (s *Service) undoBorrowing(ctx context.Context, b model.Borrowing, p model.Payment) error {
	ctx = context.WithoutCancel(ctx)
	return s.Store.WithinTx(ctx, func(tx Repositories) error {
		if err := tx.Payments().Delete(ctx, p.ID); err != nil {
			return err
		}
		if err := tx.Borrowings().Delete(ctx, b.ID); err != nil {
			return err
		}
		return releaseCopy(ctx, tx.Books(), b.BookID)
	})
}

// ReturnBorrowing closes an active borrowing and puts the copy back. A late
// return creates a FINE payment; if its checkout session cannot be opened the
// returned borrowing is still reported together with the checkout error.
func (s *Service) ReturnBorrowing(ctx context.Context, actor model.Actor, borrowingID string) (model.BorrowingDetail, error) {
	today := s.today()

	var (
		borrowing model.Borrowing
		book      model.Book
		fine      *model.Payment
	)
	err := s.Store.WithinTx(ctx, func(tx Repositories) error {
		var err error
		borrowing, err = tx.Borrowings().GetByID(ctx, borrowingID)
		if err != nil {
			return err
		}
		if !actor.IsStaff && borrowing.UserID != actor.UserID {
			return model.ErrNotFound
		}
		if !borrowing.Active() {
			return model.ErrAlreadyReturned
		}
		payments, err := tx.Payments().ListByBorrowing(ctx, borrowing.ID)
		if err != nil {
			return err
		}
		for _, p := range payments {
			if p.Status == model.PaymentPending {
				return &model.PendingPaymentError{PaymentID: p.ID, SessionURL: p.SessionURL}
			}
		}

		book, err = tx.Books().GetByID(ctx, borrowing.BookID)
		if err != nil {
			return err
		}
		if err := releaseCopy(ctx, tx.Books(), book.ID); err != nil {
			return err
		}
		book.Inventory++

		if err := tx.Borrowings().MarkReturned(ctx, borrowing.ID, today); err != nil {
			return err
		}
		returned := today
		borrowing.ActualReturnDate = &returned

		amount := OverdueFine(book.DailyFee, borrowing.ExpectedReturnDate, today)
		if amount.IsPositive() {
			p, err := tx.Payments().Create(ctx, model.Payment{
				ID:          uuid.NewString(),
				BorrowingID: borrowing.ID,
				Status:      model.PaymentPending,
				Type:        model.PaymentTypeFine,
				MoneyToPay:  amount,
				CreatedAt:   s.now(),
			})
			if err != nil {
				return err
			}
			fine = &p
		}
		return nil
	})
	if err != nil {
		return model.BorrowingDetail{}, err
	}

	text := fmt.Sprintf("Borrowing %s returned on %s.\nBook: %s", borrowing.ID, today.Format(time.DateOnly), book.Title)
	var checkoutErr error
	if fine != nil {
		text += "\nFine: " + fine.MoneyToPay.StringFixed(2)
		session, err := s.openSession(ctx, *fine, fmt.Sprintf("Overdue fine for %q", book.Title))
		if err != nil {
			checkoutErr = err
		} else {
			fine.SessionID, fine.SessionURL = session.ID, session.URL
		}
	}
	s.log.Info("borrowing returned",
		zap.String("borrowing_id", borrowing.ID),
		zap.Bool("late", fine != nil))
	s.notify(ctx, model.EventBorrowingReturned, text)

	detail, err := s.loadDetail(ctx, borrowing)
	if err != nil {
		detail = model.BorrowingDetail{Borrowing: borrowing, Book: book}
		if fine != nil {
			detail.Payments = []model.Payment{*fine}
		}
	}
	return detail, checkoutErr
}

func (s *Service) GetBorrowing(ctx context.Context, actor model.Actor, id string) (model.BorrowingDetail, error) {
	b, err := s.Store.Borrowings().GetByID(ctx, id)
	if err != nil {
		return model.BorrowingDetail{}, err
	}
	if !actor.IsStaff && b.UserID != actor.UserID {
		return model.BorrowingDetail{}, model.ErrNotFound
	}
	return s.loadDetail(ctx, b)
}

// ListBorrowings honours the user_id and is_active filters for staff only;
// everybody else sees their own borrowings.
func (s *Service) ListBorrowings(ctx context.Context, actor model.Actor, q model.BorrowingQuery) ([]model.BorrowingDetail, error) {
	if !actor.IsStaff {
		q = model.BorrowingQuery{UserID: &actor.UserID}
	}
	list, err := s.Store.Borrowings().List(ctx, q)
	if err != nil {
		return nil, err
	}
	out := make([]model.BorrowingDetail, 0, len(list))
	for _, b := range list {
		d, err := s.loadDetail(ctx, b)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *Service) loadDetail(ctx context.Context, b model.Borrowing) (model.BorrowingDetail, error) {
	book, err := s.Store.Books().GetByID(ctx, b.BookID)
	if err != nil {
		return model.BorrowingDetail{}, err
	}
	payments, err := s.Store.Payments().ListByBorrowing(ctx, b.ID)
	if err != nil {
		return model.BorrowingDetail{}, err
	}
	return model.BorrowingDetail{Borrowing: b, Book: book, Payments: payments}, nil
}

// openSession asks the provider for a checkout session and stores its handles
// on the payment.
func (s *Service) openSession(ctx context.Context, p model.Payment, description string) (model.CheckoutSession, error) {
	base := fmt.Sprintf("%s/api/v1/payments/%s", s.Settings.PublicBaseURL, p.ID)
	session, err := s.Checkout.CreateSession(ctx, model.CheckoutRequest{
		PaymentID:   p.ID,
		AmountMinor: MinorUnits(p.MoneyToPay),
		Currency:    s.Settings.Currency,
		Description: description,
		SuccessURL:  base + "/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:   base + "/cancel",
	})
	if err != nil {
		ce := checkoutError(p.ID, err)
		s.log.Warn("checkout session failed",
			zap.String("payment_id", p.ID),
			zap.Bool("rejected", ce.Rejected),
			zap.Error(ce.Err))
		return model.CheckoutSession{}, ce
	}
	if err := s.Store.Payments().AttachSession(ctx, p.ID, session); err != nil {
		return model.CheckoutSession{}, fmt.Errorf("store checkout session: %w", err)
	}
	return session, nil
}
