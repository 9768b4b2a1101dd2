package core

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"library-service/internal/core/model"
)

// ConfirmPayment is driven by the checkout success redirect. It asks the
// provider whether the session was paid and, if so, flips the payment to PAID.
// Confirming a PAID payment again is a no-op and does not notify twice.
func (s *Service) ConfirmPayment(ctx context.Context, sessionID string) (model.Payment, error) {
	if sessionID == "" {
		return model.Payment{}, model.ErrSessionNotFound
	}
	p, err := s.Store.Payments().GetBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.Payment{}, model.ErrSessionNotFound
		}
		return model.Payment{}, err
	}
	if p.Status == model.PaymentPaid {
		return p, nil
	}

	st, err := s.Checkout.RetrieveSession(ctx, sessionID)
	if err != nil {
		return p, checkoutError(p.ID, err)
	}
	if st.PaymentStatus != model.SessionPaid {
		return p, fmt.Errorf("%w: session %s is %s", model.ErrPaymentNotCompleted, sessionID, st.PaymentStatus)
	}

	var changed bool
	err = s.Store.WithinTx(ctx, func(tx Repositories) error {
		var err error
		changed, err = tx.Payments().MarkPaid(ctx, p.ID)
		return err
	})
	if err != nil {
		return p, err
	}
	p.Status = model.PaymentPaid

	if changed {
		s.log.Info("payment completed", zap.String("payment_id", p.ID), zap.String("type", p.Type.String()))
		s.notify(ctx, model.EventPaymentCompleted, fmt.Sprintf(
			"Payment %s completed.\nType: %s\nBorrowing: %s\nAmount: %s",
			p.ID, p.Type, p.BorrowingID, p.MoneyToPay.StringFixed(2)))
	}
	return p, nil
}

// RenewCheckout opens a fresh checkout session for a payment that is still
// pending, for example a fine whose first session could not be created.
// A previous session is checked first: if it was paid the payment is confirmed
// instead, and if it is still open it is expired so it cannot be paid later.
func (s *Service) RenewCheckout(ctx context.Context, actor model.Actor, paymentID string) (model.Payment, error) {
	p, err := s.GetPayment(ctx, actor, paymentID)
	if err != nil {
		return model.Payment{}, err
	}
	if p.Status != model.PaymentPending {
		return p, fmt.Errorf("%w: payment %s is already %s", model.ErrInvalidState, p.ID, p.Status)
	}

	if p.SessionID != "" {
		st, err := s.Checkout.RetrieveSession(ctx, p.SessionID)
		if err != nil {
			return p, checkoutError(p.ID, err)
		}
		if st.PaymentStatus == model.SessionPaid {
			return s.ConfirmPayment(ctx, p.SessionID)
		}
		if st.Status == model.SessionOpen {
			// fails if the user completes the old session meanwhile; the next renew confirms it
			if err := s.Checkout.ExpireSession(ctx, p.SessionID); err != nil {
				return p, checkoutError(p.ID, err)
			}
			s.log.Info("checkout session expired", zap.String("payment_id", p.ID), zap.String("session_id", p.SessionID))
		}
	}

	session, err := s.openSession(ctx, p, fmt.Sprintf("%s for borrowing %s", p.Type, p.BorrowingID))
	if err != nil {
		return p, err
	}
	p.SessionID, p.SessionURL = session.ID, session.URL
	return p, nil
}

func (s *Service) GetPayment(ctx context.Context, actor model.Actor, id string) (model.Payment, error) {
	p, err := s.Store.Payments().GetByID(ctx, id)
	if err != nil {
		return model.Payment{}, err
	}
	if actor.IsStaff {
		return p, nil
	}
	b, err := s.Store.Borrowings().GetByID(ctx, p.BorrowingID)
	if err != nil {
		return model.Payment{}, err
	}
	if b.UserID != actor.UserID {
		return model.Payment{}, model.ErrNotFound
	}
	return p, nil
}

func (s *Service) ListPayments(ctx context.Context, actor model.Actor) ([]model.Payment, error) {
	q := model.PaymentQuery{}
	if !actor.IsStaff {
		q.UserID = &actor.UserID
	}
	return s.Store.Payments().List(ctx, q)
}

// PaymentForSession returns the payment behind a checkout session without
// contacting the provider.
func (s *Service) PaymentForSession(ctx context.Context, sessionID string) (model.Payment, error) {
	p, err := s.Store.Payments().GetBySessionID(ctx, sessionID)
	if errors.Is(err, model.ErrNotFound) {
		return model.Payment{}, model.ErrSessionNotFound
	}
	return p, err
}

// PublicPayment loads a payment by id for the unauthenticated checkout redirects.
func (s *Service) PublicPayment(ctx context.Context, id string) (model.Payment, error) {
	return s.Store.Payments().GetByID(ctx, id)
}

func checkoutError(paymentID string, err error) *model.CheckoutError {
	var ce *model.CheckoutError
	if !errors.As(err, &ce) {
		ce = &model.CheckoutError{Err: err}
	}
	ce.PaymentID = paymentID
	return ce
}
