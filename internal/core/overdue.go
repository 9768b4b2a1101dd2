package core

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"library-service/internal/core/model"
)

// CheckOverdue reports every active borrowing due by tomorrow, one
// notification each, or a single all-clear message when there is none.
// It returns the number of borrowings reported.
func (s *Service) CheckOverdue(ctx context.Context) (int, error) {
	today := s.today()
	due, err := s.Store.Borrowings().ListDue(ctx, today.AddDate(0, 0, 1))
	if err != nil {
		return 0, err
	}
	if len(due) == 0 {
		s.notify(ctx, model.EventOverdueReport, "No borrowings overdue today!")
		return 0, nil
	}
	for _, b := range due {
		title := b.BookID
		if book, err := s.Store.Books().GetByID(ctx, b.BookID); err == nil {
			title = book.Title
		}
		s.notify(ctx, model.EventOverdueReport, fmt.Sprintf(
			"Borrowing #%s is overdue.\nBook: %s (id: %s)\nUser: %s\nToday: %s\nExpected return date: %s",
			b.ID, title, b.BookID, b.UserID, today.Format(time.DateOnly), b.ExpectedReturnDate.Format(time.DateOnly)))
	}
	s.log.Info("overdue report sent", zap.Int("count", len(due)))
	return len(due), nil
}
