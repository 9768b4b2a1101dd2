//go:build integration

package adapter

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library-service/internal/core"
	"library-service/internal/core/model"
)

// Run with MYSQL_DSN pointing at a disposable database, e.g.
// library:library@tcp(localhost:3306)/library_test?parseTime=true&loc=UTC
func newGormStore(t *testing.T) *GormStore {
	t.Helper()
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		t.Skip("MYSQL_DSN not set")
	}
	db, err := OpenMySQL(dsn)
	require.NoError(t, err)
	s := NewGormStore(db)
	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, s.Ping(context.Background()))
	return s
}

func seedGormBook(t *testing.T, s *GormStore, inventory int) model.Book {
	t.Helper()
	id := uuid.NewString()
	b, err := s.Books().Create(context.Background(), model.Book{
		ID:        id,
		Title:     "Title " + id[:8],
		Author:    "Author " + id[:8],
		Cover:     model.CoverSoft,
		Inventory: inventory,
		DailyFee:  decimal.RequireFromString("1.25"),
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	})
	require.NoError(t, err)
	return b
}

func TestGormStore_BookLifecycle(t *testing.T) {
	s := newGormStore(t)
	ctx := context.Background()
	b := seedGormBook(t, s, 1)

	got, err := s.Books().GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.Title, got.Title)
	assert.True(t, got.DailyFee.Equal(decimal.RequireFromString("1.25")))

	dup := b
	dup.ID = uuid.NewString()
	_, err = s.Books().Create(ctx, dup)
	assert.ErrorIs(t, err, model.ErrConflict)

	require.NoError(t, s.Books().DecrementInventory(ctx, b.ID))
	assert.ErrorIs(t, s.Books().DecrementInventory(ctx, b.ID), model.ErrOutOfStock)
	require.NoError(t, s.Books().IncrementInventory(ctx, b.ID))

	require.NoError(t, s.Books().Delete(ctx, b.ID))
	_, err = s.Books().GetByID(ctx, b.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestGormStore_BorrowingAndPayments(t *testing.T) {
	s := newGormStore(t)
	ctx := context.Background()
	b := seedGormBook(t, s, 2)
	user := "user-" + uuid.NewString()[:8]
	today := time.Now().UTC().Truncate(24 * time.Hour)

	br, err := s.Borrowings().Create(ctx, model.Borrowing{
		ID: uuid.NewString(), BookID: b.ID, UserID: user,
		BorrowDate: today, ExpectedReturnDate: today.AddDate(0, 0, 3),
	})
	require.NoError(t, err)

	p, err := s.Payments().Create(ctx, model.Payment{
		ID: uuid.NewString(), BorrowingID: br.ID, Type: model.PaymentTypePayment,
		MoneyToPay: decimal.RequireFromString("3.75"), CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	pending, err := s.Payments().HasPendingForUser(ctx, user)
	require.NoError(t, err)
	assert.True(t, pending)

	session := model.CheckoutSession{ID: "cs_" + uuid.NewString(), URL: "https://checkout.test/x"}
	require.NoError(t, s.Payments().AttachSession(ctx, p.ID, session))
	bySession, err := s.Payments().GetBySessionID(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, bySession.ID)

	changed, err := s.Payments().MarkPaid(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = s.Payments().MarkPaid(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, changed)

	pending, err = s.Payments().HasPendingForUser(ctx, user)
	require.NoError(t, err)
	assert.False(t, pending)

	// a book with borrowings cannot be removed
	assert.ErrorIs(t, s.Books().Delete(ctx, b.ID), model.ErrConflict)

	require.NoError(t, s.Borrowings().MarkReturned(ctx, br.ID, today))
	assert.ErrorIs(t, s.Borrowings().MarkReturned(ctx, br.ID, today), model.ErrAlreadyReturned)

	active := true
	list, err := s.Borrowings().List(ctx, model.BorrowingQuery{UserID: &user, IsActive: &active})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestGormStore_WithinTxRollsBack(t *testing.T) {
	s := newGormStore(t)
	ctx := context.Background()
	b := seedGormBook(t, s, 1)

	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(tx core.Repositories) error {
		if err := tx.Books().DecrementInventory(ctx, b.ID); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.Books().GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Inventory)
}

func TestGormStore_PendingCheckIsSerialisedPerUser(t *testing.T) {
	s := newGormStore(t)
	ctx := context.Background()
	books := []model.Book{seedGormBook(t, s, 1), seedGormBook(t, s, 1)}
	user := "user-" + uuid.NewString()[:8]
	today := time.Now().UTC().Truncate(24 * time.Hour)

	borrow := func(bookID string) error {
		return s.WithinTx(ctx, func(tx core.Repositories) error {
			pending, err := tx.Payments().HasPendingForUser(ctx, user)
			if err != nil {
				return err
			}
			if pending {
				return model.ErrHasPendingPayment
			}
			// keep the window open so the other transaction reaches its check
			time.Sleep(300 * time.Millisecond)
			b, err := tx.Borrowings().Create(ctx, model.Borrowing{
				ID: uuid.NewString(), BookID: bookID, UserID: user,
				BorrowDate: today, ExpectedReturnDate: today.AddDate(0, 0, 1),
			})
			if err != nil {
				return err
			}
			_, err = tx.Payments().Create(ctx, model.Payment{
				ID: uuid.NewString(), BorrowingID: b.ID, Type: model.PaymentTypePayment,
				MoneyToPay: decimal.RequireFromString("2.50"), CreatedAt: time.Now().UTC(),
			})
			return err
		})
	}

	errs := make([]error, len(books))
	var wg sync.WaitGroup
	for i, b := range books {
		wg.Add(1)
		go func(i int, bookID string) {
			defer wg.Done()
			errs[i] = borrow(bookID)
		}(i, b.ID)
	}
	wg.Wait()

	var ok, rejected int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, model.ErrHasPendingPayment):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, rejected)

	list, err := s.Borrowings().List(ctx, model.BorrowingQuery{UserID: &user})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
