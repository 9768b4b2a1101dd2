//go:build unit

package core_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"library-service/internal/adapter"
	"library-service/internal/core"
	"library-service/internal/core/model"
)

type fakeCheckout struct {
	mu       sync.Mutex
	fail     error
	n        int
	statuses map[string]string
	expired  map[string]bool
	requests []model.CheckoutRequest
}

func newFakeCheckout() *fakeCheckout {
	return &fakeCheckout{statuses: map[string]string{}, expired: map[string]bool{}}
}

func (f *fakeCheckout) CreateSession(_ context.Context, req model.CheckoutRequest) (model.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.fail != nil {
		return model.CheckoutSession{}, f.fail
	}
	f.n++
	id := fmt.Sprintf("cs_test_%d", f.n)
	f.statuses[id] = "unpaid"
	return model.CheckoutSession{ID: id, URL: "https://checkout.test/pay/" + id}, nil
}

func (f *fakeCheckout) RetrieveSession(_ context.Context, id string) (model.SessionStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return model.SessionStatus{}, f.fail
	}
	st, ok := f.statuses[id]
	if !ok {
		return model.SessionStatus{}, &model.CheckoutError{Rejected: true, Err: errors.New("no such session")}
	}
	state := model.SessionOpen
	switch {
	case st == model.SessionPaid:
		state = "complete"
	case f.expired[id]:
		state = "expired"
	}
	return model.SessionStatus{ID: id, PaymentStatus: st, Status: state}, nil
}

// ExpireSession refuses sessions that are already paid or expired, like Stripe.
func (f *fakeCheckout) ExpireSession(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	st, ok := f.statuses[id]
	if !ok || st == model.SessionPaid || f.expired[id] {
		return &model.CheckoutError{Rejected: true, Err: errors.New("session is not open")}
	}
	f.expired[id] = true
	return nil
}

func (f *fakeCheckout) isExpired(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.expired[id]
}

func (f *fakeCheckout) sessionsCreated() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.n
}

func (f *fakeCheckout) setFail(err error) {
	f.mu.Lock()
	f.fail = err
	f.mu.Unlock()
}

// markPaid simulates the user completing the hosted page. Expired sessions
// cannot be paid.
func (f *fakeCheckout) markPaid(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.expired[id] {
		return false
	}
	f.statuses[id] = model.SessionPaid
	return true
}

func (f *fakeCheckout) lastRequest() model.CheckoutRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

type recordingNotifier struct {
	mu    sync.Mutex
	got   []model.Notification
	err   error
	panic bool
}

func (r *recordingNotifier) Notify(_ context.Context, n model.Notification) error {
	if r.panic {
		panic("notifier exploded")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
	return r.err
}

func (r *recordingNotifier) events(event string) []model.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Notification
	for _, n := range r.got {
		if n.Event == event {
			out = append(out, n)
		}
	}
	return out
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type fixture struct {
	svc      *core.Service
	store    *adapter.MemoryStore
	checkout *fakeCheckout
	notifier *recordingNotifier
	clock    *clock
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newFixture(t *testing.T, today time.Time) *fixture {
	t.Helper()
	f := &fixture{
		store:    adapter.NewMemoryStore(),
		checkout: newFakeCheckout(),
		notifier: &recordingNotifier{},
		clock:    &clock{t: today.Add(9 * time.Hour)},
	}
	f.svc = core.NewService(f.store, f.checkout, f.notifier, core.Settings{
		PublicBaseURL: "https://library.test",
		Currency:      "usd",
		NotifyChannel: "chat-1",
	}, core.WithClock(f.clock.Now))
	return f
}

func (f *fixture) seedBook(t *testing.T, title string, inventory int, fee string) model.Book {
	t.Helper()
	b, err := f.store.Books().Create(context.Background(), model.Book{
		ID:        "book-" + title,
		Title:     title,
		Author:    "Author of " + title,
		Cover:     model.CoverHard,
		Inventory: inventory,
		DailyFee:  decimal.RequireFromString(fee),
		CreatedAt: time.Unix(1000, 0),
	})
	require.NoError(t, err)
	return b
}

func (f *fixture) inventory(t *testing.T, bookID string) int {
	t.Helper()
	b, err := f.store.Books().GetByID(context.Background(), bookID)
	require.NoError(t, err)
	return b.Inventory
}

// borrowAndPay creates a borrowing for user and confirms its payment.
func (f *fixture) borrowAndPay(t *testing.T, bookID, user string, expected time.Time) model.BorrowingDetail {
	t.Helper()
	ctx := context.Background()
	d, err := f.svc.CreateBorrowing(ctx, model.CreateBorrowingInput{BookID: bookID, UserID: user, ExpectedReturnDate: expected})
	require.NoError(t, err)
	require.Len(t, d.Payments, 1)
	f.checkout.markPaid(d.Payments[0].SessionID)
	_, err = f.svc.ConfirmPayment(ctx, d.Payments[0].SessionID)
	require.NoError(t, err)
	return d
}
