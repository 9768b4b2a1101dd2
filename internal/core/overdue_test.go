//go:build unit

package core_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library-service/internal/core/model"
)

func TestCheckOverdue_NothingDue(t *testing.T) {
	f := newFixture(t, date(2050, 10, 10))
	book := f.seedBook(t, "Calm", 1, "1")
	f.borrowAndPay(t, book.ID, "u1", date(2050, 10, 20))

	n, err := f.svc.CheckOverdue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	got := f.notifier.events(model.EventOverdueReport)
	require.Len(t, got, 1)
	assert.Equal(t, "No borrowings overdue today!", got[0].Text)
}

func TestCheckOverdue_ReportsEachBorrowing(t *testing.T) {
	f := newFixture(t, date(2050, 10, 1))
	book := f.seedBook(t, "Busy", 5, "1")
	ctx := context.Background()
	late := f.borrowAndPay(t, book.ID, "u1", date(2050, 10, 5))
	tomorrow := f.borrowAndPay(t, book.ID, "u2", date(2050, 10, 11))
	f.borrowAndPay(t, book.ID, "u3", date(2050, 10, 30))
	returned := f.borrowAndPay(t, book.ID, "u4", date(2050, 10, 2))
	_, err := f.svc.ReturnBorrowing(ctx, model.Actor{UserID: "u4"}, returned.ID)
	require.NoError(t, err)

	f.clock.set(date(2050, 10, 10))
	n, err := f.svc.CheckOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got := f.notifier.events(model.EventOverdueReport)
	require.Len(t, got, 2)
	texts := got[0].Text + got[1].Text
	assert.Contains(t, texts, late.ID)
	assert.Contains(t, texts, tomorrow.ID)
	assert.Contains(t, texts, "Busy")
}
