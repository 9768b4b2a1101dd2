package core

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"library-service/internal/core/model"
)

// DateOf truncates t to its calendar date in UTC.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween counts whole calendar days from a to b (negative when b is before a).
func DaysBetween(a, b time.Time) int {
	return int(DateOf(b).Sub(DateOf(a)).Hours() / 24)
}

// RentalPrice charges every day of the borrowing, both ends included.
func RentalPrice(dailyFee decimal.Decimal, borrowDate, expectedReturnDate time.Time) (decimal.Decimal, error) {
	days := DaysBetween(borrowDate, expectedReturnDate)
	if days < 0 {
		return decimal.Zero, fmt.Errorf("%w: expected return %s is before borrow date %s",
			model.ErrInvalidRange, expectedReturnDate.Format(time.DateOnly), borrowDate.Format(time.DateOnly))
	}
	return dailyFee.Mul(decimal.NewFromInt(int64(days + 1))), nil
}

func OverdueFine(dailyFee decimal.Decimal, expectedReturnDate, actualReturnDate time.Time) decimal.Decimal {
	late := DaysBetween(expectedReturnDate, actualReturnDate)
	if late <= 0 {
		return decimal.Zero
	}
	return dailyFee.Mul(decimal.NewFromInt(int64(late * model.FineMultiplier)))
}

// MinorUnits converts an amount to cents for the checkout provider.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
