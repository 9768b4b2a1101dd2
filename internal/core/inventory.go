package core

import (
	"context"
	"errors"
	"fmt"

	"library-service/internal/core/model"
)

// checkStock reports whether a copy of book can be lent out.
func checkStock(book model.Book) error {
	if book.Inventory < 0 {
		return fmt.Errorf("%w: book %s has negative inventory %d", model.ErrInvalidState, book.ID, book.Inventory)
	}
	if book.Inventory == 0 {
		return model.ErrOutOfStock
	}
	return nil
}

// reserveCopy takes one copy of the book out of the inventory.
// It must run inside the transaction that creates the borrowing.
func reserveCopy(ctx context.Context, books BookRepository, book model.Book) error {
	if err := checkStock(book); err != nil {
		return err
	}
	if err := books.DecrementInventory(ctx, book.ID); err != nil {
		if errors.Is(err, model.ErrOutOfStock) {
			return model.ErrOutOfStock
		}
		return fmt.Errorf("reserve copy of %s: %w", book.ID, err)
	}
	return nil
}

// releaseCopy puts a copy back. Callers guarantee a prior reserveCopy.
func releaseCopy(ctx context.Context, books BookRepository, bookID string) error {
	if err := books.IncrementInventory(ctx, bookID); err != nil {
		return fmt.Errorf("release copy of %s: %w", bookID, err)
	}
	return nil
}
