package core

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"library-service/internal/core/model"
	"library-service/pkg/util"
)

func (s *Service) CreateBook(ctx context.Context, actor model.Actor, in model.CreateBookInput) (model.Book, error) {
	if !actor.IsStaff {
		return model.Book{}, model.ErrForbidden
	}
	// basic validation
	title := strings.TrimSpace(util.Deref(in.Title, ""))
	author := strings.TrimSpace(util.Deref(in.Author, ""))
	if title == "" || author == "" || len(title) > 64 || len(author) > 64 {
		return model.Book{}, model.ErrValidation
	}
	if in.Cover == nil || !in.Cover.Valid() {
		return model.Book{}, model.ErrValidation
	}
	if in.Inventory == nil || *in.Inventory < 0 {
		return model.Book{}, model.ErrValidation
	}
	if in.DailyFee == nil || !in.DailyFee.IsPositive() {
		return model.Book{}, model.ErrValidation
	}

	b := model.Book{
		ID:        uuid.NewString(),
		Title:     title,
		Author:    author,
		Cover:     *in.Cover,
		Inventory: *in.Inventory,
		DailyFee:  in.DailyFee.Round(2),
		CreatedAt: s.now(),
	}
	// duplicate (title, author) is rejected by the repository
	return s.Store.Books().Create(ctx, b)
}

func (s *Service) ListBooks(ctx context.Context, q model.BookQuery) (model.Page[model.Book], error) {
	return s.Store.Books().List(ctx, q)
}

func (s *Service) GetBook(ctx context.Context, id string) (model.Book, error) {
	return s.Store.Books().GetByID(ctx, id)
}

func (s *Service) DeleteBook(ctx context.Context, actor model.Actor, id string) error {
	if !actor.IsStaff {
		return model.ErrForbidden
	}
	return s.Store.Books().Delete(ctx, id)
}
