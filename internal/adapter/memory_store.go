package adapter

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"library-service/internal/core"
	"library-service/internal/core/model"
)

// MemoryStore keeps everything in maps. Transactions hold the store mutex and
// work on a copy that replaces the live data on commit, so concurrent
// transactions are serialised.
type MemoryStore struct {
	mu   sync.Mutex
	data *memData
}

type memData struct {
	books      map[string]model.Book      // id -> Book
	bookKeys   map[string]string          // normalized title|author -> id
	borrowings map[string]model.Borrowing // id -> Borrowing
	payments   map[string]model.Payment   // id -> Payment
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: &memData{
		books:      make(map[string]model.Book),
		bookKeys:   make(map[string]string),
		borrowings: make(map[string]model.Borrowing),
		payments:   make(map[string]model.Payment),
	}}
}

func (d *memData) clone() *memData {
	c := &memData{
		books:      make(map[string]model.Book, len(d.books)),
		bookKeys:   make(map[string]string, len(d.bookKeys)),
		borrowings: make(map[string]model.Borrowing, len(d.borrowings)),
		payments:   make(map[string]model.Payment, len(d.payments)),
	}
	for k, v := range d.books {
		c.books[k] = v
	}
	for k, v := range d.bookKeys {
		c.bookKeys[k] = v
	}
	for k, v := range d.borrowings {
		c.borrowings[k] = v
	}
	for k, v := range d.payments {
		c.payments[k] = v
	}
	return c
}

// view runs fn against the data, either under the store lock or inside a tx.
type view interface {
	with(fn func(d *memData) error) error
}

type storeView struct{ s *MemoryStore }

func (v storeView) with(fn func(d *memData) error) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	return fn(v.s.data)
}

type txView struct{ d *memData }

func (v txView) with(fn func(d *memData) error) error { return fn(v.d) }

type memRepos struct{ v view }

func (r memRepos) Books() core.BookRepository           { return memBooks{r.v} }
func (r memRepos) Borrowings() core.BorrowingRepository { return memBorrowings{r.v} }
func (r memRepos) Payments() core.PaymentRepository     { return memPayments{r.v} }

func (s *MemoryStore) Books() core.BookRepository           { return memBooks{storeView{s}} }
func (s *MemoryStore) Borrowings() core.BorrowingRepository { return memBorrowings{storeView{s}} }
func (s *MemoryStore) Payments() core.PaymentRepository     { return memPayments{storeView{s}} }

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(tx core.Repositories) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.data.clone()
	if err := fn(memRepos{txView{work}}); err != nil {
		return err
	}
	s.data = work
	return nil
}

// ---- books

type memBooks struct{ v view }

func (r memBooks) Create(_ context.Context, b model.Book) (model.Book, error) {
	err := r.v.with(func(d *memData) error {
		if b.ID == "" {
			return model.ErrValidation
		}
		if _, ok := d.books[b.ID]; ok {
			return model.ErrConflict
		}
		key := bookKey(b.Title, b.Author)
		if _, exists := d.bookKeys[key]; exists {
			return model.ErrConflict
		}
		d.bookKeys[key] = b.ID
		d.books[b.ID] = b
		return nil
	})
	if err != nil {
		return model.Book{}, err
	}
	return b, nil
}

func (r memBooks) GetByID(_ context.Context, id string) (model.Book, error) {
	var b model.Book
	err := r.v.with(func(d *memData) error {
		var ok bool
		if b, ok = d.books[id]; !ok {
			return model.ErrNotFound
		}
		return nil
	})
	return b, err
}

// List returns a paginated slice of books matching the query.
// The flow is:
//
//  1. Snapshot all books (thread-safe copy).
//  2. Apply filters (title search, author, cover).
//  3. Sort by the provided keys; defaults to title ASC.
//  4. Apply pagination (page / page_size).
func (r memBooks) List(_ context.Context, q model.BookQuery) (model.Page[model.Book], error) {
	var items []model.Book
	_ = r.v.with(func(d *memData) error {
		items = make([]model.Book, 0, len(d.books))
		for _, b := range d.books {
			items = append(items, b)
		}
		return nil
	})

	// filters
	out := items[:0]
	for _, b := range items {
		if !matchFilters(b, q) {
			continue
		}
		out = append(out, b)
	}

	// sort
	sortBooks(out, q.Sort)

	// pagination
	page := q.Page
	if page < 1 {
		page = 1
	}
	size := q.PageSize
	if size < 1 {
		size = 20
	}
	total := len(out)
	start := (page - 1) * size
	if start > total {
		start = total
	}
	end := start + size
	if end > total {
		end = total
	}
	paged := make([]model.Book, end-start)
	copy(paged, out[start:end])

	return model.Page[model.Book]{Data: paged, Page: page, PageSize: size, Total: total}, nil
}

func (r memBooks) Delete(_ context.Context, id string) error {
	return r.v.with(func(d *memData) error {
		b, ok := d.books[id]
		if !ok {
			return model.ErrNotFound
		}
		for _, br := range d.borrowings {
			if br.BookID == id {
				return model.ErrConflict
			}
		}
		delete(d.bookKeys, bookKey(b.Title, b.Author))
		delete(d.books, id)
		return nil
	})
}

func (r memBooks) DecrementInventory(_ context.Context, id string) error {
	return r.v.with(func(d *memData) error {
		b, ok := d.books[id]
		if !ok {
			return model.ErrNotFound
		}
		if b.Inventory <= 0 {
			return model.ErrOutOfStock
		}
		b.Inventory--
		d.books[id] = b
		return nil
	})
}

func (r memBooks) IncrementInventory(_ context.Context, id string) error {
	return r.v.with(func(d *memData) error {
		b, ok := d.books[id]
		if !ok {
			return model.ErrNotFound
		}
		b.Inventory++
		d.books[id] = b
		return nil
	})
}

func bookKey(title, author string) string {
	return strings.ToLower(strings.TrimSpace(title)) + "|" + strings.ToLower(strings.TrimSpace(author))
}

// matchFilters checks whether a book matches the given query filters.
func matchFilters(b model.Book, q model.BookQuery) bool {
	// q: title contains (case-insensitive)
	if q.Q != nil {
		if !strings.Contains(strings.ToLower(b.Title), strings.ToLower(*q.Q)) {
			return false
		}
	}

	// author contains (case-insensitive)
	if q.Author != nil {
		if !strings.Contains(strings.ToLower(b.Author), strings.ToLower(*q.Author)) {
			return false
		}
	}

	// cover: exact
	if q.Cover != nil && b.Cover != *q.Cover {
		return false
	}
	return true
}

// sortBooks sorts books in-place by the provided sort keys.
// Supports multiple fields (title, author, inventory, daily_fee, created_at).
// Falls back to ID for stability.
func sortBooks(bs []model.Book, keys []model.SortKey) {
	if len(keys) == 0 {
		keys = []model.SortKey{{Field: "title"}}
	}

	sort.SliceStable(bs, func(i, j int) bool {
		for _, k := range keys {
			var c int
			switch k.Field {
			case "title":
				c = strings.Compare(bs[i].Title, bs[j].Title)
			case "author":
				c = strings.Compare(bs[i].Author, bs[j].Author)
			case "inventory":
				c = bs[i].Inventory - bs[j].Inventory
			case "daily_fee":
				c = bs[i].DailyFee.Cmp(bs[j].DailyFee)
			case "created_at":
				c = bs[i].CreatedAt.Compare(bs[j].CreatedAt)
			}
			if c != 0 {
				if k.Desc {
					return c > 0
				}
				return c < 0
			}
		}
		// sort by ID for deterministic ordering
		return bs[i].ID < bs[j].ID
	})
}

// ---- borrowings

type memBorrowings struct{ v view }

func (r memBorrowings) Create(_ context.Context, b model.Borrowing) (model.Borrowing, error) {
	err := r.v.with(func(d *memData) error {
		if _, ok := d.borrowings[b.ID]; ok {
			return model.ErrConflict
		}
		if _, ok := d.books[b.BookID]; !ok {
			return model.ErrNotFound
		}
		d.borrowings[b.ID] = copyBorrowing(b)
		return nil
	})
	if err != nil {
		return model.Borrowing{}, err
	}
	return copyBorrowing(b), nil
}

func (r memBorrowings) GetByID(_ context.Context, id string) (model.Borrowing, error) {
	var b model.Borrowing
	err := r.v.with(func(d *memData) error {
		got, ok := d.borrowings[id]
		if !ok {
			return model.ErrNotFound
		}
		b = copyBorrowing(got)
		return nil
	})
	return b, err
}

func (r memBorrowings) List(_ context.Context, q model.BorrowingQuery) ([]model.Borrowing, error) {
	var out []model.Borrowing
	_ = r.v.with(func(d *memData) error {
		for _, b := range d.borrowings {
			if q.UserID != nil && b.UserID != *q.UserID {
				continue
			}
			if q.IsActive != nil && b.Active() != *q.IsActive {
				continue
			}
			out = append(out, copyBorrowing(b))
		}
		return nil
	})
	sortBorrowings(out)
	return out, nil
}

func (r memBorrowings) ListDue(_ context.Context, by time.Time) ([]model.Borrowing, error) {
	var out []model.Borrowing
	_ = r.v.with(func(d *memData) error {
		for _, b := range d.borrowings {
			if b.Active() && !b.ExpectedReturnDate.After(by) {
				out = append(out, copyBorrowing(b))
			}
		}
		return nil
	})
	sortBorrowings(out)
	return out, nil
}

func (r memBorrowings) MarkReturned(_ context.Context, id string, on time.Time) error {
	return r.v.with(func(d *memData) error {
		b, ok := d.borrowings[id]
		if !ok {
			return model.ErrNotFound
		}
		if !b.Active() {
			return model.ErrAlreadyReturned
		}
		b.ActualReturnDate = &on
		d.borrowings[id] = b
		return nil
	})
}

func (r memBorrowings) Delete(_ context.Context, id string) error {
	return r.v.with(func(d *memData) error {
		if _, ok := d.borrowings[id]; !ok {
			return model.ErrNotFound
		}
		delete(d.borrowings, id)
		return nil
	})
}

func copyBorrowing(b model.Borrowing) model.Borrowing {
	if b.ActualReturnDate != nil {
		t := *b.ActualReturnDate
		b.ActualReturnDate = &t
	}
	return b
}

// newest first, like the history listing in MySQL
func sortBorrowings(bs []model.Borrowing) {
	sort.Slice(bs, func(i, j int) bool {
		if !bs[i].BorrowDate.Equal(bs[j].BorrowDate) {
			return bs[i].BorrowDate.After(bs[j].BorrowDate)
		}
		return bs[i].ID < bs[j].ID
	})
}

// ---- payments

type memPayments struct{ v view }

func (r memPayments) Create(_ context.Context, p model.Payment) (model.Payment, error) {
	err := r.v.with(func(d *memData) error {
		if _, ok := d.payments[p.ID]; ok {
			return model.ErrConflict
		}
		if _, ok := d.borrowings[p.BorrowingID]; !ok {
			return model.ErrNotFound
		}
		d.payments[p.ID] = p
		return nil
	})
	if err != nil {
		return model.Payment{}, err
	}
	return p, nil
}

func (r memPayments) GetByID(_ context.Context, id string) (model.Payment, error) {
	var p model.Payment
	err := r.v.with(func(d *memData) error {
		var ok bool
		if p, ok = d.payments[id]; !ok {
			return model.ErrNotFound
		}
		return nil
	})
	return p, err
}

func (r memPayments) GetBySessionID(_ context.Context, sessionID string) (model.Payment, error) {
	var p model.Payment
	err := r.v.with(func(d *memData) error {
		for _, got := range d.payments {
			if sessionID != "" && got.SessionID == sessionID {
				p = got
				return nil
			}
		}
		return model.ErrNotFound
	})
	return p, err
}

func (r memPayments) ListByBorrowing(_ context.Context, borrowingID string) ([]model.Payment, error) {
	var out []model.Payment
	_ = r.v.with(func(d *memData) error {
		for _, p := range d.payments {
			if p.BorrowingID == borrowingID {
				out = append(out, p)
			}
		}
		return nil
	})
	sortPayments(out)
	return out, nil
}

func (r memPayments) List(_ context.Context, q model.PaymentQuery) ([]model.Payment, error) {
	var out []model.Payment
	_ = r.v.with(func(d *memData) error {
		for _, p := range d.payments {
			if q.UserID != nil && d.borrowings[p.BorrowingID].UserID != *q.UserID {
				continue
			}
			out = append(out, p)
		}
		return nil
	})
	sortPayments(out)
	return out, nil
}

func (r memPayments) HasPendingForUser(_ context.Context, userID string) (bool, error) {
	var found bool
	_ = r.v.with(func(d *memData) error {
		for _, p := range d.payments {
			if p.Status == model.PaymentPending && d.borrowings[p.BorrowingID].UserID == userID {
				found = true
				return nil
			}
		}
		return nil
	})
	return found, nil
}

func (r memPayments) AttachSession(_ context.Context, id string, s model.CheckoutSession) error {
	return r.v.with(func(d *memData) error {
		p, ok := d.payments[id]
		if !ok {
			return model.ErrNotFound
		}
		p.SessionID, p.SessionURL = s.ID, s.URL
		d.payments[id] = p
		return nil
	})
}

func (r memPayments) MarkPaid(_ context.Context, id string) (bool, error) {
	var changed bool
	err := r.v.with(func(d *memData) error {
		p, ok := d.payments[id]
		if !ok {
			return model.ErrNotFound
		}
		if p.Status == model.PaymentPaid {
			return nil
		}
		p.Status = model.PaymentPaid
		d.payments[id] = p
		changed = true
		return nil
	})
	return changed, err
}

func (r memPayments) Delete(_ context.Context, id string) error {
	return r.v.with(func(d *memData) error {
		if _, ok := d.payments[id]; !ok {
			return model.ErrNotFound
		}
		delete(d.payments, id)
		return nil
	})
}

func sortPayments(ps []model.Payment) {
	sort.Slice(ps, func(i, j int) bool {
		if !ps[i].CreatedAt.Equal(ps[j].CreatedAt) {
			return ps[i].CreatedAt.Before(ps[j].CreatedAt)
		}
		return ps[i].ID < ps[j].ID
	})
}
