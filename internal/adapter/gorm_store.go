package adapter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"library-service/internal/core"
	"library-service/internal/core/model"
)

type bookRow struct {
	ID        string          `gorm:"type:char(36);primaryKey"`
	Title     string          `gorm:"type:varchar(64);not null;uniqueIndex:ux_books_title_author,priority:1"`
	Author    string          `gorm:"type:varchar(64);not null;uniqueIndex:ux_books_title_author,priority:2"`
	Cover     string          `gorm:"type:varchar(4);not null"`
	Inventory int             `gorm:"not null;check:chk_books_inventory,inventory >= 0"`
	DailyFee  decimal.Decimal `gorm:"type:decimal(10,2);not null"`
	CreatedAt time.Time       `gorm:"type:datetime(3);not null"`
}

func (bookRow) TableName() string { return "books" }

type borrowingRow struct {
	ID                 string     `gorm:"type:char(36);primaryKey"`
	BookID             string     `gorm:"type:char(36);not null;index:ix_borrowings_book_id"`
	UserID             string     `gorm:"type:varchar(64);not null;index:ix_borrowings_user_id"`
	BorrowDate         time.Time  `gorm:"type:date;not null"`
	ExpectedReturnDate time.Time  `gorm:"type:date;not null;index:ix_borrowings_expected"`
	ActualReturnDate   *time.Time `gorm:"type:date"`
	Book               bookRow    `gorm:"foreignKey:BookID;constraint:OnDelete:RESTRICT"`
}

func (borrowingRow) TableName() string { return "borrowings" }

type paymentRow struct {
	ID          string          `gorm:"type:char(36);primaryKey"`
	BorrowingID string          `gorm:"type:char(36);not null;index:ix_payments_borrowing_id"`
	Status      int             `gorm:"not null;index:ix_payments_status"`
	Type        int             `gorm:"not null"`
	SessionID   *string         `gorm:"type:varchar(255);uniqueIndex:ux_payments_session_id"`
	SessionURL  string          `gorm:"type:varchar(1024);not null;default:''"`
	MoneyToPay  decimal.Decimal `gorm:"type:decimal(10,2);not null"`
	CreatedAt   time.Time       `gorm:"type:datetime(3);not null"`
	Borrowing   borrowingRow    `gorm:"foreignKey:BorrowingID;constraint:OnDelete:CASCADE"`
}

func (paymentRow) TableName() string { return "payments" }

// borrowerLockRow serialises borrowing transactions of one user: the row is
// upserted, and so exclusively locked, before the pending-payment check.
type borrowerLockRow struct {
	UserID   string    `gorm:"type:varchar(64);primaryKey"`
	LockedAt time.Time `gorm:"type:datetime(3);not null"`
}

func (borrowerLockRow) TableName() string { return "borrower_locks" }

// GormStore persists to MySQL. Inside WithinTx book rows are read with
// SELECT ... FOR UPDATE.
type GormStore struct {
	db *gorm.DB
}

func OpenMySQL(dsn string) (*gorm.DB, error) {
	return gorm.Open(gormmysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&bookRow{}, &borrowingRow{}, &paymentRow{}, &borrowerLockRow{})
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *GormStore) Books() core.BookRepository           { return gormBooks{db: s.db} }
func (s *GormStore) Borrowings() core.BorrowingRepository { return gormBorrowings{db: s.db} }
func (s *GormStore) Payments() core.PaymentRepository     { return gormPayments{db: s.db} }

func (s *GormStore) WithinTx(ctx context.Context, fn func(tx core.Repositories) error) error {
	return withTxRetry(ctx, s.db, 3, func(tx *gorm.DB) error {
		return fn(gormRepos{db: tx})
	})
}

type gormRepos struct{ db *gorm.DB }

func (r gormRepos) Books() core.BookRepository           { return gormBooks{db: r.db, lock: true} }
func (r gormRepos) Borrowings() core.BorrowingRepository { return gormBorrowings{db: r.db, lock: true} }
func (r gormRepos) Payments() core.PaymentRepository     { return gormPayments{db: r.db, lock: true} }

// ---- books

type gormBooks struct {
	db   *gorm.DB
	lock bool
}

func (r gormBooks) Create(ctx context.Context, b model.Book) (model.Book, error) {
	row := toBookRow(b)
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isDup(err) {
			return model.Book{}, model.ErrConflict
		}
		return model.Book{}, err
	}
	return fromBookRow(row), nil
}

func (r gormBooks) GetByID(ctx context.Context, id string) (model.Book, error) {
	q := r.db.WithContext(ctx)
	if r.lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var row bookRow
	if err := q.First(&row, "id = ?", id).Error; err != nil {
		return model.Book{}, notFound(err)
	}
	return fromBookRow(row), nil
}

var bookSortColumns = map[string]string{
	"title":      "title",
	"author":     "author",
	"inventory":  "inventory",
	"daily_fee":  "daily_fee",
	"created_at": "created_at",
}

func (r gormBooks) List(ctx context.Context, q model.BookQuery) (model.Page[model.Book], error) {
	tx := r.db.WithContext(ctx).Model(&bookRow{})
	if q.Q != nil {
		tx = tx.Where("LOWER(title) LIKE ?", "%"+strings.ToLower(*q.Q)+"%")
	}
	if q.Author != nil {
		tx = tx.Where("LOWER(author) LIKE ?", "%"+strings.ToLower(*q.Author)+"%")
	}
	if q.Cover != nil {
		tx = tx.Where("cover = ?", string(*q.Cover))
	}

	tx = tx.Session(&gorm.Session{})
	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return model.Page[model.Book]{}, err
	}

	keys := q.Sort
	if len(keys) == 0 {
		keys = []model.SortKey{{Field: "title"}}
	}
	for _, k := range keys {
		col, ok := bookSortColumns[k.Field]
		if !ok {
			continue
		}
		tx = tx.Order(clause.OrderByColumn{Column: clause.Column{Name: col}, Desc: k.Desc})
	}
	tx = tx.Order("id")

	page, size := q.Page, q.PageSize
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}
	var rows []bookRow
	if err := tx.Offset((page - 1) * size).Limit(size).Find(&rows).Error; err != nil {
		return model.Page[model.Book]{}, err
	}
	data := make([]model.Book, 0, len(rows))
	for _, row := range rows {
		data = append(data, fromBookRow(row))
	}
	return model.Page[model.Book]{Data: data, Page: page, PageSize: size, Total: int(total)}, nil
}

func (r gormBooks) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Delete(&bookRow{}, "id = ?", id)
	if res.Error != nil {
		if isFKViolation(res.Error) {
			return model.ErrConflict
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return model.ErrNotFound
	}
	return nil
}

// DecrementInventory is a compare-and-decrement: the row only changes while
// a copy is left.
func (r gormBooks) DecrementInventory(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).
		Model(&bookRow{}).
		Where("id = ? AND inventory > 0", id).
		UpdateColumn("inventory", gorm.Expr("inventory - 1"))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != 1 {
		return model.ErrOutOfStock
	}
	return nil
}

func (r gormBooks) IncrementInventory(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).
		Model(&bookRow{}).
		Where("id = ?", id).
		UpdateColumn("inventory", gorm.Expr("inventory + 1"))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != 1 {
		return model.ErrNotFound
	}
	return nil
}

func toBookRow(b model.Book) bookRow {
	return bookRow{
		ID:        b.ID,
		Title:     b.Title,
		Author:    b.Author,
		Cover:     string(b.Cover),
		Inventory: b.Inventory,
		DailyFee:  b.DailyFee,
		CreatedAt: b.CreatedAt,
	}
}

func fromBookRow(r bookRow) model.Book {
	return model.Book{
		ID:        r.ID,
		Title:     r.Title,
		Author:    r.Author,
		Cover:     model.Cover(r.Cover),
		Inventory: r.Inventory,
		DailyFee:  r.DailyFee,
		CreatedAt: r.CreatedAt,
	}
}

// ---- borrowings

type gormBorrowings struct {
	db   *gorm.DB
	lock bool
}

func (r gormBorrowings) Create(ctx context.Context, b model.Borrowing) (model.Borrowing, error) {
	row := toBorrowingRow(b)
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(&row).Error; err != nil {
		if isDup(err) {
			return model.Borrowing{}, model.ErrConflict
		}
		if isFKViolation(err) {
			return model.Borrowing{}, model.ErrNotFound
		}
		return model.Borrowing{}, err
	}
	return fromBorrowingRow(row), nil
}

func (r gormBorrowings) GetByID(ctx context.Context, id string) (model.Borrowing, error) {
	q := r.db.WithContext(ctx)
	if r.lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var row borrowingRow
	if err := q.First(&row, "id = ?", id).Error; err != nil {
		return model.Borrowing{}, notFound(err)
	}
	return fromBorrowingRow(row), nil
}

func (r gormBorrowings) List(ctx context.Context, q model.BorrowingQuery) ([]model.Borrowing, error) {
	tx := r.db.WithContext(ctx).Model(&borrowingRow{})
	if q.UserID != nil {
		tx = tx.Where("user_id = ?", *q.UserID)
	}
	if q.IsActive != nil {
		if *q.IsActive {
			tx = tx.Where("actual_return_date IS NULL")
		} else {
			tx = tx.Where("actual_return_date IS NOT NULL")
		}
	}
	var rows []borrowingRow
	if err := tx.Order("borrow_date DESC").Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	return fromBorrowingRows(rows), nil
}

func (r gormBorrowings) ListDue(ctx context.Context, by time.Time) ([]model.Borrowing, error) {
	var rows []borrowingRow
	err := r.db.WithContext(ctx).
		Where("actual_return_date IS NULL AND expected_return_date <= ?", by).
		Order("borrow_date DESC").Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return fromBorrowingRows(rows), nil
}

func (r gormBorrowings) MarkReturned(ctx context.Context, id string, on time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&borrowingRow{}).
		Where("id = ? AND actual_return_date IS NULL", id).
		UpdateColumn("actual_return_date", on)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return model.ErrAlreadyReturned
}

func (r gormBorrowings) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Delete(&borrowingRow{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return model.ErrNotFound
	}
	return nil
}

func toBorrowingRow(b model.Borrowing) borrowingRow {
	return borrowingRow{
		ID:                 b.ID,
		BookID:             b.BookID,
		UserID:             b.UserID,
		BorrowDate:         b.BorrowDate,
		ExpectedReturnDate: b.ExpectedReturnDate,
		ActualReturnDate:   b.ActualReturnDate,
	}
}

func fromBorrowingRow(r borrowingRow) model.Borrowing {
	b := model.Borrowing{
		ID:                 r.ID,
		BookID:             r.BookID,
		UserID:             r.UserID,
		BorrowDate:         core.DateOf(r.BorrowDate),
		ExpectedReturnDate: core.DateOf(r.ExpectedReturnDate),
	}
	if r.ActualReturnDate != nil {
		d := core.DateOf(*r.ActualReturnDate)
		b.ActualReturnDate = &d
	}
	return b
}

func fromBorrowingRows(rows []borrowingRow) []model.Borrowing {
	out := make([]model.Borrowing, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromBorrowingRow(row))
	}
	return out
}

// ---- payments

type gormPayments struct {
	db   *gorm.DB
	lock bool
}

func (r gormPayments) Create(ctx context.Context, p model.Payment) (model.Payment, error) {
	row := toPaymentRow(p)
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(&row).Error; err != nil {
		if isDup(err) {
			return model.Payment{}, model.ErrConflict
		}
		if isFKViolation(err) {
			return model.Payment{}, model.ErrNotFound
		}
		return model.Payment{}, err
	}
	return fromPaymentRow(row), nil
}

func (r gormPayments) GetByID(ctx context.Context, id string) (model.Payment, error) {
	var row paymentRow
	if err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return model.Payment{}, notFound(err)
	}
	return fromPaymentRow(row), nil
}

func (r gormPayments) GetBySessionID(ctx context.Context, sessionID string) (model.Payment, error) {
	var row paymentRow
	if err := r.db.WithContext(ctx).First(&row, "session_id = ?", sessionID).Error; err != nil {
		return model.Payment{}, notFound(err)
	}
	return fromPaymentRow(row), nil
}

func (r gormPayments) ListByBorrowing(ctx context.Context, borrowingID string) ([]model.Payment, error) {
	var rows []paymentRow
	err := r.db.WithContext(ctx).
		Where("borrowing_id = ?", borrowingID).
		Order("created_at").Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return fromPaymentRows(rows), nil
}

func (r gormPayments) List(ctx context.Context, q model.PaymentQuery) ([]model.Payment, error) {
	tx := r.db.WithContext(ctx).Model(&paymentRow{})
	if q.UserID != nil {
		tx = tx.Joins("JOIN borrowings ON borrowings.id = payments.borrowing_id").
			Where("borrowings.user_id = ?", *q.UserID)
	}
	var rows []paymentRow
	if err := tx.Order("payments.created_at").Order("payments.id").Find(&rows).Error; err != nil {
		return nil, err
	}
	return fromPaymentRows(rows), nil
}

// HasPendingForUser inside a transaction holds the user's borrower lock until
// commit, so two borrowings of one user cannot both pass the check.
func (r gormPayments) HasPendingForUser(ctx context.Context, userID string) (bool, error) {
	q := r.db.WithContext(ctx)
	if r.lock {
		err := q.Clauses(clause.OnConflict{
			DoUpdates: clause.AssignmentColumns([]string{"locked_at"}),
		}).Create(&borrowerLockRow{UserID: userID, LockedAt: time.Now().UTC()}).Error
		if err != nil {
			return false, fmt.Errorf("lock borrower %s: %w", userID, err)
		}
		// locking read: see payments committed while we waited for the lock
		q = q.Clauses(clause.Locking{Strength: "SHARE"})
	}
	var cnt int64
	err := q.
		Model(&paymentRow{}).
		Joins("JOIN borrowings ON borrowings.id = payments.borrowing_id").
		Where("borrowings.user_id = ? AND payments.status = ?", userID, int(model.PaymentPending)).
		Count(&cnt).Error
	return cnt > 0, err
}

func (r gormPayments) AttachSession(ctx context.Context, id string, s model.CheckoutSession) error {
	res := r.db.WithContext(ctx).
		Model(&paymentRow{}).
		Where("id = ?", id).
		Updates(map[string]any{"session_id": s.ID, "session_url": s.URL})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return model.ErrNotFound
	}
	return nil
}

// MarkPaid only touches PENDING rows, so a repeated confirmation reports false.
func (r gormPayments) MarkPaid(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&paymentRow{}).
		Where("id = ? AND status = ?", id, int(model.PaymentPending)).
		UpdateColumn("status", int(model.PaymentPaid))
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		return true, nil
	}
	if _, err := r.GetByID(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (r gormPayments) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Delete(&paymentRow{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return model.ErrNotFound
	}
	return nil
}

func toPaymentRow(p model.Payment) paymentRow {
	row := paymentRow{
		ID:          p.ID,
		BorrowingID: p.BorrowingID,
		Status:      int(p.Status),
		Type:        int(p.Type),
		SessionURL:  p.SessionURL,
		MoneyToPay:  p.MoneyToPay,
		CreatedAt:   p.CreatedAt,
	}
	if p.SessionID != "" {
		row.SessionID = &p.SessionID
	}
	return row
}

func fromPaymentRow(r paymentRow) model.Payment {
	p := model.Payment{
		ID:          r.ID,
		BorrowingID: r.BorrowingID,
		Status:      model.PaymentStatus(r.Status),
		Type:        model.PaymentType(r.Type),
		SessionURL:  r.SessionURL,
		MoneyToPay:  r.MoneyToPay,
		CreatedAt:   r.CreatedAt,
	}
	if r.SessionID != nil {
		p.SessionID = *r.SessionID
	}
	return p
}

func fromPaymentRows(rows []paymentRow) []model.Payment {
	out := make([]model.Payment, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromPaymentRow(row))
	}
	return out
}

// --- tx + error helpers

func withTxRetry(ctx context.Context, db *gorm.DB, attempts int, fn func(tx *gorm.DB) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error

	for i := 0; i < attempts; i++ {
		err := db.WithContext(ctx).Transaction(fn)
		if err == nil {
			return nil
		}
		lastErr = err

		if isRetryableMySQLError(err) && i < attempts-1 {
			select {
			case <-time.After(time.Duration(50*(i+1)) * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		return err
	}
	return lastErr
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.ErrNotFound
	}
	return fmt.Errorf("query: %w", err)
}

func isRetryableMySQLError(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		// 1213: Deadlock found; 1205: Lock wait timeout
		return me.Number == 1213 || me.Number == 1205
	}
	return false
}

func isDup(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}

func isFKViolation(err error) bool {
	var me *mysql.MySQLError
	// 1451: parent row referenced; 1452: parent row missing
	return errors.As(err, &me) && (me.Number == 1451 || me.Number == 1452)
}
