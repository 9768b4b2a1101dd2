package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	openapi_types "github.com/oapi-codegen/runtime/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"library-service/api"
	"library-service/internal/core/model"
	"library-service/pkg/util"
)

// LibraryService is the slice of core.Service the HTTP layer drives.
type LibraryService interface {
	CreateBook(ctx context.Context, actor model.Actor, in model.CreateBookInput) (model.Book, error)
	ListBooks(ctx context.Context, q model.BookQuery) (model.Page[model.Book], error)
	GetBook(ctx context.Context, id string) (model.Book, error)
	DeleteBook(ctx context.Context, actor model.Actor, id string) error

	CreateBorrowing(ctx context.Context, in model.CreateBorrowingInput) (model.BorrowingDetail, error)
	ReturnBorrowing(ctx context.Context, actor model.Actor, id string) (model.BorrowingDetail, error)
	GetBorrowing(ctx context.Context, actor model.Actor, id string) (model.BorrowingDetail, error)
	ListBorrowings(ctx context.Context, actor model.Actor, q model.BorrowingQuery) ([]model.BorrowingDetail, error)

	ConfirmPayment(ctx context.Context, sessionID string) (model.Payment, error)
	PaymentForSession(ctx context.Context, sessionID string) (model.Payment, error)
	PublicPayment(ctx context.Context, id string) (model.Payment, error)
	RenewCheckout(ctx context.Context, actor model.Actor, paymentID string) (model.Payment, error)
	GetPayment(ctx context.Context, actor model.Actor, id string) (model.Payment, error)
	ListPayments(ctx context.Context, actor model.Actor) ([]model.Payment, error)
}

type Handler struct {
	Svc      LibraryService
	Health   *HealthChecker
	log      *zap.Logger
	validate *validator.Validate
}

var _ api.ServerInterface = (*Handler)(nil)

func NewHTTPHandler(svc LibraryService, health *HealthChecker, logger *zap.Logger) *Handler {
	return &Handler{Svc: svc, Health: health, log: logger, validate: validator.New()}
}

type httpError struct {
	Error struct {
		Code    string                 `json:"code"`
		Message string                 `json:"message"`
		Details map[string]interface{} `json:"details,omitempty"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string, details map[string]interface{}) {
	e := httpError{}
	e.Error.Code = code
	e.Error.Message = msg
	e.Error.Details = details
	writeJSON(w, status, e)
}

// ParamErrorHandler renders parameter binding failures in the error envelope.
func ParamErrorHandler(w http.ResponseWriter, _ *http.Request, err error) {
	writeError(w, http.StatusBadRequest, "INVALID_PARAMETER", err.Error(), nil)
}

// errorKinds maps sentinel errors to status and code, first match wins.
var errorKinds = []struct {
	err    error
	status int
	code   string
}{
	{model.ErrOutOfStock, http.StatusBadRequest, "OUT_OF_STOCK"},
	{model.ErrHasPendingPayment, http.StatusBadRequest, "HAS_PENDING_PAYMENT"},
	{model.ErrInvalidDate, http.StatusBadRequest, "INVALID_DATE"},
	{model.ErrInvalidRange, http.StatusBadRequest, "INVALID_RANGE"},
	{model.ErrAlreadyReturned, http.StatusBadRequest, "ALREADY_RETURNED"},
	{model.ErrSessionNotFound, http.StatusBadRequest, "SESSION_NOT_FOUND"},
	{model.ErrPaymentNotCompleted, http.StatusBadRequest, "PAYMENT_NOT_COMPLETED"},
	{model.ErrValidation, http.StatusBadRequest, "VALIDATION_ERROR"},
	{model.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
	{model.ErrForbidden, http.StatusForbidden, "FORBIDDEN"},
	{model.ErrConflict, http.StatusConflict, "CONFLICT"},
	{model.ErrInvalidState, http.StatusConflict, "INVALID_STATE"},
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	var pending *model.PendingPaymentError
	if errors.As(err, &pending) {
		if pending.SessionURL != "" {
			w.Header().Set("Location", pending.SessionURL)
		}
		writeError(w, http.StatusBadRequest, "PENDING_PAYMENT", "borrowing has a pending payment", map[string]interface{}{
			"payment_id":  pending.PaymentID,
			"session_url": pending.SessionURL,
		})
		return
	}
	var checkout *model.CheckoutError
	if errors.As(err, &checkout) {
		writeError(w, http.StatusBadRequest, "CHECKOUT_FAILED", "payment session could not be created", map[string]interface{}{
			"payment_id":           checkout.PaymentID,
			"provider_unavailable": !checkout.Rejected,
		})
		return
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			writeError(w, k.status, k.code, err.Error(), nil)
			return
		}
	}
	h.log.Error("unhandled service error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (model.Actor, bool) {
	a, ok := ActorFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
	}
	return a, ok
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "request body is not valid JSON", nil)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		details := map[string]interface{}{}
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			for _, fe := range ve {
				details[fe.Field()] = fe.Tag()
			}
		}
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "request body failed validation", details)
		return false
	}
	return true
}

// ---- books

func (h *Handler) CreateBook(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req api.CreateBookRequest
	if !h.decode(w, r, &req) {
		return
	}
	fee, err := decimal.NewFromString(*req.DailyFee)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "daily_fee is not a decimal", nil)
		return
	}
	b, err := h.Svc.CreateBook(r.Context(), actor, model.CreateBookInput{
		Title:     req.Title,
		Author:    req.Author,
		Cover:     util.GetPtr(model.Cover(*req.Cover)),
		Inventory: req.Inventory,
		DailyFee:  &fee,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/books/"+b.ID)
	writeJSON(w, http.StatusCreated, toAPIBook(b))
}

func (h *Handler) ListBooks(w http.ResponseWriter, r *http.Request, params api.ListBooksParams) {
	q := model.BookQuery{
		Q:        params.Q,
		Author:   params.Author,
		Page:     util.Deref(params.Page, 1),
		PageSize: util.Deref(params.PageSize, 20),
	}
	if params.Cover != nil {
		c := model.Cover(strings.ToUpper(string(*params.Cover)))
		if !c.Valid() {
			writeError(w, http.StatusBadRequest, "INVALID_PARAMETER", "cover must be HARD or SOFT", nil)
			return
		}
		q.Cover = &c
	}
	if q.PageSize > 100 {
		q.PageSize = 100
	}
	if params.Sort != nil {
		keys, err := parseSort(*params.Sort)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_PARAMETER", err.Error(), nil)
			return
		}
		q.Sort = keys
	}

	page, err := h.Svc.ListBooks(r.Context(), q)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	out := api.PaginatedBooks{Data: make([]api.Book, 0, len(page.Data)), Page: page.Page, PageSize: page.PageSize, Total: page.Total}
	for _, b := range page.Data {
		out.Data = append(out.Data, toAPIBook(b))
	}
	writeJSON(w, http.StatusOK, out)
}

var sortableFields = map[string]bool{"title": true, "author": true, "inventory": true, "daily_fee": true, "created_at": true}

// parseSort reads "-daily_fee,title" style sort expressions.
func parseSort(s string) ([]model.SortKey, error) {
	var keys []model.SortKey
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k := model.SortKey{Field: part}
		if strings.HasPrefix(part, "-") {
			k = model.SortKey{Field: part[1:], Desc: true}
		}
		if !sortableFields[k.Field] {
			return nil, errors.New("unsupported sort field " + k.Field)
		}
		keys = append(keys, k)
	}
	return keys, nil
}

func (h *Handler) GetBookById(w http.ResponseWriter, r *http.Request, id string) {
	b, err := h.Svc.GetBook(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAPIBook(b))
}

func (h *Handler) DeleteBookById(w http.ResponseWriter, r *http.Request, id string) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	if err := h.Svc.DeleteBook(r.Context(), actor, id); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- borrowings

func (h *Handler) CreateBorrowing(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req api.CreateBorrowingRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.ExpectedReturnDate.IsZero() {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "expected_return_date is required", nil)
		return
	}
	d, err := h.Svc.CreateBorrowing(r.Context(), model.CreateBorrowingInput{
		BookID:             req.BookId,
		UserID:             actor.UserID,
		ExpectedReturnDate: req.ExpectedReturnDate.Time,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/borrowings/"+d.ID)
	writeJSON(w, http.StatusCreated, toAPIBorrowing(d))
}

func (h *Handler) ListBorrowings(w http.ResponseWriter, r *http.Request, params api.ListBorrowingsParams) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	list, err := h.Svc.ListBorrowings(r.Context(), actor, model.BorrowingQuery{UserID: params.UserId, IsActive: params.IsActive})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	out := make([]api.Borrowing, 0, len(list))
	for _, d := range list {
		out = append(out, toAPIBorrowing(d))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetBorrowingById(w http.ResponseWriter, r *http.Request, id string) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	d, err := h.Svc.GetBorrowing(r.Context(), actor, id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAPIBorrowing(d))
}

func (h *Handler) ReturnBorrowing(w http.ResponseWriter, r *http.Request, id string) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	d, err := h.Svc.ReturnBorrowing(r.Context(), actor, id)
	var checkout *model.CheckoutError
	if errors.As(err, &checkout) && d.ID != "" {
		// the book is back; only the fine session is missing
		writeError(w, http.StatusBadRequest, "CHECKOUT_FAILED", "book returned, but the fine payment session could not be created", map[string]interface{}{
			"payment_id":           checkout.PaymentID,
			"provider_unavailable": !checkout.Rejected,
			"borrowing":            toAPIBorrowing(d),
		})
		return
	}
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAPIBorrowing(d))
}

// ---- payments

func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	list, err := h.Svc.ListPayments(r.Context(), actor)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	out := make([]api.Payment, 0, len(list))
	for _, p := range list {
		out = append(out, toAPIPayment(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetPaymentById(w http.ResponseWriter, r *http.Request, id string) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	p, err := h.Svc.GetPayment(r.Context(), actor, id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAPIPayment(p))
}

// PaymentSuccess is the checkout provider's success redirect. It carries no
// bearer token; the session id is the credential.
func (h *Handler) PaymentSuccess(w http.ResponseWriter, r *http.Request, id string, params api.PaymentSuccessParams) {
	sessionID := util.Deref(params.SessionId, "")
	if sessionID == "" {
		h.writeServiceError(w, model.ErrSessionNotFound)
		return
	}
	p, err := h.Svc.PaymentForSession(r.Context(), sessionID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if p.ID != id {
		h.writeServiceError(w, model.ErrSessionNotFound)
		return
	}
	p, err = h.Svc.ConfirmPayment(r.Context(), sessionID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAPIPayment(p))
}

func (h *Handler) PaymentCancel(w http.ResponseWriter, r *http.Request, id string) {
	p, err := h.Svc.PublicPayment(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAPIPayment(p))
}

func (h *Handler) RenewPayment(w http.ResponseWriter, r *http.Request, id string) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	p, err := h.Svc.RenewCheckout(r.Context(), actor, id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAPIPayment(p))
}

// ---- health

func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	if h.Health == nil {
		writeJSON(w, http.StatusOK, api.Health{Status: "ok", Store: true})
		return
	}
	st := h.Health.Check(r.Context())
	out := api.Health{Status: "ok", Store: st.Store, Redis: st.Redis}
	status := http.StatusOK
	if !st.OK() {
		out.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, out)
}

// ---- mapping

func toAPIBook(b model.Book) api.Book {
	return api.Book{
		Id:        b.ID,
		Title:     b.Title,
		Author:    b.Author,
		Cover:     api.Cover(b.Cover),
		Inventory: b.Inventory,
		DailyFee:  b.DailyFee.StringFixed(2),
		CreatedAt: b.CreatedAt,
	}
}

func toAPIPayment(p model.Payment) api.Payment {
	out := api.Payment{
		Id:          p.ID,
		BorrowingId: p.BorrowingID,
		Status:      api.PaymentStatus(p.Status.String()),
		Type:        api.PaymentType(p.Type.String()),
		MoneyToPay:  p.MoneyToPay.StringFixed(2),
	}
	if p.SessionID != "" {
		out.SessionId = util.GetPtr(p.SessionID)
	}
	if p.SessionURL != "" {
		out.SessionUrl = util.GetPtr(p.SessionURL)
	}
	return out
}

func toAPIBorrowing(d model.BorrowingDetail) api.Borrowing {
	out := api.Borrowing{
		Id:                 d.ID,
		BookId:             d.BookID,
		UserId:             d.UserID,
		BorrowDate:         openapi_types.Date{Time: d.BorrowDate},
		ExpectedReturnDate: openapi_types.Date{Time: d.ExpectedReturnDate},
		IsActive:           d.Active(),
		Payments:           make([]api.Payment, 0, len(d.Payments)),
	}
	if d.ActualReturnDate != nil {
		out.ActualReturnDate = &openapi_types.Date{Time: *d.ActualReturnDate}
	}
	if d.Book.ID != "" {
		out.Book = util.GetPtr(toAPIBook(d.Book))
	}
	for _, p := range d.Payments {
		out.Payments = append(out.Payments, toAPIPayment(p))
	}
	return out
}
