// Package api is the HTTP contract described in openapi.yaml: request and
// response types, parameter binding and chi routing. It follows the layout
// oapi-codegen produces for the chi server target.
package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	openapi_types "github.com/oapi-codegen/runtime/types"
)

// Defines values for Cover.
const (
	HARD Cover = "HARD"
	SOFT Cover = "SOFT"
)

// Defines values for PaymentStatus.
const (
	PAID    PaymentStatus = "PAID"
	PENDING PaymentStatus = "PENDING"
)

// Defines values for PaymentType.
const (
	FINE    PaymentType = "FINE"
	PAYMENT PaymentType = "PAYMENT"
)

// Book defines model for Book.
type Book struct {
	Author    string    `json:"author"`
	Cover     Cover     `json:"cover"`
	CreatedAt time.Time `json:"created_at"`

	// DailyFee Decimal amount with two fraction digits, e.g. "0.50".
	DailyFee  string `json:"daily_fee"`
	Id        string `json:"id"`
	Inventory int    `json:"inventory"`
	Title     string `json:"title"`
}

// Borrowing defines model for Borrowing.
type Borrowing struct {
	ActualReturnDate   *openapi_types.Date `json:"actual_return_date,omitempty"`
	Book               *Book               `json:"book,omitempty"`
	BookId             string              `json:"book_id"`
	BorrowDate         openapi_types.Date  `json:"borrow_date"`
	ExpectedReturnDate openapi_types.Date  `json:"expected_return_date"`
	Id                 string              `json:"id"`
	IsActive           bool                `json:"is_active"`
	Payments           []Payment           `json:"payments"`
	UserId             string              `json:"user_id"`
}

// Cover defines model for Cover.
type Cover string

// CreateBookRequest defines model for CreateBookRequest.
type CreateBookRequest struct {
	Author    *string `json:"author,omitempty" validate:"required,min=1,max=64"`
	Cover     *Cover  `json:"cover,omitempty" validate:"required,oneof=HARD SOFT"`
	DailyFee  *string `json:"daily_fee,omitempty" validate:"required,numeric"`
	Inventory *int    `json:"inventory,omitempty" validate:"required,min=0"`
	Title     *string `json:"title,omitempty" validate:"required,min=1,max=64"`
}

// CreateBorrowingRequest defines model for CreateBorrowingRequest.
type CreateBorrowingRequest struct {
	BookId             string             `json:"book_id" validate:"required"`
	ExpectedReturnDate openapi_types.Date `json:"expected_return_date"`
}

// Error defines model for Error.
type Error struct {
	Error struct {
		Code    string                  `json:"code"`
		Details *map[string]interface{} `json:"details,omitempty"`
		Message string                  `json:"message"`
	} `json:"error"`
}

// Health defines model for Health.
type Health struct {
	Redis  *bool  `json:"redis,omitempty"`
	Status string `json:"status"`
	Store  bool   `json:"store"`
}

// PaginatedBooks defines model for PaginatedBooks.
type PaginatedBooks struct {
	Data     []Book `json:"data"`
	Page     int    `json:"page"`
	PageSize int    `json:"page_size"`
	Total    int    `json:"total"`
}

// Payment defines model for Payment.
type Payment struct {
	BorrowingId string        `json:"borrowing_id"`
	Id          string        `json:"id"`
	MoneyToPay  string        `json:"money_to_pay"`
	SessionId   *string       `json:"session_id,omitempty"`
	SessionUrl  *string       `json:"session_url,omitempty"`
	Status      PaymentStatus `json:"status"`
	Type        PaymentType   `json:"type"`
}

// PaymentStatus defines model for PaymentStatus.
type PaymentStatus string

// PaymentType defines model for PaymentType.
type PaymentType string

// ListBooksParams defines parameters for ListBooks.
type ListBooksParams struct {
	// Q Case-insensitive substring of the title.
	Q      *string `form:"q,omitempty" json:"q,omitempty"`
	Author *string `form:"author,omitempty" json:"author,omitempty"`
	Cover  *Cover  `form:"cover,omitempty" json:"cover,omitempty"`

	// Sort Comma separated fields, "-" prefix for descending, e.g. "-daily_fee,title".
	Sort     *string `form:"sort,omitempty" json:"sort,omitempty"`
	Page     *int    `form:"page,omitempty" json:"page,omitempty"`
	PageSize *int    `form:"page_size,omitempty" json:"page_size,omitempty"`
}

// ListBorrowingsParams defines parameters for ListBorrowings.
type ListBorrowingsParams struct {
	UserId   *string `form:"user_id,omitempty" json:"user_id,omitempty"`
	IsActive *bool   `form:"is_active,omitempty" json:"is_active,omitempty"`
}

// PaymentSuccessParams defines parameters for PaymentSuccess.
type PaymentSuccessParams struct {
	SessionId *string `form:"session_id,omitempty" json:"session_id,omitempty"`
}

// CreateBookJSONRequestBody defines body for CreateBook for application/json ContentType.
type CreateBookJSONRequestBody = CreateBookRequest

// CreateBorrowingJSONRequestBody defines body for CreateBorrowing for application/json ContentType.
type CreateBorrowingJSONRequestBody = CreateBorrowingRequest

// ServerInterface represents all server handlers.
type ServerInterface interface {
	// List books
	// (GET /api/v1/books)
	ListBooks(w http.ResponseWriter, r *http.Request, params ListBooksParams)
	// Create a book
	// (POST /api/v1/books)
	CreateBook(w http.ResponseWriter, r *http.Request)
	// Delete a book
	// (DELETE /api/v1/books/{id})
	DeleteBookById(w http.ResponseWriter, r *http.Request, id string)
	// Get a book
	// (GET /api/v1/books/{id})
	GetBookById(w http.ResponseWriter, r *http.Request, id string)
	// List borrowings
	// (GET /api/v1/borrowings)
	ListBorrowings(w http.ResponseWriter, r *http.Request, params ListBorrowingsParams)
	// Borrow a book
	// (POST /api/v1/borrowings)
	CreateBorrowing(w http.ResponseWriter, r *http.Request)
	// Get a borrowing
	// (GET /api/v1/borrowings/{id})
	GetBorrowingById(w http.ResponseWriter, r *http.Request, id string)
	// Return a borrowed book
	// (POST /api/v1/borrowings/{id}/return)
	ReturnBorrowing(w http.ResponseWriter, r *http.Request, id string)
	// Health check
	// (GET /api/v1/health)
	GetHealth(w http.ResponseWriter, r *http.Request)
	// List payments
	// (GET /api/v1/payments)
	ListPayments(w http.ResponseWriter, r *http.Request)
	// Get a payment
	// (GET /api/v1/payments/{id})
	GetPaymentById(w http.ResponseWriter, r *http.Request, id string)
	// Checkout cancelled redirect
	// (GET /api/v1/payments/{id}/cancel)
	PaymentCancel(w http.ResponseWriter, r *http.Request, id string)
	// Open a new checkout session
	// (POST /api/v1/payments/{id}/renew)
	RenewPayment(w http.ResponseWriter, r *http.Request, id string)
	// Checkout success redirect
	// (GET /api/v1/payments/{id}/success)
	PaymentSuccess(w http.ResponseWriter, r *http.Request, id string, params PaymentSuccessParams)
}

// ServerInterfaceWrapper converts contexts to parameters.
type ServerInterfaceWrapper struct {
	Handler            ServerInterface
	HandlerMiddlewares []MiddlewareFunc
	ErrorHandlerFunc   func(w http.ResponseWriter, r *http.Request, err error)
}

type MiddlewareFunc func(http.Handler) http.Handler

func (siw *ServerInterfaceWrapper) serve(w http.ResponseWriter, r *http.Request, fn http.HandlerFunc) {
	handler := http.Handler(fn)
	for _, middleware := range siw.HandlerMiddlewares {
		handler = middleware(handler)
	}
	handler.ServeHTTP(w, r)
}

func (siw *ServerInterfaceWrapper) pathID(w http.ResponseWriter, r *http.Request) (string, bool) {
	var id string
	err := runtime.BindStyledParameterWithOptions("simple", "id", chi.URLParam(r, "id"), &id, runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "id", Err: err})
		return "", false
	}
	return id, true
}

// ListBooks operation middleware
func (siw *ServerInterfaceWrapper) ListBooks(w http.ResponseWriter, r *http.Request) {
	var err error
	var params ListBooksParams

	// ------------- Optional query parameter "q" -------------
	err = runtime.BindQueryParameter("form", true, false, "q", r.URL.Query(), &params.Q)
	if err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "q", Err: err})
		return
	}

	// ------------- Optional query parameter "author" -------------
	err = runtime.BindQueryParameter("form", true, false, "author", r.URL.Query(), &params.Author)
	if err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "author", Err: err})
		return
	}

	// ------------- Optional query parameter "cover" -------------
	err = runtime.BindQueryParameter("form", true, false, "cover", r.URL.Query(), &params.Cover)
	if err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "cover", Err: err})
		return
	}

	// ------------- Optional query parameter "sort" -------------
	err = runtime.BindQueryParameter("form", true, false, "sort", r.URL.Query(), &params.Sort)
	if err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "sort", Err: err})
		return
	}

	// ------------- Optional query parameter "page" -------------
	err = runtime.BindQueryParameter("form", true, false, "page", r.URL.Query(), &params.Page)
	if err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "page", Err: err})
		return
	}

	// ------------- Optional query parameter "page_size" -------------
	err = runtime.BindQueryParameter("form", true, false, "page_size", r.URL.Query(), &params.PageSize)
	if err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "page_size", Err: err})
		return
	}

	siw.serve(w, r, func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.ListBooks(w, r, params)
	})
}

// CreateBook operation middleware
func (siw *ServerInterfaceWrapper) CreateBook(w http.ResponseWriter, r *http.Request) {
	siw.serve(w, r, func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.CreateBook(w, r)
	})
}

// DeleteBookById operation middleware
func (siw *ServerInterfaceWrapper) DeleteBookById(w http.ResponseWriter, r *http.Request) {
	id, ok := siw.pathID(w, r)
	if !ok {
		return
	}
	siw.serve(w, r, func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.DeleteBookById(w, r, id)
	})
}

// GetBookById operation middleware
func (siw *ServerInterfaceWrapper) GetBookById(w http.ResponseWriter, r *http.Request) {
	id, ok := siw.pathID(w, r)
	if !ok {
		return
	}
	siw.serve(w, r, func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.GetBookById(w, r, id)
	})
}

// ListBorrowings operation middleware
func (siw *ServerInterfaceWrapper) ListBorrowings(w http.ResponseWriter, r *http.Request) {
	var err error
	var params ListBorrowingsParams

	// ------------- Optional query parameter "user_id" -------------
	err = runtime.BindQueryParameter("form", true, false, "user_id", r.URL.Query(), &params.UserId)
	if err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "user_id", Err: err})
		return
	}

	// ------------- Optional query parameter "is_active" -------------
	err = runtime.BindQueryParameter("form", true, false, "is_active", r.URL.Query(), &params.IsActive)
	if err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "is_active", Err: err})
		return
	}

	siw.serve(w, r, func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.ListBorrowings(w, r, params)
	})
}

// CreateBorrowing operation middleware
func (siw *ServerInterfaceWrapper) CreateBorrowing(w http.ResponseWriter, r *http.Request) {
	siw.serve(w, r, func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.CreateBorrowing(w, r)
	})
}

// GetBorrowingById operation middleware
func (siw *ServerInterfaceWrapper) GetBorrowingById(w http.ResponseWriter, r *http.Request) {
	id, ok := siw.pathID(w, r)
	if !ok {
		return
	}
	siw.serve(w, r, func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.GetBorrowingById(w, r, id)
	})
}

// ReturnBorrowing operation middleware
func (siw *ServerInterfaceWrapper) ReturnBorrowing(w http.ResponseWriter, r *http.Request) {
	id, ok := siw.pathID(w, r)
	if !ok {
		return
	}
	siw.serve(w, r, func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.ReturnBorrowing(w, r, id)
	})
}

// GetHealth operation middleware
func (siw *ServerInterfaceWrapper) GetHealth(w http.ResponseWriter, r *http.Request) {
	siw.serve(w, r, func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.GetHealth(w, r)
	})
}

// ListPayments operation middleware
func (siw *ServerInterfaceWrapper) ListPayments(w http.ResponseWriter, r *http.Request) {
	siw.serve(w, r, func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.ListPayments(w, r)
	})
}

// GetPaymentById operation middleware
func (siw *ServerInterfaceWrapper) GetPaymentById(w http.ResponseWriter, r *http.Request) {
	id, ok := siw.pathID(w, r)
	if !ok {
		return
	}
	siw.serve(w, r, func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.GetPaymentById(w, r, id)
	})
}

// PaymentCancel operation middleware
func (siw *ServerInterfaceWrapper) PaymentCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := siw.pathID(w, r)
	if !ok {
		return
	}
	siw.serve(w, r, func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.PaymentCancel(w, r, id)
	})
}

// RenewPayment operation middleware
func (siw *ServerInterfaceWrapper) RenewPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := siw.pathID(w, r)
	if !ok {
		return
	}
	siw.serve(w, r, func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.RenewPayment(w, r, id)
	})
}

// PaymentSuccess operation middleware
func (siw *ServerInterfaceWrapper) PaymentSuccess(w http.ResponseWriter, r *http.Request) {
	id, ok := siw.pathID(w, r)
	if !ok {
		return
	}

	var params PaymentSuccessParams

	// ------------- Optional query parameter "session_id" -------------
	err := runtime.BindQueryParameter("form", true, false, "session_id", r.URL.Query(), &params.SessionId)
	if err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "session_id", Err: err})
		return
	}

	siw.serve(w, r, func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.PaymentSuccess(w, r, id, params)
	})
}

type InvalidParamFormatError struct {
	ParamName string
	Err       error
}

func (e *InvalidParamFormatError) Error() string {
	return fmt.Sprintf("Invalid format for parameter %s: %s", e.ParamName, e.Err.Error())
}

func (e *InvalidParamFormatError) Unwrap() error {
	return e.Err
}

// Handler creates http.Handler with routing matching openapi.yaml.
func Handler(si ServerInterface) http.Handler {
	return HandlerWithOptions(si, ChiServerOptions{})
}

type ChiServerOptions struct {
	BaseURL          string
	BaseRouter       chi.Router
	Middlewares      []MiddlewareFunc
	ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)
}

// HandlerFromMux creates http.Handler with routing matching openapi.yaml based on the provided mux.
func HandlerFromMux(si ServerInterface, r chi.Router) http.Handler {
	return HandlerWithOptions(si, ChiServerOptions{
		BaseRouter: r,
	})
}

func HandlerFromMuxWithBaseURL(si ServerInterface, r chi.Router, baseURL string) http.Handler {
	return HandlerWithOptions(si, ChiServerOptions{
		BaseURL:    baseURL,
		BaseRouter: r,
	})
}

// HandlerWithOptions creates http.Handler with additional options
func HandlerWithOptions(si ServerInterface, options ChiServerOptions) http.Handler {
	r := options.BaseRouter

	if r == nil {
		r = chi.NewRouter()
	}
	if options.ErrorHandlerFunc == nil {
		options.ErrorHandlerFunc = func(w http.ResponseWriter, r *http.Request, err error) {
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
	}
	wrapper := ServerInterfaceWrapper{
		Handler:            si,
		HandlerMiddlewares: options.Middlewares,
		ErrorHandlerFunc:   options.ErrorHandlerFunc,
	}

	r.Group(func(r chi.Router) {
		r.Get(options.BaseURL+"/api/v1/books", wrapper.ListBooks)
	})
	r.Group(func(r chi.Router) {
		r.Post(options.BaseURL+"/api/v1/books", wrapper.CreateBook)
	})
	r.Group(func(r chi.Router) {
		r.Delete(options.BaseURL+"/api/v1/books/{id}", wrapper.DeleteBookById)
	})
	r.Group(func(r chi.Router) {
		r.Get(options.BaseURL+"/api/v1/books/{id}", wrapper.GetBookById)
	})
	r.Group(func(r chi.Router) {
		r.Get(options.BaseURL+"/api/v1/borrowings", wrapper.ListBorrowings)
	})
	r.Group(func(r chi.Router) {
		r.Post(options.BaseURL+"/api/v1/borrowings", wrapper.CreateBorrowing)
	})
	r.Group(func(r chi.Router) {
		r.Get(options.BaseURL+"/api/v1/borrowings/{id}", wrapper.GetBorrowingById)
	})
	r.Group(func(r chi.Router) {
		r.Post(options.BaseURL+"/api/v1/borrowings/{id}/return", wrapper.ReturnBorrowing)
	})
	r.Group(func(r chi.Router) {
		r.Get(options.BaseURL+"/api/v1/health", wrapper.GetHealth)
	})
	r.Group(func(r chi.Router) {
		r.Get(options.BaseURL+"/api/v1/payments", wrapper.ListPayments)
	})
	r.Group(func(r chi.Router) {
		r.Get(options.BaseURL+"/api/v1/payments/{id}", wrapper.GetPaymentById)
	})
	r.Group(func(r chi.Router) {
		r.Get(options.BaseURL+"/api/v1/payments/{id}/cancel", wrapper.PaymentCancel)
	})
	r.Group(func(r chi.Router) {
		r.Post(options.BaseURL+"/api/v1/payments/{id}/renew", wrapper.RenewPayment)
	})
	r.Group(func(r chi.Router) {
		r.Get(options.BaseURL+"/api/v1/payments/{id}/success", wrapper.PaymentSuccess)
	})

	return r
}
