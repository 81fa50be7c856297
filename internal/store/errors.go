package store

import "errors"

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrServiceNotFound     = errors.New("service not found")
	ErrServiceDisabled     = errors.New("service disabled")
	ErrClientNotFound      = errors.New("client not found")
	ErrTicketNotFound      = errors.New("ticket not found")
	ErrCounterNotFound     = errors.New("counter not found")
	ErrInvoiceNotFound     = errors.New("invoice not found")
	ErrNoCounterAssigned   = errors.New("operator has no counter")
	ErrInvalidState        = errors.New("invalid ticket state")
	ErrAlreadyServing      = errors.New("counter already serving a ticket")
	ErrQueueEmpty          = errors.New("no waiting tickets at counter")
	ErrNothingInService    = errors.New("no ticket in service at counter")
	ErrCounterServing      = errors.New("cannot deactivate counter while serving")
	ErrNoCountersAvailable = errors.New("no counters available")
	ErrTicketNumberBusy    = errors.New("ticket number allocation kept colliding")
	ErrAccessDenied        = errors.New("access denied")
	ErrRequestConflict     = errors.New("request id already used for another target")
)

// Category groups errors by what the caller should do about them.
type Category string

const (
	// CategoryValidation means the request itself is wrong; do not retry.
	CategoryValidation Category = "validation"
	// CategoryNotFound is a validation error about a missing record.
	CategoryNotFound Category = "not_found"
	// CategoryPrecondition means the caller's view of state is stale; refresh and retry.
	CategoryPrecondition Category = "precondition"
	// CategoryExhausted means no capacity right now; try later.
	CategoryExhausted Category = "exhausted"
	// CategoryTransient is an internal race that outlived its retries.
	CategoryTransient Category = "transient"
	CategoryAccess    Category = "access"
	CategoryInternal  Category = "internal"
)

var categories = []struct {
	err      error
	category Category
}{
	{ErrInvalidInput, CategoryValidation},
	{ErrServiceDisabled, CategoryValidation},
	{ErrServiceNotFound, CategoryNotFound},
	{ErrClientNotFound, CategoryNotFound},
	{ErrTicketNotFound, CategoryNotFound},
	{ErrCounterNotFound, CategoryNotFound},
	{ErrInvoiceNotFound, CategoryNotFound},
	{ErrNoCounterAssigned, CategoryNotFound},
	{ErrInvalidState, CategoryPrecondition},
	{ErrAlreadyServing, CategoryPrecondition},
	{ErrQueueEmpty, CategoryPrecondition},
	{ErrNothingInService, CategoryPrecondition},
	{ErrCounterServing, CategoryPrecondition},
	{ErrRequestConflict, CategoryPrecondition},
	{ErrNoCountersAvailable, CategoryExhausted},
	{ErrTicketNumberBusy, CategoryTransient},
	{ErrAccessDenied, CategoryAccess},
}

func CategoryOf(err error) Category {
	if err == nil {
		return ""
	}
	for _, entry := range categories {
		if errors.Is(err, entry.err) {
			return entry.category
		}
	}
	return CategoryInternal
}
