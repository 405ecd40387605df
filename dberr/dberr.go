// Package dberr defines the error kinds shared by every layer of the store.
//
// Each failure carries a Kind from a fixed taxonomy. Callers branch on the
// kind with Is or KindOf instead of matching message text, and the command
// line and any transport layered on top translate kinds to numeric statuses
// with Status.
package dberr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind tags an error with its place in the taxonomy.
type Kind int

const (
	Unknown Kind = iota

	// naming and shape validation
	InvalidName
	ReservedName
	InvalidSchemaShape
	InvalidFieldDescriptor
	MultiplePrimaryKeys
	MissingPrimaryKey
	InvalidRecordShape
	MissingPrimaryKeyField
	MissingRequiredField
	UnknownField
	TypeMismatch
	PrimaryKeyImmutable
	InvalidQuery

	// absent targets
	DatabaseNotFound
	NoDatabaseConnected
	CollectionNotFound
	SchemaNotDefined
	RecordNotFound
	ProductNotFound
	OrderNotFound
	NoMatches

	// conflicts
	DatabaseAlreadyExists
	DatabaseNotEmpty
	CollectionAlreadyExists
	CollectionNotEmpty
	DuplicatePrimaryKey
	OrderAlreadyCancelled

	// domain policy
	InsufficientStock
	InvalidQuantity
	InvalidPrice
	InvalidStock

	// storage
	RootNotFound
	CorruptCollection
	IO
)

var kindNames = map[Kind]string{
	Unknown:                 "unknown",
	InvalidName:             "invalid name",
	ReservedName:            "reserved name",
	InvalidSchemaShape:      "invalid schema shape",
	InvalidFieldDescriptor:  "invalid field descriptor",
	MultiplePrimaryKeys:     "multiple primary keys",
	MissingPrimaryKey:       "missing primary key",
	InvalidRecordShape:      "invalid record shape",
	MissingPrimaryKeyField:  "missing primary key field",
	MissingRequiredField:    "missing required field",
	UnknownField:            "unknown field",
	TypeMismatch:            "type mismatch",
	PrimaryKeyImmutable:     "primary key is immutable",
	InvalidQuery:            "invalid query",
	DatabaseNotFound:        "database not found",
	NoDatabaseConnected:     "no database connected",
	CollectionNotFound:      "collection not found",
	SchemaNotDefined:        "schema not defined",
	RecordNotFound:          "record not found",
	ProductNotFound:         "product not found",
	OrderNotFound:           "order not found",
	NoMatches:               "no matches",
	DatabaseAlreadyExists:   "database already exists",
	DatabaseNotEmpty:        "database not empty",
	CollectionAlreadyExists: "collection already exists",
	CollectionNotEmpty:      "collection not empty",
	DuplicatePrimaryKey:     "duplicate primary key",
	OrderAlreadyCancelled:   "order already cancelled",
	InsufficientStock:       "insufficient stock",
	InvalidQuantity:         "invalid quantity",
	InvalidPrice:            "invalid price",
	InvalidStock:            "invalid stock",
	RootNotFound:            "root directory not found",
	CorruptCollection:       "corrupt collection",
	IO:                      "i/o failure",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Category groups kinds the way callers usually react to them.
type Category int

const (
	CategoryInternal Category = iota
	CategoryValidation
	CategoryNotFound
	CategoryConflict
	CategoryPolicy
	CategoryFatal
)

// Category reports which branch of the taxonomy k belongs to.
func (k Kind) Category() Category {
	switch {
	case k >= InvalidName && k <= InvalidQuery:
		return CategoryValidation
	case k >= DatabaseNotFound && k <= NoMatches:
		return CategoryNotFound
	case k >= DatabaseAlreadyExists && k <= OrderAlreadyCancelled:
		return CategoryConflict
	case k >= InsufficientStock && k <= InvalidStock:
		return CategoryPolicy
	case k == RootNotFound:
		return CategoryFatal
	}
	return CategoryInternal
}

// Error is the single error type returned by the store, the schema validator
// and the commerce service.
type Error struct {
	Kind Kind
	// Op is the operation that failed, e.g. "create record".
	Op string
	// Subject names what the operation acted on: a database, collection,
	// field or key.
	Subject string
	// Detail is an optional human readable explanation.
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Subject != "" {
		msg = fmt.Sprintf("%s %q", msg, e.Subject)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// New returns an *Error of the given kind.
func New(kind Kind, op, subject string) *Error {
	return &Error{Kind: kind, Op: op, Subject: subject}
}

// Newf is New with a formatted detail message.
func Newf(kind Kind, op, subject, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Subject: subject, Detail: fmt.Sprintf(format, args...)}
}

// Wrap tags err with kind. A nil err yields nil.
func Wrap(err error, kind Kind, op, subject string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Subject: subject, Err: err}
}

// KindOf returns the kind of the outermost *Error in err's chain, or Unknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Is reports whether err carries kind k.
func Is(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// IsNotFound reports whether err describes an absent database, collection,
// schema, record, product or order.
func IsNotFound(err error) bool {
	return err != nil && KindOf(err).Category() == CategoryNotFound
}

// StatusInsufficient is the custom status used for domain policy failures
// such as ordering more than is in stock.
const StatusInsufficient = 452

// Status maps err to an HTTP-like status code. A nil error is 200.
func Status(err error) int {
	if err == nil {
		return http.StatusOK
	}
	switch k := KindOf(err); k {
	case DatabaseAlreadyExists:
		return http.StatusServiceUnavailable
	case ReservedName:
		return http.StatusNotImplemented
	case OrderAlreadyCancelled:
		return StatusInsufficient
	default:
		switch k.Category() {
		case CategoryValidation:
			return http.StatusBadRequest
		case CategoryNotFound:
			return http.StatusNotFound
		case CategoryConflict:
			return http.StatusConflict
		case CategoryPolicy:
			return StatusInsufficient
		}
	}
	return http.StatusInternalServerError
}
