// Package storage declares the transactional persistence contracts used by the
// registry engine. Implementations live in the memory and postgres
// subpackages.
package storage

import (
	"context"

	"github.com/R3E-Network/dapp_registry/internal/app/domain/application"
	"github.com/R3E-Network/dapp_registry/internal/app/domain/credit"
	"github.com/R3E-Network/dapp_registry/internal/app/domain/request"
	"github.com/R3E-Network/dapp_registry/internal/app/domain/transfer"
	"github.com/R3E-Network/dapp_registry/internal/app/domain/validation"
	"github.com/R3E-Network/dapp_registry/internal/app/domain/validator"
)

// Lookups of absent records return an error matching errors.ErrNotFound;
// inserting a duplicate key returns one matching errors.ErrAlreadyExists.

// ValidatorStore persists validators.
type ValidatorStore interface {
	GetValidator(ctx context.Context, id string) (validator.Validator, error)
	CreateValidator(ctx context.Context, v validator.Validator) error
	UpdateValidator(ctx context.Context, v validator.Validator) error
	DeleteValidator(ctx context.Context, id string) error
	ListValidators(ctx context.Context) ([]validator.Validator, error)
}

// CreditStore persists escrow balances and their journal.
type CreditStore interface {
	GetCreditAccount(ctx context.Context, payer string) (credit.Account, error)
	PutCreditAccount(ctx context.Context, acct credit.Account) error
	DeleteCreditAccount(ctx context.Context, payer string) error
	ListCreditAccounts(ctx context.Context) ([]credit.Account, error)

	AppendCreditEntry(ctx context.Context, entry credit.Entry) error
	// ListCreditEntries returns entries oldest first; limit <= 0 returns all.
	// An empty payer lists every payer's entries.
	ListCreditEntries(ctx context.Context, payer string, limit int) ([]credit.Entry, error)
	HasCreditReference(ctx context.Context, entryType, reference string) (bool, error)
}

// RequestStore persists bounty requests, keyed by (application, id).
type RequestStore interface {
	// NextRequestID advances and returns the application's id sequence.
	NextRequestID(ctx context.Context, app string) (uint64, error)
	GetRequest(ctx context.Context, app string, id uint64) (request.Request, error)
	CreateRequest(ctx context.Context, req request.Request) error
	UpdateRequest(ctx context.Context, req request.Request) error
	DeleteRequest(ctx context.Context, app string, id uint64) error
	// ListRequests lists one application's requests; an empty app lists all.
	ListRequests(ctx context.Context, app string) ([]request.Request, error)
}

// ValidationStore persists attestations, keyed by (application, validator).
type ValidationStore interface {
	GetValidation(ctx context.Context, app, validatorID string) (validation.Validation, error)
	PutValidation(ctx context.Context, v validation.Validation) error
	DeleteValidation(ctx context.Context, app, validatorID string) error
	ListValidations(ctx context.Context, app string) ([]validation.Validation, error)
}

// ApplicationStore persists catalogued applications.
type ApplicationStore interface {
	GetApplication(ctx context.Context, account string) (application.Application, error)
	PutApplication(ctx context.Context, app application.Application) error
	ListApplications(ctx context.Context) ([]application.Application, error)
}

// TransferStore is the outbox of pending external transfers.
type TransferStore interface {
	CreateTransfer(ctx context.Context, t transfer.Transfer) error
	UpdateTransfer(ctx context.Context, t transfer.Transfer) error
	GetTransfer(ctx context.Context, id string) (transfer.Transfer, error)
	// ListTransfers returns transfers oldest first; an empty status lists all.
	ListTransfers(ctx context.Context, status string) ([]transfer.Transfer, error)
}

// Tx is a unit of work over every store. Either Commit or Rollback ends it;
// Rollback after Commit is a no-op.
type Tx interface {
	ValidatorStore
	CreditStore
	RequestStore
	ValidationStore
	ApplicationStore
	TransferStore

	Commit() error
	Rollback() error
}

// Store opens transactions. Write transactions are serialized by the
// implementation; read-only transactions observe a committed snapshot.
type Store interface {
	Begin(ctx context.Context, readOnly bool) (Tx, error)
	Close() error
}
