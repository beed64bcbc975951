// Package memory is an in-memory implementation of storage.Store. Committed
// state is immutable: a write transaction works on a private copy that
// replaces the committed state on Commit, so readers never observe a partial
// update. It is used by tests and single-node development deployments.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/R3E-Network/dapp_registry/internal/app/domain/application"
	"github.com/R3E-Network/dapp_registry/internal/app/domain/credit"
	"github.com/R3E-Network/dapp_registry/internal/app/domain/request"
	"github.com/R3E-Network/dapp_registry/internal/app/domain/transfer"
	"github.com/R3E-Network/dapp_registry/internal/app/domain/validation"
	"github.com/R3E-Network/dapp_registry/internal/app/domain/validator"
	"github.com/R3E-Network/dapp_registry/internal/app/storage"
	"github.com/R3E-Network/dapp_registry/internal/errors"
)

type requestKey struct {
	app string
	id  uint64
}

type validationKey struct {
	app       string
	validator string
}

type state struct {
	validators    map[string]validator.Validator
	credits       map[string]credit.Account
	entries       []credit.Entry
	requestSeq    map[string]uint64
	requests      map[requestKey]request.Request
	validations   map[validationKey]validation.Validation
	applications  map[string]application.Application
	transfers     map[string]transfer.Transfer
	transferOrder []string
}

func newState() *state {
	return &state{
		validators:   make(map[string]validator.Validator),
		credits:      make(map[string]credit.Account),
		requestSeq:   make(map[string]uint64),
		requests:     make(map[requestKey]request.Request),
		validations:  make(map[validationKey]validation.Validation),
		applications: make(map[string]application.Application),
		transfers:    make(map[string]transfer.Transfer),
	}
}

func (s *state) clone() *state {
	out := newState()
	for k, v := range s.validators {
		out.validators[k] = v
	}
	for k, v := range s.credits {
		out.credits[k] = v
	}
	out.entries = append([]credit.Entry(nil), s.entries...)
	for k, v := range s.requestSeq {
		out.requestSeq[k] = v
	}
	for k, v := range s.requests {
		out.requests[k] = v
	}
	for k, v := range s.validations {
		out.validations[k] = v
	}
	for k, v := range s.applications {
		out.applications[k] = v
	}
	for k, v := range s.transfers {
		out.transfers[k] = v
	}
	out.transferOrder = append([]string(nil), s.transferOrder...)
	return out
}

// Store is the in-memory storage.Store.
type Store struct {
	writeMu sync.Mutex
	mu      sync.RWMutex
	current *state
}

var _ storage.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{current: newState()}
}

// Begin opens a transaction. Write transactions hold the store's write lock
// until they end.
func (s *Store) Begin(ctx context.Context, readOnly bool) (storage.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if readOnly {
		s.mu.RLock()
		snapshot := s.current
		s.mu.RUnlock()
		return &tx{store: s, st: snapshot, readOnly: true}, nil
	}

	s.writeMu.Lock()
	s.mu.RLock()
	working := s.current.clone()
	s.mu.RUnlock()
	return &tx{store: s, st: working}, nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

type tx struct {
	store    *Store
	st       *state
	readOnly bool
	done     bool
}

var _ storage.Tx = (*tx)(nil)

func (t *tx) Commit() error {
	if t.done {
		return errors.Internal("transaction already finished", nil)
	}
	t.done = true
	if t.readOnly {
		return nil
	}
	t.store.mu.Lock()
	t.store.current = t.st
	t.store.mu.Unlock()
	t.store.writeMu.Unlock()
	return nil
}

func (t *tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	if !t.readOnly {
		t.store.writeMu.Unlock()
	}
	return nil
}

func (t *tx) writable() error {
	if t.done {
		return errors.Internal("transaction already finished", nil)
	}
	if t.readOnly {
		return errors.Internal("write in read-only transaction", nil)
	}
	return nil
}

// --- ValidatorStore ---------------------------------------------------------

func (t *tx) GetValidator(_ context.Context, id string) (validator.Validator, error) {
	v, ok := t.st.validators[id]
	if !ok {
		return validator.Validator{}, errors.NotFound("validator %s not found", id)
	}
	return validator.Clone(v), nil
}

func (t *tx) CreateValidator(_ context.Context, v validator.Validator) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.st.validators[v.ID]; ok {
		return errors.AlreadyExists("validator %s already exists", v.ID)
	}
	t.st.validators[v.ID] = validator.Clone(v)
	return nil
}

func (t *tx) UpdateValidator(_ context.Context, v validator.Validator) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.st.validators[v.ID]; !ok {
		return errors.NotFound("validator %s not found", v.ID)
	}
	t.st.validators[v.ID] = validator.Clone(v)
	return nil
}

func (t *tx) DeleteValidator(_ context.Context, id string) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.st.validators[id]; !ok {
		return errors.NotFound("validator %s not found", id)
	}
	delete(t.st.validators, id)
	return nil
}

func (t *tx) ListValidators(_ context.Context) ([]validator.Validator, error) {
	out := make([]validator.Validator, 0, len(t.st.validators))
	for _, v := range t.st.validators {
		out = append(out, validator.Clone(v))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- CreditStore ------------------------------------------------------------

func (t *tx) GetCreditAccount(_ context.Context, payer string) (credit.Account, error) {
	acct, ok := t.st.credits[payer]
	if !ok {
		return credit.Account{}, errors.NotFound("credit account %s not found", payer)
	}
	return acct, nil
}

func (t *tx) PutCreditAccount(_ context.Context, acct credit.Account) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.st.credits[acct.Payer] = acct
	return nil
}

func (t *tx) DeleteCreditAccount(_ context.Context, payer string) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.st.credits[payer]; !ok {
		return errors.NotFound("credit account %s not found", payer)
	}
	delete(t.st.credits, payer)
	return nil
}

func (t *tx) ListCreditAccounts(_ context.Context) ([]credit.Account, error) {
	out := make([]credit.Account, 0, len(t.st.credits))
	for _, acct := range t.st.credits {
		out = append(out, acct)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Payer < out[j].Payer })
	return out, nil
}

func (t *tx) AppendCreditEntry(_ context.Context, entry credit.Entry) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.st.entries = append(t.st.entries, entry)
	return nil
}

func (t *tx) ListCreditEntries(_ context.Context, payer string, limit int) ([]credit.Entry, error) {
	var out []credit.Entry
	for _, e := range t.st.entries {
		if payer != "" && e.Payer != payer {
			continue
		}
		out = append(out, e)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (t *tx) HasCreditReference(_ context.Context, entryType, reference string) (bool, error) {
	for _, e := range t.st.entries {
		if e.Type == entryType && e.Reference == reference {
			return true, nil
		}
	}
	return false, nil
}

// --- RequestStore -----------------------------------------------------------

func (t *tx) NextRequestID(_ context.Context, app string) (uint64, error) {
	if err := t.writable(); err != nil {
		return 0, err
	}
	id := t.st.requestSeq[app]
	t.st.requestSeq[app] = id + 1
	return id, nil
}

func (t *tx) GetRequest(_ context.Context, app string, id uint64) (request.Request, error) {
	req, ok := t.st.requests[requestKey{app, id}]
	if !ok {
		return request.Request{}, errors.NotFound("request %d for %s not found", id, app)
	}
	return req, nil
}

func (t *tx) CreateRequest(_ context.Context, req request.Request) error {
	if err := t.writable(); err != nil {
		return err
	}
	key := requestKey{req.Application, req.ID}
	if _, ok := t.st.requests[key]; ok {
		return errors.AlreadyExists("request %d for %s already exists", req.ID, req.Application)
	}
	t.st.requests[key] = req
	return nil
}

func (t *tx) UpdateRequest(_ context.Context, req request.Request) error {
	if err := t.writable(); err != nil {
		return err
	}
	key := requestKey{req.Application, req.ID}
	if _, ok := t.st.requests[key]; !ok {
		return errors.NotFound("request %d for %s not found", req.ID, req.Application)
	}
	t.st.requests[key] = req
	return nil
}

func (t *tx) DeleteRequest(_ context.Context, app string, id uint64) error {
	if err := t.writable(); err != nil {
		return err
	}
	key := requestKey{app, id}
	if _, ok := t.st.requests[key]; !ok {
		return errors.NotFound("request %d for %s not found", id, app)
	}
	delete(t.st.requests, key)
	return nil
}

func (t *tx) ListRequests(_ context.Context, app string) ([]request.Request, error) {
	var out []request.Request
	for key, req := range t.st.requests {
		if app != "" && key.app != app {
			continue
		}
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Application != out[j].Application {
			return out[i].Application < out[j].Application
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// --- ValidationStore --------------------------------------------------------

func (t *tx) GetValidation(_ context.Context, app, validatorID string) (validation.Validation, error) {
	v, ok := t.st.validations[validationKey{app, validatorID}]
	if !ok {
		return validation.Validation{}, errors.NotFound("validation by %s for %s not found", validatorID, app)
	}
	return validation.Clone(v), nil
}

func (t *tx) PutValidation(_ context.Context, v validation.Validation) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.st.validations[validationKey{v.Application, v.Validator}] = validation.Clone(v)
	return nil
}

func (t *tx) DeleteValidation(_ context.Context, app, validatorID string) error {
	if err := t.writable(); err != nil {
		return err
	}
	key := validationKey{app, validatorID}
	if _, ok := t.st.validations[key]; !ok {
		return errors.NotFound("validation by %s for %s not found", validatorID, app)
	}
	delete(t.st.validations, key)
	return nil
}

func (t *tx) ListValidations(_ context.Context, app string) ([]validation.Validation, error) {
	var out []validation.Validation
	for key, v := range t.st.validations {
		if app != "" && key.app != app {
			continue
		}
		out = append(out, validation.Clone(v))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Application != out[j].Application {
			return out[i].Application < out[j].Application
		}
		return out[i].Validator < out[j].Validator
	})
	return out, nil
}

// --- ApplicationStore -------------------------------------------------------

func (t *tx) GetApplication(_ context.Context, account string) (application.Application, error) {
	app, ok := t.st.applications[account]
	if !ok {
		return application.Application{}, errors.NotFound("application %s not found", account)
	}
	return application.Clone(app), nil
}

func (t *tx) PutApplication(_ context.Context, app application.Application) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.st.applications[app.Account] = application.Clone(app)
	return nil
}

func (t *tx) ListApplications(_ context.Context) ([]application.Application, error) {
	out := make([]application.Application, 0, len(t.st.applications))
	for _, app := range t.st.applications {
		out = append(out, application.Clone(app))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Account < out[j].Account })
	return out, nil
}

// --- TransferStore ----------------------------------------------------------

func (t *tx) CreateTransfer(_ context.Context, tr transfer.Transfer) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.st.transfers[tr.ID]; ok {
		return errors.AlreadyExists("transfer %s already exists", tr.ID)
	}
	t.st.transfers[tr.ID] = tr
	t.st.transferOrder = append(t.st.transferOrder, tr.ID)
	return nil
}

func (t *tx) UpdateTransfer(_ context.Context, tr transfer.Transfer) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.st.transfers[tr.ID]; !ok {
		return errors.NotFound("transfer %s not found", tr.ID)
	}
	t.st.transfers[tr.ID] = tr
	return nil
}

func (t *tx) GetTransfer(_ context.Context, id string) (transfer.Transfer, error) {
	tr, ok := t.st.transfers[id]
	if !ok {
		return transfer.Transfer{}, errors.NotFound("transfer %s not found", id)
	}
	return tr, nil
}

func (t *tx) ListTransfers(_ context.Context, status string) ([]transfer.Transfer, error) {
	var out []transfer.Transfer
	for _, id := range t.st.transferOrder {
		tr := t.st.transfers[id]
		if status != "" && tr.Status != status {
			continue
		}
		out = append(out, tr)
	}
	return out, nil
}
