// Package postgres implements storage.Store on PostgreSQL. Write
// transactions run at serializable isolation.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/R3E-Network/dapp_registry/internal/app/domain/application"
	"github.com/R3E-Network/dapp_registry/internal/app/domain/asset"
	"github.com/R3E-Network/dapp_registry/internal/app/domain/credit"
	"github.com/R3E-Network/dapp_registry/internal/app/domain/request"
	"github.com/R3E-Network/dapp_registry/internal/app/domain/transfer"
	"github.com/R3E-Network/dapp_registry/internal/app/domain/validation"
	"github.com/R3E-Network/dapp_registry/internal/app/domain/validator"
	"github.com/R3E-Network/dapp_registry/internal/app/storage"
	"github.com/R3E-Network/dapp_registry/internal/errors"
)

const uniqueViolation = "23505"

// Store implements storage.Store backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.Store = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: sqlx.NewDb(db, "postgres")}
}

// PoolConfig tunes the connection pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string, pool PoolConfig) (*Store, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{db: db}, nil
}

// Begin opens a transaction.
func (s *Store) Begin(ctx context.Context, readOnly bool) (storage.Tx, error) {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable, ReadOnly: readOnly})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Tx is a PostgreSQL transaction implementing storage.Tx.
type Tx struct {
	tx *sqlx.Tx
}

var _ storage.Tx = (*Tx)(nil)

func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (t *Tx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !stderrors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return stderrors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func requireRow(result sql.Result, notFound *errors.ServiceError) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return notFound
	}
	return nil
}

// --- ValidatorStore ---------------------------------------------------------

type validatorRow struct {
	ID        string         `db:"id"`
	URL       string         `db:"url"`
	Weight    float64        `db:"weight"`
	Approvers pq.StringArray `db:"approvers"`
	CreatedAt time.Time      `db:"created_at"`
	UpdatedAt time.Time      `db:"updated_at"`
}

func (r validatorRow) model() validator.Validator {
	return validator.Validator{
		ID:        r.ID,
		URL:       r.URL,
		Weight:    r.Weight,
		Approvers: []string(r.Approvers),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

const validatorColumns = `id, url, weight, approvers, created_at, updated_at`

func (t *Tx) GetValidator(ctx context.Context, id string) (validator.Validator, error) {
	var row validatorRow
	err := t.tx.GetContext(ctx, &row, `SELECT `+validatorColumns+` FROM validators WHERE id = $1`, id)
	if stderrors.Is(err, sql.ErrNoRows) {
		return validator.Validator{}, errors.NotFound("validator %s not found", id)
	}
	if err != nil {
		return validator.Validator{}, fmt.Errorf("get validator: %w", err)
	}
	return row.model(), nil
}

func (t *Tx) CreateValidator(ctx context.Context, v validator.Validator) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO validators (id, url, weight, approvers, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, v.ID, v.URL, v.Weight, pq.StringArray(nonNil(v.Approvers)), v.CreatedAt, v.UpdatedAt)
	if isUniqueViolation(err) {
		return errors.AlreadyExists("validator %s already exists", v.ID)
	}
	if err != nil {
		return fmt.Errorf("create validator: %w", err)
	}
	return nil
}

func (t *Tx) UpdateValidator(ctx context.Context, v validator.Validator) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE validators
		SET url = $2, weight = $3, approvers = $4, updated_at = $5
		WHERE id = $1
	`, v.ID, v.URL, v.Weight, pq.StringArray(nonNil(v.Approvers)), v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update validator: %w", err)
	}
	return requireRow(result, errors.NotFound("validator %s not found", v.ID))
}

func (t *Tx) DeleteValidator(ctx context.Context, id string) error {
	result, err := t.tx.ExecContext(ctx, `DELETE FROM validators WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete validator: %w", err)
	}
	return requireRow(result, errors.NotFound("validator %s not found", id))
}

func (t *Tx) ListValidators(ctx context.Context) ([]validator.Validator, error) {
	var rows []validatorRow
	if err := t.tx.SelectContext(ctx, &rows, `SELECT `+validatorColumns+` FROM validators ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list validators: %w", err)
	}
	out := make([]validator.Validator, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.model())
	}
	return out, nil
}

// --- CreditStore ------------------------------------------------------------

type creditAccountRow struct {
	Payer     string    `db:"payer"`
	Amount    int64     `db:"amount"`
	Symbol    string    `db:"symbol"`
	UpdatedAt time.Time `db:"updated_at"`
}

type creditEntryRow struct {
	ID           string    `db:"id"`
	Payer        string    `db:"payer"`
	EntryType    string    `db:"entry_type"`
	Amount       int64     `db:"amount"`
	Symbol       string    `db:"symbol"`
	BalanceAfter int64     `db:"balance_after"`
	Reference    string    `db:"reference"`
	CreatedAt    time.Time `db:"created_at"`
}

func (r creditEntryRow) model() credit.Entry {
	return credit.Entry{
		ID:           r.ID,
		Payer:        r.Payer,
		Type:         r.EntryType,
		Amount:       asset.New(r.Amount, r.Symbol),
		BalanceAfter: asset.New(r.BalanceAfter, r.Symbol),
		Reference:    r.Reference,
		CreatedAt:    r.CreatedAt,
	}
}

func (t *Tx) GetCreditAccount(ctx context.Context, payer string) (credit.Account, error) {
	var row creditAccountRow
	err := t.tx.GetContext(ctx, &row, `SELECT payer, amount, symbol, updated_at FROM credit_accounts WHERE payer = $1`, payer)
	if stderrors.Is(err, sql.ErrNoRows) {
		return credit.Account{}, errors.NotFound("credit account %s not found", payer)
	}
	if err != nil {
		return credit.Account{}, fmt.Errorf("get credit account: %w", err)
	}
	return credit.Account{Payer: row.Payer, Balance: asset.New(row.Amount, row.Symbol), UpdatedAt: row.UpdatedAt}, nil
}

func (t *Tx) PutCreditAccount(ctx context.Context, acct credit.Account) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO credit_accounts (payer, amount, symbol, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (payer) DO UPDATE
		SET amount = EXCLUDED.amount, symbol = EXCLUDED.symbol, updated_at = EXCLUDED.updated_at
	`, acct.Payer, acct.Balance.Amount, acct.Balance.Symbol, acct.UpdatedAt)
	if err != nil {
		return fmt.Errorf("put credit account: %w", err)
	}
	return nil
}

func (t *Tx) DeleteCreditAccount(ctx context.Context, payer string) error {
	result, err := t.tx.ExecContext(ctx, `DELETE FROM credit_accounts WHERE payer = $1`, payer)
	if err != nil {
		return fmt.Errorf("delete credit account: %w", err)
	}
	return requireRow(result, errors.NotFound("credit account %s not found", payer))
}

func (t *Tx) ListCreditAccounts(ctx context.Context) ([]credit.Account, error) {
	var rows []creditAccountRow
	if err := t.tx.SelectContext(ctx, &rows, `SELECT payer, amount, symbol, updated_at FROM credit_accounts ORDER BY payer`); err != nil {
		return nil, fmt.Errorf("list credit accounts: %w", err)
	}
	out := make([]credit.Account, 0, len(rows))
	for _, row := range rows {
		out = append(out, credit.Account{Payer: row.Payer, Balance: asset.New(row.Amount, row.Symbol), UpdatedAt: row.UpdatedAt})
	}
	return out, nil
}

func (t *Tx) AppendCreditEntry(ctx context.Context, entry credit.Entry) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO credit_entries (id, payer, entry_type, amount, symbol, balance_after, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, entry.ID, entry.Payer, entry.Type, entry.Amount.Amount, entry.Amount.Symbol,
		entry.BalanceAfter.Amount, entry.Reference, entry.CreatedAt)
	if isUniqueViolation(err) {
		return errors.AlreadyExists("credit entry %s (%s) already recorded", entry.Reference, entry.Type)
	}
	if err != nil {
		return fmt.Errorf("append credit entry: %w", err)
	}
	return nil
}

func (t *Tx) ListCreditEntries(ctx context.Context, payer string, limit int) ([]credit.Entry, error) {
	const columns = `seq, id, payer, entry_type, amount, symbol, balance_after, reference, created_at`
	query := `SELECT ` + columns + ` FROM credit_entries WHERE ($1 = '' OR payer = $1) ORDER BY seq`
	args := []interface{}{payer}
	if limit > 0 {
		query = `SELECT ` + columns + ` FROM (
			SELECT ` + columns + ` FROM credit_entries WHERE ($1 = '' OR payer = $1) ORDER BY seq DESC LIMIT $2
		) recent ORDER BY seq`
		args = append(args, limit)
	}

	rows, err := t.tx.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list credit entries: %w", err)
	}
	defer rows.Close()

	var out []credit.Entry
	for rows.Next() {
		var (
			seq int64
			row creditEntryRow
		)
		if err := rows.Scan(&seq, &row.ID, &row.Payer, &row.EntryType, &row.Amount, &row.Symbol,
			&row.BalanceAfter, &row.Reference, &row.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan credit entry: %w", err)
		}
		out = append(out, row.model())
	}
	return out, rows.Err()
}

func (t *Tx) HasCreditReference(ctx context.Context, entryType, reference string) (bool, error) {
	var exists bool
	err := t.tx.GetContext(ctx, &exists, `
		SELECT EXISTS (SELECT 1 FROM credit_entries WHERE entry_type = $1 AND reference = $2)
	`, entryType, reference)
	if err != nil {
		return false, fmt.Errorf("check credit reference: %w", err)
	}
	return exists, nil
}

// --- RequestStore -----------------------------------------------------------

type requestRow struct {
	Application       string       `db:"application"`
	ID                int64        `db:"id"`
	Payer             string       `db:"payer"`
	Validator         string       `db:"validator"`
	AcceptedBy        string       `db:"accepted_by"`
	MinReputation     float64      `db:"min_reputation"`
	BountyAmount      int64        `db:"bounty_amount"`
	BountySymbol      string       `db:"bounty_symbol"`
	Accepted          bool         `db:"accepted"`
	AcceptedAt        sql.NullTime `db:"accepted_at"`
	ExpirationSeconds int64        `db:"expiration_seconds"`
	CreatedAt         time.Time    `db:"created_at"`
}

func (r requestRow) model() request.Request {
	req := request.Request{
		Application:       r.Application,
		ID:                uint64(r.ID),
		Payer:             r.Payer,
		Validator:         r.Validator,
		AcceptedBy:        r.AcceptedBy,
		MinReputation:     r.MinReputation,
		Bounty:            asset.New(r.BountyAmount, r.BountySymbol),
		Accepted:          r.Accepted,
		ExpirationSeconds: r.ExpirationSeconds,
		CreatedAt:         r.CreatedAt,
	}
	if r.AcceptedAt.Valid {
		req.AcceptedAt = r.AcceptedAt.Time
	}
	return req
}

func acceptedAt(req request.Request) sql.NullTime {
	if req.AcceptedAt.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: req.AcceptedAt, Valid: true}
}

const requestColumns = `application, id, payer, validator, accepted_by, min_reputation, bounty_amount,
	bounty_symbol, accepted, accepted_at, expiration_seconds, created_at`

func (t *Tx) NextRequestID(ctx context.Context, app string) (uint64, error) {
	var next int64
	err := t.tx.GetContext(ctx, &next, `
		INSERT INTO request_sequences (application, next_id) VALUES ($1, 1)
		ON CONFLICT (application) DO UPDATE SET next_id = request_sequences.next_id + 1
		RETURNING next_id - 1
	`, app)
	if err != nil {
		return 0, fmt.Errorf("next request id: %w", err)
	}
	return uint64(next), nil
}

func (t *Tx) GetRequest(ctx context.Context, app string, id uint64) (request.Request, error) {
	var row requestRow
	err := t.tx.GetContext(ctx, &row, `SELECT `+requestColumns+` FROM requests WHERE application = $1 AND id = $2`, app, int64(id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return request.Request{}, errors.NotFound("request %d for %s not found", id, app)
	}
	if err != nil {
		return request.Request{}, fmt.Errorf("get request: %w", err)
	}
	return row.model(), nil
}

func (t *Tx) CreateRequest(ctx context.Context, req request.Request) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO requests (`+requestColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, req.Application, int64(req.ID), req.Payer, req.Validator, req.AcceptedBy, req.MinReputation,
		req.Bounty.Amount, req.Bounty.Symbol, req.Accepted, acceptedAt(req), req.ExpirationSeconds, req.CreatedAt)
	if isUniqueViolation(err) {
		return errors.AlreadyExists("request %d for %s already exists", req.ID, req.Application)
	}
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return nil
}

func (t *Tx) UpdateRequest(ctx context.Context, req request.Request) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE requests
		SET accepted_by = $3, accepted = $4, accepted_at = $5
		WHERE application = $1 AND id = $2
	`, req.Application, int64(req.ID), req.AcceptedBy, req.Accepted, acceptedAt(req))
	if err != nil {
		return fmt.Errorf("update request: %w", err)
	}
	return requireRow(result, errors.NotFound("request %d for %s not found", req.ID, req.Application))
}

func (t *Tx) DeleteRequest(ctx context.Context, app string, id uint64) error {
	result, err := t.tx.ExecContext(ctx, `DELETE FROM requests WHERE application = $1 AND id = $2`, app, int64(id))
	if err != nil {
		return fmt.Errorf("delete request: %w", err)
	}
	return requireRow(result, errors.NotFound("request %d for %s not found", id, app))
}

func (t *Tx) ListRequests(ctx context.Context, app string) ([]request.Request, error) {
	var rows []requestRow
	err := t.tx.SelectContext(ctx, &rows, `
		SELECT `+requestColumns+` FROM requests
		WHERE ($1 = '' OR application = $1)
		ORDER BY application, id
	`, app)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	out := make([]request.Request, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.model())
	}
	return out, nil
}

// --- ValidationStore --------------------------------------------------------

type validationRow struct {
	Application string         `db:"application"`
	Validator   string         `db:"validator"`
	Version     int64          `db:"version"`
	CodeHash    string         `db:"code_hash"`
	Tag         string         `db:"tag"`
	Notes       string         `db:"notes"`
	Approvals   int64          `db:"approvals"`
	Endorsers   pq.StringArray `db:"endorsers"`
	SubmittedAt time.Time      `db:"submitted_at"`
}

func (r validationRow) model() validation.Validation {
	return validation.Validation{
		Application: r.Application,
		Validator:   r.Validator,
		Version:     uint64(r.Version),
		CodeHash:    r.CodeHash,
		Tag:         r.Tag,
		Notes:       r.Notes,
		Approvals:   uint64(r.Approvals),
		Endorsers:   []string(r.Endorsers),
		Timestamp:   r.SubmittedAt,
	}
}

const validationColumns = `application, validator, version, code_hash, tag, notes, approvals, endorsers, submitted_at`

func (t *Tx) GetValidation(ctx context.Context, app, validatorID string) (validation.Validation, error) {
	var row validationRow
	err := t.tx.GetContext(ctx, &row, `
		SELECT `+validationColumns+` FROM validations WHERE application = $1 AND validator = $2
	`, app, validatorID)
	if stderrors.Is(err, sql.ErrNoRows) {
		return validation.Validation{}, errors.NotFound("validation by %s for %s not found", validatorID, app)
	}
	if err != nil {
		return validation.Validation{}, fmt.Errorf("get validation: %w", err)
	}
	return row.model(), nil
}

func (t *Tx) PutValidation(ctx context.Context, v validation.Validation) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO validations (`+validationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (application, validator) DO UPDATE
		SET version = EXCLUDED.version, code_hash = EXCLUDED.code_hash, tag = EXCLUDED.tag,
		    notes = EXCLUDED.notes, approvals = EXCLUDED.approvals, endorsers = EXCLUDED.endorsers,
		    submitted_at = EXCLUDED.submitted_at
	`, v.Application, v.Validator, int64(v.Version), v.CodeHash, v.Tag, v.Notes, int64(v.Approvals),
		pq.StringArray(nonNil(v.Endorsers)), v.Timestamp)
	if err != nil {
		return fmt.Errorf("put validation: %w", err)
	}
	return nil
}

func (t *Tx) DeleteValidation(ctx context.Context, app, validatorID string) error {
	result, err := t.tx.ExecContext(ctx, `DELETE FROM validations WHERE application = $1 AND validator = $2`, app, validatorID)
	if err != nil {
		return fmt.Errorf("delete validation: %w", err)
	}
	return requireRow(result, errors.NotFound("validation by %s for %s not found", validatorID, app))
}

func (t *Tx) ListValidations(ctx context.Context, app string) ([]validation.Validation, error) {
	var rows []validationRow
	err := t.tx.SelectContext(ctx, &rows, `
		SELECT `+validationColumns+` FROM validations
		WHERE ($1 = '' OR application = $1)
		ORDER BY application, validator
	`, app)
	if err != nil {
		return nil, fmt.Errorf("list validations: %w", err)
	}
	out := make([]validation.Validation, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.model())
	}
	return out, nil
}

// --- ApplicationStore -------------------------------------------------------

type applicationRow struct {
	Account       string         `db:"account"`
	Title         string         `db:"title"`
	Description   string         `db:"description"`
	SourceCode    string         `db:"source_code"`
	Website       string         `db:"website"`
	Logo          string         `db:"logo"`
	Tags          pq.StringArray `db:"tags"`
	CodeHash      string         `db:"code_hash"`
	LastValidator string         `db:"last_validator"`
	Actions       []byte         `db:"actions"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

func (r applicationRow) model() (application.Application, error) {
	app := application.Application{
		Account:       r.Account,
		Title:         r.Title,
		Description:   r.Description,
		SourceCode:    r.SourceCode,
		Website:       r.Website,
		Logo:          r.Logo,
		Tags:          []string(r.Tags),
		CodeHash:      r.CodeHash,
		LastValidator: r.LastValidator,
		UpdatedAt:     r.UpdatedAt,
	}
	if len(r.Actions) > 0 {
		if err := json.Unmarshal(r.Actions, &app.Actions); err != nil {
			return application.Application{}, fmt.Errorf("decode actions of %s: %w", r.Account, err)
		}
	}
	return app, nil
}

const applicationColumns = `account, title, description, source_code, website, logo, tags, code_hash,
	last_validator, actions, updated_at`

func (t *Tx) GetApplication(ctx context.Context, account string) (application.Application, error) {
	var row applicationRow
	err := t.tx.GetContext(ctx, &row, `SELECT `+applicationColumns+` FROM applications WHERE account = $1`, account)
	if stderrors.Is(err, sql.ErrNoRows) {
		return application.Application{}, errors.NotFound("application %s not found", account)
	}
	if err != nil {
		return application.Application{}, fmt.Errorf("get application: %w", err)
	}
	return row.model()
}

func (t *Tx) PutApplication(ctx context.Context, app application.Application) error {
	actions := app.Actions
	if actions == nil {
		actions = []application.Action{}
	}
	actionsJSON, err := json.Marshal(actions)
	if err != nil {
		return fmt.Errorf("encode actions: %w", err)
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO applications (`+applicationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (account) DO UPDATE
		SET title = EXCLUDED.title, description = EXCLUDED.description, source_code = EXCLUDED.source_code,
		    website = EXCLUDED.website, logo = EXCLUDED.logo, tags = EXCLUDED.tags,
		    code_hash = EXCLUDED.code_hash, last_validator = EXCLUDED.last_validator,
		    actions = EXCLUDED.actions, updated_at = EXCLUDED.updated_at
	`, app.Account, app.Title, app.Description, app.SourceCode, app.Website, app.Logo,
		pq.StringArray(nonNil(app.Tags)), app.CodeHash, app.LastValidator, actionsJSON, app.UpdatedAt)
	if err != nil {
		return fmt.Errorf("put application: %w", err)
	}
	return nil
}

func (t *Tx) ListApplications(ctx context.Context) ([]application.Application, error) {
	var rows []applicationRow
	if err := t.tx.SelectContext(ctx, &rows, `SELECT `+applicationColumns+` FROM applications ORDER BY account`); err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	out := make([]application.Application, 0, len(rows))
	for _, row := range rows {
		app, err := row.model()
		if err != nil {
			return nil, err
		}
		out = append(out, app)
	}
	return out, nil
}

// --- TransferStore ----------------------------------------------------------

type transferRow struct {
	ID          string    `db:"id"`
	FromAccount string    `db:"from_account"`
	ToAccount   string    `db:"to_account"`
	Amount      int64     `db:"amount"`
	Symbol      string    `db:"symbol"`
	Memo        string    `db:"memo"`
	Reason      string    `db:"reason"`
	Status      string    `db:"status"`
	Attempts    int       `db:"attempts"`
	LastError   string    `db:"last_error"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (r transferRow) model() transfer.Transfer {
	return transfer.Transfer{
		ID:        r.ID,
		From:      r.FromAccount,
		To:        r.ToAccount,
		Quantity:  asset.New(r.Amount, r.Symbol),
		Memo:      r.Memo,
		Reason:    r.Reason,
		Status:    r.Status,
		Attempts:  r.Attempts,
		LastError: r.LastError,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

const transferColumns = `id, from_account, to_account, amount, symbol, memo, reason, status, attempts,
	last_error, created_at, updated_at`

func (t *Tx) CreateTransfer(ctx context.Context, tr transfer.Transfer) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO transfers (`+transferColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, tr.ID, tr.From, tr.To, tr.Quantity.Amount, tr.Quantity.Symbol, tr.Memo, tr.Reason, tr.Status,
		tr.Attempts, tr.LastError, tr.CreatedAt, tr.UpdatedAt)
	if isUniqueViolation(err) {
		return errors.AlreadyExists("transfer %s already exists", tr.ID)
	}
	if err != nil {
		return fmt.Errorf("create transfer: %w", err)
	}
	return nil
}

func (t *Tx) UpdateTransfer(ctx context.Context, tr transfer.Transfer) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE transfers
		SET status = $2, attempts = $3, last_error = $4, updated_at = $5
		WHERE id = $1
	`, tr.ID, tr.Status, tr.Attempts, tr.LastError, tr.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update transfer: %w", err)
	}
	return requireRow(result, errors.NotFound("transfer %s not found", tr.ID))
}

func (t *Tx) GetTransfer(ctx context.Context, id string) (transfer.Transfer, error) {
	var row transferRow
	err := t.tx.GetContext(ctx, &row, `SELECT `+transferColumns+` FROM transfers WHERE id = $1`, id)
	if stderrors.Is(err, sql.ErrNoRows) {
		return transfer.Transfer{}, errors.NotFound("transfer %s not found", id)
	}
	if err != nil {
		return transfer.Transfer{}, fmt.Errorf("get transfer: %w", err)
	}
	return row.model(), nil
}

func (t *Tx) ListTransfers(ctx context.Context, status string) ([]transfer.Transfer, error) {
	var rows []transferRow
	err := t.tx.SelectContext(ctx, &rows, `
		SELECT `+transferColumns+` FROM transfers
		WHERE ($1 = '' OR status = $1)
		ORDER BY seq
	`, status)
	if err != nil {
		return nil, fmt.Errorf("list transfers: %w", err)
	}
	out := make([]transfer.Transfer, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.model())
	}
	return out, nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
