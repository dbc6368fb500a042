/**
 * @description
 * PostgreSQL implementation of the ledger storage contracts.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: driver, pool and error codes.
 * - github.com/shopspring/decimal: NUMERIC columns are read as text and parsed,
 *   so no precision is lost on the way through float types.
 *
 * @notes
 * - Commit runs inside a single database transaction; each account UPDATE is
 *   guarded by its version, so a stale write surfaces as domain.ErrConflict and
 *   nothing from the entry is persisted.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/transfa/ledger-service/internal/domain"
)

const pgUniqueViolation = "23505"

// PostgresRepository is a concrete implementation of Repository for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

var _ Repository = (*PostgresRepository)(nil)

func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

type rowScanner interface {
	Scan(dest ...any) error
}

func parseNumeric(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse numeric %q: %w", raw, err)
	}
	return d, nil
}

func parseNullableNumeric(raw *string) (*decimal.Decimal, error) {
	if raw == nil {
		return nil, nil
	}
	d, err := parseNumeric(*raw)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func nullableDate(d domain.Date) *time.Time {
	if d.IsZero() {
		return nil
	}
	t := d.Time()
	return &t
}

func dateFromNullable(t *time.Time) domain.Date {
	if t == nil {
		return domain.Date{}
	}
	return domain.DateOf(*t)
}

// --- accounts ---

const accountColumns = `id, owner_id, bank_code, account_number, name, balance::text, status, version, created_at, updated_at`

func scanAccount(row rowScanner) (*domain.Account, error) {
	var (
		a       domain.Account
		balance string
		status  string
	)
	if err := row.Scan(&a.ID, &a.OwnerID, &a.BankCode, &a.AccountNumber, &a.Name, &balance, &status, &a.Version, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	parsed, err := parseNumeric(balance)
	if err != nil {
		return nil, err
	}
	a.Balance = parsed
	a.Status = domain.AccountStatus(status)
	return &a, nil
}

func (r *PostgresRepository) CreateAccount(ctx context.Context, account *domain.Account) error {
	query := `
		INSERT INTO accounts (id, owner_id, bank_code, account_number, name, balance, status, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 1, $8, $9)
	`
	_, err := r.db.Exec(ctx, query,
		account.ID, account.OwnerID, account.BankCode, account.AccountNumber, account.Name,
		account.Balance.StringFixed(domain.AmountScale), string(account.Status), account.CreatedAt, account.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: account number %s already exists for bank %s", domain.ErrConflict, account.AccountNumber, account.BankCode)
		}
		return fmt.Errorf("insert account: %w", err)
	}
	account.Version = 1
	return nil
}

func (r *PostgresRepository) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	row := r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	account, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrAccountNotFound, id)
		}
		return nil, err
	}
	return account, nil
}

func (r *PostgresRepository) ListAccountsByOwner(ctx context.Context, ownerID string) ([]domain.Account, error) {
	rows, err := r.db.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE owner_id = $1 ORDER BY created_at, id`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accounts := make([]domain.Account, 0)
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *account)
	}
	return accounts, rows.Err()
}

// --- ledger ---

func (r *PostgresRepository) Commit(ctx context.Context, entry LedgerEntry) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// Same canonical order as the in-process lock manager.
	accounts := append([]domain.Account(nil), entry.Accounts...)
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID.String() < accounts[j].ID.String() })

	for _, account := range accounts {
		tag, err := tx.Exec(ctx, `
			UPDATE accounts
			SET balance = $1, status = $2, version = version + 1, updated_at = $3
			WHERE id = $4 AND version = $5
		`, account.Balance.StringFixed(domain.AmountScale), string(account.Status), account.UpdatedAt, account.ID, account.Version)
		if err != nil {
			return fmt.Errorf("update account %s: %w", account.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: account %s was modified concurrently", domain.ErrConflict, account.ID)
		}
	}

	if t := entry.Transaction; t != nil {
		_, err := tx.Exec(ctx, `
			INSERT INTO transactions (
				id, source_account_id, destination_account_id, amount, type, description, status,
				source_balance_after, destination_balance_after, reverses_transaction_id, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`,
			t.ID, t.SourceAccountID, t.DestinationAccountID, t.Amount.StringFixed(domain.AmountScale),
			string(t.Type), t.Description, string(t.Status),
			numericArg(t.SourceBalanceAfter), numericArg(t.DestinationBalanceAfter),
			t.ReversesTransactionID, t.CreatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: transaction already recorded or reversed", domain.ErrConflict)
			}
			return fmt.Errorf("insert transaction: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func numericArg(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.StringFixed(domain.AmountScale)
	return &s
}

const transactionColumns = `
	id, source_account_id, destination_account_id, amount::text, type, description, status,
	source_balance_after::text, destination_balance_after::text, reverses_transaction_id, created_at`

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var (
		t                   domain.Transaction
		amount              string
		txType, status      string
		srcAfter, destAfter *string
	)
	err := row.Scan(&t.ID, &t.SourceAccountID, &t.DestinationAccountID, &amount, &txType, &t.Description, &status,
		&srcAfter, &destAfter, &t.ReversesTransactionID, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	if t.Amount, err = parseNumeric(amount); err != nil {
		return nil, err
	}
	if t.SourceBalanceAfter, err = parseNullableNumeric(srcAfter); err != nil {
		return nil, err
	}
	if t.DestinationBalanceAfter, err = parseNullableNumeric(destAfter); err != nil {
		return nil, err
	}
	t.Type = domain.TransactionType(txType)
	t.Status = domain.TransactionStatus(status)
	return &t, nil
}

func (r *PostgresRepository) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	t, err := scanTransaction(r.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrTransactionNotFound, id)
		}
		return nil, err
	}
	return t, nil
}

func (r *PostgresRepository) ListTransactionsByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]domain.Transaction, error) {
	limit, offset = NormalizePage(limit, offset)
	query := `SELECT ` + transactionColumns + `
		FROM transactions
		WHERE source_account_id = $1 OR destination_account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.Query(ctx, query, accountID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Transaction, 0, limit)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) FindReversal(ctx context.Context, originalID uuid.UUID) (*domain.Transaction, error) {
	t, err := scanTransaction(r.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE reverses_transaction_id = $1`, originalID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, err
	}
	return t, nil
}

// --- recurring transfer rules ---

const ruleColumns = `
	id, owner_id, source_account_id, destination_account_id, amount::text, description, frequency,
	day_of_week, day_of_month, start_date, end_date, next_execution_date, last_execution_date,
	active, status, failure_count, last_failure_reason, version, created_at, updated_at`

func scanRule(row rowScanner) (*domain.RecurringTransferRule, error) {
	var (
		rule                  domain.RecurringTransferRule
		amount                string
		frequency, status     string
		dayOfWeek, dayOfMonth *int
		start, next           time.Time
		end, last             *time.Time
	)
	err := row.Scan(&rule.ID, &rule.OwnerID, &rule.SourceAccountID, &rule.DestinationAccountID, &amount, &rule.Description, &frequency,
		&dayOfWeek, &dayOfMonth, &start, &end, &next, &last,
		&rule.Active, &status, &rule.FailureCount, &rule.LastFailureReason, &rule.Version, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if rule.Amount, err = parseNumeric(amount); err != nil {
		return nil, err
	}
	rule.Frequency = domain.Frequency(frequency)
	rule.Status = domain.RuleStatus(status)
	if dayOfWeek != nil {
		dow := time.Weekday(*dayOfWeek)
		rule.DayOfWeek = &dow
	}
	rule.DayOfMonth = dayOfMonth
	rule.StartDate = domain.DateOf(start)
	rule.EndDate = dateFromNullable(end)
	rule.NextExecutionDate = domain.DateOf(next)
	rule.LastExecutionDate = dateFromNullable(last)
	return &rule, nil
}

func weekdayArg(d *time.Weekday) *int {
	if d == nil {
		return nil
	}
	v := int(*d)
	return &v
}

func (r *PostgresRepository) CreateRule(ctx context.Context, rule *domain.RecurringTransferRule) error {
	query := `
		INSERT INTO recurring_transfer_rules (
			id, owner_id, source_account_id, destination_account_id, amount, description, frequency,
			day_of_week, day_of_month, start_date, end_date, next_execution_date, last_execution_date,
			active, status, failure_count, last_failure_reason, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, 1, $18, $19)
	`
	_, err := r.db.Exec(ctx, query,
		rule.ID, rule.OwnerID, rule.SourceAccountID, rule.DestinationAccountID, rule.Amount.StringFixed(domain.AmountScale),
		rule.Description, string(rule.Frequency), weekdayArg(rule.DayOfWeek), rule.DayOfMonth,
		rule.StartDate.Time(), nullableDate(rule.EndDate), rule.NextExecutionDate.Time(), nullableDate(rule.LastExecutionDate),
		rule.Active, string(rule.Status), rule.FailureCount, rule.LastFailureReason, rule.CreatedAt, rule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert recurring transfer rule: %w", err)
	}
	rule.Version = 1
	return nil
}

func (r *PostgresRepository) GetRule(ctx context.Context, id uuid.UUID) (*domain.RecurringTransferRule, error) {
	rule, err := scanRule(r.db.QueryRow(ctx, `SELECT `+ruleColumns+` FROM recurring_transfer_rules WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrRuleNotFound, id)
		}
		return nil, err
	}
	return rule, nil
}

func (r *PostgresRepository) SaveRule(ctx context.Context, rule *domain.RecurringTransferRule) error {
	query := `
		UPDATE recurring_transfer_rules
		SET amount = $1, description = $2, end_date = $3, next_execution_date = $4, last_execution_date = $5,
		    active = $6, status = $7, failure_count = $8, last_failure_reason = $9,
		    version = version + 1, updated_at = $10
		WHERE id = $11 AND version = $12
	`
	tag, err := r.db.Exec(ctx, query,
		rule.Amount.StringFixed(domain.AmountScale), rule.Description, nullableDate(rule.EndDate),
		rule.NextExecutionDate.Time(), nullableDate(rule.LastExecutionDate),
		rule.Active, string(rule.Status), rule.FailureCount, rule.LastFailureReason,
		rule.UpdatedAt, rule.ID, rule.Version,
	)
	if err != nil {
		return fmt.Errorf("update recurring transfer rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := r.GetRule(ctx, rule.ID); getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: rule %s was modified concurrently", domain.ErrConflict, rule.ID)
	}
	rule.Version++
	return nil
}

func (r *PostgresRepository) queryRules(ctx context.Context, query string, args ...any) ([]domain.RecurringTransferRule, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rules := make([]domain.RecurringTransferRule, 0)
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *rule)
	}
	return rules, rows.Err()
}

func (r *PostgresRepository) ListRulesByOwner(ctx context.Context, ownerID string) ([]domain.RecurringTransferRule, error) {
	return r.queryRules(ctx, `SELECT `+ruleColumns+` FROM recurring_transfer_rules WHERE owner_id = $1 ORDER BY created_at, id`, ownerID)
}

func (r *PostgresRepository) FindDueRules(ctx context.Context, asOf domain.Date) ([]domain.RecurringTransferRule, error) {
	return r.queryRules(ctx, `
		SELECT `+ruleColumns+`
		FROM recurring_transfer_rules
		WHERE status = 'ACTIVE' AND next_execution_date <= $1
		ORDER BY next_execution_date, id`, asOf.Time())
}

// --- product maturities ---

const maturityColumns = `
	id, owner_id, product_account_id, payout_account_id, maturity_date, status,
	paid_transaction_id, paid_at, failure_reason, version, created_at, updated_at`

func scanMaturity(row rowScanner) (*domain.ProductMaturity, error) {
	var (
		m            domain.ProductMaturity
		maturityDate time.Time
		status       string
	)
	err := row.Scan(&m.ID, &m.OwnerID, &m.ProductAccountID, &m.PayoutAccountID, &maturityDate, &status,
		&m.PaidTransactionID, &m.PaidAt, &m.FailureReason, &m.Version, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	m.MaturityDate = domain.DateOf(maturityDate)
	m.Status = domain.MaturityStatus(status)
	return &m, nil
}

func (r *PostgresRepository) CreateMaturity(ctx context.Context, m *domain.ProductMaturity) error {
	query := `
		INSERT INTO product_maturities (
			id, owner_id, product_account_id, payout_account_id, maturity_date, status,
			failure_reason, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, 1, $8, $9)
	`
	_, err := r.db.Exec(ctx, query, m.ID, m.OwnerID, m.ProductAccountID, m.PayoutAccountID, m.MaturityDate.Time(),
		string(m.Status), m.FailureReason, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: product account %s already has a pending maturity", domain.ErrConflict, m.ProductAccountID)
		}
		return fmt.Errorf("insert product maturity: %w", err)
	}
	m.Version = 1
	return nil
}

func (r *PostgresRepository) GetMaturity(ctx context.Context, id uuid.UUID) (*domain.ProductMaturity, error) {
	m, err := scanMaturity(r.db.QueryRow(ctx, `SELECT `+maturityColumns+` FROM product_maturities WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrMaturityNotFound, id)
		}
		return nil, err
	}
	return m, nil
}

func (r *PostgresRepository) SaveMaturity(ctx context.Context, m *domain.ProductMaturity) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE product_maturities
		SET status = $1, paid_transaction_id = $2, paid_at = $3, failure_reason = $4,
		    version = version + 1, updated_at = $5
		WHERE id = $6 AND version = $7
	`, string(m.Status), m.PaidTransactionID, m.PaidAt, m.FailureReason, m.UpdatedAt, m.ID, m.Version)
	if err != nil {
		return fmt.Errorf("update product maturity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := r.GetMaturity(ctx, m.ID); getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: maturity %s was modified concurrently", domain.ErrConflict, m.ID)
	}
	m.Version++
	return nil
}

func (r *PostgresRepository) queryMaturities(ctx context.Context, query string, args ...any) ([]domain.ProductMaturity, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.ProductMaturity, 0)
	for rows.Next() {
		m, err := scanMaturity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) ListMaturitiesByOwner(ctx context.Context, ownerID string) ([]domain.ProductMaturity, error) {
	return r.queryMaturities(ctx, `SELECT `+maturityColumns+` FROM product_maturities WHERE owner_id = $1 ORDER BY maturity_date, id`, ownerID)
}

func (r *PostgresRepository) FindDueMaturities(ctx context.Context, asOf domain.Date) ([]domain.ProductMaturity, error) {
	return r.queryMaturities(ctx, `
		SELECT `+maturityColumns+`
		FROM product_maturities
		WHERE status = 'PENDING' AND maturity_date <= $1
		ORDER BY maturity_date, id`, asOf.Time())
}
