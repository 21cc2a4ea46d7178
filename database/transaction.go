package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"

	"github.com/blnkfinance/corebank/model"
	"github.com/blnkfinance/corebank/money"
)

var logTracer = otel.Tracer("corebank.database.transactions")

const transactionColumns = `transaction_id, request_key, hash, transaction_type, initiator, payment_type,
	source_account_id, destination_account_id, amount, currency, sender_remaining_balance, recipient_remaining_balance,
	description, status, failure_reason, parent_transaction, reversed_by, created_at, updated_at, meta_data`

func scanTransaction(row rowScanner) (*model.CashTransaction, error) {
	var (
		txn                                            model.CashTransaction
		destination, description, failure, parent, rev sql.NullString
		amount                                         int64
		currency                                       string
		senderRemaining, recipientRemaining            sql.NullInt64
		metaDataJSON                                   []byte
	)
	err := row.Scan(&txn.TransactionID, &txn.RequestKey, &txn.Hash, &txn.Type, &txn.Initiator, &txn.PaymentType,
		&txn.SourceAccountID, &destination, &amount, &currency, &senderRemaining, &recipientRemaining,
		&description, &txn.Status, &failure, &parent, &rev, &txn.CreatedAt, &txn.UpdatedAt, &metaDataJSON)
	if err != nil {
		return nil, err
	}
	txn.DestinationAccountID = destination.String
	txn.Description = description.String
	txn.FailureReason = model.FailureKind(failure.String)
	txn.ParentTransaction = parent.String
	txn.ReversedBy = rev.String

	txn.Amount, err = money.New(amount, currency)
	if err != nil {
		return nil, errors.Wrapf(err, "transaction %s", txn.TransactionID)
	}
	if senderRemaining.Valid {
		m := money.MustNew(senderRemaining.Int64, currency)
		txn.SenderRemainingBalance = &m
	}
	if recipientRemaining.Valid {
		m := money.MustNew(recipientRemaining.Int64, currency)
		txn.RecipientRemainingBalance = &m
	}
	if len(metaDataJSON) > 0 {
		if err := json.Unmarshal(metaDataJSON, &txn.MetaData); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal transaction metadata")
		}
	}
	return &txn, nil
}

func (d Datasource) RecordPending(ctx context.Context, txn *model.CashTransaction) error {
	ctx, span := logTracer.Start(ctx, "RecordPending")
	defer span.End()

	if txn.Status == "" {
		txn.Status = model.StatusReceived
	}
	if !txn.Status.CanTransitionTo(model.StatusPending) {
		return errors.Wrapf(model.ErrInvalidStatusTransition, "%s -> %s", txn.Status, model.StatusPending)
	}

	metaDataJSON, err := json.Marshal(txn.MetaData)
	if err != nil {
		return errors.Wrap(err, "failed to marshal transaction metadata")
	}

	now := time.Now().UTC()
	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO corebank.transactions (transaction_id, request_key, hash, transaction_type, initiator, payment_type,
			source_account_id, destination_account_id, amount, currency, description, status, parent_transaction,
			created_at, updated_at, meta_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, txn.TransactionID, txn.RequestKey, txn.Hash, txn.Type, txn.Initiator, txn.PaymentType,
		txn.SourceAccountID, nullString(txn.DestinationAccountID), txn.Amount.Amount(), txn.Amount.CurrencyCode(),
		nullString(txn.Description), model.StatusPending, nullString(txn.ParentTransaction), now, now, metaDataJSON)
	if err != nil {
		span.RecordError(err)
		return classifyPQError(err, fmt.Sprintf("record transaction with request key %s", txn.RequestKey))
	}

	txn.Status = model.StatusPending
	txn.CreatedAt, txn.UpdatedAt = now, now
	return nil
}

// transition moves a transaction to next when its current status is one of
// next's predecessors. Extra assignments are appended to the SET clause with
// placeholders starting at $3.
func (d Datasource) transition(ctx context.Context, id string, next model.TransactionStatus, set string, args ...interface{}) error {
	from := make([]string, 0, 2)
	for _, s := range next.Predecessors() {
		from = append(from, string(s))
	}

	query := `UPDATE corebank.transactions SET status = $2, updated_at = NOW()`
	if set != "" {
		query += ", " + set
	}
	query += fmt.Sprintf(` WHERE transaction_id = $1 AND status = ANY($%d)`, len(args)+3)

	params := append([]interface{}{id, next}, args...)
	params = append(params, pq.Array(from))
	result, err := d.Conn.ExecContext(ctx, query, params...)
	if err != nil {
		return errors.Wrap(err, "failed to update transaction status")
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rowsAffected > 0 {
		return nil
	}

	var current model.TransactionStatus
	err = d.Conn.QueryRowContext(ctx, `SELECT status FROM corebank.transactions WHERE transaction_id = $1`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return errors.Wrapf(model.ErrTransactionNotFound, "transaction with ID '%s'", id)
	}
	if err != nil {
		return errors.Wrap(err, "failed to inspect transaction status")
	}
	return errors.Wrapf(model.ErrInvalidStatusTransition, "%s -> %s", current, next)
}

func (d Datasource) MarkApplied(ctx context.Context, id string, snapshot model.ResultSnapshot) error {
	ctx, span := logTracer.Start(ctx, "MarkApplied")
	defer span.End()

	return d.transition(ctx, id, model.StatusApplied,
		"sender_remaining_balance = $3, recipient_remaining_balance = $4",
		minorOrNull(snapshot.SenderRemainingBalance), minorOrNull(snapshot.RecipientRemainingBalance))
}

func (d Datasource) MarkFailed(ctx context.Context, id string, kind model.FailureKind) error {
	ctx, span := logTracer.Start(ctx, "MarkFailed")
	defer span.End()

	return d.transition(ctx, id, model.StatusFailed, "failure_reason = $3", string(kind))
}

func (d Datasource) MarkReversed(ctx context.Context, id string, reversalID string) error {
	ctx, span := logTracer.Start(ctx, "MarkReversed")
	defer span.End()

	return d.transition(ctx, id, model.StatusReversed, "reversed_by = $3", reversalID)
}

func (d Datasource) FindByRequestKey(ctx context.Context, key string) (*model.CashTransaction, error) {
	ctx, span := logTracer.Start(ctx, "FindByRequestKey")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM corebank.transactions WHERE request_key = $1`, transactionColumns), key)
	txn, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to retrieve transaction by request key")
	}
	return txn, nil
}

func (d Datasource) GetTransaction(ctx context.Context, id string) (*model.CashTransaction, error) {
	ctx, span := logTracer.Start(ctx, "GetTransaction")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM corebank.transactions WHERE transaction_id = $1`, transactionColumns), id)
	txn, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(model.ErrTransactionNotFound, "transaction with ID '%s'", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to retrieve transaction")
	}
	return txn, nil
}

func (d Datasource) GetTransactionHistory(ctx context.Context, accountID string, page model.Page) ([]*model.CashTransaction, error) {
	ctx, span := logTracer.Start(ctx, "GetTransactionHistory")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM corebank.transactions
		WHERE source_account_id = $1 OR destination_account_id = $1
		ORDER BY created_at DESC, transaction_id DESC
		LIMIT $2 OFFSET $3
	`, transactionColumns), accountID, page.Limit(), page.Offset())
	if err != nil {
		return nil, errors.Wrap(err, "failed to retrieve transaction history")
	}
	return collectTransactions(rows)
}

func (d Datasource) GetStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*model.CashTransaction, error) {
	ctx, span := logTracer.Start(ctx, "GetStalePending")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM corebank.transactions
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3
	`, transactionColumns), model.StatusPending, cutoff, limit)
	if err != nil {
		span.RecordError(err)
		return nil, errors.Wrap(err, "failed to retrieve stale pending transactions")
	}
	return collectTransactions(rows)
}

// UpdateTransactionMetadata replaces the metadata without touching the status
// or updated_at.
func (d Datasource) UpdateTransactionMetadata(ctx context.Context, id string, metaData map[string]interface{}) error {
	ctx, span := logTracer.Start(ctx, "UpdateTransactionMetadata")
	defer span.End()

	metaDataJSON, err := json.Marshal(metaData)
	if err != nil {
		return errors.Wrap(err, "failed to marshal transaction metadata")
	}
	result, err := d.Conn.ExecContext(ctx, `UPDATE corebank.transactions SET meta_data = $2 WHERE transaction_id = $1`, id, metaDataJSON)
	if err != nil {
		span.RecordError(err)
		return errors.Wrapf(err, "update metadata of transaction %s", id)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return errors.Wrapf(model.ErrTransactionNotFound, "transaction with ID '%s'", id)
	}
	return nil
}

func collectTransactions(rows *sql.Rows) ([]*model.CashTransaction, error) {
	defer func() { _ = rows.Close() }()

	transactions := make([]*model.CashTransaction, 0)
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan transaction")
		}
		transactions = append(transactions, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate transactions")
	}
	return transactions, nil
}

func minorOrNull(m *money.Money) sql.NullInt64 {
	if m == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: m.Amount(), Valid: true}
}
