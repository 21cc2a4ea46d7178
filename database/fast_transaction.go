package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/blnkfinance/corebank/model"
	"github.com/blnkfinance/corebank/money"
)

const fastTransactionColumns = `fast_transaction_id, transaction_id, source_iban, recipient_full_name, recipient_short_name,
	recipient_iban, amount, currency, settlement_status, settlement_reference, created_by, created_at, updated_at`

func scanFastTransaction(row rowScanner) (*model.FastTransaction, error) {
	var (
		fast                            model.FastTransaction
		shortName, reference, createdBy sql.NullString
		amount                          int64
		currency                        string
	)
	err := row.Scan(&fast.FastTransactionID, &fast.TransactionID, &fast.SourceIBAN, &fast.RecipientFullName, &shortName,
		&fast.RecipientIBAN, &amount, &currency, &fast.SettlementStatus, &reference, &createdBy, &fast.CreatedAt, &fast.UpdatedAt)
	if err != nil {
		return nil, err
	}
	fast.RecipientShortName, fast.SettlementReference, fast.CreatedBy = shortName.String, reference.String, createdBy.String
	fast.Amount, err = money.New(amount, currency)
	if err != nil {
		return nil, errors.Wrapf(err, "fast transaction %s", fast.FastTransactionID)
	}
	return &fast, nil
}

func (d Datasource) RecordFastTransaction(ctx context.Context, fast *model.FastTransaction) error {
	ctx, span := logTracer.Start(ctx, "RecordFastTransaction")
	defer span.End()

	now := time.Now().UTC()
	fast.CreatedAt, fast.UpdatedAt = now, now
	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO corebank.fast_transactions (fast_transaction_id, transaction_id, source_iban, recipient_full_name,
			recipient_short_name, recipient_iban, amount, currency, settlement_status, settlement_reference, created_by,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, fast.FastTransactionID, fast.TransactionID, fast.SourceIBAN, fast.RecipientFullName, nullString(fast.RecipientShortName),
		fast.RecipientIBAN, fast.Amount.Amount(), fast.Amount.CurrencyCode(), fast.SettlementStatus,
		nullString(fast.SettlementReference), nullString(fast.CreatedBy), now, now)
	if err != nil {
		span.RecordError(err)
		return classifyPQError(err, fmt.Sprintf("record fast transaction %s", fast.FastTransactionID))
	}
	return nil
}

func (d Datasource) getFastTransactionBy(ctx context.Context, column, value string) (*model.FastTransaction, error) {
	row := d.Conn.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM corebank.fast_transactions WHERE %s = $1`, fastTransactionColumns, column), value)
	fast, err := scanFastTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(model.ErrTransactionNotFound, "fast transaction with %s '%s'", column, value)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to retrieve fast transaction")
	}
	return fast, nil
}

func (d Datasource) GetFastTransaction(ctx context.Context, id string) (*model.FastTransaction, error) {
	ctx, span := logTracer.Start(ctx, "GetFastTransaction")
	defer span.End()
	return d.getFastTransactionBy(ctx, "fast_transaction_id", id)
}

func (d Datasource) GetFastTransactionByTransactionID(ctx context.Context, transactionID string) (*model.FastTransaction, error) {
	ctx, span := logTracer.Start(ctx, "GetFastTransactionByTransactionID")
	defer span.End()
	return d.getFastTransactionBy(ctx, "transaction_id", transactionID)
}

// UpdateSettlementStatus only moves a fast transaction out of PENDING_SETTLEMENT.
func (d Datasource) UpdateSettlementStatus(ctx context.Context, id string, status model.SettlementStatus, reference string) error {
	ctx, span := logTracer.Start(ctx, "UpdateSettlementStatus")
	defer span.End()

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE corebank.fast_transactions
		SET settlement_status = $2, settlement_reference = $3, updated_at = NOW()
		WHERE fast_transaction_id = $1 AND settlement_status = $4
	`, id, status, nullString(reference), model.SettlementPending)
	if err != nil {
		return errors.Wrap(err, "failed to update settlement status")
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rowsAffected == 0 {
		if _, err := d.GetFastTransaction(ctx, id); err != nil {
			return err
		}
		return errors.Wrapf(model.ErrInvalidStatusTransition, "fast transaction %s is already settled or rejected", id)
	}
	return nil
}
