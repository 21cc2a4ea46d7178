/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

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
	"go.opentelemetry.io/otel/attribute"

	"github.com/blnkfinance/corebank/model"
	"github.com/blnkfinance/corebank/money"
)

var ledgerTracer = otel.Tracer("corebank.database.ledger")

const accountColumns = `account_id, account_number, iban, account_type, customer_id, branch_id, currency,
	balance, allowed_balance_to_use, minimum_allowed_balance, debt, active, version, created_at, updated_at, meta_data`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row rowScanner) (*model.Account, error) {
	var (
		acc                             model.Account
		iban, customerID, branchID      sql.NullString
		balance, allowed, minimum, debt int64
		metaDataJSON                    []byte
	)
	err := row.Scan(&acc.AccountID, &acc.AccountNumber, &iban, &acc.Type, &customerID, &branchID, &acc.Currency,
		&balance, &allowed, &minimum, &debt, &acc.Active, &acc.Version, &acc.CreatedAt, &acc.UpdatedAt, &metaDataJSON)
	if err != nil {
		return nil, err
	}
	acc.IBAN, acc.CustomerID, acc.BranchID = iban.String, customerID.String, branchID.String

	for _, field := range []struct {
		dst   *money.Money
		minor int64
	}{
		{&acc.Balance, balance},
		{&acc.AllowedBalanceToUse, allowed},
		{&acc.MinimumAllowedBalance, minimum},
		{&acc.Debt, debt},
	} {
		m, err := money.New(field.minor, acc.Currency)
		if err != nil {
			return nil, errors.Wrapf(err, "account %s", acc.AccountID)
		}
		*field.dst = m
	}

	if len(metaDataJSON) > 0 {
		if err := json.Unmarshal(metaDataJSON, &acc.MetaData); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal account metadata")
		}
	}
	return &acc, nil
}

func (d Datasource) CreateAccount(ctx context.Context, account *model.Account) error {
	ctx, span := ledgerTracer.Start(ctx, "CreateAccount")
	defer span.End()

	metaDataJSON, err := json.Marshal(account.MetaData)
	if err != nil {
		return errors.Wrap(err, "failed to marshal account metadata")
	}

	now := time.Now().UTC()
	account.CreatedAt, account.UpdatedAt = now, now
	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO corebank.accounts (account_id, account_number, iban, account_type, customer_id, branch_id, currency,
			balance, allowed_balance_to_use, minimum_allowed_balance, debt, active, version, created_at, updated_at, meta_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, account.AccountID, account.AccountNumber, nullString(account.IBAN), account.Type, nullString(account.CustomerID),
		nullString(account.BranchID), account.Currency, account.Balance.Amount(), account.AllowedBalanceToUse.Amount(),
		account.MinimumAllowedBalance.Amount(), account.Debt.Amount(), account.Active, account.Version, now, now, metaDataJSON)
	if err != nil {
		span.RecordError(err)
		return classifyPQError(err, fmt.Sprintf("create account %s", account.AccountID))
	}
	return nil
}

func (d Datasource) getAccountBy(ctx context.Context, column, value string) (*model.Account, error) {
	row := d.Conn.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM corebank.accounts WHERE %s = $1`, accountColumns, column), value)
	acc, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(model.ErrAccountNotFound, "account with %s '%s'", column, value)
		}
		return nil, errors.Wrap(err, "failed to retrieve account")
	}
	return acc, nil
}

func (d Datasource) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	ctx, span := ledgerTracer.Start(ctx, "GetAccount")
	defer span.End()
	return d.getAccountBy(ctx, "account_id", id)
}

func (d Datasource) GetAccountByIBAN(ctx context.Context, iban string) (*model.Account, error) {
	ctx, span := ledgerTracer.Start(ctx, "GetAccountByIBAN")
	defer span.End()
	return d.getAccountBy(ctx, "iban", model.NormalizeIBAN(iban))
}

func (d Datasource) GetAccountByNumber(ctx context.Context, number string) (*model.Account, error) {
	ctx, span := ledgerTracer.Start(ctx, "GetAccountByNumber")
	defer span.End()
	return d.getAccountBy(ctx, "account_number", number)
}

func (d Datasource) GetAccounts(ctx context.Context, ids ...string) ([]*model.Account, error) {
	ctx, span := ledgerTracer.Start(ctx, "GetAccounts")
	defer span.End()

	ordered := model.CanonicalOrder(ids...)
	rows, err := d.Conn.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM corebank.accounts WHERE account_id = ANY($1) ORDER BY account_id`, accountColumns),
		pq.Array(ordered))
	if err != nil {
		return nil, errors.Wrap(err, "failed to retrieve accounts")
	}
	defer func() { _ = rows.Close() }()

	accounts := make([]*model.Account, 0, len(ordered))
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan account")
		}
		accounts = append(accounts, acc)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate accounts")
	}

	if len(accounts) != len(ordered) {
		found := make(map[string]bool, len(accounts))
		for _, acc := range accounts {
			found[acc.AccountID] = true
		}
		for _, id := range ordered {
			if !found[id] {
				return nil, errors.Wrapf(model.ErrAccountNotFound, "account with account_id '%s'", id)
			}
		}
	}
	return accounts, nil
}

func (d Datasource) TryApplyDelta(ctx context.Context, id string, delta money.Money, expectedVersion int64) (model.BalanceUpdate, error) {
	ctx, span := ledgerTracer.Start(ctx, "TryApplyDelta")
	defer span.End()
	span.SetAttributes(attribute.String("account.id", id), attribute.Int64("account.expected_version", expectedVersion))

	var newBalance, newVersion int64
	err := d.Conn.QueryRowContext(ctx, `
		UPDATE corebank.accounts
		SET balance = balance + $2,
			debt = GREATEST(0, -(balance + $2)),
			version = version + 1,
			updated_at = NOW()
		WHERE account_id = $1 AND version = $3 AND currency = $4
		RETURNING balance, version
	`, id, delta.Amount(), expectedVersion, delta.CurrencyCode()).Scan(&newBalance, &newVersion)
	if err == nil {
		balance, err := money.New(newBalance, delta.CurrencyCode())
		if err != nil {
			return model.BalanceUpdate{}, err
		}
		return model.BalanceUpdate{AccountID: id, NewBalance: balance, NewVersion: newVersion}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		span.RecordError(err)
		return model.BalanceUpdate{}, classifyPQError(err, fmt.Sprintf("apply delta to account %s", id))
	}

	// Nothing matched; inspect the row to report why.
	var currentVersion int64
	var currency string
	err = d.Conn.QueryRowContext(ctx, `SELECT version, currency FROM corebank.accounts WHERE account_id = $1`, id).
		Scan(&currentVersion, &currency)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return model.BalanceUpdate{}, errors.Wrapf(model.ErrAccountNotFound, "account with account_id '%s'", id)
	case err != nil:
		return model.BalanceUpdate{}, errors.Wrap(err, "failed to inspect account after missed update")
	case currency != delta.CurrencyCode():
		return model.BalanceUpdate{}, errors.Wrapf(model.ErrCurrencyMismatch, "account %s holds %s", id, currency)
	default:
		return model.BalanceUpdate{}, errors.Wrapf(model.ErrVersionConflict, "account %s at version %d, expected %d", id, currentVersion, expectedVersion)
	}
}

func (d Datasource) DeactivateAccount(ctx context.Context, id string) error {
	ctx, span := ledgerTracer.Start(ctx, "DeactivateAccount")
	defer span.End()

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE corebank.accounts
		SET active = FALSE, version = version + 1, updated_at = NOW()
		WHERE account_id = $1
	`, id)
	if err != nil {
		return errors.Wrap(err, "failed to deactivate account")
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rowsAffected == 0 {
		return errors.Wrapf(model.ErrAccountNotFound, "account with account_id '%s'", id)
	}
	return nil
}
