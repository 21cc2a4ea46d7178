package corebank

import (
	"context"
	"encoding/binary"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/blnkfinance/corebank/config"
	"github.com/blnkfinance/corebank/internal/request"
	"github.com/blnkfinance/corebank/model"
)

const accountNumberDigits = 10000000000

type accountDetails struct {
	AccountNumber string `json:"account_number"`
	IBAN          string `json:"iban"`
}

// applyExternalAccount asks the configured numbering service for the account
// number and IBAN.
func applyExternalAccount(ctx context.Context, cfg config.AccountNumberGenerationConfig, account *model.Account) error {
	req, err := request.NewJSONRequest(ctx, http.MethodGet, cfg.HttpService.Url, nil, cfg.HttpService.Headers)
	if err != nil {
		return err
	}
	var response accountDetails
	if _, err := request.Call(nil, req, &response); err != nil {
		return fmt.Errorf("account number service: %w", err)
	}
	if response.AccountNumber != "" {
		account.AccountNumber = response.AccountNumber
	}
	if response.IBAN != "" {
		account.IBAN = model.NormalizeIBAN(response.IBAN)
	}
	return nil
}

// localAccountNumber derives a ten digit account number from a random uuid.
func localAccountNumber() string {
	id := uuid.New()
	return fmt.Sprintf("%010d", binary.BigEndian.Uint64(id[:8])%accountNumberDigits)
}

// localIBAN builds an IBAN whose BBAN is the bank code, a reserved zero and
// the account number padded to sixteen digits.
func localIBAN(cfg config.AccountNumberGenerationConfig, accountNumber string) string {
	padded := accountNumber
	if len(padded) < 16 {
		padded = strings.Repeat("0", 16-len(padded)) + padded
	}
	return model.BuildIBAN(cfg.IBANCountryCode, cfg.BankCode+"0"+padded)
}

// OpenAccount creates an account with a zero balance. Identity fields left
// empty are generated. The overdraft line and minimum balance are kept when
// given in the account currency.
func (c *CoreBank) OpenAccount(ctx context.Context, account model.Account) (*model.Account, error) {
	ctx, span := tracer.Start(ctx, "OpenAccount")
	defer span.End()

	gen := c.config.AccountNumberGeneration
	if account.AccountNumber == "" && gen.EnableAutoGeneration && gen.HttpService.Url != "" {
		if err := applyExternalAccount(ctx, gen, &account); err != nil {
			span.RecordError(err)
			return nil, err
		}
	}
	if account.AccountID == "" {
		account.AccountID = model.GenerateUUIDWithSuffix("acc")
	}
	if account.AccountNumber == "" {
		account.AccountNumber = localAccountNumber()
	}
	if account.IBAN == "" {
		account.IBAN = localIBAN(gen, account.AccountNumber)
	}

	opened, err := model.NewAccount(account.AccountID, account.AccountNumber, account.Type, account.Currency)
	if err != nil {
		return nil, err
	}
	opened.IBAN = model.NormalizeIBAN(account.IBAN)
	opened.CustomerID = account.CustomerID
	opened.BranchID = account.BranchID
	opened.MetaData = account.MetaData
	if account.AllowedBalanceToUse.CurrencyCode() != "" {
		opened.AllowedBalanceToUse = account.AllowedBalanceToUse
	}
	if account.MinimumAllowedBalance.CurrencyCode() != "" {
		opened.MinimumAllowedBalance = account.MinimumAllowedBalance
	}
	if err := opened.Validate(); err != nil {
		return nil, err
	}

	if err := c.datasource.CreateAccount(ctx, opened); err != nil {
		span.RecordError(err)
		return nil, err
	}
	c.dispatchWebhook(ctx, "account.created", opened)
	return opened, nil
}

func (c *CoreBank) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	return c.datasource.GetAccount(ctx, id)
}

func (c *CoreBank) GetAccountByNumber(ctx context.Context, number string) (*model.Account, error) {
	return c.datasource.GetAccountByNumber(ctx, number)
}

// GetBalance reads the current balance straight from the store.
func (c *CoreBank) GetBalance(ctx context.Context, id string) (model.BalanceView, error) {
	acc, err := c.datasource.GetAccount(ctx, id)
	if err != nil {
		return model.BalanceView{}, err
	}
	return acc.BalanceView(), nil
}

// DeactivateAccount soft-deactivates an account. Postings that read it
// before the change conflict on the version and see it inactive on retry.
func (c *CoreBank) DeactivateAccount(ctx context.Context, id string) error {
	if err := c.datasource.DeactivateAccount(ctx, id); err != nil {
		return err
	}
	c.dispatchWebhook(ctx, "account.deactivated", map[string]string{"account_id": id})
	return nil
}

func (c *CoreBank) GetTransaction(ctx context.Context, id string) (*model.CashTransaction, error) {
	return c.datasource.GetTransaction(ctx, id)
}

func (c *CoreBank) GetTransactionHistory(ctx context.Context, accountID string, page model.Page) ([]*model.CashTransaction, error) {
	if _, err := c.datasource.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return c.datasource.GetTransactionHistory(ctx, accountID, page.Normalize())
}
