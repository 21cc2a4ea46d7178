package model

type CreateAccount struct {
	AccountID             string                 `json:"account_id"`
	AccountNumber         string                 `json:"account_number"`
	IBAN                  string                 `json:"iban"`
	Type                  string                 `json:"type"`
	Currency              string                 `json:"currency"`
	CustomerID            string                 `json:"customer_id"`
	BranchID              string                 `json:"branch_id"`
	AllowedBalanceToUse   string                 `json:"allowed_balance_to_use"`
	MinimumAllowedBalance string                 `json:"minimum_allowed_balance"`
	MetaData              map[string]interface{} `json:"meta_data"`
}
