package model

// PostTransaction is the body of POST /transactions. Amount is a decimal
// string in major units of Currency.
type PostTransaction struct {
	RequestKey        string                 `json:"request_key"`
	Type              string                 `json:"type"`
	Initiator         string                 `json:"initiator"`
	PaymentType       string                 `json:"payment_type"`
	Source            string                 `json:"source"`
	Destination       string                 `json:"destination"`
	Amount            string                 `json:"amount"`
	Currency          string                 `json:"currency"`
	Description       string                 `json:"description"`
	ParentTransaction string                 `json:"parent_transaction"`
	MetaData          map[string]interface{} `json:"meta_data"`
}

type ReverseTransaction struct {
	RequestKey string `json:"request_key"`
}

type FastTransfer struct {
	RequestKey         string `json:"request_key"`
	SourceIBAN         string `json:"source_iban"`
	RecipientIBAN      string `json:"recipient_iban"`
	RecipientFullName  string `json:"recipient_full_name"`
	RecipientShortName string `json:"recipient_short_name"`
	Amount             string `json:"amount"`
	Currency           string `json:"currency"`
	Description        string `json:"description"`
}

type UtilityPayment struct {
	RequestKey       string `json:"request_key"`
	AccountID        string `json:"account_id"`
	BillerCode       string `json:"biller_code"`
	SubscriberNumber string `json:"subscriber_number"`
	Amount           string `json:"amount"`
	Fee              string `json:"fee"`
	Currency         string `json:"currency"`
	Description      string `json:"description"`
}
