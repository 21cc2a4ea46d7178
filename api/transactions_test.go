package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blnkfinance/corebank"
	model2 "github.com/blnkfinance/corebank/api/model"
	"github.com/blnkfinance/corebank/model"
	"github.com/blnkfinance/corebank/money"
)

func transfer(amount string) model2.PostTransaction {
	return model2.PostTransaction{Type: "TRANSFER", Source: "acc_a", Destination: "acc_b", Amount: amount, Currency: "TRY"}
}

func TestPostTransaction(t *testing.T) {
	router, _, ds := setupRouter(t)
	seedAccount(t, ds, "acc_a", 10000)
	seedAccount(t, ds, "acc_b", 1000)

	tests := []struct {
		name         string
		payload      model2.PostTransaction
		key          string
		expectedCode int
		expectedKind string
	}{
		{"applied", transfer("40.00"), "tx-1", http.StatusCreated, ""},
		{"replayed", transfer("40.00"), "tx-1", http.StatusOK, ""},
		{"key reused for another amount", transfer("41.00"), "tx-1", http.StatusConflict, "IDEMPOTENCY_KEY_CONFLICT"},
		{"insufficient funds", transfer("1000.00"), "tx-2", http.StatusUnprocessableEntity, "INSUFFICIENT_FUNDS"},
		{"unknown destination", model2.PostTransaction{Type: "TRANSFER", Source: "acc_a", Destination: "acc_x", Amount: "1", Currency: "TRY"}, "tx-3", http.StatusNotFound, "ACCOUNT_NOT_FOUND"},
		{"currency mismatch", model2.PostTransaction{Type: "TRANSFER", Source: "acc_a", Destination: "acc_b", Amount: "1", Currency: "USD"}, "tx-4", http.StatusUnprocessableEntity, "CURRENCY_MISMATCH"},
		{"zero amount", transfer("0"), "tx-5", http.StatusBadRequest, "INVALID_AMOUNT"},
		{"missing key", transfer("1.00"), "", http.StatusBadRequest, "INVALID_REQUEST"},
		{"invalid body", model2.PostTransaction{Type: "TRANSFER"}, "tx-6", http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var response map[string]interface{}
			header := map[string]string{}
			if tt.key != "" {
				header[IdempotencyHeader] = tt.key
			}
			resp, err := SetUpTestRequest(TestRequest{
				Payload:  toJSON(t, tt.payload),
				Response: &response,
				Method:   http.MethodPost,
				Route:    "/transactions",
				Header:   header,
				Router:   router,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.expectedCode, resp.Code, response)
			if tt.expectedKind != "" {
				assert.Equal(t, tt.expectedKind, response["kind"])
			}
		})
	}

	assert.Equal(t, int64(6000), balanceOf(t, ds, "acc_a"))
	assert.Equal(t, int64(5000), balanceOf(t, ds, "acc_b"))
}

func TestPostTransaction_FailureCarriesTransaction(t *testing.T) {
	router, _, ds := setupRouter(t)
	seedAccount(t, ds, "acc_a", 100)
	seedAccount(t, ds, "acc_b", 0)

	var response struct {
		Kind    string                 `json:"kind"`
		Details map[string]interface{} `json:"details"`
	}
	resp, err := SetUpTestRequest(TestRequest{
		Payload:  toJSON(t, transfer("5.00")),
		Response: &response,
		Method:   http.MethodPost,
		Route:    "/transactions",
		Header:   map[string]string{IdempotencyHeader: "poor-1"},
		Router:   router,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	assert.Equal(t, "INSUFFICIENT_FUNDS", response.Kind)
	assert.Equal(t, "FAILED", response.Details["status"])
	assert.Equal(t, "poor-1", response.Details["request_key"])
}

func TestReverseTransaction(t *testing.T) {
	router, _, ds := setupRouter(t)
	seedAccount(t, ds, "acc_a", 10000)
	seedAccount(t, ds, "acc_b", 0)

	var posted map[string]interface{}
	resp, err := SetUpTestRequest(TestRequest{
		Payload:  toJSON(t, model2.PostTransaction{RequestKey: "rev-src", Type: "TRANSFER", Source: "acc_a", Destination: "acc_b", Amount: "25", Currency: "TRY"}),
		Response: &posted,
		Method:   http.MethodPost,
		Route:    "/transactions",
		Router:   router,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.Code)
	id := posted["transaction_id"].(string)

	var reversal map[string]interface{}
	resp, err = SetUpTestRequest(TestRequest{Response: &reversal, Method: http.MethodPost, Route: "/transactions/" + id + "/reverse", Router: router})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.Code)
	assert.Equal(t, id, reversal["parent_transaction"])
	assert.Equal(t, int64(10000), balanceOf(t, ds, "acc_a"))

	resp, err = SetUpTestRequest(TestRequest{
		Payload:  toJSON(t, model2.ReverseTransaction{RequestKey: "rev-again"}),
		Response: &reversal,
		Method:   http.MethodPost,
		Route:    "/transactions/" + id + "/reverse",
		Router:   router,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)

	var original map[string]interface{}
	resp, err = SetUpTestRequest(TestRequest{Response: &original, Method: http.MethodGet, Route: "/transactions/" + id, Router: router})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "REVERSED", original["status"])

	var apiErr map[string]interface{}
	resp, err = SetUpTestRequest(TestRequest{Response: &apiErr, Method: http.MethodPost, Route: "/transactions/txn_missing/reverse", Router: router})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestPayUtility(t *testing.T) {
	router, _, ds := setupRouter(t)
	seedAccount(t, ds, "acc_a", 10000)

	var response map[string]map[string]interface{}
	resp, err := SetUpTestRequest(TestRequest{
		Payload: toJSON(t, model2.UtilityPayment{
			AccountID: "acc_a", BillerCode: "ELEC", SubscriberNumber: "555", Amount: "20", Fee: "0.50", Currency: "TRY",
		}),
		Response: &response,
		Method:   http.MethodPost,
		Route:    "/utility-payments",
		Header:   map[string]string{IdempotencyHeader: "bill-1"},
		Router:   router,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.Code)
	assert.Equal(t, "UTILITY", response["payment"]["payment_type"])
	assert.Equal(t, "bill-1:fee", response["fee"]["request_key"])
	assert.Equal(t, int64(7950), balanceOf(t, ds, "acc_a"))
}

func TestFastTransactions(t *testing.T) {
	router, cb, ds := setupRouter(t)
	opened, err := cb.OpenAccount(context.Background(), model.Account{Type: model.AccountTypeCurrent, Currency: "TRY"})
	require.NoError(t, err)
	seedAccount(t, ds, "acc_funding", 10000)
	_, err = cb.Post(context.Background(), corebank.PostRequest{
		RequestKey: "fund-1", Type: model.TransactionTypeTransfer,
		SourceAccountID: "acc_funding", DestinationAccountID: opened.AccountID, Amount: money.MustNew(5000, "TRY"),
	})
	require.NoError(t, err)

	recipient := model.BuildIBAN("TR", "000620"+"0000009876543210")
	var fast map[string]interface{}
	resp, err := SetUpTestRequest(TestRequest{
		Payload: toJSON(t, model2.FastTransfer{
			SourceIBAN: opened.IBAN, RecipientIBAN: recipient, RecipientFullName: "Ada Lovelace", Amount: "12.50", Currency: "TRY",
		}),
		Response: &fast,
		Method:   http.MethodPost,
		Route:    "/fast-transactions",
		Header:   map[string]string{IdempotencyHeader: "fast-1"},
		Router:   router,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.Code, fast)
	assert.Equal(t, recipient, fast["recipient_iban"])
	assert.Equal(t, int64(3750), balanceOf(t, ds, opened.AccountID))

	var fetched map[string]interface{}
	resp, err = SetUpTestRequest(TestRequest{Response: &fetched, Method: http.MethodGet, Route: "/fast-transactions/" + fast["fast_transaction_id"].(string), Router: router})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, fast["transaction_id"], fetched["transaction_id"])

	var apiErr map[string]interface{}
	resp, err = SetUpTestRequest(TestRequest{
		Payload:  toJSON(t, model2.FastTransfer{SourceIBAN: opened.IBAN, RecipientIBAN: "TR00", RecipientFullName: "X", Amount: "1", Currency: "TRY"}),
		Response: &apiErr,
		Method:   http.MethodPost,
		Route:    "/fast-transactions",
		Header:   map[string]string{IdempotencyHeader: "fast-2"},
		Router:   router,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}
