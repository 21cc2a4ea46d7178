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
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/blnkfinance/corebank"
	model2 "github.com/blnkfinance/corebank/api/model"
	"github.com/blnkfinance/corebank/internal/apierror"
)

// respondOutcome writes a posting outcome. A fresh posting answers 201 and a
// replay 200. A failed posting answers with the status of its failure and
// carries the recorded transaction in details.
func respondOutcome(c *gin.Context, out *corebank.PostingOutcome, err error) {
	if err != nil {
		apiErr := apierror.FromError(err)
		if out != nil && out.Transaction != nil {
			apiErr.Details = out.Transaction
		}
		c.JSON(apierror.MapErrorToHTTPStatus(apiErr), apiErr)
		return
	}
	status := http.StatusCreated
	if out.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, out.Transaction)
}

// PostTransaction posts a deposit, withdrawal or transfer. The request key
// comes from the Idempotency-Key header or the request_key field.
//
// Responses:
// - 400 Bad Request: invalid body or amount.
// - 404 Not Found: an account does not exist.
// - 409 Conflict: the key was used for a different request, or is still in flight.
// - 422 Unprocessable Entity: insufficient funds, inactive account, currency mismatch.
// - 503 Service Unavailable: retries exhausted under contention.
// - 201 Created / 200 OK: the applied transaction, fresh or replayed.
func (a Api) PostTransaction(c *gin.Context) {
	var newTransaction model2.PostTransaction
	if err := c.ShouldBindJSON(&newTransaction); err != nil {
		badRequest(c, err)
		return
	}
	if err := newTransaction.ValidatePostTransaction(); err != nil {
		badRequest(c, err)
		return
	}
	req, err := newTransaction.ToPostRequest(c.GetHeader(IdempotencyHeader))
	if err != nil {
		respondError(c, err)
		return
	}

	out, err := a.corebank.Post(c.Request.Context(), req)
	respondOutcome(c, out, err)
}

func (a Api) GetTransaction(c *gin.Context) {
	resp, err := a.corebank.GetTransaction(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ReverseTransaction posts the inverse of an applied transaction. The body is
// optional; without a key the reversal key of the transaction is used.
func (a Api) ReverseTransaction(c *gin.Context) {
	var body model2.ReverseTransaction
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, err)
			return
		}
	}
	key := c.GetHeader(IdempotencyHeader)
	if key == "" {
		key = body.RequestKey
	}

	out, err := a.corebank.Reverse(c.Request.Context(), c.Param("id"), key)
	respondOutcome(c, out, err)
}

// PostFastTransaction debits the source account and schedules settlement
// with the FAST gateway.
func (a Api) PostFastTransaction(c *gin.Context) {
	var transfer model2.FastTransfer
	if err := c.ShouldBindJSON(&transfer); err != nil {
		badRequest(c, err)
		return
	}
	if err := transfer.ValidateFastTransfer(); err != nil {
		badRequest(c, err)
		return
	}
	req, err := transfer.ToFastTransferRequest(c.GetHeader(IdempotencyHeader), subject(c))
	if err != nil {
		respondError(c, err)
		return
	}

	resp, err := a.corebank.PostFastTransaction(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, resp)
}

func (a Api) GetFastTransaction(c *gin.Context) {
	resp, err := a.corebank.GetFastTransaction(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

type utilityPaymentResponse struct {
	Payment interface{} `json:"payment"`
	Fee     interface{} `json:"fee,omitempty"`
}

// PayUtility debits a bill payment and its optional fee.
func (a Api) PayUtility(c *gin.Context) {
	var payment model2.UtilityPayment
	if err := c.ShouldBindJSON(&payment); err != nil {
		badRequest(c, err)
		return
	}
	if err := payment.ValidateUtilityPayment(); err != nil {
		badRequest(c, err)
		return
	}
	req, err := payment.ToUtilityPaymentRequest(c.GetHeader(IdempotencyHeader))
	if err != nil {
		respondError(c, err)
		return
	}

	out, err := a.corebank.PayUtility(c.Request.Context(), req)
	if err != nil {
		apiErr := apierror.FromError(err)
		if out != nil {
			apiErr.Details = outcomeResponse(out)
		}
		c.JSON(apierror.MapErrorToHTTPStatus(apiErr), apiErr)
		return
	}
	status := http.StatusCreated
	if out.Payment.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, outcomeResponse(out))
}

func outcomeResponse(out *corebank.UtilityPaymentOutcome) utilityPaymentResponse {
	resp := utilityPaymentResponse{}
	if out.Payment != nil {
		resp.Payment = out.Payment.Transaction
	}
	if out.Fee != nil {
		resp.Fee = out.Fee.Transaction
	}
	return resp
}
