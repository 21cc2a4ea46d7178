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
	"strconv"

	"github.com/gin-gonic/gin"

	model2 "github.com/blnkfinance/corebank/api/model"
	"github.com/blnkfinance/corebank/model"
)

// CreateAccount opens an account with a zero balance.
//
// Responses:
// - 400 Bad Request: invalid body.
// - 409 Conflict: the account id, number or IBAN is taken.
// - 201 Created: the opened account.
func (a Api) CreateAccount(c *gin.Context) {
	var newAccount model2.CreateAccount
	if err := c.ShouldBindJSON(&newAccount); err != nil {
		badRequest(c, err)
		return
	}
	if err := newAccount.ValidateCreateAccount(); err != nil {
		badRequest(c, err)
		return
	}
	account, err := newAccount.ToAccount()
	if err != nil {
		respondError(c, err)
		return
	}

	resp, err := a.corebank.OpenAccount(c.Request.Context(), account)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (a Api) GetAccount(c *gin.Context) {
	resp, err := a.corebank.GetAccount(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GetBalance returns the balance, available amount and overdraft settings of
// an account.
func (a Api) GetBalance(c *gin.Context) {
	resp, err := a.corebank.GetBalance(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GetTransactionHistory lists the postings touching an account, newest first.
// Query parameters page and per_page default to the first page.
func (a Api) GetTransactionHistory(c *gin.Context) {
	page := model.Page{}
	page.Number, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	page.PerPage, _ = strconv.Atoi(c.DefaultQuery("per_page", strconv.Itoa(model.DefaultPageSize)))

	resp, err := a.corebank.GetTransactionHistory(c.Request.Context(), c.Param("id"), page)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (a Api) DeactivateAccount(c *gin.Context) {
	id := c.Param("id")
	if err := a.corebank.DeactivateAccount(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	resp, err := a.corebank.GetAccount(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
