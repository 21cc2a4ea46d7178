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
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/blnkfinance/corebank"
	"github.com/blnkfinance/corebank/config"
	"github.com/blnkfinance/corebank/database"
	"github.com/blnkfinance/corebank/model"
	"github.com/blnkfinance/corebank/money"
)

type TestRequest struct {
	Payload  io.Reader
	Router   *gin.Engine
	Response interface{}
	Method   string
	Route    string
	Header   map[string]string
}

func SetUpTestRequest(s TestRequest) (*httptest.ResponseRecorder, error) {
	req := httptest.NewRequest(s.Method, s.Route, s.Payload)
	for key, value := range s.Header {
		req.Header.Set(key, value)
	}
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	s.Router.ServeHTTP(resp, req)

	if s.Response == nil {
		return resp, nil
	}
	err := json.NewDecoder(resp.Body).Decode(s.Response)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func toJSON(t *testing.T, v interface{}) io.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(b)
}

func setupRouter(t *testing.T) (*gin.Engine, *corebank.CoreBank, *database.MemoryDataSource) {
	t.Helper()
	config.MockConfig(&config.Configuration{
		ProjectName: "corebank-api-test",
		DataSource:  config.DataSourceConfig{InMemory: true},
		Ledger:      config.LedgerConfig{RetryBaseDelayMs: 1, RetryMaxDelayMs: 2, PendingWaitTimeoutMs: 200},
	})
	ds := database.NewMemoryDataSource()
	cb, err := corebank.NewCoreBank(ds)
	require.NoError(t, err)
	return NewAPI(cb).Router(), cb, ds
}

func seedAccount(t *testing.T, ds *database.MemoryDataSource, id string, balance int64) {
	t.Helper()
	acc, err := model.NewAccount(id, gofakeit.Numerify("##########"), model.AccountTypeCurrent, "TRY")
	require.NoError(t, err)
	acc.Balance = money.MustNew(balance, "TRY")
	require.NoError(t, ds.CreateAccount(context.Background(), acc))
}

func balanceOf(t *testing.T, ds *database.MemoryDataSource, id string) int64 {
	t.Helper()
	acc, err := ds.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return acc.Balance.Amount()
}
