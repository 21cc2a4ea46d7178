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
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/blnkfinance/corebank"
	"github.com/blnkfinance/corebank/api/middleware"
	"github.com/blnkfinance/corebank/config"
	"github.com/blnkfinance/corebank/internal/apierror"
)

// IdempotencyHeader carries the request key of a posting. It wins over the
// request_key field of the body.
const IdempotencyHeader = "Idempotency-Key"

type Api struct {
	corebank *corebank.CoreBank
	router   *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router

	router.POST("/accounts", a.CreateAccount)
	router.GET("/accounts/:id", a.GetAccount)
	router.GET("/accounts/:id/balance", a.GetBalance)
	router.GET("/accounts/:id/transactions", a.GetTransactionHistory)
	router.PUT("/accounts/:id/deactivate", a.DeactivateAccount)

	router.POST("/transactions", a.PostTransaction)
	router.GET("/transactions/:id", a.GetTransaction)
	router.POST("/transactions/:id/reverse", a.ReverseTransaction)

	router.POST("/fast-transactions", a.PostFastTransaction)
	router.GET("/fast-transactions/:id", a.GetFastTransaction)

	router.POST("/utility-payments", a.PayUtility)
	return a.router
}

func NewAPI(cb *corebank.CoreBank) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	if conf.EnableTelemetry {
		r.Use(otelgin.Middleware(conf.ProjectName))
	}
	r.Use(middleware.RateLimitMiddleware(conf))
	r.Use(middleware.Authenticate())

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, "server running...")
	})

	return &Api{corebank: cb, router: r}
}

// respondError writes err as an APIError with the status of its kind.
func respondError(c *gin.Context, err error) {
	apiErr := apierror.FromError(err)
	c.JSON(apierror.MapErrorToHTTPStatus(apiErr), apiErr)
}

// badRequest reports a binding or validation failure.
func badRequest(c *gin.Context, err error) {
	var apiErr apierror.APIError
	if !errors.As(err, &apiErr) {
		apiErr = apierror.APIError{Code: apierror.ErrInvalidInput, Message: err.Error()}
	}
	c.JSON(http.StatusBadRequest, apiErr)
}

// subject returns the authenticated bearer subject, if any.
func subject(c *gin.Context) string {
	return c.GetString(middleware.SubjectKey)
}
