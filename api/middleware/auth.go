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

package middleware

import (
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/blnkfinance/corebank/config"
	"github.com/blnkfinance/corebank/internal/apierror"
)

const (
	KeyHeader = "X-Corebank-Key"

	// SubjectKey holds the authenticated subject in the gin context.
	SubjectKey = "subject"
	masterKey  = "isMasterKey"
)

// pathToResource maps the first route segment to the resource it protects.
var pathToResource = map[string]Resource{
	"accounts":          ResourceAccounts,
	"transactions":      ResourceTransactions,
	"fast-transactions": ResourceFastTransactions,
	"utility-payments":  ResourceUtilityPayments,
}

// Claims are the bearer token claims. Scopes use the resource:action form.
type Claims struct {
	Scopes []string `json:"scopes"`
	jwt.RegisteredClaims
}

// getResourceFromPath returns the resource of a URL path, or "" if unknown.
func getResourceFromPath(path string) Resource {
	first, _, _ := strings.Cut(strings.TrimPrefix(path, "/"), "/")
	return pathToResource[first]
}

// IssueToken signs an HS256 token for subject. It backs the token command.
func IssueToken(secret, subject string, scopes []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func parseToken(secret, raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func abort(c *gin.Context, code apierror.ErrorCode, message string) {
	err := apierror.APIError{Code: code, Message: message}
	c.AbortWithStatusJSON(apierror.MapErrorToHTTPStatus(err), err)
}

// Authenticate guards every route except the health check when the server
// runs in secure mode. The master secret in X-Corebank-Key grants
// everything; a bearer token grants what its scopes allow.
func Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/" {
			c.Next()
			return
		}

		conf, err := config.Fetch()
		if err != nil {
			abort(c, apierror.ErrInternalServer, "configuration not loaded")
			return
		}
		if !conf.Server.Secure {
			c.Next()
			return
		}

		if key := c.GetHeader(KeyHeader); key != "" {
			if conf.Server.SecretKey == "" || !secureCompare(conf.Server.SecretKey, key) {
				abort(c, apierror.ErrUnauthorized, "Invalid secret key")
				return
			}
			c.Set(masterKey, true)
			c.Next()
			return
		}

		raw, found := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !found || raw == "" {
			abort(c, apierror.ErrUnauthorized, "Authentication required. Use the X-Corebank-Key header or a bearer token")
			return
		}
		if conf.Server.JWTSecret == "" {
			abort(c, apierror.ErrUnauthorized, "Bearer tokens are not enabled")
			return
		}
		claims, err := parseToken(conf.Server.JWTSecret, raw)
		if err != nil {
			msg := "Invalid token"
			if errors.Is(err, jwt.ErrTokenExpired) {
				msg = "Token expired"
			}
			abort(c, apierror.ErrUnauthorized, msg)
			return
		}

		resource := getResourceFromPath(c.Request.URL.Path)
		if resource == "" {
			abort(c, apierror.ErrForbidden, "Unknown resource type")
			return
		}
		if !HasPermission(claims.Scopes, resource, c.Request.Method) {
			abort(c, apierror.ErrForbidden, "Insufficient permissions for "+BuildScope(resource, methodToAction[c.Request.Method]))
			return
		}

		c.Set(SubjectKey, claims.Subject)
		c.Next()
	}
}

func secureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
