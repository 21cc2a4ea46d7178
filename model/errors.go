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

package model

import (
	"errors"

	"github.com/blnkfinance/corebank/money"
)

// FailureKind classifies why a posting or store operation did not succeed.
// It is persisted as the failure reason of a failed transaction.
type FailureKind string

const (
	KindNone                      FailureKind = ""
	KindInvalidAmount             FailureKind = "INVALID_AMOUNT"
	KindInvalidRequest            FailureKind = "INVALID_REQUEST"
	KindCurrencyMismatch          FailureKind = "CURRENCY_MISMATCH"
	KindAccountNotFound           FailureKind = "ACCOUNT_NOT_FOUND"
	KindAccountInactive           FailureKind = "ACCOUNT_INACTIVE"
	KindSameAccount               FailureKind = "SAME_ACCOUNT"
	KindInsufficientFunds         FailureKind = "INSUFFICIENT_FUNDS"
	KindVersionConflict           FailureKind = "VERSION_CONFLICT"
	KindConcurrentUpdateExhausted FailureKind = "CONCURRENT_UPDATE_EXHAUSTED"
	KindCompensationFailed        FailureKind = "COMPENSATION_FAILED"
	KindAlreadyExists             FailureKind = "ALREADY_EXISTS"
	KindTransactionNotFound       FailureKind = "TRANSACTION_NOT_FOUND"
	KindIdempotencyKeyConflict    FailureKind = "IDEMPOTENCY_KEY_CONFLICT"
	KindRequestInProgress         FailureKind = "REQUEST_IN_PROGRESS"
	KindInvalidStatusTransition   FailureKind = "INVALID_STATUS_TRANSITION"
	KindInternal                  FailureKind = "INTERNAL"
)

var (
	ErrInvalidAmount             = errors.New("amount must be greater than zero")
	ErrInvalidRequest            = errors.New("invalid request")
	ErrCurrencyMismatch          = money.ErrCurrencyMismatch
	ErrAccountNotFound           = errors.New("account not found")
	ErrAccountInactive           = errors.New("account is inactive")
	ErrSameAccount               = errors.New("source and destination accounts must differ")
	ErrInsufficientFunds         = errors.New("insufficient funds")
	ErrVersionConflict           = errors.New("account version conflict")
	ErrConcurrentUpdateExhausted = errors.New("concurrent update retries exhausted")
	ErrCompensationFailed        = errors.New("compensation of debit leg failed")
	ErrAlreadyExists             = errors.New("already exists")
	ErrTransactionNotFound       = errors.New("transaction not found")
	ErrIdempotencyKeyConflict    = errors.New("request key reused with a different request")
	ErrRequestInProgress         = errors.New("request with this key is still in progress")
	ErrInvalidStatusTransition   = errors.New("invalid transaction status transition")
)

var kindErrors = []struct {
	kind FailureKind
	err  error
}{
	{KindInvalidAmount, ErrInvalidAmount},
	{KindInvalidRequest, ErrInvalidRequest},
	{KindCurrencyMismatch, ErrCurrencyMismatch},
	{KindAccountNotFound, ErrAccountNotFound},
	{KindAccountInactive, ErrAccountInactive},
	{KindSameAccount, ErrSameAccount},
	{KindInsufficientFunds, ErrInsufficientFunds},
	{KindVersionConflict, ErrVersionConflict},
	{KindConcurrentUpdateExhausted, ErrConcurrentUpdateExhausted},
	{KindCompensationFailed, ErrCompensationFailed},
	{KindAlreadyExists, ErrAlreadyExists},
	{KindTransactionNotFound, ErrTransactionNotFound},
	{KindIdempotencyKeyConflict, ErrIdempotencyKeyConflict},
	{KindRequestInProgress, ErrRequestInProgress},
	{KindInvalidStatusTransition, ErrInvalidStatusTransition},
}

// KindOf recovers the failure kind carried by err. Errors that wrap none of the
// package sentinels are KindInternal; a nil error is KindNone.
func KindOf(err error) FailureKind {
	if err == nil {
		return KindNone
	}
	for _, ke := range kindErrors {
		if errors.Is(err, ke.err) {
			return ke.kind
		}
	}
	return KindInternal
}

// ErrorForKind returns the sentinel for kind, used when replaying a recorded failure.
func ErrorForKind(kind FailureKind) error {
	for _, ke := range kindErrors {
		if ke.kind == kind {
			return ke.err
		}
	}
	if kind == KindNone {
		return nil
	}
	return errors.New(string(kind))
}

// IsBusinessFailure reports whether kind is a definitive outcome of validating
// a posting, as opposed to an infrastructure problem.
func (k FailureKind) IsBusinessFailure() bool {
	switch k {
	case KindInvalidAmount, KindInvalidRequest, KindCurrencyMismatch, KindAccountNotFound,
		KindAccountInactive, KindSameAccount, KindInsufficientFunds, KindConcurrentUpdateExhausted:
		return true
	default:
		return false
	}
}
