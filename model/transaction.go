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
	"time"

	"github.com/blnkfinance/corebank/money"
)

type TransactionType string

const (
	TransactionTypeDeposit        TransactionType = "DEPOSIT"
	TransactionTypeWithdrawal     TransactionType = "WITHDRAWAL"
	TransactionTypeTransfer       TransactionType = "TRANSFER"
	TransactionTypeEFT            TransactionType = "EFT"
	TransactionTypeCommissionFees TransactionType = "COMMISSION_FEES"
)

func (t TransactionType) IsValid() bool {
	switch t {
	case TransactionTypeDeposit, TransactionTypeWithdrawal, TransactionTypeTransfer,
		TransactionTypeEFT, TransactionTypeCommissionFees:
		return true
	}
	return false
}

// Credits reports whether the type moves money into the source account
// rather than out of it.
func (t TransactionType) Credits() bool {
	return t == TransactionTypeDeposit
}

type Initiator string

const (
	InitiatorCustomer Initiator = "CUSTOMER"
	InitiatorSystem   Initiator = "SYSTEM"
	InitiatorBank     Initiator = "BANK"
)

func (i Initiator) IsValid() bool {
	switch i {
	case InitiatorCustomer, InitiatorSystem, InitiatorBank:
		return true
	}
	return false
}

type PaymentType string

const (
	PaymentTypeCash     PaymentType = "CASH"
	PaymentTypeCard     PaymentType = "CARD"
	PaymentTypeFast     PaymentType = "FAST"
	PaymentTypeEFT      PaymentType = "EFT"
	PaymentTypeUtility  PaymentType = "UTILITY"
	PaymentTypeInternal PaymentType = "INTERNAL"
)

func (p PaymentType) IsValid() bool {
	switch p {
	case PaymentTypeCash, PaymentTypeCard, PaymentTypeFast, PaymentTypeEFT, PaymentTypeUtility, PaymentTypeInternal:
		return true
	}
	return false
}

// TransactionStatus is the lifecycle state of a cash transaction.
//
//	RECEIVED -> PENDING -> APPLIED | FAILED
//	APPLIED  -> REVERSED
type TransactionStatus string

const (
	StatusReceived TransactionStatus = "RECEIVED"
	StatusPending  TransactionStatus = "PENDING"
	StatusApplied  TransactionStatus = "APPLIED"
	StatusFailed   TransactionStatus = "FAILED"
	StatusReversed TransactionStatus = "REVERSED"
)

// CanTransitionTo is the single transition table for transaction status.
func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	switch s {
	case StatusReceived:
		return next == StatusPending
	case StatusPending:
		return next == StatusApplied || next == StatusFailed
	case StatusApplied:
		return next == StatusReversed
	case StatusFailed, StatusReversed:
		return false
	default:
		return false
	}
}

// Predecessors lists the statuses a transaction may move to s from.
func (s TransactionStatus) Predecessors() []TransactionStatus {
	var from []TransactionStatus
	for _, candidate := range []TransactionStatus{StatusReceived, StatusPending, StatusApplied, StatusFailed, StatusReversed} {
		if candidate.CanTransitionTo(s) {
			from = append(from, candidate)
		}
	}
	return from
}

// IsTerminal reports whether a posting attempt has finished with this status.
// A reversed transaction was applied first, so it counts as terminal too.
func (s TransactionStatus) IsTerminal() bool {
	switch s {
	case StatusApplied, StatusFailed, StatusReversed:
		return true
	}
	return false
}

// CashTransaction is the durable record of one posting attempt.
type CashTransaction struct {
	TransactionID             string                 `json:"transaction_id"`
	RequestKey                string                 `json:"request_key"`
	Hash                      string                 `json:"hash"`
	Type                      TransactionType        `json:"type"`
	Initiator                 Initiator              `json:"initiator"`
	PaymentType               PaymentType            `json:"payment_type"`
	SourceAccountID           string                 `json:"source_account_id"`
	DestinationAccountID      string                 `json:"destination_account_id,omitempty"`
	Amount                    money.Money            `json:"amount"`
	SenderRemainingBalance    *money.Money           `json:"sender_remaining_balance,omitempty"`
	RecipientRemainingBalance *money.Money           `json:"recipient_remaining_balance,omitempty"`
	Description               string                 `json:"description,omitempty"`
	Status                    TransactionStatus      `json:"status"`
	FailureReason             FailureKind            `json:"failure_reason,omitempty"`
	ParentTransaction         string                 `json:"parent_transaction,omitempty"`
	ReversedBy                string                 `json:"reversed_by,omitempty"`
	CreatedAt                 time.Time              `json:"created_at"`
	UpdatedAt                 time.Time              `json:"updated_at"`
	MetaData                  map[string]interface{} `json:"meta_data,omitempty"`
}

// ResultSnapshot holds the post-transfer balances stored on an applied transaction.
type ResultSnapshot struct {
	SenderRemainingBalance    *money.Money
	RecipientRemainingBalance *money.Money
}

// Page selects a window of a newest-first listing.
type Page struct {
	Number  int `json:"page"`
	PerPage int `json:"per_page"`
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Normalize clamps the page to sane bounds.
func (p Page) Normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.PerPage < 1 {
		p.PerPage = DefaultPageSize
	}
	if p.PerPage > MaxPageSize {
		p.PerPage = MaxPageSize
	}
	return p
}

func (p Page) Offset() int {
	n := p.Normalize()
	return (n.Number - 1) * n.PerPage
}

func (p Page) Limit() int {
	return p.Normalize().PerPage
}
