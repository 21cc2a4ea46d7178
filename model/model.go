package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/blnkfinance/corebank/money"
)

// GenerateUUIDWithSuffix generates a UUID prefixed with the module name, e.g. txn_<uuid>.
func GenerateUUIDWithSuffix(module string) string {
	return fmt.Sprintf("%s_%s", module, uuid.New().String())
}

// RequestFingerprint is the set of fields that identify what a posting request asks for.
// Two requests sharing a request key must share a fingerprint.
type RequestFingerprint struct {
	Type                 TransactionType
	SourceAccountID      string
	DestinationAccountID string
	Amount               money.Money
	PaymentType          PaymentType
	ParentTransaction    string
	// Discriminator carries request details kept outside the posting columns,
	// such as a FAST recipient or a utility subscriber.
	Discriminator        string
}

// Hash generates a SHA-256 hash of the fingerprint fields.
func (f RequestFingerprint) Hash() string {
	data := fmt.Sprintf("%s|%s|%s|%d|%s|%s|%s|%s",
		f.Type, f.SourceAccountID, f.DestinationAccountID, f.Amount.Amount(), f.Amount.CurrencyCode(), f.PaymentType, f.ParentTransaction, f.Discriminator)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// CanonicalOrder returns the distinct, non-empty account ids sorted ascending.
// Every multi-account read goes through this order.
func CanonicalOrder(ids ...string) []string {
	seen := make(map[string]struct{}, len(ids))
	ordered := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ordered = append(ordered, id)
	}
	sort.Strings(ordered)
	return ordered
}
