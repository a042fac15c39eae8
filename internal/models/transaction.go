package models

import (
	"time"

	"github.com/google/uuid"
)

// Transaction statuses. A transaction starts pending and ends in exactly one
// of the terminal states; terminal transactions are immutable.
const (
	StatusPending  = "pending"
	StatusVerified = "verified"
	StatusRejected = "rejected"
)

// IsValidTargetStatus reports whether status is an allowed transition target.
func IsValidTargetStatus(status string) bool {
	return status == StatusVerified || status == StatusRejected
}

// IsTerminalStatus reports whether no further transition is permitted.
func IsTerminalStatus(status string) bool {
	return status == StatusVerified || status == StatusRejected
}

// Transaction represents an international payment instruction
type Transaction struct {
	ID                     uuid.UUID  `json:"id" db:"id"`
	OwnerID                uuid.UUID  `json:"ownerId" db:"owner_id"`
	RecipientName          string     `json:"recipientName" db:"recipient_name"`
	RecipientBank          string     `json:"recipientBank" db:"recipient_bank"`
	RecipientAccountNumber string     `json:"recipientAccountNumber" db:"recipient_account_number"`
	Amount                 float64    `json:"amount" db:"amount"`
	SwiftCode              string     `json:"swiftCode" db:"swift_code"`
	Status                 string     `json:"status" db:"status"`
	CreatedDate            time.Time  `json:"createdDate" db:"created_date"`
	VerifiedDate           *time.Time `json:"verifiedDate,omitempty" db:"verified_date"`
}

// RequiredVerificationFields is the set of fields an employee must tick off
// before a transaction may be submitted to the settlement network.
var RequiredVerificationFields = []string{
	"recipientName",
	"recipientBank",
	"recipientAccountNumber",
	"amount",
	"swiftCode",
}

// IsValid reports whether every reviewable field carries a usable value.
// Advisory only: the transition itself is still guarded server-side by the
// pending-status check.
func (t *Transaction) IsValid() bool {
	return t.RecipientName != "" &&
		t.RecipientBank != "" &&
		t.RecipientAccountNumber != "" &&
		t.Amount > 0 &&
		t.SwiftCode != ""
}

// VerificationTicket is the per-field review checklist an employee builds up
// while inspecting a transaction. It lives only for the duration of the
// review session and is never persisted; only the final status transition is.
type VerificationTicket map[string]bool

// IsFullyVerified reports whether every required field has been marked true.
func (v VerificationTicket) IsFullyVerified() bool {
	for _, field := range RequiredVerificationFields {
		if !v[field] {
			return false
		}
	}
	return true
}
