package services

import (
	"context"
	"database/sql"
	"log"
	"math/rand"
)

const accountNumberLength = 12

// AccountAllocator generates unique customer account numbers. The RNG is
// injected so allocation is deterministic under test with a fixed seed.
type AccountAllocator struct {
	rng *rand.Rand
}

func NewAccountAllocator(rng *rand.Rand) *AccountAllocator {
	return &AccountAllocator{rng: rng}
}

// Generate produces a random 12-digit numeric account number.
func (a *AccountAllocator) Generate() string {
	const digits = "0123456789"
	b := make([]byte, accountNumberLength)
	for i := range b {
		b[i] = digits[a.rng.Intn(len(digits))]
	}
	return string(b)
}

// AllocateUnique loops generate+lookup until it finds a number no existing
// customer holds. No retry bound: at 12 digits exhaustion is not a practical
// concern, but every retry is logged for observability. The pre-check is
// advisory only; the insert itself carries the unique constraint and the
// caller retries on conflict.
func (a *AccountAllocator) AllocateUnique(ctx context.Context, db *sql.DB) (string, error) {
	for {
		candidate := a.Generate()

		var exists bool
		err := db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM customers WHERE account_number = $1)`,
			candidate).Scan(&exists)
		if err != nil {
			return "", err
		}

		if !exists {
			return candidate, nil
		}
		log.Printf("[ACCOUNT] Account number collision on %s, retrying", candidate)
	}
}
