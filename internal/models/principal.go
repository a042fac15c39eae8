package models

import (
	"time"

	"github.com/google/uuid"
)

// PrincipalKind distinguishes the two kinds of authenticated actor.
type PrincipalKind string

const (
	KindCustomer PrincipalKind = "customer"
	KindEmployee PrincipalKind = "employee"
)

// Principal is the capability shared by both actor kinds: a stable identity
// and a human-readable name for token claims and logs.
type Principal interface {
	PrincipalID() uuid.UUID
	PrincipalKind() PrincipalKind
	DisplayName() string
}

// Customer is a bank customer able to submit payment instructions.
type Customer struct {
	ID            uuid.UUID `json:"id" db:"id"`
	Name          string    `json:"name" db:"name"`
	Surname       string    `json:"surname" db:"surname"`
	Email         string    `json:"email" db:"email"`
	NationalID    string    `json:"nationalId" db:"national_id"`
	AccountNumber string    `json:"accountNumber" db:"account_number"` // unique 12-digit, generated at registration
	PasswordHash  string    `json:"-" db:"password_hash"`
	CreatedAt     time.Time `json:"createdAt" db:"created_at"`
}

func (c *Customer) PrincipalID() uuid.UUID       { return c.ID }
func (c *Customer) PrincipalKind() PrincipalKind { return KindCustomer }
func (c *Customer) DisplayName() string          { return c.Name + " " + c.Surname }

// Employee is a bank employee who reviews pending transactions. Employees are
// provisioned out-of-band; there is no self-registration path.
type Employee struct {
	ID           uuid.UUID `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	FullName     string    `json:"fullName" db:"full_name"`
	PasswordHash string    `json:"-" db:"password_hash"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
}

func (e *Employee) PrincipalID() uuid.UUID       { return e.ID }
func (e *Employee) PrincipalKind() PrincipalKind { return KindEmployee }
func (e *Employee) DisplayName() string          { return e.FullName }
