package services

import (
	"context"
	cryptorand "crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/spf13/viper"
	"golang.org/x/crypto/argon2"

	"github.com/crosspay/backend/internal/models"
	"github.com/crosspay/backend/internal/token"
)

const uniqueViolation = pq.ErrorCode("23505")

type AuthService struct {
	db        *sql.DB
	issuer    *token.Issuer
	allocator *AccountAllocator
	validator *ValidationHelper
}

// RegisterRequest represents the customer registration payload
// @Description Customer registration request structure
type RegisterRequest struct {
	Name     string `json:"name" validate:"required,min=2" example:"John"`                  // First name
	Surname  string `json:"surname" validate:"required,min=2" example:"Doe"`                // Surname
	Email    string `json:"email" validate:"required,email" example:"user@example.com"`     // Email address
	Password string `json:"password" validate:"required,min=8" example:"password123"`       // Password
	ID       string `json:"id" validate:"required,len=13,numeric" example:"9001015009087"` // National ID number
}

// LoginRequest represents the customer login payload
// @Description Customer login request structure
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email" example:"user@example.com"` // Email address
	Password string `json:"password" validate:"required" example:"password123"`         // Password
}

// EmployeeLoginRequest represents the employee login payload
// @Description Employee login request structure
type EmployeeLoginRequest struct {
	Username string `json:"username" validate:"required" example:"jsmith"`      // Employee username
	Password string `json:"password" validate:"required" example:"password123"` // Password
}

// AuthResponse represents a successful authentication response
// @Description Authentication response structure
type AuthResponse struct {
	Message string `json:"message" example:"SUCCESS"`                               // Status message
	Token   string `json:"token" example:"eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9..."` // Session token
}

func NewAuthService(db *sql.DB, issuer *token.Issuer, allocator *AccountAllocator) *AuthService {
	return &AuthService{
		db:        db,
		issuer:    issuer,
		allocator: allocator,
		validator: NewValidationHelper(),
	}
}

// Register handles customer registration
// @Summary Register a new customer
// @Description Register a customer and issue a unique 12-digit account number
// @Tags auth
// @Accept json
// @Produce json
// @Param request body RegisterRequest true "Registration request"
// @Success 201 {object} map[string]string "Registration successful"
// @Failure 400 {object} ErrorResponse "Validation failed or email already registered"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /register [post]
func (s *AuthService) Register(w http.ResponseWriter, r *http.Request) {
	log.Printf("[AUTH] Registration attempt from IP: %s", r.RemoteAddr)

	var req RegisterRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		log.Printf("[AUTH] Registration validation failed: %v", err)
		SendErrorResponse(w, KindValidationError, "Validation failed", http.StatusBadRequest, err)
		return
	}

	hashedPassword, err := hashPassword(req.Password)
	if err != nil {
		log.Printf("[AUTH] Password hashing failed for %s: %v", req.Email, err)
		SendErrorResponse(w, KindInternalError, "An Internal Error Occurred", http.StatusInternalServerError, nil)
		return
	}

	customer, err := s.createCustomer(r.Context(), &req, hashedPassword)
	if err != nil {
		if isUniqueViolationOn(err, "customers_email_key") {
			log.Printf("[AUTH] Duplicate registration for email: %s", req.Email)
			SendErrorResponse(w, KindDuplicateIdentity, "User already exists", http.StatusBadRequest, nil)
			return
		}
		log.Printf("[AUTH] Customer creation failed for %s: %v", req.Email, err)
		SendErrorResponse(w, KindInternalError, "Failed to create user", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[AUTH] Customer created successfully - ID: %s, Email: %s", customer.ID, customer.Email)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{
		"message":       "User registered successfully",
		"accountNumber": customer.AccountNumber,
	})
}

// createCustomer allocates an account number and inserts the customer row.
// The account_number unique constraint is the authoritative collision guard;
// the allocator pre-check only keeps the retry loop short.
func (s *AuthService) createCustomer(ctx context.Context, req *RegisterRequest, passwordHash string) (*models.Customer, error) {
	for {
		accountNumber, err := s.allocator.AllocateUnique(ctx, s.db)
		if err != nil {
			return nil, err
		}

		customer := &models.Customer{
			ID:            uuid.New(),
			Name:          req.Name,
			Surname:       req.Surname,
			Email:         strings.ToLower(req.Email),
			NationalID:    req.ID,
			AccountNumber: accountNumber,
			PasswordHash:  passwordHash,
			CreatedAt:     time.Now(),
		}

		_, err = s.db.ExecContext(ctx, `
			INSERT INTO customers (id, name, surname, email, national_id, account_number, password_hash, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, customer.ID, customer.Name, customer.Surname, customer.Email,
			customer.NationalID, customer.AccountNumber, customer.PasswordHash, customer.CreatedAt)

		if isUniqueViolationOn(err, "customers_account_number_key") {
			// Lost the allocation race; pick a fresh number.
			log.Printf("[ACCOUNT] Insert conflict on account number %s, reallocating", accountNumber)
			continue
		}
		if err != nil {
			return nil, err
		}
		return customer, nil
	}
}

// Login handles customer authentication
// @Summary Customer login
// @Description Authenticate a customer with email and password and return a session token
// @Tags auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login request"
// @Success 200 {object} AuthResponse "Login successful"
// @Failure 400 {object} ErrorResponse "Invalid credentials"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /login [post]
func (s *AuthService) Login(w http.ResponseWriter, r *http.Request) {
	log.Printf("[AUTH] Login attempt from IP: %s", r.RemoteAddr)

	var req LoginRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		log.Printf("[AUTH] Login validation failed: %v", err)
		SendErrorResponse(w, KindValidationError, "Validation failed", http.StatusBadRequest, err)
		return
	}

	customer, err := s.findCustomerByEmail(r.Context(), strings.ToLower(req.Email))
	if err != nil && err != sql.ErrNoRows {
		log.Printf("[AUTH] Customer lookup failed: %v", err)
		SendErrorResponse(w, KindInternalError, "An Internal Error Occurred", http.StatusInternalServerError, nil)
		return
	}

	// Unknown email and wrong password produce the same response so the
	// endpoint cannot be used to enumerate accounts.
	if err == sql.ErrNoRows || !verifyPassword(req.Password, customer.PasswordHash) {
		log.Printf("[AUTH] Invalid credentials for email: %s", req.Email)
		SendErrorResponse(w, KindInvalidCredential, "Invalid email or password", http.StatusBadRequest, nil)
		return
	}

	s.issueToken(w, customer)
}

// EmployeeLogin handles employee authentication
// @Summary Employee login
// @Description Authenticate an employee with username and password and return a session token
// @Tags auth
// @Accept json
// @Produce json
// @Param request body EmployeeLoginRequest true "Employee login request"
// @Success 200 {object} AuthResponse "Login successful"
// @Failure 400 {object} ErrorResponse "Invalid credentials"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /employeeLogin [post]
func (s *AuthService) EmployeeLogin(w http.ResponseWriter, r *http.Request) {
	log.Printf("[AUTH] Employee login attempt from IP: %s", r.RemoteAddr)

	var req EmployeeLoginRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		log.Printf("[AUTH] Employee login validation failed: %v", err)
		SendErrorResponse(w, KindValidationError, "Validation failed", http.StatusBadRequest, err)
		return
	}

	employee, err := s.findEmployeeByUsername(r.Context(), req.Username)
	if err != nil && err != sql.ErrNoRows {
		log.Printf("[AUTH] Employee lookup failed: %v", err)
		SendErrorResponse(w, KindInternalError, "An Internal Error Occurred", http.StatusInternalServerError, nil)
		return
	}

	if err == sql.ErrNoRows || !verifyPassword(req.Password, employee.PasswordHash) {
		log.Printf("[AUTH] Invalid credentials for employee: %s", req.Username)
		SendErrorResponse(w, KindInvalidCredential, "Invalid username or password", http.StatusBadRequest, nil)
		return
	}

	s.issueToken(w, employee)
}

func (s *AuthService) issueToken(w http.ResponseWriter, p models.Principal) {
	signed, err := s.issuer.Issue(p)
	if err != nil {
		log.Printf("[AUTH] Token issuance failed for %s: %v", p.PrincipalID(), err)
		SendErrorResponse(w, KindInternalError, "Failed to generate token", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[AUTH] Login successful for %s %s", p.PrincipalKind(), p.PrincipalID())
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(AuthResponse{Message: "SUCCESS", Token: signed})
}

func (s *AuthService) findCustomerByEmail(ctx context.Context, email string) (*models.Customer, error) {
	var c models.Customer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, surname, email, national_id, account_number, password_hash, created_at
		FROM customers WHERE email = $1
	`, email).Scan(&c.ID, &c.Name, &c.Surname, &c.Email, &c.NationalID,
		&c.AccountNumber, &c.PasswordHash, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *AuthService) findEmployeeByUsername(ctx context.Context, username string) (*models.Employee, error) {
	var e models.Employee
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, full_name, password_hash, created_at
		FROM employees WHERE username = $1
	`, username).Scan(&e.ID, &e.Username, &e.FullName, &e.PasswordHash, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// decodeJSONBody enforces the single-object, bounded-size request contract.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		log.Printf("[HTTP] Invalid request body: %v", err)
		SendErrorResponse(w, KindValidationError, "Invalid request", http.StatusBadRequest, nil)
		return false
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		log.Printf("[HTTP] Multiple JSON objects detected")
		SendErrorResponse(w, KindValidationError, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	return true
}

func isUniqueViolationOn(err error, constraint string) bool {
	pqErr, ok := err.(*pq.Error)
	return ok && pqErr.Code == uniqueViolation && pqErr.Constraint == constraint
}

func hashPassword(password string) (string, error) {
	salt := make([]byte, viper.GetInt("argon2.salt_length"))
	if _, err := cryptorand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(password), salt,
		uint32(viper.GetInt("argon2.time")),
		uint32(viper.GetInt("argon2.memory")),
		uint8(viper.GetInt("argon2.threads")),
		uint32(viper.GetInt("argon2.key_length")))
	return fmt.Sprintf("%s$%s", base64.StdEncoding.EncodeToString(salt), base64.StdEncoding.EncodeToString(hash)), nil
}

func verifyPassword(password, hashedPassword string) bool {
	parts := strings.Split(hashedPassword, "$")
	if len(parts) != 2 {
		return false
	}

	salt, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return false
	}

	hash, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}

	computedHash := argon2.IDKey([]byte(password), salt,
		uint32(viper.GetInt("argon2.time")),
		uint32(viper.GetInt("argon2.memory")),
		uint8(viper.GetInt("argon2.threads")),
		uint32(viper.GetInt("argon2.key_length")))
	return string(hash) == string(computedHash)
}
