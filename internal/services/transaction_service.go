package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/crosspay/backend/internal/audit"
	"github.com/crosspay/backend/internal/middleware"
	"github.com/crosspay/backend/internal/models"
)

const settlementQueueKey = "settlement:queue"

// Lifecycle errors
var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrInvalidTransition   = errors.New("transaction is already verified or rejected")
	ErrInvalidStatusValue  = errors.New("status must be verified or rejected")
)

type TransactionService struct {
	db        *sql.DB
	redis     *redis.Client
	iso       *ISO20022Service
	audit     *audit.Logger
	validator *ValidationHelper
}

// PaymentRequest represents a new international payment instruction
// @Description Payment creation request structure
type PaymentRequest struct {
	RecipientName          string  `json:"recipientName" validate:"required" example:"Jane Roe"`          // Recipient full name
	RecipientBank          string  `json:"recipientBank" validate:"required" example:"First National"`    // Recipient bank name
	RecipientAccountNumber string  `json:"recipientAccountNumber" validate:"required" example:"62000001"` // Recipient account number
	Amount                 float64 `json:"amount" validate:"required,gt=0" example:"1500.50"`             // Amount, must be positive
	SwiftCode              string  `json:"swiftCode" validate:"required" example:"FIRNZAJJ"`              // Recipient bank SWIFT/BIC
}

// SubmitItem pairs a transaction id with its per-field verification ticket.
type SubmitItem struct {
	ID     uuid.UUID                 `json:"id" validate:"required"`
	Ticket models.VerificationTicket `json:"ticket" validate:"required"`
}

// SubmitRequest is the bulk submit-to-network payload.
type SubmitRequest struct {
	Transactions []SubmitItem `json:"transactions" validate:"required,min=1,dive"`
}

// RejectAllRequest is the bulk reject payload.
type RejectAllRequest struct {
	IDs []uuid.UUID `json:"ids" validate:"required,min=1"`
}

// SkippedTransaction reports why a bulk action left a transaction untouched.
type SkippedTransaction struct {
	ID     uuid.UUID `json:"id"`
	Reason string    `json:"reason"`
}

func NewTransactionService(db *sql.DB, redisClient *redis.Client, iso *ISO20022Service) *TransactionService {
	return &TransactionService{
		db:        db,
		redis:     redisClient,
		iso:       iso,
		audit:     audit.NewLogger(),
		validator: NewValidationHelper(),
	}
}

// CreatePayment handles submission of a new payment instruction
// @Summary Submit a payment
// @Description Create a new international payment instruction in pending status
// @Tags transactions
// @Accept json
// @Produce json
// @Param request body PaymentRequest true "Payment data"
// @Success 200 {object} models.Transaction
// @Failure 400 {object} ErrorResponse "Validation failed"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /payment-process [post]
func (ts *TransactionService) CreatePayment(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, KindUnauthenticated, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	ownerID, err := uuid.Parse(principal.SubjectID)
	if err != nil {
		SendErrorResponse(w, KindUnauthenticated, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req PaymentRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	// Nothing is persisted unless every required field passes.
	if err := ts.validator.ValidateStruct(&req); err != nil {
		log.Printf("[TRANSACTION] Payment validation failed for owner %s: %v", ownerID, err)
		SendErrorResponse(w, KindValidationError, "Validation failed", http.StatusBadRequest, err)
		return
	}

	tx := &models.Transaction{
		ID:                     uuid.New(),
		OwnerID:                ownerID,
		RecipientName:          req.RecipientName,
		RecipientBank:          req.RecipientBank,
		RecipientAccountNumber: req.RecipientAccountNumber,
		Amount:                 req.Amount,
		SwiftCode:              req.SwiftCode,
		Status:                 models.StatusPending,
		CreatedDate:            time.Now(),
	}

	_, err = ts.db.ExecContext(r.Context(), `
		INSERT INTO transactions
		(id, owner_id, recipient_name, recipient_bank, recipient_account_number, amount, swift_code, status, created_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, tx.ID, tx.OwnerID, tx.RecipientName, tx.RecipientBank, tx.RecipientAccountNumber,
		tx.Amount, tx.SwiftCode, tx.Status, tx.CreatedDate)
	if err != nil {
		log.Printf("[TRANSACTION] Failed to store payment for owner %s: %v", ownerID, err)
		SendErrorResponse(w, KindInternalError, "Failed to process payment", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[TRANSACTION] Payment %s created by owner %s", tx.ID, ownerID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"message":     "Payment processed successfully!",
		"transaction": tx,
	})
}

// GetReceipts returns the two most recent payments made by a customer
// @Summary List payment receipts
// @Description Get the last 2 payments for the authenticated customer
// @Tags transactions
// @Produce json
// @Param userId path string true "Customer ID"
// @Success 200 {array} models.Transaction
// @Failure 403 {object} ErrorResponse "Receipts belong to another customer"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /payment-receipts/{userId} [get]
func (ts *TransactionService) GetReceipts(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, KindUnauthenticated, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	userID := chi.URLParam(r, "userId")
	// Customers may only read their own receipts.
	if principal.SubjectKind == models.KindCustomer && principal.SubjectID != userID {
		SendErrorResponse(w, KindUnauthenticated, "Receipts belong to another customer", http.StatusForbidden, nil)
		return
	}

	ownerID, err := uuid.Parse(userID)
	if err != nil {
		SendErrorResponse(w, KindValidationError, "Invalid user id", http.StatusBadRequest, nil)
		return
	}

	receipts, err := ts.fetchByOwner(r.Context(), ownerID, 2)
	if err != nil {
		log.Printf("[TRANSACTION] Failed to fetch receipts for %s: %v", ownerID, err)
		SendErrorResponse(w, KindInternalError, "Failed to fetch receipts", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(receipts)
}

// ListPending returns all pending transactions for the employee dashboard
// @Summary List pending transactions
// @Description Get all transactions awaiting verification
// @Tags transactions
// @Produce json
// @Success 200 {array} models.Transaction
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /transactions/pending [get]
func (ts *TransactionService) ListPending(w http.ResponseWriter, r *http.Request) {
	ts.listByStatus(w, r, models.StatusPending)
}

// ListVerified returns all verified transactions
// @Summary List verified transactions
// @Description Get all transactions already submitted to the network
// @Tags transactions
// @Produce json
// @Success 200 {array} models.Transaction
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /transactions/verified [get]
func (ts *TransactionService) ListVerified(w http.ResponseWriter, r *http.Request) {
	ts.listByStatus(w, r, models.StatusVerified)
}

// ListAll returns every transaction regardless of status
// @Summary List all transactions
// @Description Get all transactions, newest first
// @Tags transactions
// @Produce json
// @Success 200 {array} models.Transaction
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /allTransactions [get]
func (ts *TransactionService) ListAll(w http.ResponseWriter, r *http.Request) {
	ts.listByStatus(w, r, "")
}

func (ts *TransactionService) listByStatus(w http.ResponseWriter, r *http.Request, status string) {
	transactions, err := ts.fetchByStatus(r.Context(), status)
	if err != nil {
		log.Printf("[TRANSACTION] Failed to fetch transactions (status=%q): %v", status, err)
		SendErrorResponse(w, KindInternalError, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(transactions)
}

// GetTransaction fetches a single transaction for employee review
// @Summary Get transaction by ID
// @Description Retrieve a transaction for per-field verification
// @Tags transactions
// @Produce json
// @Param transactionId path string true "Transaction ID"
// @Success 200 {object} models.Transaction
// @Failure 404 {object} ErrorResponse "Transaction not found"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /transactionVerification/{transactionId} [get]
func (ts *TransactionService) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "transactionId"))
	if err != nil {
		SendErrorResponse(w, KindNotFound, "Transaction not found", http.StatusNotFound, nil)
		return
	}

	tx, err := ts.fetchTransaction(r.Context(), id)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, KindNotFound, "Transaction not found", http.StatusNotFound, nil)
		} else {
			log.Printf("[TRANSACTION] Failed to fetch transaction %s: %v", id, err)
			SendErrorResponse(w, KindInternalError, "Failed to fetch transaction", http.StatusInternalServerError, nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(tx)
}

// VerifyTransaction verifies or rejects a single pending transaction
// @Summary Verify or reject a transaction
// @Description Transition a pending transaction to verified or rejected; terminal transactions cannot transition again
// @Tags transactions
// @Accept json
// @Produce json
// @Param transactionId path string true "Transaction ID"
// @Param request body object{status=string} true "Target status: verified or rejected"
// @Success 200 {object} models.Transaction
// @Failure 400 {object} ErrorResponse "Invalid status or transaction already terminal"
// @Failure 404 {object} ErrorResponse "Transaction not found"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /transactionVerification/{transactionId} [post]
func (ts *TransactionService) VerifyTransaction(w http.ResponseWriter, r *http.Request) {
	principal, _ := middleware.PrincipalFromContext(r.Context())

	id, err := uuid.Parse(chi.URLParam(r, "transactionId"))
	if err != nil {
		SendErrorResponse(w, KindNotFound, "Transaction not found", http.StatusNotFound, nil)
		return
	}

	var req struct {
		Status string `json:"status"`
	}
	if !decodeJSONBody(w, r, &req) {
		return
	}

	tx, err := ts.transition(r.Context(), id, req.Status, principal.SubjectID)
	if err != nil {
		ts.writeTransitionError(w, id, err)
		return
	}

	log.Printf("[TRANSACTION] Transaction %s %s by employee %s", id, req.Status, principal.SubjectID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"message":     "Transaction " + req.Status + " successfully!",
		"transaction": tx,
	})
}

// SubmitToNetwork bulk-verifies every transaction whose ticket is complete
// @Summary Submit verified transactions to the settlement network
// @Description For each transaction whose fields are valid and fully ticked off, transition to verified and queue for settlement; all others are reported as skipped
// @Tags transactions
// @Accept json
// @Produce json
// @Param request body SubmitRequest true "Transactions with verification tickets"
// @Success 200 {object} object{submitted=[]models.Transaction,skipped=[]SkippedTransaction}
// @Failure 400 {object} ErrorResponse "Validation failed"
// @Router /transactions/submit [post]
func (ts *TransactionService) SubmitToNetwork(w http.ResponseWriter, r *http.Request) {
	principal, _ := middleware.PrincipalFromContext(r.Context())

	var req SubmitRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	if err := ts.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, KindValidationError, "Validation failed", http.StatusBadRequest, err)
		return
	}

	submitted := []models.Transaction{}
	skipped := []SkippedTransaction{}

	for _, item := range req.Transactions {
		tx, err := ts.fetchTransaction(r.Context(), item.ID)
		if err != nil {
			skipped = append(skipped, SkippedTransaction{ID: item.ID, Reason: "transaction not found"})
			continue
		}

		// Advisory gate: the transition below independently enforces the
		// pending-only rule either way.
		if !tx.IsValid() {
			skipped = append(skipped, SkippedTransaction{ID: item.ID, Reason: "transaction fields incomplete"})
			continue
		}
		if !item.Ticket.IsFullyVerified() {
			skipped = append(skipped, SkippedTransaction{ID: item.ID, Reason: "not all fields verified"})
			continue
		}

		updated, err := ts.transition(r.Context(), item.ID, models.StatusVerified, principal.SubjectID)
		if err != nil {
			skipped = append(skipped, SkippedTransaction{ID: item.ID, Reason: err.Error()})
			continue
		}
		submitted = append(submitted, *updated)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"submitted": submitted,
		"skipped":   skipped,
	})
}

// RejectAll bulk-rejects every listed transaction
// @Summary Reject all listed transactions
// @Description Transition every listed pending transaction to rejected, regardless of per-field verification state
// @Tags transactions
// @Accept json
// @Produce json
// @Param request body RejectAllRequest true "Transaction ids to reject"
// @Success 200 {object} object{rejected=[]models.Transaction,skipped=[]SkippedTransaction}
// @Failure 400 {object} ErrorResponse "Validation failed"
// @Router /transactions/reject-all [post]
func (ts *TransactionService) RejectAll(w http.ResponseWriter, r *http.Request) {
	principal, _ := middleware.PrincipalFromContext(r.Context())

	var req RejectAllRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	if err := ts.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, KindValidationError, "Validation failed", http.StatusBadRequest, err)
		return
	}

	rejected := []models.Transaction{}
	skipped := []SkippedTransaction{}

	for _, id := range req.IDs {
		updated, err := ts.transition(r.Context(), id, models.StatusRejected, principal.SubjectID)
		if err != nil {
			skipped = append(skipped, SkippedTransaction{ID: id, Reason: err.Error()})
			continue
		}
		rejected = append(rejected, *updated)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"rejected": rejected,
		"skipped":  skipped,
	})
}

// ExportISO20022 renders a transaction as a pacs.008 credit transfer message
// @Summary Export transaction as ISO 20022 XML
// @Description Render a verified transaction as a pacs.008 message; formatting only, nothing is transmitted
// @Tags iso20022
// @Produce json
// @Param transactionId path string true "Transaction ID"
// @Success 200 {object} object{status=string,messageType=string,xml=string}
// @Failure 404 {object} ErrorResponse "Transaction not found"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /transactions/{transactionId}/iso20022 [get]
func (ts *TransactionService) ExportISO20022(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "transactionId"))
	if err != nil {
		SendErrorResponse(w, KindNotFound, "Transaction not found", http.StatusNotFound, nil)
		return
	}

	tx, err := ts.fetchTransaction(r.Context(), id)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, KindNotFound, "Transaction not found", http.StatusNotFound, nil)
		} else {
			SendErrorResponse(w, KindInternalError, "Failed to fetch transaction", http.StatusInternalServerError, nil)
		}
		return
	}

	doc, err := ts.iso.CreatePacs008(tx)
	if err != nil {
		SendErrorResponse(w, KindInternalError, "Failed to build message", http.StatusInternalServerError, nil)
		return
	}

	xmlData, err := ts.iso.ConvertToXML(doc)
	if err != nil {
		SendErrorResponse(w, KindInternalError, "Failed to render message", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":      "converted",
		"messageType": "pacs.008.001.08",
		"xml":         xmlData,
	})
}

func (ts *TransactionService) writeTransitionError(w http.ResponseWriter, id uuid.UUID, err error) {
	switch {
	case errors.Is(err, ErrInvalidStatusValue):
		SendErrorResponse(w, KindInvalidStatusValue, "Invalid status", http.StatusBadRequest, nil)
	case errors.Is(err, ErrTransactionNotFound):
		SendErrorResponse(w, KindNotFound, "Transaction not found", http.StatusNotFound, nil)
	case errors.Is(err, ErrInvalidTransition):
		SendErrorResponse(w, KindInvalidTransition, "Transaction is already verified or rejected", http.StatusBadRequest, nil)
	default:
		log.Printf("[TRANSACTION] Transition failed for %s: %v", id, err)
		SendErrorResponse(w, KindInternalError, "Failed to update transaction", http.StatusInternalServerError, nil)
	}
}

// transition moves a pending transaction into a terminal status. The update
// is conditional on the current status, so two racing calls on the same id
// cannot both succeed: the loser observes zero rows affected and gets
// ErrInvalidTransition (or ErrTransactionNotFound when the row never existed).
func (ts *TransactionService) transition(ctx context.Context, id uuid.UUID, target, actorID string) (*models.Transaction, error) {
	if !models.IsValidTargetStatus(target) {
		return nil, ErrInvalidStatusValue
	}

	res, err := ts.db.ExecContext(ctx, `
		UPDATE transactions
		SET status = $1, verified_date = NOW()
		WHERE id = $2 AND status = $3
	`, target, id, models.StatusPending)
	if err != nil {
		return nil, err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		var current string
		err := ts.db.QueryRowContext(ctx, `SELECT status FROM transactions WHERE id = $1`, id).Scan(&current)
		if err == sql.ErrNoRows {
			return nil, ErrTransactionNotFound
		}
		if err != nil {
			return nil, err
		}
		return nil, ErrInvalidTransition
	}

	tx, err := ts.fetchTransaction(ctx, id)
	if err != nil {
		return nil, err
	}

	ts.audit.LogTransition(id.String(), actorID, models.StatusPending, target)

	if err := ts.queueForSettlement(ctx, tx); err != nil {
		// Queueing is best-effort; the status transition already committed.
		log.Printf("[TRANSACTION] Failed to queue %s for settlement: %v", id, err)
	}

	return tx, nil
}

// queueForSettlement pushes the ISO 20022 rendering of a terminal transaction
// onto the Redis settlement queue: pacs.008 for verified instructions,
// pacs.002 RJCT status reports for rejected ones.
func (ts *TransactionService) queueForSettlement(ctx context.Context, tx *models.Transaction) error {
	if ts.redis == nil {
		return nil
	}

	var doc any
	var messageType string
	var err error

	switch tx.Status {
	case models.StatusVerified:
		doc, err = ts.iso.CreatePacs008(tx)
		messageType = "pacs.008.001.08"
	case models.StatusRejected:
		doc, err = ts.iso.CreatePacs002(tx, "RJCT")
		messageType = "pacs.002.001.08"
	default:
		return nil
	}
	if err != nil {
		return err
	}

	xmlData, err := ts.iso.ConvertToXML(doc)
	if err != nil {
		return err
	}

	if err := ts.redis.RPush(ctx, settlementQueueKey, xmlData).Err(); err != nil {
		return err
	}

	ts.audit.LogSettlementQueued(tx.ID.String(), messageType)
	return nil
}

// Database helper functions

func (ts *TransactionService) fetchTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	tx := &models.Transaction{}
	var verifiedDate sql.NullTime
	err := ts.db.QueryRowContext(ctx, `
		SELECT id, owner_id, recipient_name, recipient_bank, recipient_account_number,
		       amount, swift_code, status, created_date, verified_date
		FROM transactions
		WHERE id = $1
	`, id).Scan(
		&tx.ID, &tx.OwnerID, &tx.RecipientName, &tx.RecipientBank, &tx.RecipientAccountNumber,
		&tx.Amount, &tx.SwiftCode, &tx.Status, &tx.CreatedDate, &verifiedDate,
	)
	if err != nil {
		return nil, err
	}

	if verifiedDate.Valid {
		tx.VerifiedDate = &verifiedDate.Time
	}
	return tx, nil
}

func (ts *TransactionService) fetchByStatus(ctx context.Context, status string) ([]models.Transaction, error) {
	query := `
		SELECT id, owner_id, recipient_name, recipient_bank, recipient_account_number,
		       amount, swift_code, status, created_date, verified_date
		FROM transactions
	`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY created_date DESC`

	rows, err := ts.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTransactions(rows)
}

func (ts *TransactionService) fetchByOwner(ctx context.Context, ownerID uuid.UUID, limit int) ([]models.Transaction, error) {
	rows, err := ts.db.QueryContext(ctx, `
		SELECT id, owner_id, recipient_name, recipient_bank, recipient_account_number,
		       amount, swift_code, status, created_date, verified_date
		FROM transactions
		WHERE owner_id = $1
		ORDER BY created_date DESC
		LIMIT $2
	`, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTransactions(rows)
}

func scanTransactions(rows *sql.Rows) ([]models.Transaction, error) {
	transactions := []models.Transaction{}
	for rows.Next() {
		var tx models.Transaction
		var verifiedDate sql.NullTime
		err := rows.Scan(
			&tx.ID, &tx.OwnerID, &tx.RecipientName, &tx.RecipientBank, &tx.RecipientAccountNumber,
			&tx.Amount, &tx.SwiftCode, &tx.Status, &tx.CreatedDate, &verifiedDate,
		)
		if err != nil {
			return nil, err
		}
		if verifiedDate.Valid {
			tx.VerifiedDate = &verifiedDate.Time
		}
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}
