package services

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/crosspay/backend/internal/middleware"
	"github.com/crosspay/backend/internal/models"
)

var transactionColumns = []string{
	"id", "owner_id", "recipient_name", "recipient_bank", "recipient_account_number",
	"amount", "swift_code", "status", "created_date", "verified_date",
}

func transactionRow(id, ownerID uuid.UUID, status string) *sqlmock.Rows {
	return sqlmock.NewRows(transactionColumns).AddRow(
		id.String(), ownerID.String(), "Jane Roe", "First National", "62000001",
		1500.50, "FIRNZAJJ", status, time.Now(), nil,
	)
}

func withPrincipal(r *http.Request, id uuid.UUID, kind models.PrincipalKind) *http.Request {
	ctx := middleware.WithPrincipal(r.Context(), middleware.AuthPrincipal{
		SubjectID:   id.String(),
		SubjectKind: kind,
		DisplayName: "Test Principal",
	})
	return r.WithContext(ctx)
}

func TestTransactionService_CreatePayment(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewTransactionService(db, nil, NewISO20022Service())
	ownerID := uuid.New()

	t.Run("successful payment creation", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO transactions").
			WillReturnResult(sqlmock.NewResult(0, 1))

		body, _ := json.Marshal(PaymentRequest{
			RecipientName:          "Jane Roe",
			RecipientBank:          "First National",
			RecipientAccountNumber: "62000001",
			Amount:                 1500.50,
			SwiftCode:              "FIRNZAJJ",
		})
		r := withPrincipal(httptest.NewRequest("POST", "/payment-process", bytes.NewBuffer(body)), ownerID, models.KindCustomer)
		w := httptest.NewRecorder()

		service.CreatePayment(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		var response struct {
			Message     string             `json:"message"`
			Transaction models.Transaction `json:"transaction"`
		}
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.Equal(t, "Payment processed successfully!", response.Message)
		assert.Equal(t, models.StatusPending, response.Transaction.Status)
		assert.Equal(t, ownerID, response.Transaction.OwnerID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("validation failure persists nothing", func(t *testing.T) {
		body, _ := json.Marshal(PaymentRequest{
			RecipientName: "Jane Roe",
			Amount:        -10,
		})
		r := withPrincipal(httptest.NewRequest("POST", "/payment-process", bytes.NewBuffer(body)), ownerID, models.KindCustomer)
		w := httptest.NewRecorder()

		service.CreatePayment(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		var response ErrorResponse
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.Equal(t, KindValidationError, response.Kind)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing principal", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/payment-process", bytes.NewBuffer([]byte("{}")))
		w := httptest.NewRecorder()

		service.CreatePayment(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestTransactionService_GetReceipts(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewTransactionService(db, nil, NewISO20022Service())
	ownerID := uuid.New()

	router := chi.NewRouter()
	router.Get("/payment-receipts/{userId}", service.GetReceipts)

	t.Run("returns own receipts", func(t *testing.T) {
		rows := sqlmock.NewRows(transactionColumns).
			AddRow(uuid.New().String(), ownerID.String(), "Jane Roe", "First National",
				"62000001", 1500.50, "FIRNZAJJ", models.StatusVerified, time.Now(), time.Now()).
			AddRow(uuid.New().String(), ownerID.String(), "Jack Roe", "Second National",
				"62000002", 200.00, "SECNZAJJ", models.StatusPending, time.Now(), nil)
		mock.ExpectQuery("SELECT (.+) FROM transactions").
			WithArgs(ownerID, 2).
			WillReturnRows(rows)

		r := withPrincipal(httptest.NewRequest("GET", "/payment-receipts/"+ownerID.String(), nil), ownerID, models.KindCustomer)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		var receipts []models.Transaction
		json.Unmarshal(w.Body.Bytes(), &receipts)
		assert.Len(t, receipts, 2)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("customer cannot read another customer's receipts", func(t *testing.T) {
		r := withPrincipal(httptest.NewRequest("GET", "/payment-receipts/"+uuid.New().String(), nil), ownerID, models.KindCustomer)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, r)

		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTransactionService_GetTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewTransactionService(db, nil, NewISO20022Service())
	employeeID := uuid.New()

	router := chi.NewRouter()
	router.Get("/transactionVerification/{transactionId}", service.GetTransaction)

	t.Run("found", func(t *testing.T) {
		txID := uuid.New()
		mock.ExpectQuery("SELECT (.+) FROM transactions").
			WithArgs(txID).
			WillReturnRows(transactionRow(txID, uuid.New(), models.StatusPending))

		r := withPrincipal(httptest.NewRequest("GET", "/transactionVerification/"+txID.String(), nil), employeeID, models.KindEmployee)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		var tx models.Transaction
		json.Unmarshal(w.Body.Bytes(), &tx)
		assert.Equal(t, txID, tx.ID)
	})

	t.Run("missing row", func(t *testing.T) {
		txID := uuid.New()
		mock.ExpectQuery("SELECT (.+) FROM transactions").
			WithArgs(txID).
			WillReturnError(sql.ErrNoRows)

		r := withPrincipal(httptest.NewRequest("GET", "/transactionVerification/"+txID.String(), nil), employeeID, models.KindEmployee)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, r)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("unparseable id", func(t *testing.T) {
		r := withPrincipal(httptest.NewRequest("GET", "/transactionVerification/not-a-uuid", nil), employeeID, models.KindEmployee)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, r)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestTransactionService_VerifyTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewTransactionService(db, nil, NewISO20022Service())
	employeeID := uuid.New()

	router := chi.NewRouter()
	router.Post("/transactionVerification/{transactionId}", service.VerifyTransaction)

	verifyRequest := func(txID uuid.UUID, status string) *http.Request {
		body, _ := json.Marshal(map[string]string{"status": status})
		r := httptest.NewRequest("POST", "/transactionVerification/"+txID.String(), bytes.NewBuffer(body))
		return withPrincipal(r, employeeID, models.KindEmployee)
	}

	t.Run("verify pending transaction", func(t *testing.T) {
		txID := uuid.New()
		mock.ExpectExec("UPDATE transactions").
			WithArgs(models.StatusVerified, txID, models.StatusPending).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("SELECT (.+) FROM transactions").
			WithArgs(txID).
			WillReturnRows(transactionRow(txID, uuid.New(), models.StatusVerified))

		w := httptest.NewRecorder()
		router.ServeHTTP(w, verifyRequest(txID, models.StatusVerified))

		assert.Equal(t, http.StatusOK, w.Code)
		var response struct {
			Transaction models.Transaction `json:"transaction"`
		}
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.Equal(t, models.StatusVerified, response.Transaction.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("reject pending transaction", func(t *testing.T) {
		txID := uuid.New()
		mock.ExpectExec("UPDATE transactions").
			WithArgs(models.StatusRejected, txID, models.StatusPending).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("SELECT (.+) FROM transactions").
			WithArgs(txID).
			WillReturnRows(transactionRow(txID, uuid.New(), models.StatusRejected))

		w := httptest.NewRecorder()
		router.ServeHTTP(w, verifyRequest(txID, models.StatusRejected))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("terminal transaction cannot transition again", func(t *testing.T) {
		txID := uuid.New()
		mock.ExpectExec("UPDATE transactions").
			WithArgs(models.StatusRejected, txID, models.StatusPending).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT status FROM transactions").
			WithArgs(txID).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(models.StatusVerified))

		w := httptest.NewRecorder()
		router.ServeHTTP(w, verifyRequest(txID, models.StatusRejected))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		var response ErrorResponse
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.Equal(t, KindInvalidTransition, response.Kind)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown transaction", func(t *testing.T) {
		txID := uuid.New()
		mock.ExpectExec("UPDATE transactions").
			WithArgs(models.StatusVerified, txID, models.StatusPending).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT status FROM transactions").
			WithArgs(txID).
			WillReturnError(sql.ErrNoRows)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, verifyRequest(txID, models.StatusVerified))

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid status value touches no rows", func(t *testing.T) {
		txID := uuid.New()

		w := httptest.NewRecorder()
		router.ServeHTTP(w, verifyRequest(txID, "approved"))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		var response ErrorResponse
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.Equal(t, KindInvalidStatusValue, response.Kind)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("losing a transition race yields invalid transition", func(t *testing.T) {
		txID := uuid.New()
		mock.ExpectExec("UPDATE transactions").
			WithArgs(models.StatusVerified, txID, models.StatusPending).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("SELECT (.+) FROM transactions").
			WithArgs(txID).
			WillReturnRows(transactionRow(txID, uuid.New(), models.StatusVerified))

		first := httptest.NewRecorder()
		router.ServeHTTP(first, verifyRequest(txID, models.StatusVerified))

		mock.ExpectExec("UPDATE transactions").
			WithArgs(models.StatusRejected, txID, models.StatusPending).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT status FROM transactions").
			WithArgs(txID).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(models.StatusVerified))

		second := httptest.NewRecorder()
		router.ServeHTTP(second, verifyRequest(txID, models.StatusRejected))

		assert.Equal(t, http.StatusOK, first.Code)
		assert.Equal(t, http.StatusBadRequest, second.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTransactionService_SubmitToNetwork(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewTransactionService(db, nil, NewISO20022Service())
	employeeID := uuid.New()

	fullTicket := models.VerificationTicket{}
	for _, field := range models.RequiredVerificationFields {
		fullTicket[field] = true
	}

	t.Run("fully verified transaction is submitted", func(t *testing.T) {
		txID := uuid.New()
		mock.ExpectQuery("SELECT (.+) FROM transactions").
			WithArgs(txID).
			WillReturnRows(transactionRow(txID, uuid.New(), models.StatusPending))
		mock.ExpectExec("UPDATE transactions").
			WithArgs(models.StatusVerified, txID, models.StatusPending).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("SELECT (.+) FROM transactions").
			WithArgs(txID).
			WillReturnRows(transactionRow(txID, uuid.New(), models.StatusVerified))

		body, _ := json.Marshal(SubmitRequest{Transactions: []SubmitItem{{ID: txID, Ticket: fullTicket}}})
		r := withPrincipal(httptest.NewRequest("POST", "/transactions/submit", bytes.NewBuffer(body)), employeeID, models.KindEmployee)
		w := httptest.NewRecorder()

		service.SubmitToNetwork(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		var response struct {
			Submitted []models.Transaction `json:"submitted"`
			Skipped   []SkippedTransaction `json:"skipped"`
		}
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.Len(t, response.Submitted, 1)
		assert.Empty(t, response.Skipped)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("incomplete ticket is skipped without transition", func(t *testing.T) {
		txID := uuid.New()
		mock.ExpectQuery("SELECT (.+) FROM transactions").
			WithArgs(txID).
			WillReturnRows(transactionRow(txID, uuid.New(), models.StatusPending))

		partial := models.VerificationTicket{"amount": true}
		body, _ := json.Marshal(SubmitRequest{Transactions: []SubmitItem{{ID: txID, Ticket: partial}}})
		r := withPrincipal(httptest.NewRequest("POST", "/transactions/submit", bytes.NewBuffer(body)), employeeID, models.KindEmployee)
		w := httptest.NewRecorder()

		service.SubmitToNetwork(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		var response struct {
			Submitted []models.Transaction `json:"submitted"`
			Skipped   []SkippedTransaction `json:"skipped"`
		}
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.Empty(t, response.Submitted)
		assert.Len(t, response.Skipped, 1)
		assert.Equal(t, "not all fields verified", response.Skipped[0].Reason)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing transaction is skipped", func(t *testing.T) {
		txID := uuid.New()
		mock.ExpectQuery("SELECT (.+) FROM transactions").
			WithArgs(txID).
			WillReturnError(sql.ErrNoRows)

		body, _ := json.Marshal(SubmitRequest{Transactions: []SubmitItem{{ID: txID, Ticket: fullTicket}}})
		r := withPrincipal(httptest.NewRequest("POST", "/transactions/submit", bytes.NewBuffer(body)), employeeID, models.KindEmployee)
		w := httptest.NewRecorder()

		service.SubmitToNetwork(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		var response struct {
			Skipped []SkippedTransaction `json:"skipped"`
		}
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.Len(t, response.Skipped, 1)
		assert.Equal(t, "transaction not found", response.Skipped[0].Reason)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTransactionService_RejectAll(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewTransactionService(db, nil, NewISO20022Service())
	employeeID := uuid.New()

	t.Run("rejects pending and skips terminal", func(t *testing.T) {
		pendingID := uuid.New()
		terminalID := uuid.New()

		mock.ExpectExec("UPDATE transactions").
			WithArgs(models.StatusRejected, pendingID, models.StatusPending).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("SELECT (.+) FROM transactions").
			WithArgs(pendingID).
			WillReturnRows(transactionRow(pendingID, uuid.New(), models.StatusRejected))

		mock.ExpectExec("UPDATE transactions").
			WithArgs(models.StatusRejected, terminalID, models.StatusPending).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT status FROM transactions").
			WithArgs(terminalID).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(models.StatusVerified))

		body, _ := json.Marshal(RejectAllRequest{IDs: []uuid.UUID{pendingID, terminalID}})
		r := withPrincipal(httptest.NewRequest("POST", "/transactions/reject-all", bytes.NewBuffer(body)), employeeID, models.KindEmployee)
		w := httptest.NewRecorder()

		service.RejectAll(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		var response struct {
			Rejected []models.Transaction `json:"rejected"`
			Skipped  []SkippedTransaction `json:"skipped"`
		}
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.Len(t, response.Rejected, 1)
		assert.Len(t, response.Skipped, 1)
		assert.Equal(t, terminalID, response.Skipped[0].ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTransactionService_ListPending(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewTransactionService(db, nil, NewISO20022Service())

	mock.ExpectQuery("SELECT (.+) FROM transactions").
		WithArgs(models.StatusPending).
		WillReturnRows(transactionRow(uuid.New(), uuid.New(), models.StatusPending))

	r := httptest.NewRequest("GET", "/transactions/pending", nil)
	w := httptest.NewRecorder()

	service.ListPending(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	var transactions []models.Transaction
	json.Unmarshal(w.Body.Bytes(), &transactions)
	assert.Len(t, transactions, 1)
	assert.Equal(t, models.StatusPending, transactions[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}
