package services

import (
	"bytes"
	"context"
	cryptorand "crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/png"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"

	"github.com/crosspay/backend/internal/middleware"
	"github.com/crosspay/backend/internal/models"
)

const receiptCodeTTL = 5 * time.Minute

// ReceiptService issues short-lived QR proof-of-payment codes for a
// customer's most recent transaction. Codes live in Redis and expire on
// their own; redeeming one consumes it.
type ReceiptService struct {
	db    *sql.DB
	redis *redis.Client
}

func NewReceiptService(db *sql.DB, redisClient *redis.Client) *ReceiptService {
	return &ReceiptService{
		db:    db,
		redis: redisClient,
	}
}

// GenerateReceiptQR issues a QR code for the customer's latest payment
// @Summary Generate a receipt QR code
// @Description Issue a short-lived QR proof-of-payment code for the customer's most recent transaction
// @Tags receipts
// @Produce json
// @Param userId path string true "Customer ID"
// @Success 200 {object} object{code=string,qrImage=string,transactionId=string}
// @Failure 403 {object} ErrorResponse "Receipts belong to another customer"
// @Failure 404 {object} ErrorResponse "No transactions found"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /payment-receipts/{userId}/qr [get]
func (s *ReceiptService) GenerateReceiptQR(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, KindUnauthenticated, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	userID := chi.URLParam(r, "userId")
	if principal.SubjectKind == models.KindCustomer && principal.SubjectID != userID {
		SendErrorResponse(w, KindUnauthenticated, "Receipts belong to another customer", http.StatusForbidden, nil)
		return
	}

	ownerID, err := uuid.Parse(userID)
	if err != nil {
		SendErrorResponse(w, KindValidationError, "Invalid user id", http.StatusBadRequest, nil)
		return
	}

	if s.redis == nil {
		SendErrorResponse(w, KindInternalError, "Receipt codes unavailable", http.StatusInternalServerError, nil)
		return
	}

	code, qrImage, txID, err := s.generateCode(r.Context(), ownerID)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, KindNotFound, "No transactions found", http.StatusNotFound, nil)
			return
		}
		log.Printf("[RECEIPT] Failed to generate receipt code for %s: %v", ownerID, err)
		SendErrorResponse(w, KindInternalError, "Failed to generate receipt code", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"code":          code,
		"qrImage":       qrImage,
		"transactionId": txID,
	})
}

// VerifyReceiptCode redeems a receipt code presented by a customer
// @Summary Verify a receipt QR code
// @Description Redeem a receipt code and return the payment details it proves; each code can be redeemed once
// @Tags receipts
// @Accept json
// @Produce json
// @Param request body object{code=string} true "Receipt code"
// @Success 200 {object} map[string]any
// @Failure 404 {object} ErrorResponse "Invalid or expired code"
// @Router /receipts/verify [post]
func (s *ReceiptService) VerifyReceiptCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if !decodeJSONBody(w, r, &req) {
		return
	}

	if s.redis == nil {
		SendErrorResponse(w, KindInternalError, "Receipt codes unavailable", http.StatusInternalServerError, nil)
		return
	}

	payload, err := s.redeemCode(r.Context(), req.Code)
	if err != nil {
		SendErrorResponse(w, KindNotFound, "Invalid or expired receipt code", http.StatusNotFound, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payload)
}

func (s *ReceiptService) generateCode(ctx context.Context, ownerID uuid.UUID) (string, string, string, error) {
	var txID, status string
	var amount float64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, amount, status FROM transactions
		WHERE owner_id = $1
		ORDER BY created_date DESC
		LIMIT 1
	`, ownerID).Scan(&txID, &amount, &status)
	if err != nil {
		return "", "", "", err
	}

	receiptData := map[string]any{
		"transactionId": txID,
		"ownerId":       ownerID.String(),
		"amount":        amount,
		"status":        status,
		"timestamp":     time.Now().Unix(),
		"nonce":         generateNonce(),
	}

	jsonData, err := json.Marshal(receiptData)
	if err != nil {
		return "", "", "", err
	}

	code := base64.URLEncoding.EncodeToString(jsonData)

	key := fmt.Sprintf("receipt:%s", code)
	if err := s.redis.Set(ctx, key, jsonData, receiptCodeTTL).Err(); err != nil {
		return "", "", "", err
	}

	qr, err := qrcode.New(code, qrcode.Medium)
	if err != nil {
		return "", "", "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return "", "", "", err
	}

	qrImage := base64.StdEncoding.EncodeToString(buf.Bytes())
	return code, qrImage, txID, nil
}

func (s *ReceiptService) redeemCode(ctx context.Context, code string) (map[string]any, error) {
	key := fmt.Sprintf("receipt:%s", code)

	data, err := s.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("invalid or expired receipt code")
	}
	if err != nil {
		return nil, err
	}

	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}

	s.redis.Del(ctx, key)

	return result, nil
}

func generateNonce() string {
	b := make([]byte, 16)
	cryptorand.Read(b)
	return base64.URLEncoding.EncodeToString(b)
}
