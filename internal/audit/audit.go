package audit

import (
	"encoding/json"
	"log"
	"time"
)

type Event struct {
	Timestamp     time.Time `json:"timestamp"`
	EventType     string    `json:"event_type"`
	TransactionID string    `json:"transaction_id"`
	ActorID       string    `json:"actor_id"`
	Status        string    `json:"status"`
	Details       any       `json:"details"`
}

// Logger emits one structured line per lifecycle event. These lines are
// operational telemetry; the authoritative audit trail is the transaction
// records themselves, which are never deleted.
type Logger struct{}

func NewLogger() *Logger {
	return &Logger{}
}

func (a *Logger) LogTransition(transactionID, actorID, fromStatus, toStatus string) {
	event := Event{
		Timestamp:     time.Now(),
		EventType:     "STATUS_TRANSITION",
		TransactionID: transactionID,
		ActorID:       actorID,
		Status:        toStatus,
		Details:       map[string]string{"from": fromStatus, "to": toStatus},
	}
	a.log(event)
}

func (a *Logger) LogSettlementQueued(transactionID, messageType string) {
	event := Event{
		Timestamp:     time.Now(),
		EventType:     "SETTLEMENT_QUEUED",
		TransactionID: transactionID,
		Status:        "QUEUED",
		Details:       map[string]string{"message_type": messageType},
	}
	a.log(event)
}

func (a *Logger) LogError(transactionID, actorID string, err error) {
	event := Event{
		Timestamp:     time.Now(),
		EventType:     "ERROR",
		TransactionID: transactionID,
		ActorID:       actorID,
		Status:        "FAILED",
		Details:       map[string]string{"error": err.Error()},
	}
	a.log(event)
}

func (a *Logger) log(event Event) {
	data, _ := json.Marshal(event)
	log.Printf("AUDIT: %s", string(data))
}
