package amqp

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TransactionPostedMessage announces a posted ledger transaction. Consumers
// fetch the full row from the database by id; Source distinguishes worker
// postings ("recurring") from user ones ("manual").
type TransactionPostedMessage struct {
	MessageID     string    `json:"message_id"`
	TransactionID int64     `json:"transaction_id"`
	Source        string    `json:"source"`
	Timestamp     time.Time `json:"timestamp"`
}

func NewTransactionPostedMessage(txID int64, source string) *TransactionPostedMessage {
	return &TransactionPostedMessage{
		MessageID:     uuid.NewString(),
		TransactionID: txID,
		Source:        source,
		Timestamp:     time.Now(),
	}
}

// ToJSON converts the message to JSON bytes.
func (m *TransactionPostedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// TransactionPostedMessageFromJSON creates a message from JSON bytes.
func TransactionPostedMessageFromJSON(data []byte) (*TransactionPostedMessage, error) {
	var msg TransactionPostedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
