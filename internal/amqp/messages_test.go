package amqp

import (
	"testing"
)

func TestNewTransactionPostedMessage(t *testing.T) {
	a := NewTransactionPostedMessage(42, "recurring")
	b := NewTransactionPostedMessage(42, "recurring")

	if a.TransactionID != 42 || a.Source != "recurring" {
		t.Errorf("unexpected message: %+v", a)
	}
	if a.MessageID == "" {
		t.Error("message id must be set")
	}
	if a.MessageID == b.MessageID {
		t.Error("message ids must be unique per message")
	}
	if a.Timestamp.IsZero() {
		t.Error("timestamp must be set")
	}
}

func TestTransactionPostedMessageFromJSON_Malformed(t *testing.T) {
	if _, err := TransactionPostedMessageFromJSON([]byte("{not json")); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}
