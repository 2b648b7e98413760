package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"scadenze/internal/core"
)

// Message types, carried in the AMQP Type header.
const (
	TypeOccurrenceDue        = "occurrence.due"
	TypeOccurrencePosted     = "occurrence.posted"
	TypeOccurrenceCompletion = "occurrence.completion"
)

// OccurrenceDueMessage announces an occurrence that is due soon or overdue.
type OccurrenceDueMessage struct {
	MessageID    string            `json:"message_id"`
	OccurrenceID core.OccurrenceID `json:"occurrence_id"`
	ItemID       int64             `json:"item_id"`
	ItemName     string            `json:"item_name"`
	Date         core.Date         `json:"date"`
	AmountCents  int64             `json:"amount_cents"`
	Direction    core.Direction    `json:"direction"`
	Overdue      bool              `json:"overdue"`
	Timestamp    time.Time         `json:"timestamp"`
}

func NewOccurrenceDueMessage(item core.RecurringItem, occ core.Occurrence, overdue bool) *OccurrenceDueMessage {
	return &OccurrenceDueMessage{
		MessageID:    uuid.NewString(),
		OccurrenceID: occ.ID,
		ItemID:       item.ID,
		ItemName:     item.Name,
		Date:         occ.Date,
		AmountCents:  item.Amount.Cents,
		Direction:    item.Direction,
		Overdue:      overdue,
		Timestamp:    time.Now(),
	}
}

func (m *OccurrenceDueMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func OccurrenceDueMessageFromJSON(data []byte) (*OccurrenceDueMessage, error) {
	var msg OccurrenceDueMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// OccurrencePostedMessage is sent by the ledger when the transaction that
// fulfils an occurrence is posted (or reverted, with Posted false). Month
// is optional; when empty the occurrence's own month is used.
type OccurrencePostedMessage struct {
	MessageID    string            `json:"message_id"`
	OccurrenceID core.OccurrenceID `json:"occurrence_id"`
	Month        string            `json:"month,omitempty"`
	Posted       bool              `json:"posted"`
	Timestamp    time.Time         `json:"timestamp"`
}

func NewOccurrencePostedMessage(id core.OccurrenceID, month string, posted bool) *OccurrencePostedMessage {
	return &OccurrencePostedMessage{
		MessageID:    uuid.NewString(),
		OccurrenceID: id,
		Month:        month,
		Posted:       posted,
		Timestamp:    time.Now(),
	}
}

func (m *OccurrencePostedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// OccurrencePostedMessageFromJSON decodes and checks the occurrence ID.
func OccurrencePostedMessageFromJSON(data []byte) (*OccurrencePostedMessage, error) {
	var msg OccurrencePostedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if _, _, err := core.ParseOccurrenceID(string(msg.OccurrenceID)); err != nil {
		return nil, fmt.Errorf("posted message %s: %w", msg.MessageID, err)
	}
	return &msg, nil
}

// OccurrenceCompletionMessage records a change to a month's completion
// record.
type OccurrenceCompletionMessage struct {
	MessageID    string            `json:"message_id"`
	OccurrenceID core.OccurrenceID `json:"occurrence_id"`
	Month        string            `json:"month"`
	Completed    bool              `json:"completed"`
	Timestamp    time.Time         `json:"timestamp"`
}

func NewOccurrenceCompletionMessage(id core.OccurrenceID, ym core.YearMonth, completed bool) *OccurrenceCompletionMessage {
	return &OccurrenceCompletionMessage{
		MessageID:    uuid.NewString(),
		OccurrenceID: id,
		Month:        ym.String(),
		Completed:    completed,
		Timestamp:    time.Now(),
	}
}

func (m *OccurrenceCompletionMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func OccurrenceCompletionMessageFromJSON(data []byte) (*OccurrenceCompletionMessage, error) {
	var msg OccurrenceCompletionMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if _, err := core.ParseYearMonth(msg.Month); err != nil {
		return nil, fmt.Errorf("completion message %s: %w", msg.MessageID, err)
	}
	return &msg, nil
}
