package models

import "time"

// Message is a shop notification addressed to a single chat.
type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// DeliveryStatus is the final state of a send.
type DeliveryStatus string

const (
	DeliverySent     DeliveryStatus = "sent"
	DeliveryFailed   DeliveryStatus = "failed"
	DeliveryRejected DeliveryStatus = "rejected"
)

// DeliveryRecord is one row of the delivery log.
type DeliveryRecord struct {
	ID        string         `json:"id"`
	MessageID string         `json:"message_id"`
	ChatID    string         `json:"chat_id"`
	Transport string         `json:"transport,omitempty"`
	Status    DeliveryStatus `json:"status"`
	Error     string         `json:"error,omitempty"`
	Attempts  int            `json:"attempts"`
	CreatedAt time.Time      `json:"created_at"`
}

// DeliveryQuery filters the delivery log.
type DeliveryQuery struct {
	ChatID string
	Status DeliveryStatus
	Since  time.Time
	Limit  int
}

// DeliveryStat is a per-day count of deliveries with one status.
type DeliveryStat struct {
	Day    string         `json:"day"`
	Status DeliveryStatus `json:"status"`
	Count  int64          `json:"count"`
}
