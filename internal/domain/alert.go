package domain

import (
	"time"
)

// AlertType names the fraud signal that raised an alert.
type AlertType string

const (
	// AlertDifferentPerson covers both a card presented by another person and a face mismatch.
	AlertDifferentPerson   AlertType = "different_person"
	AlertDuplicateLocation AlertType = "duplicate_location"
	AlertMultipleAttempts  AlertType = "multiple_attempts"
	AlertSuspiciousTiming  AlertType = "suspicious_timing"
)

// Severity ranks an alert for reviewers.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
)

// AlertStatus is the review state of an alert.
type AlertStatus string

const (
	AlertPending   AlertStatus = "pending"
	AlertConfirmed AlertStatus = "confirmed"
	AlertDismissed AlertStatus = "dismissed"
)

// Reviewable reports whether s is a terminal review outcome.
func (s AlertStatus) Reviewable() bool {
	return s == AlertConfirmed || s == AlertDismissed
}

// AlertCandidate is an alert produced by an evaluator but not yet persisted.
// Its JSON shape is part of the public API.
type AlertCandidate struct {
	AlertType             AlertType `json:"alert_type"`
	Description           string    `json:"description"`
	Severity              Severity  `json:"severity"`
	PreviousTransactionID string    `json:"previous_transaction_id,omitempty"`
}

// Alert is a persisted fraud signal awaiting or past review.
// Only status, reviewed_by and reviewed_at change after creation.
type Alert struct {
	ID                    string      `json:"id"`
	AlertType             AlertType   `json:"alert_type"`
	BeneficiaryID         string      `json:"beneficiary_id"`
	CardNumber            string      `json:"card_number"`
	TransactionID         string      `json:"transaction_id"`
	ShopID                string      `json:"shop_id"`
	Description           string      `json:"description"`
	Severity              Severity    `json:"severity"`
	Status                AlertStatus `json:"status"`
	PreviousTransactionID string      `json:"previous_transaction_id,omitempty"`
	ReviewedBy            string      `json:"reviewed_by,omitempty"`
	ReviewedAt            *time.Time  `json:"reviewed_at,omitempty"`
	CreatedAt             time.Time   `json:"created_at"`

	// Joined on read; never written.
	BeneficiaryName string `json:"beneficiary_name,omitempty"`
	ShopName        string `json:"shop_name,omitempty"`
	ShopCode        string `json:"shop_code,omitempty"`
}

// AlertContext identifies the transaction a candidate is attached to when persisted.
type AlertContext struct {
	TransactionID string
	BeneficiaryID string
	CardNumber    string
	ShopID        string
}

// AlertQuery filters alerts. Empty fields do not filter. Limit <= 0 is unbounded.
type AlertQuery struct {
	Status   AlertStatus
	Severity Severity
	Limit    int
}
