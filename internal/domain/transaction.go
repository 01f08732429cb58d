package domain

import (
	"encoding/json"
	"time"
)

// TransactionStatus is the outcome recorded for a distribution attempt.
type TransactionStatus string

const (
	TransactionSuccess TransactionStatus = "success"
	TransactionFlagged TransactionStatus = "flagged"
	TransactionFailed  TransactionStatus = "failed"
)

// VerificationFace is the only verification type currently recorded.
const VerificationFace = "face"

// Transaction is an immutable record of one verified ration collection.
// A transaction is flagged iff at least one alert references it.
type Transaction struct {
	ID               string            `json:"id"`
	BeneficiaryID    string            `json:"beneficiary_id,omitempty"`
	CardNumber       string            `json:"card_number"`
	ShopID           string            `json:"shop_id"`
	CycleID          string            `json:"cycle_id,omitempty"`
	OperatorID       string            `json:"operator_id,omitempty"`
	VerificationType string            `json:"verification_type"`
	Confidence       float64           `json:"confidence_score"`
	Status           TransactionStatus `json:"status"`
	ItemsCollected   json.RawMessage   `json:"items_collected,omitempty"`
	CapturedImageRef string            `json:"captured_image_url,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`

	// Joined on read; never written.
	BeneficiaryName string `json:"beneficiary_name,omitempty"`
	ShopName        string `json:"shop_name,omitempty"`
	ShopCode        string `json:"shop_code,omitempty"`
}

// TransactionQuery filters transactions. Empty fields do not filter.
// Results are ordered newest first unless OldestFirst is set. Limit <= 0 is unbounded.
type TransactionQuery struct {
	CardNumber    string
	BeneficiaryID string
	CycleID       string
	ShopID        string
	Status        TransactionStatus
	Since         time.Time
	Limit         int
	OldestFirst   bool
}

// VerifyRequest is the payload of a verification attempt at a shop.
type VerifyRequest struct {
	CardNumber     string          `json:"card_number"`
	ShopID         string          `json:"shop_id"`
	CapturedImage  string          `json:"captured_image_base64"` // base64, optional data-URL prefix
	OperatorID     string          `json:"operator_id,omitempty"`
	ItemsCollected json.RawMessage `json:"items_collected,omitempty"`
}

// VerifyResult is the outcome returned to the shop terminal.
type VerifyResult struct {
	Success       bool             `json:"success"`
	Message       string           `json:"message"`
	TransactionID string           `json:"transaction_id,omitempty"`
	Beneficiary   *Beneficiary     `json:"beneficiary,omitempty"`
	Confidence    *float64         `json:"confidence,omitempty"`
	Alerts        []AlertCandidate `json:"alerts"`
}
