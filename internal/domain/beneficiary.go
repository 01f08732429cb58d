// Package domain defines the core interfaces and types for RationGuard.
package domain

import (
	"fmt"
	"time"
)

// BeneficiaryStatus is the lifecycle state of a registered beneficiary.
type BeneficiaryStatus string

const (
	BeneficiaryActive    BeneficiaryStatus = "active"
	BeneficiarySuspended BeneficiaryStatus = "suspended"
	BeneficiaryBlocked   BeneficiaryStatus = "blocked"
)

// Valid reports whether s is a known beneficiary status.
func (s BeneficiaryStatus) Valid() bool {
	switch s {
	case BeneficiaryActive, BeneficiarySuspended, BeneficiaryBlocked:
		return true
	}
	return false
}

// Beneficiary is a person entitled to rations, identified by a ration card.
// Beneficiaries are never hard-deleted; they move between statuses.
type Beneficiary struct {
	ID           string            `json:"id"`
	CardNumber   string            `json:"card_number"`
	Name         string            `json:"name"`
	Phone        string            `json:"phone,omitempty"`
	Address      string            `json:"address,omitempty"`
	FaceImageRef string            `json:"face_image_url,omitempty"`
	Status       BeneficiaryStatus `json:"status"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`

	// FaceEmbedding is the JSON-encoded reference vector. It never leaves the service.
	FaceEmbedding string `json:"-"`
}

// BeneficiaryRequest is the API payload for registering a beneficiary.
type BeneficiaryRequest struct {
	CardNumber string `json:"card_number"`
	Name       string `json:"name"`
	Phone      string `json:"phone,omitempty"`
	Address    string `json:"address,omitempty"`
	FaceImage  string `json:"face_image_base64"` // base64, optional data-URL prefix
}

// Validate checks required fields.
func (r *BeneficiaryRequest) Validate() error {
	switch {
	case r.CardNumber == "":
		return fmt.Errorf("%w: card_number is required", ErrValidation)
	case r.Name == "":
		return fmt.Errorf("%w: name is required", ErrValidation)
	case r.FaceImage == "":
		return fmt.Errorf("%w: face_image_base64 is required", ErrValidation)
	}
	return nil
}
