package domain

import (
	"time"
)

// CycleStatus is the state of a distribution cycle.
type CycleStatus string

const (
	CyclePlanned CycleStatus = "planned"
	CycleActive  CycleStatus = "active"
	CycleClosed  CycleStatus = "closed"
)

// DistributionCycle is a bounded period in which each beneficiary collects once.
// At most one cycle is active at any time.
type DistributionCycle struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Status    CycleStatus `json:"status"`
	StartsAt  time.Time   `json:"starts_at"`
	EndsAt    time.Time   `json:"ends_at"`
	CreatedAt time.Time   `json:"created_at"`
}

// Shop is a ration distribution point.
type Shop struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	ShopCode  string    `json:"shop_code"`
	District  string    `json:"district,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// DashboardStats summarises system activity for operators.
type DashboardStats struct {
	TotalBeneficiaries    int `json:"total_beneficiaries"`
	ActiveBeneficiaries   int `json:"active_beneficiaries"`
	TotalTransactions     int `json:"total_transactions"`
	FlaggedTransactions   int `json:"flagged_transactions"`
	PendingAlerts         int `json:"pending_alerts"`
	CriticalPendingAlerts int `json:"critical_alerts"`
}
