// Package domain holds the SDR ledger contract.
package domain

import (
	"encoding/json"

	"github.com/shopspring/decimal"
	purchasedomain "github.com/smallbiznis/chargeflow/internal/purchase/domain"
)

// SDRInput is a usage record as submitted by a service provider.
type SDRInput struct {
	Offering          purchasedomain.OfferingRef `json:"offering"`
	ComponentLabel    string                     `json:"component_label"`
	Customer          string                     `json:"customer"`
	CorrelationNumber json.Number                `json:"correlation_number"`
	TimeStamp         string                     `json:"time_stamp"`
	RecordType        string                     `json:"record_type"`
	Value             decimal.Decimal            `json:"value"`
	Unit              string                     `json:"unit"`
}

type IncludeRequest struct {
	PurchaseID string   `json:"purchase_id"`
	SDR        SDRInput `json:"sdr"`
}
