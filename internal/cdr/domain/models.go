package domain

import "github.com/shopspring/decimal"

const (
	ModelSinglePayment = "Single payment event"
	ModelSubscription  = "Subscription event"
	ModelPayPerUse     = "Pay per use event"
)

// Record is one accounting record. Every field travels as a string.
type Record struct {
	Provider     string `json:"provider"`
	Service      string `json:"service"`
	DefinedModel string `json:"defined_model"`
	Correlation  string `json:"correlation"`
	Purchase     string `json:"purchase"`
	Offering     string `json:"offering"`
	ProductClass string `json:"product_class"`
	Description  string `json:"description"`
	CostCurrency string `json:"cost_currency"`
	CostValue    string `json:"cost_value"`
	Country      string `json:"country"`
	Customer     string `json:"customer"`
	Time         string `json:"time"`
}

// RevenueModel is the revenue share a provider takes for a product class.
type RevenueModel struct {
	AppProviderID    string          `json:"appProviderId"`
	ProductClass     string          `json:"productClass"`
	PercRevenueShare decimal.Decimal `json:"percRevenueShare"`
}
