package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type PurchaseState string

const (
	StatePending  PurchaseState = "pending"
	StatePaid     PurchaseState = "paid"
	StateRollback PurchaseState = "rollback"
)

// Offering is the snapshot of the catalogue entry taken at purchase time.
type Offering struct {
	Name         string `gorm:"column:offering_name;type:text;not null" json:"name"`
	Organization string `gorm:"column:offering_organization;type:text;not null" json:"organization"`
	Version      string `gorm:"column:offering_version;type:text;not null" json:"version"`
	Service      string `gorm:"column:offering_service;type:text" json:"service"`
	ProductClass string `gorm:"column:offering_product_class;type:text" json:"product_class"`
}

// Identifier is the "name version" form used in accounting records.
func (o Offering) Identifier() string {
	return o.Name + " " + o.Version
}

// Matches reports whether the reference names this offering.
func (o Offering) Matches(ref OfferingRef) bool {
	return o.Name == ref.Name && o.Organization == ref.Organization && o.Version == ref.Version
}

type OfferingRef struct {
	Name         string `json:"name"`
	Organization string `json:"organization"`
	Version      string `json:"version"`
}

type Purchase struct {
	ID                snowflake.ID                `gorm:"primaryKey" json:"id"`
	Customer          string                      `gorm:"type:text;not null;index" json:"customer"`
	OrganizationOwned bool                        `gorm:"not null;default:false" json:"organization_owned"`
	OwnerOrganization string                      `gorm:"type:text" json:"owner_organization,omitempty"`
	Offering          Offering                    `gorm:"embedded" json:"offering"`
	State             PurchaseState               `gorm:"type:text;not null;index" json:"state"`
	Bills             datatypes.JSONSlice[string] `gorm:"type:json;not null" json:"bill"`
	Country           string                      `gorm:"type:text" json:"country,omitempty"`
	Contract          *Contract                   `gorm:"foreignKey:PurchaseID" json:"contract,omitempty"`
	CreatedAt         time.Time                   `json:"created_at"`
	UpdatedAt         time.Time                   `json:"updated_at"`
}

func (Purchase) TableName() string { return "purchases" }

// CustomerName is the accounting identity of the buyer.
func (p Purchase) CustomerName() string {
	if p.OrganizationOwned && p.OwnerOrganization != "" {
		return p.OwnerOrganization
	}
	return p.Customer
}

type Contract struct {
	ID             snowflake.ID                        `gorm:"primaryKey" json:"id"`
	PurchaseID     snowflake.ID                        `gorm:"not null;uniqueIndex" json:"purchase_id"`
	PricingModel   datatypes.JSONType[PricingModel]    `gorm:"type:json;not null" json:"pricing_model"`
	Charges        datatypes.JSONSlice[Charge]         `gorm:"type:json;not null" json:"charges"`
	PendingSDRs    datatypes.JSONSlice[SDR]            `gorm:"column:pending_sdrs;type:json;not null" json:"pending_sdrs"`
	AppliedSDRs    datatypes.JSONSlice[SDR]            `gorm:"column:applied_sdrs;type:json;not null" json:"applied_sdrs"`
	PendingPayment datatypes.JSONType[*PendingPayment] `gorm:"type:json;not null" json:"pending_payment"`
	Locked         bool                                `gorm:"column:locked;not null;default:false" json:"-"`
	Revision       int64                               `gorm:"column:revision;not null;default:0" json:"-"`
	CreatedAt      time.Time                           `json:"created_at"`
	UpdatedAt      time.Time                           `json:"updated_at"`
}

func (Contract) TableName() string { return "contracts" }

func (c *Contract) Model() PricingModel {
	return c.PricingModel.Data()
}

func (c *Contract) SetModel(model PricingModel) {
	c.PricingModel = datatypes.NewJSONType(model)
}

func (c *Contract) Pending() *PendingPayment {
	return c.PendingPayment.Data()
}

func (c *Contract) SetPending(p *PendingPayment) {
	c.PendingPayment = datatypes.NewJSONType(p)
}

// LastCorrelation is the highest correlation number accepted so far, or 0.
func (c *Contract) LastCorrelation() int {
	last := 0
	for _, sdr := range c.AppliedSDRs {
		if sdr.CorrelationNumber > last {
			last = sdr.CorrelationNumber
		}
	}
	for _, sdr := range c.PendingSDRs {
		if sdr.CorrelationNumber > last {
			last = sdr.CorrelationNumber
		}
	}
	return last
}

// LastTimeStamp is the latest accepted SDR time stamp, zero when none.
func (c *Contract) LastTimeStamp() time.Time {
	var last time.Time
	for _, list := range [][]SDR{c.AppliedSDRs, c.PendingSDRs} {
		for _, sdr := range list {
			if sdr.TimeStamp.After(last) {
				last = sdr.TimeStamp
			}
		}
	}
	return last
}

// Component is one priced part of a pricing scheme.
type Component struct {
	Title          string          `json:"title"`
	Value          decimal.Decimal `json:"value"`
	Unit           string          `json:"unit"`
	Currency       string          `json:"currency"`
	RenovationDate *time.Time      `json:"renovation_date,omitempty"`
	PriceFunction  *PriceFunction  `json:"price_function,omitempty"`
}

// PriceFunction is an arithmetic expression over literals and SDR-bound variables.
type PriceFunction struct {
	Operation string  `json:"operation"`
	Arg1      Operand `json:"arg1"`
	Arg2      Operand `json:"arg2"`
}

// PricingModel maps each scheme to its ordered components.
type PricingModel struct {
	SinglePayment []Component `json:"single_payment,omitempty"`
	Subscription  []Component `json:"subscription,omitempty"`
	PayPerUse     []Component `json:"pay_per_use,omitempty"`
	Deductions    []Component `json:"deductions,omitempty"`
}

func (m PricingModel) HasSubscription() bool { return len(m.Subscription) > 0 }
func (m PricingModel) HasPayPerUse() bool    { return len(m.PayPerUse) > 0 }

// Currency is the currency of the first priced component.
func (m PricingModel) Currency() string {
	for _, list := range [][]Component{m.SinglePayment, m.Subscription, m.PayPerUse, m.Deductions} {
		for _, c := range list {
			if c.Currency != "" {
				return c.Currency
			}
		}
	}
	return ""
}

// SDR is an accepted usage record.
type SDR struct {
	Offering          OfferingRef     `json:"offering"`
	ComponentLabel    string          `json:"component_label"`
	Customer          string          `json:"customer"`
	CorrelationNumber int             `json:"correlation_number"`
	TimeStamp         time.Time       `json:"time_stamp"`
	RecordType        string          `json:"record_type"`
	Value             decimal.Decimal `json:"value"`
	Unit              string          `json:"unit"`
}

// Charge is one entry of the append-only charge log.
type Charge struct {
	Cost     decimal.Decimal `json:"cost"`
	Currency string          `json:"currency"`
	Concept  string          `json:"concept"`
	Date     time.Time       `json:"date"`
}

// ChargeLine is a concept and amount about to be charged.
type ChargeLine struct {
	Concept string          `json:"concept"`
	Cost    decimal.Decimal `json:"cost"`
}

// UsageCharge is the settlement of one pay-per-use component.
type UsageCharge struct {
	Model       Component       `json:"model"`
	Accounting  []SDR           `json:"accounting"`
	Consumption decimal.Decimal `json:"consumption"`
	Price       decimal.Decimal `json:"price"`
}

// AppliedParts records what a charge settled. It is stored with an in-flight
// payment and replayed on completion.
type AppliedParts struct {
	SinglePayment []Component   `json:"single_payment,omitempty"`
	Subscription  []Component   `json:"subscription,omitempty"`
	PayPerUse     []UsageCharge `json:"charges,omitempty"`
	Deductions    []UsageCharge `json:"deductions,omitempty"`

	// Subscriptions is the full subscription scheme to write back, with advanced
	// renovation dates. Nil leaves the scheme untouched.
	Subscriptions []Component `json:"subscriptions,omitempty"`
	SettledSDRs   []int       `json:"settled_sdrs,omitempty"`
}

func (a AppliedParts) IsEmpty() bool {
	return len(a.SinglePayment) == 0 && len(a.Subscription) == 0 && len(a.PayPerUse) == 0
}

// PendingPayment is stashed on the contract while a redirect payment is in flight.
type PendingPayment struct {
	Price        decimal.Decimal `json:"price"`
	Currency     string          `json:"currency"`
	Concept      string          `json:"concept"`
	Lines        []ChargeLine    `json:"lines,omitempty"`
	RelatedModel AppliedParts    `json:"related_model"`
	Gateway      string          `json:"gateway"`
	Token        string          `json:"token,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
}

// OrganizationMember links a user to an organization for ownership checks.
type OrganizationMember struct {
	Organization string `gorm:"primaryKey;type:text" json:"organization"`
	Username     string `gorm:"primaryKey;type:text" json:"username"`
}

func (OrganizationMember) TableName() string { return "organization_members" }
