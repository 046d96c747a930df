package domain

import "time"

// Country carries the numeric code the accounting system expects next to the
// ISO alpha-2 code.
type Country struct {
	Code        string    `json:"code" gorm:"type:char(2);primaryKey;column:code"`
	Name        string    `json:"name" gorm:"type:text;not null"`
	NumericCode string    `json:"numeric_code" gorm:"type:text;not null;column:numeric_code"`
	CreatedAt   time.Time `json:"created_at,omitempty" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Country) TableName() string { return "countries" }

type Currency struct {
	Code        string    `json:"code" gorm:"type:char(3);primaryKey;column:code"`
	Name        string    `json:"name" gorm:"type:text;not null"`
	Symbol      *string   `json:"symbol,omitempty" gorm:"type:text"`
	MinorUnit   int16     `json:"minor_unit" gorm:"type:smallint;not null"`
	NumericCode string    `json:"numeric_code" gorm:"type:text;not null;column:numeric_code"`
	IsActive    bool      `json:"is_active,omitempty" gorm:"not null;default:true"`
	CreatedAt   time.Time `json:"created_at,omitempty" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Currency) TableName() string { return "currencies" }
