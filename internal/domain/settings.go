package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// StoreSettings is the single runtime-editable settings row. ReturnPolicyDays
// and LowStockThreshold override the configured rules once saved; a nil
// ReturnPolicyDays turns the return window off.
type StoreSettings struct {
	StoreName         string          `json:"store_name"`
	StoreAddress      string          `json:"store_address"`
	StorePhone        string          `json:"store_phone"`
	StoreEmail        string          `json:"store_email"`
	TaxNumber         string          `json:"tax_number"`
	ReceiptHeader     string          `json:"receipt_header"`
	ReceiptFooter     string          `json:"receipt_footer"`
	TaxRatePercent    decimal.Decimal `json:"tax_rate_percent"`
	TaxIncluded       bool            `json:"tax_included"`
	CurrencyCode      string          `json:"currency_code"`
	ReturnPolicyDays  *int            `json:"return_policy_days"`
	ReturnPolicyText  string          `json:"return_policy_text"`
	LowStockThreshold int             `json:"low_stock_threshold"`
	UpdatedAt         time.Time       `json:"updated_at"`
	UpdatedBy         string          `json:"updated_by,omitempty"`
}

func (s StoreSettings) Clone() StoreSettings {
	out := s
	if s.ReturnPolicyDays != nil {
		days := *s.ReturnPolicyDays
		out.ReturnPolicyDays = &days
	}
	return out
}

// SettingsUpdateRequest is a partial update: nil fields keep their value.
// DisableReturnWindow clears ReturnPolicyDays and wins over it.
type SettingsUpdateRequest struct {
	StoreName           *string          `json:"store_name,omitempty" validate:"omitempty,min=1,max=100"`
	StoreAddress        *string          `json:"store_address,omitempty" validate:"omitempty,max=255"`
	StorePhone          *string          `json:"store_phone,omitempty" validate:"omitempty,max=30"`
	StoreEmail          *string          `json:"store_email,omitempty" validate:"omitempty,email,max=100"`
	TaxNumber           *string          `json:"tax_number,omitempty" validate:"omitempty,max=50"`
	ReceiptHeader       *string          `json:"receipt_header,omitempty" validate:"omitempty,max=500"`
	ReceiptFooter       *string          `json:"receipt_footer,omitempty" validate:"omitempty,max=500"`
	TaxRatePercent      *decimal.Decimal `json:"tax_rate_percent,omitempty"`
	TaxIncluded         *bool            `json:"tax_included,omitempty"`
	CurrencyCode        *string          `json:"currency_code,omitempty" validate:"omitempty,len=3,alpha"`
	ReturnPolicyDays    *int             `json:"return_policy_days,omitempty" validate:"omitempty,min=0,max=365"`
	DisableReturnWindow bool             `json:"disable_return_window,omitempty"`
	ReturnPolicyText    *string          `json:"return_policy_text,omitempty" validate:"omitempty,max=1000"`
	LowStockThreshold   *int             `json:"low_stock_threshold,omitempty" validate:"omitempty,min=0"`
}

// Empty reports whether the request changes nothing.
func (r SettingsUpdateRequest) Empty() bool {
	return r.StoreName == nil && r.StoreAddress == nil && r.StorePhone == nil && r.StoreEmail == nil &&
		r.TaxNumber == nil && r.ReceiptHeader == nil && r.ReceiptFooter == nil && r.TaxRatePercent == nil &&
		r.TaxIncluded == nil && r.CurrencyCode == nil && r.ReturnPolicyDays == nil && !r.DisableReturnWindow &&
		r.ReturnPolicyText == nil && r.LowStockThreshold == nil
}

// Apply returns a copy of current with the request's fields set.
func (r SettingsUpdateRequest) Apply(current StoreSettings) StoreSettings {
	next := current.Clone()
	setString := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	setString(&next.StoreName, r.StoreName)
	setString(&next.StoreAddress, r.StoreAddress)
	setString(&next.StorePhone, r.StorePhone)
	setString(&next.StoreEmail, r.StoreEmail)
	setString(&next.TaxNumber, r.TaxNumber)
	setString(&next.ReceiptHeader, r.ReceiptHeader)
	setString(&next.ReceiptFooter, r.ReceiptFooter)
	setString(&next.ReturnPolicyText, r.ReturnPolicyText)
	if r.CurrencyCode != nil {
		next.CurrencyCode = strings.ToUpper(*r.CurrencyCode)
	}
	if r.TaxRatePercent != nil {
		next.TaxRatePercent = *r.TaxRatePercent
	}
	if r.TaxIncluded != nil {
		next.TaxIncluded = *r.TaxIncluded
	}
	if r.LowStockThreshold != nil {
		next.LowStockThreshold = *r.LowStockThreshold
	}
	switch {
	case r.DisableReturnWindow:
		next.ReturnPolicyDays = nil
	case r.ReturnPolicyDays != nil:
		days := *r.ReturnPolicyDays
		next.ReturnPolicyDays = &days
	}
	return next
}

