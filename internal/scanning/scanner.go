package scanning

import "context"

// Scanner extracts receipt fields from receipt images and PDFs
type Scanner interface {
	ScanReceipt(ctx context.Context, req ScanRequest) (*ReceiptData, error)
	Close() error
}

// File is one uploaded receipt page or document
type File struct {
	Name        string
	Data        []byte
	ContentType string
}

// ScanRequest describes one extraction call
type ScanRequest struct {
	Files        []File
	Variant      PromptVariant
	CustomPrompt string
}

// ProductData is a line item proposed by the model
type ProductData struct {
	Name   string   `json:"name"`
	Amount *float64 `json:"amount"`
	Unit   *string  `json:"unit"`
	Price  *float64 `json:"price"`
	IsBio  *bool    `json:"is_bio"`
}

// ReceiptData holds extracted receipt fields. Every field may be nil when
// the model could not determine it.
type ReceiptData struct {
	ReceiptNumber    *string       `json:"receipt_number"`
	Date             *string       `json:"date"`
	TotalGrossAmount *float64      `json:"total_gross_amount"`
	TotalNetAmount   *float64      `json:"total_net_amount"`
	VATAmount        *float64      `json:"vat_amount"`
	CompanyName      *string       `json:"company_name"`
	Description      *string       `json:"description"`
	IsCredit         *bool         `json:"is_credit"`
	Products         []ProductData `json:"products,omitempty"`
}
