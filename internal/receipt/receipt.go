package receipt

import "time"

// Source identifies how a receipt entered the system
type Source string

const (
	SourceReceiptScanner  Source = "RECEIPT_SCANNER"
	SourceRechnungsApp    Source = "RECHNUNGSAPP"
	SourceRegistrierkassa Source = "REGISTRIERKASSA"
)

// Valid reports whether s is a known source
func (s Source) Valid() bool {
	switch s {
	case SourceReceiptScanner, SourceRechnungsApp, SourceRegistrierkassa:
		return true
	}
	return false
}

// Unit is the quantity unit of a product line
type Unit string

const (
	UnitKilo  Unit = "KILO"
	UnitLiter Unit = "LITER"
	UnitPiece Unit = "PIECE"
)

// Valid reports whether u is a known unit
func (u Unit) Valid() bool {
	switch u {
	case UnitKilo, UnitLiter, UnitPiece:
		return true
	}
	return false
}

// BioCategory is the organic-certification category of a bio product
type BioCategory string

const (
	BioCategoryProcessing BioCategory = "Vermarktung/Verarbeitung"
	BioCategoryCrops      BioCategory = "Pflanzenbau"
	BioCategoryLivestock  BioCategory = "Tierhaltung"
)

// Valid reports whether c is a known bio category
func (c BioCategory) Valid() bool {
	switch c {
	case BioCategoryProcessing, BioCategoryCrops, BioCategoryLivestock:
		return true
	}
	return false
}

// Receipt is an invoice or credit note. Optional fields are nil when unknown.
type Receipt struct {
	ID               string    `json:"id" gorm:"primaryKey"`
	ReceiptNumber    *string   `json:"receipt_number"`
	Date             *string   `json:"date" gorm:"index"` // YYYY-MM-DD
	TotalGrossAmount *float64  `json:"total_gross_amount"`
	TotalNetAmount   *float64  `json:"total_net_amount"`
	VATAmount        *float64  `json:"vat_amount" gorm:"column:vat_amount"`
	CompanyName      *string   `json:"company_name"`
	Description      *string   `json:"description"`
	Comment          *string   `json:"comment"`
	IsCredit         bool      `json:"is_credit" gorm:"not null;default:false"`
	IsBio            bool      `json:"is_bio" gorm:"not null;default:false"`
	Source           Source    `json:"source" gorm:"not null"`
	FilePaths        []string  `json:"file_paths" gorm:"serializer:json;type:text"`
	CreatedOn        time.Time `json:"created_on"`
	UpdatedOn        time.Time `json:"updated_on"`
}

// Product is a line item of a receipt
type Product struct {
	ID             string       `json:"id" gorm:"primaryKey"`
	ReceiptID      string       `json:"receipt_id" gorm:"not null;index"`
	Name           string       `json:"name" gorm:"not null"`
	IsBio          bool         `json:"is_bio" gorm:"not null;default:false"`
	BioCategory    *BioCategory `json:"bio_category"`
	Amount         float64      `json:"amount" gorm:"not null"`
	Unit           Unit         `json:"unit" gorm:"not null"`
	Price          *float64     `json:"price"`
	ProductClassID *string      `json:"product_class_id" gorm:"column:product_class_reference;index"`
	CreatedOn      time.Time    `json:"created_on"`
	UpdatedOn      time.Time    `json:"updated_on"`

	Receipt      *Receipt      `json:"receipt,omitempty" gorm:"foreignKey:ReceiptID;constraint:OnDelete:CASCADE"`
	ProductClass *ProductClass `json:"product_class,omitempty" gorm:"foreignKey:ProductClassID;constraint:OnDelete:SET NULL"`
}

// ClassName returns the resolved product class name, or "" when unclassified
func (p *Product) ClassName() string {
	if p.ProductClass == nil {
		return ""
	}
	return p.ProductClass.Name
}

// ProductClass is a named category of products ("Sortiment")
type ProductClass struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	Name      string    `json:"name" gorm:"not null;uniqueIndex"`
	CreatedOn time.Time `json:"created_on"`
	UpdatedOn time.Time `json:"updated_on"`
}

// ClassificationRule is a regular expression that proposes its product class
// for matching product names
type ClassificationRule struct {
	ID             string    `json:"id" gorm:"primaryKey"`
	Regex          string    `json:"regex" gorm:"not null"`
	ProductClassID string    `json:"product_class_id" gorm:"not null;index"`
	CreatedOn      time.Time `json:"created_on"`
	UpdatedOn      time.Time `json:"updated_on"`

	ProductClass *ProductClass `json:"-" gorm:"foreignKey:ProductClassID;constraint:OnDelete:CASCADE"`
}

// Draft is an unsaved receipt proposed by extraction
type Draft struct {
	Receipt            Receipt    `json:"receipt"`
	Products           []*Product `json:"products"`
	ShouldHaveProducts bool       `json:"should_have_products"`
}

func stringPtr(s string) *string {
	return &s
}

func floatPtr(f float64) *float64 {
	return &f
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
