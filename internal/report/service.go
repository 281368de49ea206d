package report

import (
	"context"
	"fmt"

	"github.com/zombor/hofbuch/internal/receipt"
)

// Store loads the rows reports are computed from. *receipt.GormDB implements it.
type Store interface {
	ListReceipts(ctx context.Context, filter receipt.ReceiptFilter) ([]*receipt.Receipt, error)
	ListProducts(ctx context.Context, filter receipt.ProductFilter) ([]*receipt.Product, error)
}

// Service produces reports from stored receipts and products
type Service struct {
	store Store
}

// NewService creates a new report Service
func NewService(store Store) *Service {
	return &Service{store: store}
}

// OverviewReport is the financial dashboard
type OverviewReport struct {
	Overview             Overview        `json:"overview"`
	Monthly              []MonthlyTotal  `json:"monthly"`
	VAT                  VATComparison   `json:"vat"`
	TopExpenseCompanies  []CompanyTotal  `json:"top_expense_companies"`
	TopIncomeCompanies   []CompanyTotal  `json:"top_income_companies"`
	IncomeByLocation     []LocationTotal `json:"income_by_location"`
	OtherIncomeCompanies []CompanyTotal  `json:"other_income_companies"`
}

// Overview computes the dashboard over the receipts matching filter
func (s *Service) Overview(ctx context.Context, filter receipt.ReceiptFilter, topK int) (*OverviewReport, error) {
	receipts, err := s.store.ListReceipts(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	return &OverviewReport{
		Overview:             FinancialOverview(receipts),
		Monthly:              MonthlySeries(receipts),
		VAT:                  CompareVAT(receipts),
		TopExpenseCompanies:  TopCompaniesByNetAmount(receipts, false, topK),
		TopIncomeCompanies:   TopCompaniesByNetAmount(receipts, true, topK),
		IncomeByLocation:     IncomeByLocation(receipts),
		OtherIncomeCompanies: OtherIncomeCompanies(receipts, DefaultOtherIncomeThreshold),
	}, nil
}

// ProductReport aggregates a bucket of products
type ProductReport struct {
	Products    []*receipt.Product `json:"products"`
	ByClass     []ClassTotal       `json:"by_class,omitempty"`
	ByClassUnit []ClassUnitTotal   `json:"by_class_unit,omitempty"`
	ByNameUnit  []NameUnitTotal    `json:"by_name_unit"`
}

// Kaese reports the cheese sales, optionally of one company
func (s *Service) Kaese(ctx context.Context, company string, order Order) (*ProductReport, error) {
	products, err := s.store.ListProducts(ctx, receipt.ProductFilter{
		Bucket:      receipt.BucketKaeseinnahmen,
		CompanyName: company,
	})
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	products = KaeseinnahmenProducts(products)
	return &ProductReport{
		Products:    products,
		ByClass:     ByProductClass(products),
		ByClassUnit: ByProductClassUnit(products),
		ByNameUnit:  ByNameUnit(products, order),
	}, nil
}

// Biokontrolle reports the organic purchases, optionally of one category and
// company
func (s *Service) Biokontrolle(ctx context.Context, category receipt.BioCategory, company string, order Order) (*ProductReport, error) {
	if category != "" && !category.Valid() {
		return nil, fmt.Errorf("unknown bio category %q: %w", category, receipt.ErrValidation)
	}
	products, err := s.store.ListProducts(ctx, receipt.ProductFilter{
		Bucket:      receipt.BucketBiokontrolle,
		BioCategory: category,
		CompanyName: company,
	})
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	products = BiokontrolleProducts(products)
	return &ProductReport{
		Products:   products,
		ByNameUnit: ByNameUnit(products, order),
	}, nil
}

// Export builds the accountant export
func (s *Service) Export(ctx context.Context, filter ExportFilter) (*Export, error) {
	receipts, err := s.store.ListReceipts(ctx, receipt.ReceiptFilter{})
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	return AccountantExport(receipts, filter), nil
}
