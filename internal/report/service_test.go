package report

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/hofbuch/internal/receipt"
)

// mockStore is a mock implementation of Store
type mockStore struct {
	receipts       []*receipt.Receipt
	products       []*receipt.Product
	listErr        error
	receiptFilters []receipt.ReceiptFilter
	productFilters []receipt.ProductFilter
}

func (m *mockStore) ListReceipts(ctx context.Context, filter receipt.ReceiptFilter) ([]*receipt.Receipt, error) {
	m.receiptFilters = append(m.receiptFilters, filter)
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.receipts, nil
}

func (m *mockStore) ListProducts(ctx context.Context, filter receipt.ProductFilter) ([]*receipt.Product, error) {
	m.productFilters = append(m.productFilters, filter)
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.products, nil
}

var _ = Describe("Service", func() {
	var (
		ctx     context.Context
		store   *mockStore
		service *Service
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = &mockStore{}
		service = NewService(store)
	})

	Describe("Overview", func() {
		BeforeEach(func() {
			store.receipts = []*receipt.Receipt{
				income("Hofladen", ptr(100.0), ptr(90.0), ptr(10.0)),
				expense("Lagerhaus", ptr(40.0), ptr(33.0), ptr(7.0)),
			}
		})

		It("should compute every dashboard table", func() {
			credit := true
			report, err := service.Overview(ctx, receipt.ReceiptFilter{Credit: &credit}, 3)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Overview).To(Equal(Overview{Income: 100, Expense: 40, Profit: 60}))
			Expect(report.VAT.Delta).To(Equal(-3.0))
			Expect(report.TopExpenseCompanies).To(Equal([]CompanyTotal{{Company: "Lagerhaus", NetAmount: 33}}))
			Expect(report.IncomeByLocation).To(Equal([]LocationTotal{{Location: receipt.LocationOther, Gross: 100}}))
			Expect(store.receiptFilters[0].Credit).To(Equal(&credit))
		})

		It("should pass store errors on", func() {
			store.listErr = errors.New("database locked")
			_, err := service.Overview(ctx, receipt.ReceiptFilter{}, 3)
			Expect(err).To(MatchError(ContainSubstring("database locked")))
		})
	})

	Describe("Kaese", func() {
		It("should select the Käseinnahmen bucket of a company", func() {
			p := classified("Bergkäse", "Hartkäse", 1, receipt.UnitKilo, ptr(20.0))
			p.Receipt = income("Wochenmarkt", ptr(20.0), nil, nil)
			store.products = []*receipt.Product{p}
			report, err := service.Kaese(ctx, "Wochenmarkt", OrderByName)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Products).To(Equal([]*receipt.Product{p}))
			Expect(store.productFilters).To(Equal([]receipt.ProductFilter{{Bucket: receipt.BucketKaeseinnahmen, CompanyName: "Wochenmarkt"}}))
			Expect(report.ByClass).To(HaveLen(1))
			Expect(report.ByClassUnit).To(HaveLen(1))
			Expect(report.ByNameUnit).To(HaveLen(1))
		})
	})

	Describe("Biokontrolle", func() {
		It("should only report organic products of expenses", func() {
			feed := classified("Biofutter", "", 500, receipt.UnitKilo, ptr(300.0))
			feed.IsBio = true
			feed.Receipt = expense("Lagerhaus", ptr(300.0), nil, nil)
			sold := classified("Bergkäse", "", 1, receipt.UnitKilo, ptr(20.0))
			sold.IsBio = true
			sold.Receipt = income("Hofladen", ptr(20.0), nil, nil)
			store.products = []*receipt.Product{feed, sold}

			report, err := service.Biokontrolle(ctx, "", "", OrderByAmount)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Products).To(Equal([]*receipt.Product{feed}))
			Expect(report.ByNameUnit).To(HaveLen(1))
		})

		It("should select the Biokontrolle bucket of a category", func() {
			_, err := service.Biokontrolle(ctx, receipt.BioCategoryLivestock, "", OrderByAmount)
			Expect(err).NotTo(HaveOccurred())
			Expect(store.productFilters).To(Equal([]receipt.ProductFilter{{Bucket: receipt.BucketBiokontrolle, BioCategory: receipt.BioCategoryLivestock}}))
		})

		It("should reject unknown categories", func() {
			_, err := service.Biokontrolle(ctx, "Forstwirtschaft", "", OrderByAmount)
			Expect(err).To(MatchError(receipt.ErrValidation))
			Expect(store.productFilters).To(BeEmpty())
		})
	})

	Describe("Export", func() {
		It("should filter all stored receipts", func() {
			store.receipts = []*receipt.Receipt{
				dated(income("Hofladen", ptr(10.0), nil, nil), "2024-05-01", day("2024-05-02")),
				dated(expense("Lagerhaus", ptr(10.0), nil, nil), "2024-07-01", day("2024-07-02")),
			}
			export, err := service.Export(ctx, ExportFilter{MaxReceiptDate: "2024-06-30"})
			Expect(err).NotTo(HaveOccurred())
			Expect(export.Income).To(HaveLen(1))
			Expect(export.Expenses).To(BeEmpty())
		})
	})
})
