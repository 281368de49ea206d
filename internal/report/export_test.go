package report

import (
	"bytes"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/xuri/excelize/v2"

	"github.com/zombor/hofbuch/internal/receipt"
)

func dated(r *receipt.Receipt, date string, created time.Time) *receipt.Receipt {
	if date != "" {
		r.Date = ptr(date)
	}
	r.CreatedOn = created
	return r
}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	Expect(err).NotTo(HaveOccurred())
	return t.Add(15 * time.Hour)
}

var _ = Describe("ExportFilter", func() {
	It("should pass a receipt meeting only the creation bound", func() {
		r := dated(income("Hofladen", nil, nil, nil), "2023-12-01", day("2024-01-05"))
		f := ExportFilter{MinCreatedDate: "2024-01-01", MinReceiptDate: "2024-06-01"}
		Expect(f.Includes(r)).To(BeTrue())
	})

	It("should pass a receipt meeting only the receipt date bound", func() {
		r := dated(income("Hofladen", nil, nil, nil), "2024-07-01", day("2023-01-05"))
		f := ExportFilter{MinCreatedDate: "2024-01-01", MinReceiptDate: "2024-06-01"}
		Expect(f.Includes(r)).To(BeTrue())
	})

	It("should drop a receipt meeting neither lower bound", func() {
		r := dated(income("Hofladen", nil, nil, nil), "2023-12-01", day("2023-12-02"))
		f := ExportFilter{MinCreatedDate: "2024-01-01", MinReceiptDate: "2024-06-01"}
		Expect(f.Includes(r)).To(BeFalse())
	})

	It("should include the creation day itself", func() {
		r := dated(income("Hofladen", nil, nil, nil), "", day("2024-01-01"))
		Expect(ExportFilter{MinCreatedDate: "2024-01-01"}.Includes(r)).To(BeTrue())
	})

	It("should apply the upper bound to every receipt", func() {
		f := ExportFilter{MinCreatedDate: "2024-01-01", MaxReceiptDate: "2024-03-31"}
		Expect(f.Includes(dated(income("Hofladen", nil, nil, nil), "2024-04-01", day("2024-04-02")))).To(BeFalse())
		Expect(f.Includes(dated(income("Hofladen", nil, nil, nil), "2024-03-31", day("2024-04-02")))).To(BeTrue())
		Expect(f.Includes(dated(income("Hofladen", nil, nil, nil), "", day("2024-04-02")))).To(BeFalse())
	})

	It("should pass everything without bounds", func() {
		Expect(ExportFilter{}.Includes(income("Hofladen", nil, nil, nil))).To(BeTrue())
	})
})

var _ = Describe("AccountantExport", func() {
	var export *Export

	BeforeEach(func() {
		app := income("Gasthaus Post", ptr(110.0), ptr(100.0), ptr(10.0))
		app.Source = receipt.SourceRechnungsApp
		app.Description = ptr("Verkauf Käse und Spezialitäten")

		receipts := []*receipt.Receipt{
			dated(income("Marktwagen", ptr(55.0), ptr(50.0), ptr(5.0)), "2024-02-10", day("2024-02-11")),
			dated(app, "2024-02-01", day("2024-02-02")),
			dated(income("Marktwagen", ptr(22.0), ptr(20.0), ptr(2.0)), "2024-01-15", day("2024-01-16")),
			dated(expense("Lagerhaus", ptr(120.0), ptr(100.0), nil), "2024-01-20", day("2024-01-21")),
			dated(expense("Lagerhaus", ptr(12.0), ptr(10.0), ptr(2.0)), "2023-11-20", day("2023-11-21")),
		}
		export = AccountantExport(receipts, ExportFilter{MinReceiptDate: "2024-01-01"})
	})

	It("should split income and expenses sorted by date", func() {
		Expect(export.Income).To(HaveLen(3))
		Expect(export.Income[0].Date).To(Equal("2024-01-15"))
		Expect(export.Income[1].Location).To(Equal(receipt.LocationLieferungen))
		Expect(export.Income[2].Location).To(Equal(receipt.LocationMarktwagen))

		Expect(export.Expenses).To(HaveLen(1))
		Expect(export.Expenses[0].Company).To(Equal("Lagerhaus"))
		Expect(export.Expenses[0].VAT).To(BeNil())
		Expect(export.Expenses[0].Location).To(BeEmpty())
	})

	It("should aggregate income by location", func() {
		Expect(export.IncomeByLocation).To(Equal([]LocationAggregate{
			{Location: receipt.LocationLieferungen, Gross: 110, Net: 100, VAT: 10},
			{Location: receipt.LocationMarktwagen, Gross: 77, Net: 70, VAT: 7},
		}))
	})

	Describe("WriteXLSX", func() {
		var f *excelize.File

		BeforeEach(func() {
			var buf bytes.Buffer
			Expect(export.WriteXLSX(&buf)).To(Succeed())
			var err error
			f, err = excelize.OpenReader(&buf)
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(f.Close)
		})

		It("should contain the three sheets", func() {
			Expect(f.GetSheetList()).To(Equal([]string{SheetIncome, SheetIncomeByLocation, SheetExpenses}))
		})

		It("should write German headers with the location on income", func() {
			rows, err := f.GetRows(SheetIncome)
			Expect(err).NotTo(HaveOccurred())
			Expect(rows[0]).To(Equal([]string{"Datum", "Unternehmen", "Brutto", "Netto", "USt.", "Beschreibung", "Kommentar", "Verkaufsort"}))
			Expect(rows).To(HaveLen(4))

			rows, err = f.GetRows(SheetExpenses)
			Expect(err).NotTo(HaveOccurred())
			Expect(rows[0]).To(Equal([]string{"Datum", "Unternehmen", "Brutto", "Netto", "USt.", "Beschreibung", "Kommentar"}))
		})

		It("should write the income rows", func() {
			date, err := f.GetCellValue(SheetIncome, "A3")
			Expect(err).NotTo(HaveOccurred())
			Expect(date).To(Equal("2024-02-01"))
			gross, err := f.GetCellValue(SheetIncome, "C3", excelize.Options{RawCellValue: true})
			Expect(err).NotTo(HaveOccurred())
			Expect(gross).To(Equal("110"))
			location, err := f.GetCellValue(SheetIncome, "H3")
			Expect(err).NotTo(HaveOccurred())
			Expect(location).To(Equal(receipt.LocationLieferungen))
		})

		It("should leave missing amounts blank", func() {
			vat, err := f.GetCellValue(SheetExpenses, "E2")
			Expect(err).NotTo(HaveOccurred())
			Expect(vat).To(BeEmpty())
		})

		It("should write the location totals", func() {
			loc, err := f.GetCellValue(SheetIncomeByLocation, "A3")
			Expect(err).NotTo(HaveOccurred())
			Expect(loc).To(Equal(receipt.LocationMarktwagen))
			net, err := f.GetCellValue(SheetIncomeByLocation, "C3", excelize.Options{RawCellValue: true})
			Expect(err).NotTo(HaveOccurred())
			Expect(net).To(Equal("70"))
		})

		It("should size the columns", func() {
			width, err := f.GetColWidth(SheetIncome, "F")
			Expect(err).NotTo(HaveOccurred())
			Expect(width).To(Equal(40.0))
			width, err = f.GetColWidth(SheetIncomeByLocation, "A")
			Expect(err).NotTo(HaveOccurred())
			Expect(width).To(Equal(24.0))
		})
	})

	Describe("setColWidths", func() {
		It("should report an unknown sheet", func() {
			f := excelize.NewFile()
			defer f.Close()
			err := setColWidths(f, "Fehlt", []colWidth{{"A", "A", 10}})
			Expect(err).To(MatchError(ContainSubstring("sizing columns A:A of Fehlt")))
		})
	})
})
