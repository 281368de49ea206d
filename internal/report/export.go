package report

import (
	"cmp"
	"fmt"
	"io"
	"slices"

	"github.com/xuri/excelize/v2"

	"github.com/zombor/hofbuch/internal/receipt"
)

// Sheet names of the accountant workbook
const (
	SheetIncome           = "Einnahmen"
	SheetIncomeByLocation = "Einnahmen nach Verkaufsort"
	SheetExpenses         = "Ausgaben"
)

var (
	detailHeaders   = []string{"Datum", "Unternehmen", "Brutto", "Netto", "USt.", "Beschreibung", "Kommentar"}
	locationHeaders = []string{"Verkaufsort", "Brutto", "Netto", "USt."}
)

// ExportFilter bounds the receipts of an accountant export. Dates are
// YYYY-MM-DD; empty means unbounded.
type ExportFilter struct {
	MinCreatedDate string `json:"min_created_date"`
	MinReceiptDate string `json:"min_receipt_date"`
	MaxReceiptDate string `json:"max_receipt_date"`
}

// Includes reports whether r passes the filter. A receipt passes the lower
// bound when either its creation date or its receipt date is late enough.
func (f ExportFilter) Includes(r *receipt.Receipt) bool {
	if f.MinCreatedDate != "" || f.MinReceiptDate != "" {
		created := f.MinCreatedDate != "" && r.CreatedOn.Format("2006-01-02") >= f.MinCreatedDate
		dated := f.MinReceiptDate != "" && r.Date != nil && *r.Date >= f.MinReceiptDate
		if !created && !dated {
			return false
		}
	}
	if f.MaxReceiptDate != "" && (r.Date == nil || *r.Date > f.MaxReceiptDate) {
		return false
	}
	return true
}

// ExportRow is one receipt of the accountant export
type ExportRow struct {
	Date        string   `json:"date"`
	Company     string   `json:"company"`
	Gross       *float64 `json:"gross"`
	Net         *float64 `json:"net"`
	VAT         *float64 `json:"vat"`
	Description string   `json:"description"`
	Comment     string   `json:"comment"`
	Location    string   `json:"location,omitempty"`
}

// LocationAggregate sums the income of one sales location
type LocationAggregate struct {
	Location string  `json:"location"`
	Gross    float64 `json:"gross"`
	Net      float64 `json:"net"`
	VAT      float64 `json:"vat"`
}

// Export holds the three tables handed to the tax accountant
type Export struct {
	Income           []ExportRow         `json:"income"`
	IncomeByLocation []LocationAggregate `json:"income_by_location"`
	Expenses         []ExportRow         `json:"expenses"`
}

func exportRow(r *receipt.Receipt) ExportRow {
	return ExportRow{
		Date:        text(r.Date),
		Company:     text(r.CompanyName),
		Gross:       r.TotalGrossAmount,
		Net:         r.TotalNetAmount,
		VAT:         r.VATAmount,
		Description: text(r.Description),
		Comment:     text(r.Comment),
	}
}

// AccountantExport splits the receipts passing filter into income and expense
// rows and sums income per sales location
func AccountantExport(receipts []*receipt.Receipt, filter ExportFilter) *Export {
	e := &Export{
		Income:           make([]ExportRow, 0),
		IncomeByLocation: make([]LocationAggregate, 0),
		Expenses:         make([]ExportRow, 0),
	}
	index := make(map[string]int)
	for _, r := range receipts {
		if !filter.Includes(r) {
			continue
		}
		row := exportRow(r)
		if !r.IsCredit {
			e.Expenses = append(e.Expenses, row)
			continue
		}

		row.Location = receipt.SalesLocation(r)
		e.Income = append(e.Income, row)

		i, ok := index[row.Location]
		if !ok {
			i = len(e.IncomeByLocation)
			index[row.Location] = i
			e.IncomeByLocation = append(e.IncomeByLocation, LocationAggregate{Location: row.Location})
		}
		e.IncomeByLocation[i].Gross += value(row.Gross)
		e.IncomeByLocation[i].Net += value(row.Net)
		e.IncomeByLocation[i].VAT += value(row.VAT)
	}

	byDate := func(a, b ExportRow) int {
		return cmp.Compare(a.Date, b.Date)
	}
	slices.SortStableFunc(e.Income, byDate)
	slices.SortStableFunc(e.Expenses, byDate)
	slices.SortFunc(e.IncomeByLocation, func(a, b LocationAggregate) int {
		return cmp.Compare(a.Location, b.Location)
	})
	return e
}

// WriteXLSX writes the export as a workbook with one sheet per table
func (e *Export) WriteXLSX(w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetIncome); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}
	for _, sheet := range []string{SheetIncomeByLocation, SheetExpenses} {
		if _, err := f.NewSheet(sheet); err != nil {
			return fmt.Errorf("creating sheet %s: %w", sheet, err)
		}
	}

	money, err := f.NewStyle(&excelize.Style{NumFmt: 2})
	if err != nil {
		return fmt.Errorf("creating style: %w", err)
	}

	if err := writeDetailSheet(f, SheetIncome, e.Income, true, money); err != nil {
		return err
	}
	if err := writeDetailSheet(f, SheetExpenses, e.Expenses, false, money); err != nil {
		return err
	}
	if err := writeLocationSheet(f, e.IncomeByLocation, money); err != nil {
		return err
	}

	f.SetActiveSheet(0)
	if err := f.Write(w); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values []any) error {
	for i, v := range values {
		if v == nil {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(i+1, row)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			return fmt.Errorf("writing %s!%s: %w", sheet, cell, err)
		}
	}
	return nil
}

func amountCell(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func writeDetailSheet(f *excelize.File, sheet string, rows []ExportRow, withLocation bool, money int) error {
	headers := detailHeaders
	if withLocation {
		headers = append(slices.Clone(detailHeaders), "Verkaufsort")
	}
	header := make([]any, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	if err := setRow(f, sheet, 1, header); err != nil {
		return err
	}

	for i, r := range rows {
		values := []any{r.Date, r.Company, amountCell(r.Gross), amountCell(r.Net), amountCell(r.VAT), r.Description, r.Comment}
		if withLocation {
			values = append(values, r.Location)
		}
		if err := setRow(f, sheet, i+2, values); err != nil {
			return err
		}
	}

	if len(rows) > 0 {
		if err := f.SetCellStyle(sheet, "C2", fmt.Sprintf("E%d", len(rows)+1), money); err != nil {
			return fmt.Errorf("styling %s: %w", sheet, err)
		}
	}
	return setColWidths(f, sheet, []colWidth{
		{"A", "A", 12},
		{"B", "B", 28},
		{"C", "E", 12},
		{"F", "G", 40},
		{"H", "H", 22},
	})
}

func writeLocationSheet(f *excelize.File, rows []LocationAggregate, money int) error {
	header := make([]any, len(locationHeaders))
	for i, h := range locationHeaders {
		header[i] = h
	}
	if err := setRow(f, SheetIncomeByLocation, 1, header); err != nil {
		return err
	}
	for i, r := range rows {
		if err := setRow(f, SheetIncomeByLocation, i+2, []any{r.Location, r.Gross, r.Net, r.VAT}); err != nil {
			return err
		}
	}
	if len(rows) > 0 {
		if err := f.SetCellStyle(SheetIncomeByLocation, "B2", fmt.Sprintf("D%d", len(rows)+1), money); err != nil {
			return fmt.Errorf("styling %s: %w", SheetIncomeByLocation, err)
		}
	}
	return setColWidths(f, SheetIncomeByLocation, []colWidth{
		{"A", "A", 24},
		{"B", "D", 12},
	})
}

type colWidth struct {
	from, to string
	width    float64
}

func setColWidths(f *excelize.File, sheet string, widths []colWidth) error {
	for _, w := range widths {
		if err := f.SetColWidth(sheet, w.from, w.to, w.width); err != nil {
			return fmt.Errorf("sizing columns %s:%s of %s: %w", w.from, w.to, sheet, err)
		}
	}
	return nil
}
