package receipt

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strconv"
	"strings"
	"time"
)

const (
	kalkuelCSVName   = "Rechnungen.csv"
	kalkuelPDFDir    = "Rechnungen/"
	kalkuelSalesText = "Verkauf Käse und Spezialitäten"
	stornoComment    = "Stornorechnung"
)

var kalkuelDateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"02.01.2006",
	"02.01.2006 15:04",
	"2.1.2006",
	"01/02/2006",
}

// ImportResult summarizes a Kalkül import
type ImportResult struct {
	Imported int      `json:"imported"`
	Skipped  []string `json:"skipped"`
}

// ImportKalkuel imports the invoices of a Kalkül export ZIP. Every row of
// Rechnungen.csv whose PDF is present in the Rechnungen folder becomes a
// RECHNUNGSAPP receipt; cancellation invoices flip the sign of all amounts.
func (s *Service) ImportKalkuel(ctx context.Context, zipData []byte) (*ImportResult, error) {
	zr, err := zip.NewReader(bytes.NewReader(zipData), int64(len(zipData)))
	if err != nil {
		return nil, fmt.Errorf("reading zip: %v: %w", err, ErrValidation)
	}

	var csvFile *zip.File
	var hasPDFDir bool
	pdfs := make([]*zip.File, 0)
	for _, f := range zr.File {
		if f.Name == kalkuelCSVName {
			csvFile = f
			continue
		}
		if strings.HasPrefix(f.Name, kalkuelPDFDir) {
			hasPDFDir = true
			if strings.HasSuffix(strings.ToLower(f.Name), ".pdf") {
				pdfs = append(pdfs, f)
			}
		}
	}
	if csvFile == nil || !hasPDFDir {
		return nil, fmt.Errorf("CSV or Rechnungen folder not found in ZIP: %w", ErrValidation)
	}

	rows, err := readKalkuelCSV(csvFile)
	if err != nil {
		return nil, err
	}

	type invoice struct {
		receipt *Receipt
		pdf     *zip.File
	}
	result := &ImportResult{Skipped: []string{}}
	invoices := make([]invoice, 0, len(rows))
	for _, row := range rows {
		num := strings.TrimSpace(row["#"])
		pdf := findKalkuelPDF(pdfs, num)
		if pdf == nil {
			result.Skipped = append(result.Skipped, num)
			continue
		}
		r, err := kalkuelReceipt(row, path.Base(pdf.Name))
		if err != nil {
			return nil, fmt.Errorf("invoice %s: %w", num, err)
		}
		if err := validateReceipt(r); err != nil {
			return nil, fmt.Errorf("invoice %s: %w", num, err)
		}
		invoices = append(invoices, invoice{receipt: r, pdf: pdf})
	}

	// Nothing is written until every row is valid. PDFs saved by this import
	// are removed again when the insert fails.
	var saved []string
	now := s.timeSource.Now()
	receipts := make([]*Receipt, 0, len(invoices))
	for _, inv := range invoices {
		created, err := s.storeKalkuelPDF(inv.pdf)
		if err != nil {
			s.deleteFiles(saved)
			return nil, err
		}
		if created {
			saved = append(saved, path.Base(inv.pdf.Name))
		}
		inv.receipt.ID = s.idGenerator.Generate()
		inv.receipt.CreatedOn = now
		inv.receipt.UpdatedOn = now
		receipts = append(receipts, inv.receipt)
	}
	if err := s.db.CreateReceipts(ctx, receipts); err != nil {
		s.deleteFiles(saved)
		return nil, fmt.Errorf("saving invoices: %w", err)
	}
	result.Imported = len(receipts)

	slog.Info("Imported Kalkül invoices", "imported", result.Imported, "skipped", len(result.Skipped))
	return result, nil
}

// readKalkuelCSV returns the rows keyed by header. The delimiter is a tab when
// one occurs in the first 1024 bytes, a comma otherwise.
func readKalkuelCSV(f *zip.File) ([]map[string]string, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", f.Name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", f.Name, err)
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = ','
	if bytes.ContainsRune(data[:min(len(data), 1024)], '\t') {
		reader.Comma = '\t'
	}
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %v: %w", f.Name, err, ErrValidation)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%s is empty: %w", f.Name, ErrValidation)
	}

	header := records[0]
	rows := make([]map[string]string, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make(map[string]string, len(header))
		for i, h := range header {
			if i < len(rec) {
				row[strings.TrimSpace(h)] = strings.TrimSpace(rec[i])
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func findKalkuelPDF(pdfs []*zip.File, num string) *zip.File {
	if num == "" {
		return nil
	}
	for _, f := range pdfs {
		if strings.HasPrefix(path.Base(f.Name), num+" ") {
			return f
		}
	}
	return nil
}

// storeKalkuelPDF copies the PDF into storage unless a file of that name
// exists. It reports whether a new file was written.
func (s *Service) storeKalkuelPDF(f *zip.File) (bool, error) {
	name := path.Base(f.Name)
	exists, err := s.storage.Exists(name)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	rc, err := f.Open()
	if err != nil {
		return false, fmt.Errorf("opening %s: %w", f.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return false, fmt.Errorf("reading %s: %w", f.Name, err)
	}
	if _, err := s.storage.Save(name, data); err != nil {
		return false, fmt.Errorf("saving %s: %w", name, err)
	}
	return true, nil
}

func kalkuelReceipt(row map[string]string, filename string) (*Receipt, error) {
	date, err := parseKalkuelDate(row["Datum"])
	if err != nil {
		return nil, err
	}
	gross, err := parseKalkuelAmount(row["Gesamter Bruttobetrag"])
	if err != nil {
		return nil, err
	}
	net, err := parseKalkuelAmount(row["Gesamter Nettobetrag"])
	if err != nil {
		return nil, err
	}
	vat, err := parseKalkuelAmount(row["Gesamter Steuerbetrag"])
	if err != nil {
		return nil, err
	}

	storno := isTruthy(row["Stornorechnung?"])
	r := &Receipt{
		Date:             &date,
		TotalGrossAmount: gross,
		TotalNetAmount:   net,
		VATAmount:        vat,
		Description:      stringPtr(kalkuelSalesText),
		IsCredit:         !storno,
		IsBio:            false,
		Source:           SourceRechnungsApp,
		FilePaths:        []string{filename},
	}
	if n := row["Nummer"]; n != "" {
		r.ReceiptNumber = stringPtr(n)
	}
	if c := row["Kundenname"]; c != "" {
		r.CompanyName = stringPtr(c)
	}
	if storno {
		r.Comment = stringPtr(stornoComment)
		for _, amount := range []*float64{r.TotalGrossAmount, r.TotalNetAmount, r.VATAmount} {
			if amount != nil {
				*amount = -*amount
			}
		}
	}
	return r, nil
}

func parseKalkuelDate(value string) (string, error) {
	value = strings.TrimSpace(value)
	for _, layout := range kalkuelDateLayouts {
		if d, err := time.Parse(layout, value); err == nil {
			return d.Format("2006-01-02"), nil
		}
	}
	return "", fmt.Errorf("invalid date %q: %w", value, ErrValidation)
}

// parseKalkuelAmount accepts 1234.56 as well as 1.234,56
func parseKalkuelAmount(value string) (*float64, error) {
	value = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(value), "€"))
	if value == "" {
		return nil, nil
	}
	if strings.Contains(value, ",") {
		value = strings.ReplaceAll(value, ".", "")
		value = strings.ReplaceAll(value, ",", ".")
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", value, ErrValidation)
	}
	return floatPtr(f), nil
}

func isTruthy(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1", "ja", "yes", "wahr", "x":
		return true
	}
	return false
}
