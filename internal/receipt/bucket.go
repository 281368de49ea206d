package receipt

import (
	"slices"
	"strings"
)

// Companies and locations used by the reporting buckets
const (
	CompanyHofladen    = "Hofladen"
	CompanyWochenmarkt = "Wochenmarkt"
	CompanyKemmtsEina  = "Kemmts Eina"
	CompanyMarktwagen  = "Marktwagen"

	LocationLieferungen   = "Lieferungen"
	LocationHofladen      = "Hofladen"
	LocationMarktwagen    = "Marktwagen"
	LocationKemmtsEina    = "Kemmts Eina"
	LocationSalzburgMilch = "SalzburgMilch GmbH"
	LocationLasshofer     = "Viehhandel Laßhofer"
	LocationOther         = "Other"
)

// productCompanies are the income companies whose receipts itemize products
var productCompanies = []string{CompanyHofladen, CompanyWochenmarkt, CompanyKemmtsEina}

// KaeseinnahmenCompanies are the companies whose credit notes count as cheese sales
var KaeseinnahmenCompanies = []string{CompanyHofladen, CompanyKemmtsEina, CompanyWochenmarkt, CompanyMarktwagen}

// Bucket selects a reporting view over products
type Bucket string

const (
	BucketBiokontrolle  Bucket = "biokontrolle"
	BucketKaeseinnahmen Bucket = "kaeseinnahmen"
)

// ShouldHaveProducts reports whether line items may be entered for the receipt
func ShouldHaveProducts(r *Receipt) bool {
	if !r.IsCredit && r.IsBio {
		return true
	}
	if r.IsCredit && slices.Contains(productCompanies, deref(r.CompanyName)) {
		return true
	}
	return r.Source == SourceRechnungsApp
}

// SalesLocation maps an income receipt to the location it was earned at
func SalesLocation(r *Receipt) string {
	company := deref(r.CompanyName)
	switch {
	case company == CompanyMarktwagen:
		return LocationMarktwagen
	case company == CompanyKemmtsEina:
		return LocationKemmtsEina
	case r.Source == SourceRechnungsApp:
		return LocationLieferungen
	case r.Source == SourceRegistrierkassa:
		return LocationHofladen
	}
	return extendedLocation(company)
}

// extendedLocation refines the Other location by well-known buyers
func extendedLocation(company string) string {
	lower := strings.ToLower(company)
	switch {
	case strings.Contains(lower, "salzburgmilch"):
		return LocationSalzburgMilch
	case strings.Contains(lower, "viehhandel lasshof"), strings.Contains(lower, "viehhandel laßhof"):
		return LocationLasshofer
	}
	return LocationOther
}

// IsBiokontrolle reports whether a product belongs to the organic-certification report
func IsBiokontrolle(p *Product, r *Receipt) bool {
	return !r.IsCredit && p.IsBio
}

// IsKaeseinnahme reports whether a receipt counts as cheese-sales income
func IsKaeseinnahme(r *Receipt) bool {
	if !r.IsCredit {
		return false
	}
	return slices.Contains(KaeseinnahmenCompanies, deref(r.CompanyName)) || r.Source == SourceRechnungsApp
}
