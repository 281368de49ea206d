package report

import (
	"cmp"
	"slices"
	"time"

	"github.com/zombor/hofbuch/internal/receipt"
)

// Series types of MonthlySeries
const (
	TypeIncome  = "Income"
	TypeExpense = "Expense"
)

// DefaultOtherIncomeThreshold is the net amount above which an income company
// outside the known locations is listed
const DefaultOtherIncomeThreshold = 200.0

// Order selects how ByNameUnit sorts its rows
type Order string

const (
	OrderByAmount Order = "amount"
	OrderByName   Order = "name"
)

// ClassTotal sums the products of one product class
type ClassTotal struct {
	Class       string  `json:"class"`
	TotalAmount float64 `json:"total_amount"`
	TotalPrice  float64 `json:"total_price"`
	Count       int     `json:"count"`
}

// ClassUnitTotal sums the products of one product class and unit
type ClassUnitTotal struct {
	Class       string       `json:"class"`
	Unit        receipt.Unit `json:"unit"`
	TotalAmount float64      `json:"total_amount"`
	TotalPrice  float64      `json:"total_price"`
	Count       int          `json:"count"`
}

// NameUnitTotal sums the products sharing a name and unit
type NameUnitTotal struct {
	Name        string       `json:"name"`
	Unit        receipt.Unit `json:"unit"`
	TotalAmount float64      `json:"total_amount"`
	TotalPrice  float64      `json:"total_price"`
	Count       int          `json:"count"`
}

// Overview is income against expense
type Overview struct {
	Income  float64 `json:"income"`
	Expense float64 `json:"expense"`
	Profit  float64 `json:"profit"`
}

// MonthlyTotal is the gross sum of one month and type
type MonthlyTotal struct {
	Month string  `json:"month"` // YYYY-MM
	Type  string  `json:"type"`
	Sum   float64 `json:"sum"`
}

// VATComparison compares VAT collected with VAT paid
type VATComparison struct {
	IncomeVAT  float64 `json:"income_vat"`
	ExpenseVAT float64 `json:"expense_vat"`
	Delta      float64 `json:"delta"`
}

// CompanyTotal is the net sum of one company
type CompanyTotal struct {
	Company   string  `json:"company"`
	NetAmount float64 `json:"net_amount"`
}

// LocationTotal is the gross income of one sales location
type LocationTotal struct {
	Location string  `json:"location"`
	Gross    float64 `json:"gross"`
}

func value(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

func text(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// KaeseinnahmenProducts keeps the products of cheese-sales receipts. Products
// loaded without their receipt are dropped.
func KaeseinnahmenProducts(products []*receipt.Product) []*receipt.Product {
	return productsWhere(products, func(p *receipt.Product) bool {
		return receipt.IsKaeseinnahme(p.Receipt)
	})
}

// BiokontrolleProducts keeps the organic products of expense receipts.
// Products loaded without their receipt are dropped.
func BiokontrolleProducts(products []*receipt.Product) []*receipt.Product {
	return productsWhere(products, func(p *receipt.Product) bool {
		return receipt.IsBiokontrolle(p, p.Receipt)
	})
}

func productsWhere(products []*receipt.Product, keep func(*receipt.Product) bool) []*receipt.Product {
	kept := make([]*receipt.Product, 0, len(products))
	for _, p := range products {
		if p.Receipt != nil && keep(p) {
			kept = append(kept, p)
		}
	}
	return kept
}

// ByProductClass sums classified products per class name. Unclassified
// products are left out.
func ByProductClass(products []*receipt.Product) []ClassTotal {
	index := make(map[string]int)
	rows := make([]ClassTotal, 0)
	for _, p := range products {
		class := p.ClassName()
		if p.ProductClassID == nil || class == "" {
			continue
		}
		i, ok := index[class]
		if !ok {
			i = len(rows)
			index[class] = i
			rows = append(rows, ClassTotal{Class: class})
		}
		rows[i].TotalAmount += p.Amount
		rows[i].TotalPrice += value(p.Price)
		rows[i].Count++
	}
	slices.SortFunc(rows, func(a, b ClassTotal) int {
		return cmp.Compare(a.Class, b.Class)
	})
	return rows
}

// ByProductClassUnit sums classified products per class and unit, highest
// revenue first
func ByProductClassUnit(products []*receipt.Product) []ClassUnitTotal {
	type key struct {
		class string
		unit  receipt.Unit
	}
	index := make(map[key]int)
	rows := make([]ClassUnitTotal, 0)
	for _, p := range products {
		class := p.ClassName()
		if p.ProductClassID == nil || class == "" {
			continue
		}
		k := key{class, p.Unit}
		i, ok := index[k]
		if !ok {
			i = len(rows)
			index[k] = i
			rows = append(rows, ClassUnitTotal{Class: class, Unit: p.Unit})
		}
		rows[i].TotalAmount += p.Amount
		rows[i].TotalPrice += value(p.Price)
		rows[i].Count++
	}
	slices.SortFunc(rows, func(a, b ClassUnitTotal) int {
		return cmp.Or(
			cmp.Compare(b.TotalPrice, a.TotalPrice),
			cmp.Compare(a.Class, b.Class),
			cmp.Compare(a.Unit, b.Unit),
		)
	})
	return rows
}

// ByNameUnit sums products per name and unit
func ByNameUnit(products []*receipt.Product, order Order) []NameUnitTotal {
	type key struct {
		name string
		unit receipt.Unit
	}
	index := make(map[key]int)
	rows := make([]NameUnitTotal, 0)
	for _, p := range products {
		k := key{p.Name, p.Unit}
		i, ok := index[k]
		if !ok {
			i = len(rows)
			index[k] = i
			rows = append(rows, NameUnitTotal{Name: p.Name, Unit: p.Unit})
		}
		rows[i].TotalAmount += p.Amount
		rows[i].TotalPrice += value(p.Price)
		rows[i].Count++
	}

	byName := func(a, b NameUnitTotal) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.Unit, b.Unit))
	}
	if order == OrderByName {
		slices.SortFunc(rows, byName)
	} else {
		slices.SortFunc(rows, func(a, b NameUnitTotal) int {
			return cmp.Or(cmp.Compare(b.TotalAmount, a.TotalAmount), byName(a, b))
		})
	}
	return rows
}

// FinancialOverview sums gross income and expense
func FinancialOverview(receipts []*receipt.Receipt) Overview {
	var o Overview
	for _, r := range receipts {
		if r.IsCredit {
			o.Income += value(r.TotalGrossAmount)
		} else {
			o.Expense += value(r.TotalGrossAmount)
		}
	}
	o.Profit = o.Income - o.Expense
	return o
}

// MonthlySeries sums gross amounts per calendar month and type. Receipts
// without a valid date are skipped.
func MonthlySeries(receipts []*receipt.Receipt) []MonthlyTotal {
	type key struct {
		month string
		typ   string
	}
	index := make(map[key]int)
	rows := make([]MonthlyTotal, 0)
	for _, r := range receipts {
		if r.Date == nil {
			continue
		}
		d, err := time.Parse("2006-01-02", *r.Date)
		if err != nil {
			continue
		}
		typ := TypeExpense
		if r.IsCredit {
			typ = TypeIncome
		}
		k := key{d.Format("2006-01"), typ}
		i, ok := index[k]
		if !ok {
			i = len(rows)
			index[k] = i
			rows = append(rows, MonthlyTotal{Month: k.month, Type: typ})
		}
		rows[i].Sum += value(r.TotalGrossAmount)
	}
	slices.SortFunc(rows, func(a, b MonthlyTotal) int {
		return cmp.Or(cmp.Compare(a.Month, b.Month), cmp.Compare(a.Type, b.Type))
	})
	return rows
}

// CompareVAT sums the VAT of income and expense. Delta is expense VAT minus
// income VAT.
func CompareVAT(receipts []*receipt.Receipt) VATComparison {
	var v VATComparison
	for _, r := range receipts {
		if r.IsCredit {
			v.IncomeVAT += value(r.VATAmount)
		} else {
			v.ExpenseVAT += value(r.VATAmount)
		}
	}
	v.Delta = v.ExpenseVAT - v.IncomeVAT
	return v
}

func sumByCompany(receipts []*receipt.Receipt, keep func(*receipt.Receipt) bool) []CompanyTotal {
	index := make(map[string]int)
	rows := make([]CompanyTotal, 0)
	for _, r := range receipts {
		if !keep(r) {
			continue
		}
		company := text(r.CompanyName)
		i, ok := index[company]
		if !ok {
			i = len(rows)
			index[company] = i
			rows = append(rows, CompanyTotal{Company: company})
		}
		rows[i].NetAmount += value(r.TotalNetAmount)
	}
	slices.SortFunc(rows, func(a, b CompanyTotal) int {
		return cmp.Or(cmp.Compare(b.NetAmount, a.NetAmount), cmp.Compare(a.Company, b.Company))
	})
	return rows
}

// TopCompaniesByNetAmount returns the k companies with the highest net sum
// among income (isCredit) or expense receipts
func TopCompaniesByNetAmount(receipts []*receipt.Receipt, isCredit bool, k int) []CompanyTotal {
	if k <= 0 {
		return []CompanyTotal{}
	}
	rows := sumByCompany(receipts, func(r *receipt.Receipt) bool {
		return r.IsCredit == isCredit
	})
	if len(rows) > k {
		rows = rows[:k]
	}
	return rows
}

// IncomeByLocation sums gross income per sales location, highest first
func IncomeByLocation(receipts []*receipt.Receipt) []LocationTotal {
	index := make(map[string]int)
	rows := make([]LocationTotal, 0)
	for _, r := range receipts {
		if !r.IsCredit {
			continue
		}
		location := receipt.SalesLocation(r)
		i, ok := index[location]
		if !ok {
			i = len(rows)
			index[location] = i
			rows = append(rows, LocationTotal{Location: location})
		}
		rows[i].Gross += value(r.TotalGrossAmount)
	}
	slices.SortFunc(rows, func(a, b LocationTotal) int {
		return cmp.Or(cmp.Compare(b.Gross, a.Gross), cmp.Compare(a.Location, b.Location))
	})
	return rows
}

// OtherIncomeCompanies lists income companies outside the known sales
// locations whose net sum exceeds threshold
func OtherIncomeCompanies(receipts []*receipt.Receipt, threshold float64) []CompanyTotal {
	rows := sumByCompany(receipts, func(r *receipt.Receipt) bool {
		return r.IsCredit && receipt.SalesLocation(r) == receipt.LocationOther
	})
	return slices.DeleteFunc(rows, func(c CompanyTotal) bool {
		return c.NetAmount <= threshold
	})
}
