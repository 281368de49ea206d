package classify

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/zombor/hofbuch/internal/receipt"
)

// Store is the part of the entity store the engine works on. *receipt.GormDB
// implements it.
type Store interface {
	ListProducts(ctx context.Context, filter receipt.ProductFilter) ([]*receipt.Product, error)
	AssignProductClass(ctx context.Context, productIDs []string, classID string) (int64, error)
	ClearProductClass(ctx context.Context, classID string) (int64, error)
	CountProducts(ctx context.Context) (total, classified int64, err error)

	CreateProductClass(ctx context.Context, class *receipt.ProductClass) error
	SaveProductClass(ctx context.Context, class *receipt.ProductClass) error
	GetProductClass(ctx context.Context, id string) (*receipt.ProductClass, error)
	FindProductClassByName(ctx context.Context, name string) (*receipt.ProductClass, error)
	ListProductClasses(ctx context.Context) ([]*receipt.ProductClass, error)
	CountRulesByClass(ctx context.Context) (map[string]int64, error)
	DeleteProductClass(ctx context.Context, id string) (receipt.ClassDeletion, error)

	CreateRule(ctx context.Context, rule *receipt.ClassificationRule) error
	SaveRule(ctx context.Context, rule *receipt.ClassificationRule) error
	GetRule(ctx context.Context, id string) (*receipt.ClassificationRule, error)
	ListRules(ctx context.Context, classID string) ([]*receipt.ClassificationRule, error)
	DeleteRule(ctx context.Context, id string) error
}

// Engine classifies income products into product classes
type Engine struct {
	store       Store
	idGenerator receipt.IDGenerator
	timeSource  receipt.TimeSource
}

// Status counts classified and unclassified products
type Status struct {
	Total        int64 `json:"total"`
	Classified   int64 `json:"classified"`
	Unclassified int64 `json:"unclassified"`
}

// NewEngine creates an Engine with default ID generator and time source
func NewEngine(store Store) *Engine {
	return NewEngineWithDeps(store, receipt.DefaultIDGenerator(), receipt.DefaultTimeSource())
}

// NewEngineWithDeps creates an Engine with custom dependencies for testing
func NewEngineWithDeps(store Store, idGen receipt.IDGenerator, timeSrc receipt.TimeSource) *Engine {
	return &Engine{
		store:       store,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// UnclassifiedProducts returns unclassified products of credit receipts. With
// a rule ID, only products matching that rule are returned.
func (e *Engine) UnclassifiedProducts(ctx context.Context, ruleID string) ([]*receipt.Product, error) {
	credit := true
	products, err := e.store.ListProducts(ctx, receipt.ProductFilter{Unclassified: true, Credit: &credit})
	if err != nil {
		return nil, fmt.Errorf("listing unclassified products: %w", err)
	}
	if ruleID == "" {
		return products, nil
	}

	rule, err := e.store.GetRule(ctx, ruleID)
	if err != nil {
		return nil, fmt.Errorf("getting rule: %w", err)
	}
	matched, err := Match(rule.Regex, products)
	if err != nil {
		slog.Warn("Stored rule does not compile", "rule_id", rule.ID, "regex", rule.Regex, "error", err)
	}
	return matched, nil
}

// AssignClass points the products at the class, overwriting any earlier
// assignment, and returns how many products were updated
func (e *Engine) AssignClass(ctx context.Context, productIDs []string, classID string) (int64, error) {
	if _, err := e.store.GetProductClass(ctx, classID); err != nil {
		return 0, fmt.Errorf("getting product class: %w", err)
	}
	if len(productIDs) == 0 {
		return 0, nil
	}
	n, err := e.store.AssignProductClass(ctx, productIDs, classID)
	if err != nil {
		return 0, fmt.Errorf("assigning product class: %w", err)
	}
	slog.Info("Assigned product class", "class_id", classID, "count", n)
	return n, nil
}

// PreviewBatch returns the unclassified products matched by any rule of the
// class, each product once, in store order
func (e *Engine) PreviewBatch(ctx context.Context, classID string) ([]*receipt.Product, error) {
	if _, err := e.store.GetProductClass(ctx, classID); err != nil {
		return nil, fmt.Errorf("getting product class: %w", err)
	}
	rules, err := e.store.ListRules(ctx, classID)
	if err != nil {
		return nil, fmt.Errorf("listing rules: %w", err)
	}

	matchers := make([]*regexp.Regexp, 0, len(rules))
	for _, rule := range rules {
		re, err := compile(rule.Regex)
		if err != nil {
			slog.Warn("Skipping rule that does not compile", "rule_id", rule.ID, "regex", rule.Regex, "error", err)
			continue
		}
		matchers = append(matchers, re)
	}

	candidates, err := e.UnclassifiedProducts(ctx, "")
	if err != nil {
		return nil, err
	}

	preview := make([]*receipt.Product, 0)
	for _, p := range candidates {
		if p.Name == "" {
			continue
		}
		for _, re := range matchers {
			if re.MatchString(p.Name) {
				preview = append(preview, p)
				break
			}
		}
	}
	return preview, nil
}

// BatchAssign assigns every product PreviewBatch proposes to the class
func (e *Engine) BatchAssign(ctx context.Context, classID string) (int64, error) {
	preview, err := e.PreviewBatch(ctx, classID)
	if err != nil {
		return 0, err
	}
	ids := make([]string, 0, len(preview))
	for _, p := range preview {
		ids = append(ids, p.ID)
	}
	return e.AssignClass(ctx, ids, classID)
}

// ResetClass unclassifies every product of the class
func (e *Engine) ResetClass(ctx context.Context, classID string) (int64, error) {
	if _, err := e.store.GetProductClass(ctx, classID); err != nil {
		return 0, fmt.Errorf("getting product class: %w", err)
	}
	n, err := e.store.ClearProductClass(ctx, classID)
	if err != nil {
		return 0, fmt.Errorf("resetting product class: %w", err)
	}
	slog.Info("Reset product class", "class_id", classID, "count", n)
	return n, nil
}

// ResetAll unclassifies every product
func (e *Engine) ResetAll(ctx context.Context) (int64, error) {
	n, err := e.store.ClearProductClass(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("resetting classification: %w", err)
	}
	slog.Info("Reset all product classes", "count", n)
	return n, nil
}

// TestPattern validates pattern and returns the unclassified products it matches
func (e *Engine) TestPattern(ctx context.Context, pattern string) ([]*receipt.Product, error) {
	re, err := compile(pattern)
	if err != nil {
		return nil, err
	}
	candidates, err := e.UnclassifiedProducts(ctx, "")
	if err != nil {
		return nil, err
	}
	return matchCompiled(re, candidates), nil
}

// Status returns the classification progress over all products
func (e *Engine) Status(ctx context.Context) (*Status, error) {
	total, classified, err := e.store.CountProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting products: %w", err)
	}
	return &Status{Total: total, Classified: classified, Unclassified: total - classified}, nil
}
