package classify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/zombor/hofbuch/internal/receipt"
)

// ClassSummary is a product class with the number of its rules
type ClassSummary struct {
	receipt.ProductClass
	RuleCount int64 `json:"rule_count"`
}

// checkClassName trims name and makes sure no other class uses it
func (e *Engine) checkClassName(ctx context.Context, name, selfID string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("product class name cannot be empty: %w", receipt.ErrValidation)
	}
	existing, err := e.store.FindProductClassByName(ctx, name)
	switch {
	case errors.Is(err, receipt.ErrNotFound):
		return name, nil
	case err != nil:
		return "", fmt.Errorf("looking up product class: %w", err)
	case existing.ID != selfID:
		return "", fmt.Errorf("product class '%s' %w", name, receipt.ErrDuplicate)
	}
	return name, nil
}

// CreateClass adds a product class
func (e *Engine) CreateClass(ctx context.Context, name string) (*receipt.ProductClass, error) {
	name, err := e.checkClassName(ctx, name, "")
	if err != nil {
		return nil, err
	}

	now := e.timeSource.Now()
	class := &receipt.ProductClass{
		ID:        e.idGenerator.Generate(),
		Name:      name,
		CreatedOn: now,
		UpdatedOn: now,
	}
	if err := e.store.CreateProductClass(ctx, class); err != nil {
		return nil, fmt.Errorf("saving product class: %w", err)
	}
	return class, nil
}

// RenameClass changes the name of a product class
func (e *Engine) RenameClass(ctx context.Context, id, name string) (*receipt.ProductClass, error) {
	class, err := e.store.GetProductClass(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting product class: %w", err)
	}
	name, err = e.checkClassName(ctx, name, id)
	if err != nil {
		return nil, err
	}

	class.Name = name
	class.UpdatedOn = e.timeSource.Now()
	if err := e.store.SaveProductClass(ctx, class); err != nil {
		return nil, fmt.Errorf("updating product class: %w", err)
	}
	return class, nil
}

// GetClass retrieves a product class
func (e *Engine) GetClass(ctx context.Context, id string) (*receipt.ProductClass, error) {
	class, err := e.store.GetProductClass(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting product class: %w", err)
	}
	return class, nil
}

// ListClasses returns all product classes by name with their rule counts
func (e *Engine) ListClasses(ctx context.Context) ([]ClassSummary, error) {
	classes, err := e.store.ListProductClasses(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing product classes: %w", err)
	}
	counts, err := e.store.CountRulesByClass(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting rules: %w", err)
	}

	summaries := make([]ClassSummary, 0, len(classes))
	for _, c := range classes {
		summaries = append(summaries, ClassSummary{ProductClass: *c, RuleCount: counts[c.ID]})
	}
	return summaries, nil
}

// DeleteClass removes a product class together with its rules. Its products
// become unclassified.
func (e *Engine) DeleteClass(ctx context.Context, id string) (receipt.ClassDeletion, error) {
	deletion, err := e.store.DeleteProductClass(ctx, id)
	if err != nil {
		return receipt.ClassDeletion{}, fmt.Errorf("deleting product class: %w", err)
	}
	slog.Info("Deleted product class", "class_id", id,
		"products_cleared", deletion.ProductsCleared, "rules_deleted", deletion.RulesDeleted)
	return deletion, nil
}

// CreateRule adds a rule to a product class. The pattern must compile.
func (e *Engine) CreateRule(ctx context.Context, classID, pattern string) (*receipt.ClassificationRule, error) {
	if err := ValidatePattern(pattern); err != nil {
		return nil, err
	}
	if _, err := e.store.GetProductClass(ctx, classID); err != nil {
		return nil, fmt.Errorf("getting product class: %w", err)
	}

	now := e.timeSource.Now()
	rule := &receipt.ClassificationRule{
		ID:             e.idGenerator.Generate(),
		Regex:          pattern,
		ProductClassID: classID,
		CreatedOn:      now,
		UpdatedOn:      now,
	}
	if err := e.store.CreateRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("saving rule: %w", err)
	}
	return rule, nil
}

// UpdateRule replaces the pattern of a rule
func (e *Engine) UpdateRule(ctx context.Context, id, pattern string) (*receipt.ClassificationRule, error) {
	if err := ValidatePattern(pattern); err != nil {
		return nil, err
	}
	rule, err := e.store.GetRule(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting rule: %w", err)
	}

	rule.Regex = pattern
	rule.UpdatedOn = e.timeSource.Now()
	if err := e.store.SaveRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("updating rule: %w", err)
	}
	return rule, nil
}

// DeleteRule removes a rule
func (e *Engine) DeleteRule(ctx context.Context, id string) error {
	if err := e.store.DeleteRule(ctx, id); err != nil {
		return fmt.Errorf("deleting rule: %w", err)
	}
	return nil
}

// ListRules returns the rules of a class, or all rules when classID is empty
func (e *Engine) ListRules(ctx context.Context, classID string) ([]*receipt.ClassificationRule, error) {
	rules, err := e.store.ListRules(ctx, classID)
	if err != nil {
		return nil, fmt.Errorf("listing rules: %w", err)
	}
	return rules, nil
}
