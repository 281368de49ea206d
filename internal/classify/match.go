package classify

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/zombor/hofbuch/internal/receipt"
)

// ErrInvalidPattern is returned for rule patterns that are empty or do not compile
var ErrInvalidPattern = errors.New("Invalid regex pattern")

// compile builds the case-insensitive matcher for a rule pattern
func compile(pattern string) (*regexp.Regexp, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, fmt.Errorf("%w: pattern cannot be empty", ErrInvalidPattern)
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPattern, err)
	}
	return re, nil
}

// ValidatePattern reports whether pattern can be stored as a rule
func ValidatePattern(pattern string) error {
	_, err := compile(pattern)
	return err
}

// Match returns the products whose name contains a match for pattern,
// ignoring case. An invalid pattern matches nothing; the error says why.
func Match(pattern string, products []*receipt.Product) ([]*receipt.Product, error) {
	re, err := compile(pattern)
	if err != nil {
		return []*receipt.Product{}, err
	}
	return matchCompiled(re, products), nil
}

func matchCompiled(re *regexp.Regexp, products []*receipt.Product) []*receipt.Product {
	matched := make([]*receipt.Product, 0)
	for _, p := range products {
		if p.Name != "" && re.MatchString(p.Name) {
			matched = append(matched, p)
		}
	}
	return matched
}
