package scanning

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// receiptSchemaJSON accepts null for every attribute
const receiptSchemaJSON = `{
  "type": "object",
  "properties": {
    "receipt_number": {"type": ["string", "number", "null"]},
    "date": {"type": ["string", "null"]},
    "total_gross_amount": {"type": ["number", "null"]},
    "total_net_amount": {"type": ["number", "null"]},
    "vat_amount": {"type": ["number", "null"]},
    "company_name": {"type": ["string", "null"]},
    "description": {"type": ["string", "null"]},
    "is_credit": {"type": ["boolean", "null"]},
    "products": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "properties": {
          "name": {"type": "string"},
          "amount": {"type": ["number", "null"]},
          "unit": {"type": ["string", "null"]},
          "price": {"type": ["number", "null"]},
          "is_bio": {"type": ["boolean", "null"]}
        },
        "required": ["name"]
      }
    }
  }
}`

var receiptSchema = jsonschema.MustCompileString("receipt.json", receiptSchemaJSON)

// dateLayouts are tried in order when normalizing extracted dates
var dateLayouts = []string{
	"2006-01-02",
	"02.01.2006",
	"2.1.2006",
	"02.01.06",
	"2006/01/02",
	"02/01/2006",
	"02-01-2006",
}

// parseReceiptJSON parses a model response into ReceiptData
func parseReceiptJSON(text string) (*ReceiptData, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON object in response")
	}
	text = text[startIdx : endIdx+1]

	var doc any
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}
	if err := receiptSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("response does not match schema: %w", err)
	}

	var raw struct {
		ReceiptData
		ReceiptNumber any `json:"receipt_number"`
	}
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("unmarshaling receipt: %w", err)
	}

	data := raw.ReceiptData
	switch v := raw.ReceiptNumber.(type) {
	case string:
		data.ReceiptNumber = &v
	case float64:
		s := strconv.FormatFloat(v, 'f', -1, 64)
		data.ReceiptNumber = &s
	}

	data.ReceiptNumber = cleanString(data.ReceiptNumber)
	data.CompanyName = cleanString(data.CompanyName)
	data.Description = cleanString(data.Description)
	data.Date = normalizeDate(data.Date)

	return &data, nil
}

// cleanString trims s and treats blank values as missing
func cleanString(s *string) *string {
	if s == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*s)
	if trimmed == "" || strings.EqualFold(trimmed, "null") {
		return nil
	}
	return &trimmed
}

// normalizeDate converts recognizable dates to YYYY-MM-DD and drops the rest
func normalizeDate(date *string) *string {
	date = cleanString(date)
	if date == nil {
		return nil
	}
	for _, layout := range dateLayouts {
		if d, err := time.Parse(layout, *date); err == nil {
			iso := d.Format("2006-01-02")
			return &iso
		}
	}
	return nil
}
