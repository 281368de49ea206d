package scanning

import (
	"fmt"
	"strings"
)

// PromptVariant selects the user prompt sent along with the receipt images
type PromptVariant string

const (
	PromptStandard    PromptVariant = "Standard"
	PromptWochenmarkt PromptVariant = "Wochenmarkt"
	PromptKemmtsEina  PromptVariant = "Kemmts Eina"
	PromptCustom      PromptVariant = "Manuelle Eingabe"
)

// PromptVariants lists the variants in display order
var PromptVariants = []PromptVariant{PromptStandard, PromptWochenmarkt, PromptKemmtsEina, PromptCustom}

// ParsePromptVariant accepts a variant name case-insensitively. An empty name
// selects the standard prompt.
func ParsePromptVariant(name string) (PromptVariant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return PromptStandard, nil
	}
	for _, v := range PromptVariants {
		if strings.EqualFold(name, string(v)) {
			return v, nil
		}
	}
	if strings.EqualFold(name, "custom") {
		return PromptCustom, nil
	}
	return "", fmt.Errorf("unknown prompt variant %q", name)
}

const extractFields = "Extract: Receipt number, Date, Total gross amount, total net amount, VAT amount, company name, description and is_credit."

// systemPrompt is shared by all providers
const systemPrompt = "You are an expert receipt extraction algorithm. " +
	"Only extract relevant information from the text. " +
	"If you do not know the value of an attribute asked to extract, return null for the attribute's value. " +
	"The language is German and the most receipts are from Austria. " +
	"Your clients are Austrian farmers that you help with digitalizing their receipts. " +
	`You always respond in JSON format with the following schema:
{
    receipt_number: string,
    date: string (format: YYYY-MM-DD),
    total_gross_amount: number,
    total_net_amount: number,
    vat_amount: number,
    company_name: string,
    description: string,
    is_credit: boolean
}. ` +
	"null is allowed for any attribute. (Do not use 'null', but null as a value.) " +
	"The description should also be in German and should briefly describe the products or services bought. " +
	"The 'is_credit' flag determines if it is a receipt (false) or a credit note (true). " +
	"E.g. for milk, cheese or wood it often is a credit note, as we earn money from that. Mostly, though it is a receipt. " +
	"Some receipts include handwritten text. This text is more important than the printed text. " +
	"If some of the articles are crossed out, ignore them and adapt the total amounts."

// promptText returns the user prompt for a variant
func promptText(variant PromptVariant, custom string) (string, error) {
	switch variant {
	case PromptStandard, "":
		return extractFields, nil
	case PromptWochenmarkt:
		return extractFields + " Note: Here we have a receipt from the weekly market. " +
			"The weekly market is done by two farmers and only one of them is relevant for us. " +
			"Extract the text from the small sheet with the title 'Verkäufe pro Warengruppe'. " +
			"Then number '1' with Warengruppe 'HIASN' is relevant and should be extracted as the GROSS amount. " +
			"The VAT always is 10% from the GROSS amount. The NET amount is the GROSS amount minus the VAT. " +
			"The company name should be 'Marktwagen'. The description should be 'Marktwagen' as well. " +
			"The 'is_credit' should be 'True' as it is a credit note.", nil
	case PromptKemmtsEina:
		return extractFields + " Note: This is a receipt from our local market, hence is_credit is true. " +
			"The company name is 'Kemmts Eina'. The VAT is 10% from the GROSS amount.", nil
	case PromptCustom:
		custom = strings.TrimSpace(custom)
		if custom == "" {
			return "", fmt.Errorf("custom prompt is required for %q", PromptCustom)
		}
		return custom, nil
	}
	return "", fmt.Errorf("unknown prompt variant %q", variant)
}
