package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// StringList decodes a JSON value that may arrive either as a single string
// or as an array of strings. The extraction service is not consistent about
// this, so the flexible shape is normalized here and never leaks further.
type StringList []string

// UnmarshalJSON accepts "x", ["x","y"], or null.
func (s *StringList) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*s = nil
		return nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var arr []string
		if err := json.Unmarshal(data, &arr); err != nil {
			return fmt.Errorf("string list: %w", err)
		}
		*s = arr
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err != nil {
		return fmt.Errorf("string list: %w", err)
	}
	if single == "" {
		*s = nil
		return nil
	}
	*s = []string{single}
	return nil
}

// SynonymEntry maps a colloquial term to the formal policy term.
// Slang may hold several terms separated by 、 or commas.
type SynonymEntry struct {
	Slang  string `json:"slang"`
	Formal string `json:"formal"`
}

// FAQItem is one extracted question/answer pair.
type FAQItem struct {
	Q string `json:"q"`
	A string `json:"a"`
}

// BasicInfo holds product identification fields.
type BasicInfo struct {
	ProductName   string     `json:"product_name"`
	ProductCode   string     `json:"product_code"`
	Company       string     `json:"company"`
	Currency      StringList `json:"currency"`
	ProductType   string     `json:"product_type"`
	PaymentPeriod string     `json:"payment_period"`
}

// Conditions holds eligibility and fee terms.
type Conditions struct {
	AgeRange         string `json:"age_range"`
	PremiumLimit     string `json:"premium_limit"`
	FeesAndDiscounts string `json:"fees_and_discounts"`
}

// Coverage holds benefit terms.
type Coverage struct {
	DeathBenefit    string     `json:"death_benefit"`
	MaturityBenefit string     `json:"maturity_benefit"`
	OtherBenefits   StringList `json:"other_benefits"`
}

// Investment holds investment-linked product features.
type Investment struct {
	IsInvestmentLinked bool       `json:"is_investment_linked"`
	Features           StringList `json:"features"`
	Risks              StringList `json:"risks"`
}

// RagData holds retrieval-oriented fields produced by the extraction service.
type RagData struct {
	Keywords       StringList     `json:"keywords"`
	SynonymMapping []SynonymEntry `json:"synonym_mapping"`
	TargetAudience string         `json:"target_audience"`
	FAQ            []FAQItem      `json:"faq"`
	Chunks         StringList     `json:"chunks"`
}

// PolicyDocument is the structured payload for one source document.
// Produced by the external extraction process; never mutated here.
type PolicyDocument struct {
	SourceFilename string     `json:"source_filename"`
	BasicInfo      BasicInfo  `json:"basic_info"`
	Conditions     Conditions `json:"conditions"`
	Coverage       Coverage   `json:"coverage"`
	Investment     Investment `json:"investment"`
	RagData        RagData    `json:"rag_data"`
}

// Validate checks the minimum fields the pipeline depends on.
func (d *PolicyDocument) Validate() error {
	if d.BasicInfo.ProductName == "" {
		return fmt.Errorf("basic_info.product_name is required: %w", ErrInvalidDocument)
	}
	return nil
}
