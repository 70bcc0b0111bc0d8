package domain

import (
	"fmt"
	"sort"
	"strings"
)

// ProductSummary is a short synopsis of one product, built once per
// synchronization pass and held in memory for the process lifetime. It is
// injected into the generation context and into rerank judge documents.
type ProductSummary struct {
	Name  string
	Intro string
}

// NewProductSummary builds the synopsis from a parsed document.
func NewProductSummary(doc *PolicyDocument) ProductSummary {
	var b strings.Builder
	b.WriteString("【商品總覽】\n")
	fmt.Fprintf(&b, "名稱: %s\n", doc.BasicInfo.ProductName)
	fmt.Fprintf(&b, "類型: %s\n", doc.BasicInfo.ProductType)
	if len(doc.Investment.Features) > 0 {
		fmt.Fprintf(&b, "特色: %s\n", strings.Join(doc.Investment.Features, "、"))
	}
	fmt.Fprintf(&b, "適合對象: %s\n", doc.RagData.TargetAudience)

	return ProductSummary{
		Name:  doc.BasicInfo.ProductName,
		Intro: b.String(),
	}
}

// SummaryMap maps source filename to its product summary.
type SummaryMap map[string]ProductSummary

// SynonymTable maps colloquial term to formal term, aggregated across all
// documents. Read-only after a synchronization pass.
type SynonymTable map[string]string

// AddSynonyms splits each entry's slang on 、 and commas and records every
// resulting term. Callers feed documents in sorted filename order, so a
// collision resolves deterministically to the last writer.
func (t SynonymTable) AddSynonyms(entries []SynonymEntry) {
	for _, e := range entries {
		if e.Formal == "" {
			continue
		}
		for _, s := range strings.FieldsFunc(e.Slang, func(r rune) bool {
			return r == '、' || r == ','
		}) {
			if s = strings.TrimSpace(s); s != "" {
				t[s] = e.Formal
			}
		}
	}
}

// SortedSlang returns the slang terms in a stable order for deterministic
// query expansion.
func (t SynonymTable) SortedSlang() []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
