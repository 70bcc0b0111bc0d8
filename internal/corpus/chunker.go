package corpus

import (
	"fmt"
	"strings"

	"github.com/coverquery/coverquery/internal/domain"
)

// faqGroupSize is the number of Q/A pairs folded into one derived chunk.
const faqGroupSize = 3

// BuildChunks returns the indexable text chunks for a document. A document
// that ships an explicit chunk list is taken as-is; otherwise chunks are
// derived from the structured fields: one overview chunk plus FAQ chunks.
func BuildChunks(doc *domain.PolicyDocument) []string {
	if explicit := cleanChunks(doc.RagData.Chunks); len(explicit) > 0 {
		return explicit
	}

	chunks := []string{overviewChunk(doc)}
	chunks = append(chunks, faqChunks(doc)...)
	return chunks
}

func cleanChunks(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, c := range raw {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

// overviewChunk folds the structured product fields into one text block so
// the product's identity travels with the embedding.
func overviewChunk(doc *domain.PolicyDocument) string {
	var b strings.Builder
	writeLine := func(label, value string) {
		if value = strings.TrimSpace(value); value != "" {
			fmt.Fprintf(&b, "%s: %s\n", label, value)
		}
	}

	writeLine("商品名稱", doc.BasicInfo.ProductName)
	writeLine("商品代碼", doc.BasicInfo.ProductCode)
	writeLine("公司", doc.BasicInfo.Company)
	writeLine("幣別", strings.Join(doc.BasicInfo.Currency, "、"))
	writeLine("商品類型", doc.BasicInfo.ProductType)
	writeLine("繳費年期", doc.BasicInfo.PaymentPeriod)
	writeLine("投保年齡", doc.Conditions.AgeRange)
	writeLine("保費限制", doc.Conditions.PremiumLimit)
	writeLine("費用與優惠", doc.Conditions.FeesAndDiscounts)
	writeLine("身故給付", doc.Coverage.DeathBenefit)
	writeLine("滿期給付", doc.Coverage.MaturityBenefit)
	writeLine("其他給付", strings.Join(doc.Coverage.OtherBenefits, "、"))
	if doc.Investment.IsInvestmentLinked {
		writeLine("投資特色", strings.Join(doc.Investment.Features, "、"))
		writeLine("投資風險", strings.Join(doc.Investment.Risks, "、"))
	}
	writeLine("適合對象", doc.RagData.TargetAudience)

	return strings.TrimRight(b.String(), "\n")
}

// faqChunks groups Q/A pairs into chunks of faqGroupSize, each prefixed
// with the product name so FAQ hits stay attributable.
func faqChunks(doc *domain.PolicyDocument) []string {
	faq := doc.RagData.FAQ
	if len(faq) == 0 {
		return nil
	}

	chunks := make([]string, 0, (len(faq)+faqGroupSize-1)/faqGroupSize)
	for start := 0; start < len(faq); start += faqGroupSize {
		end := min(start+faqGroupSize, len(faq))

		var b strings.Builder
		fmt.Fprintf(&b, "商品: %s 常見問答\n", doc.BasicInfo.ProductName)
		for _, item := range faq[start:end] {
			q := strings.TrimSpace(item.Q)
			a := strings.TrimSpace(item.A)
			if q == "" && a == "" {
				continue
			}
			fmt.Fprintf(&b, "Q: %s\nA: %s\n", q, a)
		}
		chunks = append(chunks, strings.TrimRight(b.String(), "\n"))
	}
	return chunks
}
