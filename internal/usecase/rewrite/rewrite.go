// Package rewrite resolves pronouns in short follow-up questions by merging
// them with the conversation history via an LLM.
package rewrite

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/coverquery/coverquery/internal/domain"
	"github.com/coverquery/coverquery/internal/metrics"
)

// systemPrompt forces the model to merge the user profile from history with
// the keywords of the latest question, instead of answering either alone.
const systemPrompt = `你是一個搜尋關鍵字優化機器人。你的唯一任務是將「對話歷史」與「最新問題」合併，產生一個「完整的搜尋語句」。

【合成公式】：
錯誤模式：只輸出歷史背景 (如："30歲男性") -> 禁止！
錯誤模式：只輸出最新問題 (如："壽險推薦") -> 禁止！
正確模式：[使用者畫像] + [最新問題的具體關鍵字]

【執行規則】：
1. 提取畫像：從歷史中找出年齡、性別、職業 (例如：58歲男性)。
2. 鎖定意圖：從「最新問題」中找出他想問的商品或話題 (例如：外幣投資)。
3. 指代還原：如果最新問題有「那...呢」、「它...」，請替換為上一個討論的商品；如果是新話題，則保留新話題。

【範例】：
History: "我是30歲工程師"
Current: "那醫療險呢？"
Result: "適合30歲工程師的醫療險推薦"

History: "58歲退休"
Current: "想找投資"
Result: "58歲退休族適合的投資型保單"

請直接輸出結果，不要解釋。`

const (
	// historyWindow caps how many trailing turns feed the rewrite prompt.
	historyWindow = 4

	// safetyNetMinBytes: queries of two Han characters or fewer ("那呢",
	// "是的") carry no intent worth re-appending.
	safetyNetMinBytes = 6
)

// generator produces one completion for a system+user exchange.
type generator interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Rewriter turns short follow-ups into self-contained search statements.
type Rewriter struct {
	gen      generator
	maxRunes int
	logger   *zap.Logger
}

// New creates a rewriter. maxRunes is the trigger threshold: longer queries
// are assumed self-contained and skip the LLM round-trip.
func New(gen generator, maxRunes int, logger *zap.Logger) *Rewriter {
	return &Rewriter{gen: gen, maxRunes: maxRunes, logger: logger}
}

// ShouldRewrite reports whether the query needs history-aware rewriting.
func (r *Rewriter) ShouldRewrite(history []domain.Turn, query string) bool {
	return len(history) > 0 && utf8.RuneCountInString(query) < r.maxRunes
}

// Rewrite merges the history with the query. Returns the rewritten search
// target and whether rewriting succeeded; on any failure the original query
// comes back and retrieval proceeds untouched.
func (r *Rewriter) Rewrite(ctx context.Context, history []domain.Turn, query string) (string, bool) {
	userContent := buildUserContent(history, query)

	raw, err := r.gen.Complete(ctx, systemPrompt, userContent)
	if err != nil {
		metrics.PipelineFallbackTotal.WithLabelValues("rewrite").Inc()
		r.logger.Warn("query rewrite failed, using original query", zap.Error(err))
		return query, false
	}

	rewritten := strings.ReplaceAll(strings.TrimSpace(raw), "\n", " ")
	if rewritten == "" {
		metrics.PipelineFallbackTotal.WithLabelValues("rewrite").Inc()
		return query, false
	}

	// Safety net: the model sometimes keeps the profile and drops the actual
	// question. A clunky concatenation retrieves better than a lost keyword.
	if len(query) > safetyNetMinBytes && !strings.Contains(rewritten, query) {
		rewritten = rewritten + " " + query
	}

	r.logger.Debug("query rewritten",
		zap.String("original", query), zap.String("rewritten", rewritten))
	return rewritten, true
}

func buildUserContent(history []domain.Turn, query string) string {
	start := len(history) - historyWindow
	if start < 0 {
		start = 0
	}

	var lines []string
	for _, turn := range history[start:] {
		lines = append(lines, fmt.Sprintf("%s: %s", turn.Role, turn.Content))
	}

	return fmt.Sprintf("對話歷史:\n%s\n\n使用者最新問題: %s",
		strings.Join(lines, "\n"), query)
}
