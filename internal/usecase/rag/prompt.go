package rag

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/coverquery/coverquery/internal/domain"
)

// defaultSystemPrompt pins the advisor persona and forbids fabrication.
const defaultSystemPrompt = "你是一個專業的保險顧問。請根據以下提供的『參考資料』回答使用者的問題。" +
	"如果資料中沒有答案，請直接說『資料不足，無法回答』，不要捏造事實。"

// User-facing replies for the two distinct empty outcomes. Telling the user
// which stage came up empty changes how they should rephrase.
const (
	msgNoCandidates = "抱歉，資料庫中找不到相關資訊，請嘗試其他關鍵字。"
	msgFilteredOut  = "雖然有相關文檔，但經過相關性檢測後被過濾掉了。"
)

// LoadSystemPrompt reads the prompt override file, falling back to the
// built-in prompt when the path is unset or unreadable.
func LoadSystemPrompt(path string, logger *zap.Logger) string {
	if path == "" {
		return defaultSystemPrompt
	}
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("system prompt file unreadable, using built-in prompt",
			zap.String("path", path), zap.Error(err))
		return defaultSystemPrompt
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return defaultSystemPrompt
	}
	return prompt
}

// buildContext assembles the generation context: a product overview block
// for every hit file, then the selected passages with their scores.
func buildContext(ranked []domain.ScoredChunk, summaries domain.SummaryMap) string {
	var b strings.Builder

	b.WriteString("=== 相關商品基本介紹 ===\n")
	for _, source := range hitSources(ranked) {
		if summary, ok := summaries[source]; ok {
			fmt.Fprintf(&b, "來源: %s\n%s\n", source, summary.Intro)
		}
	}
	b.WriteString("========================\n\n")

	b.WriteString("=== 詳細檢索片段 ===\n")
	for _, chunk := range ranked {
		fmt.Fprintf(&b, "[精選片段] (關聯度:%.1f) 來源: %s\n內容: %s\n\n",
			chunk.Score, chunk.Source, chunk.Text)
	}
	return b.String()
}

// buildUserPrompt pairs the assembled context with the search target. The
// rewritten query goes to the generator too: it carries the resolved
// pronouns the raw query lacks.
func buildUserPrompt(context, searchTarget string) string {
	return fmt.Sprintf("參考資料：\n%s\n\n使用者問題：%s", context, searchTarget)
}

// hitSources returns the distinct source files of ranked chunks, sorted.
func hitSources(ranked []domain.ScoredChunk) []string {
	seen := make(map[string]bool)
	for _, chunk := range ranked {
		seen[chunk.Source] = true
	}
	sources := make([]string, 0, len(seen))
	for s := range seen {
		sources = append(sources, s)
	}
	sort.Strings(sources)
	return sources
}
