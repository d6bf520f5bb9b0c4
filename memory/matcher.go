package memory

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/BaSui01/memflow/config"
)

// =============================================================================
// 🔍 概念匹配器
// =============================================================================

// ConceptMatcher 从自由文本提取归一化的概念标签。
// 匹配策略是数据而非代码：词汇表与模式规则都来自配置。
type ConceptMatcher interface {
	ExtractConcepts(text string) []string
}

// patternRule 是编译后的模式规则。
type patternRule struct {
	re    *regexp.Regexp
	label string
}

// VocabMatcher 默认匹配器：词汇表包含检查 + 正则模式提取。
type VocabMatcher struct {
	vocabulary []string
	patterns   []patternRule
}

// NewVocabMatcher 从配置构建匹配器，规则正则在此一次性编译。
func NewVocabMatcher(cfg config.MatcherConfig) (*VocabMatcher, error) {
	patterns := make([]patternRule, 0, len(cfg.Patterns))
	for _, rule := range cfg.Patterns {
		re, err := regexp.Compile(rule.Regex)
		if err != nil {
			return nil, fmt.Errorf("compile matcher pattern %q: %w", rule.Regex, err)
		}
		patterns = append(patterns, patternRule{re: re, label: rule.Label})
	}

	vocabulary := make([]string, 0, len(cfg.Vocabulary))
	for _, term := range cfg.Vocabulary {
		if term = strings.ToLower(strings.TrimSpace(term)); term != "" {
			vocabulary = append(vocabulary, term)
		}
	}

	return &VocabMatcher{vocabulary: vocabulary, patterns: patterns}, nil
}

// ExtractConcepts 返回文本中找到的概念标签，词汇表命中在前，
// 模式提取在后，保持稳定顺序。
func (m *VocabMatcher) ExtractConcepts(text string) []string {
	lower := strings.ToLower(text)
	var found []string

	for _, term := range m.vocabulary {
		if strings.Contains(lower, term) {
			found = append(found, term)
		}
	}

	for _, rule := range m.patterns {
		for _, match := range rule.re.FindAllStringSubmatchIndex(lower, -1) {
			label := rule.re.ExpandString(nil, rule.label, lower, match)
			found = append(found, string(label))
		}
	}

	return found
}
