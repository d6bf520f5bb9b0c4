package memory

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/memflow/config"
)

func newMatcher(t *testing.T) *VocabMatcher {
	t.Helper()
	matcher, err := NewVocabMatcher(config.DefaultMatcherConfig())
	require.NoError(t, err)
	return matcher
}

func TestVocabMatcher_VocabularyHits(t *testing.T) {
	t.Parallel()

	matcher := newMatcher(t)

	concepts := matcher.ExtractConcepts("I want to learn Python recursion and loops")
	assert.Contains(t, concepts, "python")
	assert.Contains(t, concepts, "recursion")
	assert.Contains(t, concepts, "loops")
	assert.NotContains(t, concepts, "javascript")
}

func TestVocabMatcher_CaseInsensitive(t *testing.T) {
	t.Parallel()

	matcher := newMatcher(t)

	concepts := matcher.ExtractConcepts("PYTHON and JavaScript basics")
	assert.Contains(t, concepts, "python")
	assert.Contains(t, concepts, "javascript")
}

func TestVocabMatcher_DayPattern(t *testing.T) {
	t.Parallel()

	matcher := newMatcher(t)

	tests := []struct {
		text string
		want string
	}{
		{"show me day 5", "day_5"},
		{"Day 12 material please", "day_12"},
		{"day3 exercises", "day_3"},
	}

	for _, tt := range tests {
		concepts := matcher.ExtractConcepts(tt.text)
		assert.Contains(t, concepts, tt.want, "text %q", tt.text)
	}
}

func TestVocabMatcher_MultipleDayReferences(t *testing.T) {
	t.Parallel()

	matcher := newMatcher(t)

	concepts := matcher.ExtractConcepts("compare day 1 with day 2")
	assert.Contains(t, concepts, "day_1")
	assert.Contains(t, concepts, "day_2")
}

func TestVocabMatcher_NoMatches(t *testing.T) {
	t.Parallel()

	matcher := newMatcher(t)

	concepts := matcher.ExtractConcepts("the weather is nice today")
	assert.Empty(t, concepts)
}

func TestVocabMatcher_InvalidPattern(t *testing.T) {
	t.Parallel()

	cfg := config.MatcherConfig{
		Patterns: []config.PatternRule{{Regex: "day\\s*(", Label: "day_$1"}},
	}
	_, err := NewVocabMatcher(cfg)
	require.Error(t, err)
}

func TestVocabMatcher_CustomVocabulary(t *testing.T) {
	t.Parallel()

	matcher, err := NewVocabMatcher(config.MatcherConfig{
		Vocabulary: []string{"Kubernetes", "  docker  ", ""},
	})
	require.NoError(t, err)

	concepts := matcher.ExtractConcepts("deploying docker on kubernetes")
	assert.ElementsMatch(t, []string{"kubernetes", "docker"}, concepts)
}

// 性质：任意嵌入在句子里的 day N 引用都被提取为 day_N 标签，
// 且词汇表命中总是先于模式命中。
func TestProperty_DayPatternExtraction(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	matcher, err := NewVocabMatcher(config.DefaultMatcherConfig())
	require.NoError(t, err)

	properties.Property("day references are normalized to day_N labels", prop.ForAll(
		func(day uint16) bool {
			text := fmt.Sprintf("please review day %d material", day)
			concepts := matcher.ExtractConcepts(text)

			want := fmt.Sprintf("day_%d", day)
			for _, c := range concepts {
				if c == want {
					return true
				}
			}
			t.Logf("missing %q in %v", want, concepts)
			return false
		},
		gen.UInt16(),
	))

	properties.Property("vocabulary hits precede pattern hits", prop.ForAll(
		func(day uint16) bool {
			text := fmt.Sprintf("python on day %d", day)
			concepts := matcher.ExtractConcepts(text)
			if len(concepts) < 2 {
				t.Logf("expected at least 2 concepts, got %v", concepts)
				return false
			}
			return concepts[0] == "python"
		},
		gen.UInt16(),
	))

	properties.TestingRun(t)
}
