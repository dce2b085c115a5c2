package clinical

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

type matcher struct {
	category Category
	patterns []*regexp.Regexp
}

// PatternExtractor finds vocabulary phrases case-insensitively on word
// boundaries plus numeric lab values. It is immutable after construction and
// safe for concurrent use.
type PatternExtractor struct {
	matchers []matcher
}

func NewExtractor(vocab Vocabulary) *PatternExtractor {
	labs := make([]*regexp.Regexp, 0, len(labValuePatterns))
	for _, p := range labValuePatterns {
		labs = append(labs, regexp.MustCompile(`(?i)`+p))
	}

	return &PatternExtractor{
		matchers: []matcher{
			{category: Symptoms, patterns: compilePhrases(vocab.Symptoms)},
			{category: Medications, patterns: compilePhrases(vocab.Medications)},
			{category: Procedures, patterns: compilePhrases(vocab.Procedures)},
			{category: LabValues, patterns: labs},
		},
	}
}

func compilePhrases(phrases []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(phrases))
	for _, phrase := range phrases {
		words := strings.Fields(phrase)
		if len(words) == 0 {
			continue
		}
		for i, w := range words {
			words[i] = regexp.QuoteMeta(w)
		}
		out = append(out, regexp.MustCompile(`(?i)\b`+strings.Join(words, `\s+`)+`\b`))
	}
	return out
}

func (x *PatternExtractor) Extract(text string) Entities {
	entities := NewEntities()
	if strings.TrimSpace(text) == "" {
		return entities
	}

	offsets := newRuneOffsets(text)
	for _, m := range x.matchers {
		var found []Entity
		for _, re := range m.patterns {
			for _, loc := range re.FindAllStringIndex(text, -1) {
				found = append(found, Entity{
					Text:  text[loc[0]:loc[1]],
					Start: offsets.at(loc[0]),
					End:   offsets.at(loc[1]),
				})
			}
		}
		sort.SliceStable(found, func(i, j int) bool {
			if found[i].Start != found[j].Start {
				return found[i].Start < found[j].Start
			}
			return found[i].End < found[j].End
		})
		entities[m.category] = dedupe(found)
	}
	return entities
}

// Summary counts entities per category, omitting empty categories.
func (x *PatternExtractor) Summary(text string) map[Category]int {
	return x.Extract(text).Counts()
}

func dedupe(in []Entity) []Entity {
	type key struct {
		text  string
		start int
	}
	seen := make(map[key]struct{}, len(in))
	out := make([]Entity, 0, len(in))
	for _, e := range in {
		k := key{lower(e.Text), e.Start}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, e)
	}
	return out
}

func lower(s string) string {
	return strings.ToLower(s)
}

type runeOffsets struct {
	text string
}

func newRuneOffsets(text string) runeOffsets {
	return runeOffsets{text: text}
}

func (r runeOffsets) at(byteIdx int) int {
	return utf8.RuneCountInString(r.text[:byteIdx])
}
