// Package safety classifies user input before it reaches the chat model.
// Classification is pure and local: no network calls, sub-millisecond.
package safety

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/davidbz/librarian/internal/observability"
)

// Verdict is the classification outcome. Reason is human-readable and only
// set when Allowed is false.
type Verdict struct {
	Allowed bool
	Reason  string
}

// Config contains filter tunables.
type Config struct {
	// ExtraDenylist extends the built-in denylist at startup.
	ExtraDenylist []string

	// ToneThreshold is the aggressive-tone score above which input is rejected.
	ToneThreshold float64
}

// Built-in denylist, English and Romanian. Matching is word-boundary and
// case-insensitive; diacritics are significant for the Romanian entries.
var builtinDenylist = []string{
	// English
	"hate", "violence", "racism", "racist", "sexism", "sexist",
	"discrimination", "harassment", "threat", "abuse", "slur",
	// Romanian
	"ură", "violență", "injurii", "blasfemii", "obscenități",
	"jigniri", "amenințare", "discriminare", "rasist", "vulgară",
}

// Stems recompiled into separator-tolerant patterns so "h a t e" or "h.a.t.e"
// is caught alongside the plain form.
var obfuscationStems = []string{"hate", "racist", "sexist", "slur"}

// Leetspeak digit/symbol substitutions undone before the denylist recheck.
var leetReplacer = strings.NewReplacer(
	"4", "a", "@", "a", "3", "e", "0", "o", "1", "i", "$", "s", "5", "s",
)

// Second-person accusatory patterns feeding the tone score.
var accusatoryPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\byou('re| are)\s+(so\s+)?(stupid|an idiot|useless|pathetic|worthless)\b`),
	regexp.MustCompile(`(?i)\be[sș]ti\s+(un\s+)?(prost|idiot|inutil|jalnic)\b`),
}

const (
	capsWeight       = 0.6
	exclWeight       = 0.3
	accusatoryWeight = 0.4
)

// Filter classifies input text as permitted or rejected.
type Filter struct {
	denylist      map[string]struct{}
	obfuscated    []*regexp.Regexp
	toneThreshold float64
}

// New builds a filter from config.
func New(cfg Config) *Filter {
	denylist := make(map[string]struct{}, len(builtinDenylist)+len(cfg.ExtraDenylist))
	for _, word := range builtinDenylist {
		denylist[strings.ToLower(word)] = struct{}{}
	}
	for _, word := range cfg.ExtraDenylist {
		word = strings.ToLower(strings.TrimSpace(word))
		if word != "" {
			denylist[word] = struct{}{}
		}
	}

	obfuscated := make([]*regexp.Regexp, 0, len(obfuscationStems))
	for _, stem := range obfuscationStems {
		letters := strings.Split(stem, "")
		obfuscated = append(obfuscated,
			regexp.MustCompile(`(?i)\b`+strings.Join(letters, `[\W_]*`)+`\b`))
	}

	threshold := cfg.ToneThreshold
	if threshold <= 0 {
		threshold = 0.5
	}

	return &Filter{
		denylist:      denylist,
		obfuscated:    obfuscated,
		toneThreshold: threshold,
	}
}

// Classify runs the checks in order: denylist, obfuscation patterns,
// aggressive tone. The filter fails open: an internal error must never block
// the system from responding, so a panic here logs and allows the input.
func (f *Filter) Classify(ctx context.Context, text string) (verdict Verdict) {
	defer func() {
		if r := recover(); r != nil {
			observability.FromContext(ctx).Error("safety filter internal error, failing open",
				observability.String("panic", fmt.Sprint(r)))
			verdict = Verdict{Allowed: true}
		}
	}()

	if strings.TrimSpace(text) == "" {
		return Verdict{Allowed: true}
	}

	if word, found := f.matchDenylist(text); found {
		return Verdict{Reason: fmt.Sprintf("contains the denylisted term %q", word)}
	}

	for _, pattern := range f.obfuscated {
		if pattern.MatchString(text) {
			return Verdict{Reason: "contains a disguised offensive term"}
		}
	}

	if score := toneScore(text); score >= f.toneThreshold {
		return Verdict{Reason: fmt.Sprintf("aggressive tone (score %.2f)", score)}
	}

	return Verdict{Allowed: true}
}

// matchDenylist checks every word of the normalized text against the
// denylist, then repeats the check with leetspeak substitutions undone.
func (f *Filter) matchDenylist(text string) (string, bool) {
	for _, pass := range []string{text, leetReplacer.Replace(text)} {
		for _, word := range tokenize(pass) {
			if _, found := f.denylist[word]; found {
				return word, true
			}
		}
	}
	return "", false
}

// tokenize lowercases and splits on anything that is not a letter or digit,
// keeping diacritics intact.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// toneScore combines an uppercase-word ratio, exclamation density and
// accusatory second-person patterns into a [0, ~1.3] score.
func toneScore(text string) float64 {
	words := strings.Fields(text)
	if len(words) == 0 {
		return 0
	}

	capsWords := 0
	for _, word := range words {
		if len([]rune(word)) > 2 && word == strings.ToUpper(word) && word != strings.ToLower(word) {
			capsWords++
		}
	}
	capsRatio := float64(capsWords) / float64(len(words))

	exclPerWord := float64(strings.Count(text, "!")) / float64(len(words))
	exclDensity := exclPerWord * 2
	if exclDensity > 1 {
		exclDensity = 1
	}

	score := capsWeight*capsRatio + exclWeight*exclDensity

	for _, pattern := range accusatoryPatterns {
		if pattern.MatchString(text) {
			score += accusatoryWeight
			break
		}
	}

	return score
}
