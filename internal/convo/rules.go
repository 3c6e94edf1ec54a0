package convo

import (
	"strings"
	"unicode"

	"agrisync/internal/nlu"
)

// LanguageRule forces a language from the raw message body.
type LanguageRule interface {
	Language(body string) (string, bool)
}

// IntentRule forces an intent from the raw message body.
type IntentRule interface {
	Intent(body string) (string, bool)
}

// ScriptRule matches when the body contains any rune of Table.
type ScriptRule struct {
	Table *unicode.RangeTable
	Lang  string
}

// Language implements LanguageRule.
func (r ScriptRule) Language(body string) (string, bool) {
	for _, ch := range body {
		if unicode.Is(r.Table, ch) {
			return r.Lang, true
		}
	}
	return "", false
}

// LiteralIntentRule matches a trimmed body equal to Literal.
type LiteralIntentRule struct {
	Literal string
	Target  string
}

// Intent implements IntentRule.
func (r LiteralIntentRule) Intent(body string) (string, bool) {
	if strings.TrimSpace(body) == r.Literal {
		return r.Target, true
	}
	return "", false
}

var (
	devanagariBlock = &unicode.RangeTable{R16: []unicode.Range16{{Lo: 0x0900, Hi: 0x097F, Stride: 1}}}
	kannadaBlock    = &unicode.RangeTable{R16: []unicode.Range16{{Lo: 0x0C80, Hi: 0x0CFF, Stride: 1}}}
)

// DefaultLanguageRules detects Hindi and Kannada by Unicode block. Checked in order.
func DefaultLanguageRules() []LanguageRule {
	return []LanguageRule{
		ScriptRule{Table: devanagariBlock, Lang: "hi"},
		ScriptRule{Table: kannadaBlock, Lang: "kn"},
	}
}

// DefaultIntentRules maps the numeric menu shortcuts.
func DefaultIntentRules() []IntentRule {
	return []IntentRule{
		LiteralIntentRule{Literal: "1", Target: nlu.IntentPriceCheck},
		LiteralIntentRule{Literal: "2", Target: nlu.IntentLogistics},
	}
}

func resolveLanguage(rules []LanguageRule, body, fallback string) string {
	for _, rule := range rules {
		if lang, ok := rule.Language(body); ok {
			return lang
		}
	}
	return fallback
}

func resolveIntent(rules []IntentRule, body, fallback string) string {
	for _, rule := range rules {
		if intent, ok := rule.Intent(body); ok {
			return intent
		}
	}
	return fallback
}
