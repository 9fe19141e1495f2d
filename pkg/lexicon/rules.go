package lexicon

import (
	"context"
	"strings"
	"unicode"
)

// Abbreviations recognized by RuleTokenizer. The trailing period belongs to
// the token, so these never end a sentence.
var abbreviations = map[string]bool{
	"ehf.": true, "hf.": true, "sf.": true, "slf.": true, "ses.": true, "svf.": true, "bs.": true,
	"sbr.": true, "dags.": true, "nr.": true, "kr.": true, "skv.": true, "mgr.": true, "gr.": true,
	"ath.": true, "frh.": true, "m.a.": true, "o.fl.": true, "þ.e.": true, "t.d.": true,
	"þ.m.t.": true, "s.s.": true, "u.þ.b.": true, "m.v.": true,
}

// RuleTokenizer is a dependency free tokenizer used when no lexical service
// is configured. It recognizes words, numbers, punctuation and common
// abbreviations; it does not tag person names and lemmas are the lowercase
// surface form.
type RuleTokenizer struct{}

// NewRuleTokenizer creates a RuleTokenizer.
func NewRuleTokenizer() *RuleTokenizer {
	return &RuleTokenizer{}
}

var _ Tokenizer = (*RuleTokenizer)(nil)

// Tokenize splits text into sentences ending at '.', '!' or '?'.
func (t *RuleTokenizer) Tokenize(_ context.Context, text string) ([]Sentence, error) {
	runes := []rune(text)
	var sentences []Sentence
	var current []Token

	flush := func() {
		if len(current) == 0 {
			return
		}
		sentences = append(sentences, Sentence{
			Start:  current[0].Start,
			End:    current[len(current)-1].End,
			Tokens: current,
		})
		current = nil
	}

	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case unicode.IsLetter(r):
			end := scanWord(runes, i)
			tok := Token{Kind: KindWord, Start: i, End: end}
			if abbrEnd, ok := scanAbbreviation(runes, i); ok {
				tok.End = abbrEnd
			}
			tok.Text = string(runes[tok.Start:tok.End])
			tok.Lemma = strings.ToLower(tok.Text)
			current = append(current, tok)
			i = tok.End
		case unicode.IsDigit(r):
			end := i
			for end < len(runes) && (unicode.IsDigit(runes[end]) ||
				((runes[end] == '.' || runes[end] == ',') && end+1 < len(runes) && unicode.IsDigit(runes[end+1]))) {
				end++
			}
			current = append(current, Token{Text: string(runes[i:end]), Kind: KindNumber, Start: i, End: end})
			i = end
		default:
			current = append(current, Token{Text: string(r), Kind: KindPunctuation, Start: i, End: i + 1})
			i++
			if r == '.' || r == '!' || r == '?' {
				flush()
			}
		}
	}
	flush()
	return sentences, nil
}

// scanWord returns the end of the word starting at i. Hyphens join word
// parts, and a trailing hyphen is kept ("byggingar- og").
func scanWord(runes []rune, i int) int {
	end := i
	for end < len(runes) {
		r := runes[end]
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			end++
			continue
		}
		if r == '-' && end > i {
			end++
			continue
		}
		break
	}
	return end
}

// scanAbbreviation extends a word starting at i over dotted abbreviations
// such as "ehf." and "o.fl.".
func scanAbbreviation(runes []rune, i int) (int, bool) {
	best := -1
	end := i
	for end < len(runes) && len(runes[i:end]) < 8 {
		for end < len(runes) && unicode.IsLetter(runes[end]) {
			end++
		}
		if end >= len(runes) || runes[end] != '.' {
			break
		}
		end++
		if abbreviations[strings.ToLower(string(runes[i:end]))] {
			best = end
		}
	}
	return best, best > 0
}
