// Package extractor finds company names in minute text and maps every
// inflected occurrence to the name's canonical nominative form.
package extractor

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/planwatch/planwatch-engine/pkg/lexicon"
	"github.com/planwatch/planwatch-engine/pkg/models"
	"github.com/planwatch/planwatch-engine/pkg/textutil"
)

// CompanySuffixes are the legal form abbreviations that end a company name.
var CompanySuffixes = []string{"ehf.", "hf.", "sf.", "slf.", "ses.", "svf.", "bs."}

var suffixSet = func() map[string]bool {
	m := make(map[string]bool, len(CompanySuffixes))
	for _, s := range CompanySuffixes {
		m[s] = true
	}
	return m
}()

// companyPattern matches one to three capitalized words followed by a
// company suffix. Group 1 is the name including the suffix.
var companyPattern = regexp.MustCompile(
	`(?:^|[^\p{L}\p{N}])((?:\p{Lu}[\p{L}\p{N}&'\-\x{2013}]*\s+){1,3}(?:ehf|hf|sf|slf|ses|svf|bs)\.)`)

// maxScanTokens bounds the backward scan from a suffix token.
const maxScanTokens = 4

// Extractor resolves company names found in text to canonical names.
type Extractor struct {
	tokenizer lexicon.Tokenizer
	parser    lexicon.Parser
	logger    *zap.Logger
}

// New creates an Extractor. parser may be nil when no lexical service is
// configured; only person-named companies are then found.
func New(tokenizer lexicon.Tokenizer, parser lexicon.Parser, logger *zap.Logger) *Extractor {
	return &Extractor{
		tokenizer: tokenizer,
		parser:    parser,
		logger:    logger.Named("extractor"),
	}
}

// Candidates finds every company-looking phrase in text, keyed by its exact
// surface form. Spans are character offsets; repeated surfaces keep every span.
func Candidates(text string) map[string][]models.Span {
	out := make(map[string][]models.Span)
	for _, loc := range companyPattern.FindAllStringSubmatchIndex(text, -1) {
		start, end := loc[2], loc[3]
		surface := text[start:end]
		out[surface] = append(out[surface], models.Span{
			Start: utf8.RuneCountInString(text[:start]),
			End:   utf8.RuneCountInString(text[:end]),
		})
	}
	return out
}

// Extract returns canonical company names mapped to every span where an
// inflected form of the name occurs. Names that cannot be resolved with
// confidence are left out.
func (e *Extractor) Extract(ctx context.Context, text string) (map[string][]models.Span, error) {
	unresolved := Candidates(text)
	result := make(map[string][]models.Span)
	if len(unresolved) == 0 {
		return result, nil
	}

	sentences, err := e.tokenizer.Tokenize(ctx, text)
	if err != nil {
		return nil, err
	}

	e.resolvePersonNames(text, sentences, unresolved, result)

	if e.parser == nil {
		// A surface form may be inflected; it is never a canonical name.
		if len(unresolved) > 0 {
			e.logger.Debug("dropping company candidates, no parser configured",
				zap.Strings("candidates", sortedKeys(unresolved)))
		}
	} else {
		for _, sentence := range sentences {
			if len(unresolved) == 0 {
				break
			}
			e.resolveByParsing(ctx, text, sentence, unresolved, result)
		}
	}

	for name := range result {
		spans := result[name]
		sort.Slice(spans, func(i, j int) bool { return spans[i].Start < spans[j].Start })
	}
	return result, nil
}

// resolvePersonNames handles companies named after a person
// ("Guðmundar Jónassonar ehf." -> "Guðmundur Jónasson ehf."). The tokenizer
// tags the person name and supplies its nominative form.
func (e *Extractor) resolvePersonNames(text string, sentences []lexicon.Sentence, unresolved, result map[string][]models.Span) {
	for _, sentence := range sentences {
		tokens := sentence.Tokens
		for i := 0; i+1 < len(tokens); i++ {
			person, suffix := tokens[i], tokens[i+1]
			if person.Kind != lexicon.KindPerson || person.Lemma == "" || !suffixSet[strings.ToLower(suffix.Text)] {
				continue
			}

			surface, ok := surfaceEndingAt(unresolved, suffix.End)
			if !ok {
				continue
			}

			canonical := person.Lemma + " " + strings.ToLower(suffix.Text)
			span := models.Span{Start: person.Start, End: suffix.End}
			result[canonical] = appendSpan(result[canonical], span)
			for _, other := range unresolved[surface] {
				if other.End != span.End {
					result[canonical] = appendSpan(result[canonical], other)
				}
			}
			delete(unresolved, surface)

			e.logger.Debug("resolved person-named company",
				zap.String("surface", lexicon.Slice(text, span.Start, span.End)),
				zap.String("canonical", canonical))
		}
	}
}

// resolveByParsing lowercases the remaining candidates inside sentence,
// parses it, and scans backward from each suffix token for a run of tokens
// whose text equals a candidate. The canonical name joins the lemmas of
// that run, recased like the original.
func (e *Extractor) resolveByParsing(ctx context.Context, text string, sentence lexicon.Sentence, unresolved, result map[string][]models.Span) {
	var targets []string
	runes := []rune(sentence.Text(text))
	for surface, spans := range unresolved {
		inSentence := false
		for _, span := range spans {
			if span.Start >= sentence.Start && span.End <= sentence.End {
				lowerRunes(runes, span.Start-sentence.Start, span.End-sentence.Start)
				inSentence = true
			}
		}
		if inSentence {
			targets = append(targets, surface)
		}
	}
	if len(targets) == 0 {
		return
	}

	tokens, err := e.parser.Parse(ctx, string(runes))
	if err != nil {
		e.logger.Debug("dropping company candidates, sentence not parsed",
			zap.Strings("candidates", targets),
			zap.Error(err))
		return
	}

	for i, tok := range tokens {
		if !suffixSet[strings.ToLower(tok.Text)] {
			continue
		}

		for n := 1; n <= maxScanTokens && i-n >= 0; n++ {
			run := tokens[i-n : i+1]
			accumulated := normalizeForCompare(joinTexts(run))

			matched, stillPossible := "", false
			for _, target := range targets {
				if _, open := unresolved[target]; !open {
					continue
				}
				normalizedTarget := normalizeForCompare(target)
				if normalizedTarget == accumulated {
					matched = target
					break
				}
				if strings.HasSuffix(normalizedTarget, accumulated) {
					stillPossible = true
				}
			}

			if matched != "" {
				canonical := recase(matched, run)
				for _, span := range unresolved[matched] {
					result[canonical] = appendSpan(result[canonical], span)
				}
				delete(unresolved, matched)
				e.logger.Debug("resolved company name",
					zap.String("surface", matched),
					zap.String("canonical", canonical))
				break
			}
			if !stillPossible {
				break
			}
		}
	}
}

// surfaceEndingAt finds the candidate with an occurrence ending at end.
func surfaceEndingAt(unresolved map[string][]models.Span, end int) (string, bool) {
	for surface, spans := range unresolved {
		for _, span := range spans {
			if span.End == end {
				return surface, true
			}
		}
	}
	return "", false
}

func appendSpan(spans []models.Span, span models.Span) []models.Span {
	for _, s := range spans {
		if s == span {
			return spans
		}
	}
	return append(spans, span)
}

func lowerRunes(runes []rune, start, end int) {
	for i := start; i < end && i < len(runes); i++ {
		runes[i] = unicode.ToLower(runes[i])
	}
}

func joinTexts(tokens []lexicon.Token) string {
	parts := make([]string, len(tokens))
	for i, t := range tokens {
		parts[i] = t.Text
	}
	return strings.Join(parts, " ")
}

func normalizeForCompare(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(textutil.NormalizeDashes(s)), " "))
}

// recase joins the lemmas of run and applies the letter casing of each word
// of original: upper stays upper, capitalized becomes title case, anything
// else is lowercase.
func recase(original string, run []lexicon.Token) string {
	words := strings.Fields(original)
	parts := make([]string, len(run))
	for i, t := range run {
		lemma := t.Lemma
		if lemma == "" {
			lemma = t.Text
		}
		lemma = strings.ToLower(lemma)

		if i >= len(words) {
			parts[i] = lemma
			continue
		}
		switch casing(words[i]) {
		case upperCase:
			parts[i] = strings.ToUpper(lemma)
		case titleCase:
			parts[i] = title(lemma)
		default:
			parts[i] = lemma
		}
	}
	return strings.Join(parts, " ")
}

type letterCase int

const (
	lowerCase letterCase = iota
	titleCase
	upperCase
)

func casing(word string) letterCase {
	letters, upper := 0, 0
	for _, r := range word {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	first, _ := utf8.DecodeRuneInString(word)
	switch {
	case letters > 1 && upper == letters:
		return upperCase
	case unicode.IsUpper(first):
		return titleCase
	}
	return lowerCase
}

func title(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

func sortedKeys(m map[string][]models.Span) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
