// Package classifier maps the free text remarks of a minute to a decision
// status using an ordered table of Icelandic boilerplate prefixes.
package classifier

import (
	"context"
	"regexp"
	"strings"

	"github.com/planwatch/planwatch-engine/pkg/lexicon"
	"github.com/planwatch/planwatch-engine/pkg/models"
)

type rule struct {
	status   models.DecisionStatus
	patterns []*regexp.Regexp
}

func prefixes(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(`^(?:` + e + `)[ .]`)
	}
	return out
}

// rules are evaluated top to bottom and the first match wins. Patterns
// overlap ("samþykkt að fresta" is a delay, not an approval), so the
// order is part of the contract.
var rules = []rule{
	{models.StatusDismissed, prefixes(
		`vísað frá`,
		`máli(?:nu)? vísað frá`,
		`umsókn(?:inni)? vísað frá`,
	)},
	{models.StatusDelayed, prefixes(
		`frestað`,
		`samþykkt að fresta`,
		`afgreiðslu frestað`,
		`erindinu frestað`,
	)},
	{models.StatusNoComment, prefixes(
		`ekki (?:er )?gerð athugasemd`,
		`ekki eru gerðar athugasemdir`,
		`engar athugasemdir`,
	)},
	{models.StatusDenied, prefixes(
		`synjað`,
		`hafnað`,
		`umsókn(?:inni)? (?:er )?synjað`,
	)},
	{models.StatusNegative, prefixes(
		`neikvætt`,
		`neikvæð umsögn`,
	)},
	{models.StatusPositive, prefixes(
		`jákvætt`,
		`jákvæð umsögn`,
	)},
	{models.StatusApproved, prefixes(
		`samþykkt`,
		`samþykkir`,
		`samþykkt með vísan`,
	)},
	{models.StatusReferred, prefixes(
		`vísað til`,
		`vísað (?:er )?til umsagnar`,
		`máli(?:nu)? vísað til`,
		`erindinu vísað til`,
	)},
	{models.StatusAcknowledged, prefixes(
		`lagt fram`,
		`lögð fram`,
		`kynnt`,
		`til kynningar`,
	)},
}

var corrections = []struct {
	pattern *regexp.Regexp
	replace string
}{
	// "byggingar -og lóðarleyfi" is a common typo for "byggingar- og lóðarleyfi"
	{regexp.MustCompile(`(\p{L}) -og (\p{L})`), "$1- og $2"},
}

// droppedToken is removed before matching: "sbr." ("cf.") interrupts
// otherwise identical boilerplate.
const droppedToken = "sbr."

// Classify returns the decision status for remarks, or nil when no rule matches.
// Only the first sentence is considered.
func Classify(ctx context.Context, tok lexicon.Tokenizer, remarks string) *models.DecisionStatus {
	sentence := Normalize(ctx, tok, remarks)
	if sentence == "" {
		return nil
	}
	for _, r := range rules {
		for _, p := range r.patterns {
			if p.MatchString(sentence) {
				status := r.status
				return &status
			}
		}
	}
	return nil
}

// Normalize reduces remarks to the form the rule table matches against:
// the lowercased first sentence, corrected, word tokens only, joined by
// single spaces and ending in one period. Returns "" when the remarks hold
// no words or cannot be tokenized.
func Normalize(ctx context.Context, tok lexicon.Tokenizer, remarks string) string {
	sentences, err := tok.Tokenize(ctx, remarks)
	if err != nil || len(sentences) == 0 {
		return ""
	}

	first := strings.ToLower(sentences[0].Text(remarks))
	for _, c := range corrections {
		first = c.pattern.ReplaceAllString(first, c.replace)
	}

	retokenized, err := tok.Tokenize(ctx, first)
	if err != nil {
		return ""
	}

	var words []string
	for _, s := range retokenized {
		for _, t := range s.Tokens {
			if t.Kind != lexicon.KindWord || t.Text == droppedToken {
				continue
			}
			words = append(words, t.Text)
		}
	}
	if len(words) == 0 {
		return ""
	}
	return strings.Join(words, " ") + "."
}
