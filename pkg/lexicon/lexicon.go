// Package lexicon is the boundary to the Icelandic lexical analysis service:
// tokenization with token kinds, lemmatization, sentence parsing and the
// inflection database.
package lexicon

import (
	"context"
	"errors"
	"strings"
)

// ErrParseFailed is returned when the parser produced no tree for a sentence.
var ErrParseFailed = errors.New("sentence could not be parsed")

// TokenKind classifies a token.
type TokenKind string

const (
	KindWord        TokenKind = "word"
	KindPerson      TokenKind = "person"
	KindNumber      TokenKind = "number"
	KindPunctuation TokenKind = "punctuation"
	KindOther       TokenKind = "other"
)

// Token is one token of analyzed text. Start and End are character (rune)
// offsets into the text that was analyzed.
type Token struct {
	Text  string    `json:"text"`
	Kind  TokenKind `json:"kind"`
	Lemma string    `json:"lemma,omitempty"`
	Start int       `json:"start"`
	End   int       `json:"end"`
}

// Sentence is a run of tokens delimited by the tokenizer.
type Sentence struct {
	Start  int     `json:"start"`
	End    int     `json:"end"`
	Tokens []Token `json:"tokens"`
}

// Text returns the sentence's slice of the analyzed text.
func (s Sentence) Text(src string) string {
	return Slice(src, s.Start, s.End)
}

// Tokenizer splits text into sentences of tagged tokens.
type Tokenizer interface {
	Tokenize(ctx context.Context, text string) ([]Sentence, error)
}

// Parser parses a single sentence. The returned tokens carry the lemma
// the parse tree assigns them (the indefinite nominative form for nouns
// and adjectives). Returns ErrParseFailed when no tree is found.
type Parser interface {
	Parse(ctx context.Context, sentence string) ([]Token, error)
}

// Inflector returns every inflected surface form of a lemma.
type Inflector interface {
	Inflections(ctx context.Context, lemma string) ([]string, error)
}

// Analyzer is the full lexical service.
type Analyzer interface {
	Tokenizer
	Parser
	Inflector
}

// Lemmas tokenizes text and returns the lowercase lemmas of its word
// tokens separated by spaces, suitable for a full text search vector.
func Lemmas(ctx context.Context, tok Tokenizer, text string) (string, error) {
	sentences, err := tok.Tokenize(ctx, text)
	if err != nil {
		return "", err
	}
	var out []string
	for _, s := range sentences {
		for _, t := range s.Tokens {
			if t.Kind != KindWord && t.Kind != KindPerson {
				continue
			}
			lemma := t.Lemma
			if lemma == "" {
				lemma = t.Text
			}
			out = append(out, strings.ToLower(strings.TrimSuffix(lemma, ".")))
		}
	}
	return strings.Join(out, " "), nil
}

// Slice returns the characters [start, end) of s.
func Slice(s string, start, end int) string {
	r := []rune(s)
	if start < 0 {
		start = 0
	}
	if end > len(r) {
		end = len(r)
	}
	if start >= end {
		return ""
	}
	return string(r[start:end])
}
