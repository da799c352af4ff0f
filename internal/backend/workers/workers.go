// Package workers provides the built in worker functions shipped with
// the worker binary: an echo worker for connectivity checks and a
// document word scanner used for code completion.
package workers

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/mitchellh/mapstructure"
)

// Worker names as registered by the worker binary.
const (
	EchoName          = "echo"
	DocumentWordsName = "document_words"
)

// maxCompletions caps the number of suggestions returned for one
// request. Editors only show a screenful anyway.
const maxCompletions = 500

// Echo returns the request data unchanged. Useful for round-trip
// checks and latency probes.
func Echo(data any) (any, error) {
	return data, nil
}

// CompletionRequest is the payload of a document_words request.
type CompletionRequest struct {
	Code     string `mapstructure:"code"`
	Line     int    `mapstructure:"line"`
	Column   int    `mapstructure:"column"`
	Path     string `mapstructure:"path"`
	Encoding string `mapstructure:"encoding"`
	Prefix   string `mapstructure:"prefix"`
}

// DocumentWords scans the document text for identifier-like words and
// returns the unique ones matching the completion prefix, sorted.
func DocumentWords(data any) (any, error) {
	var req CompletionRequest
	if err := mapstructure.Decode(data, &req); err != nil {
		return nil, fmt.Errorf("decode completion request: %w", err)
	}

	words := scanWords(req.Code)
	prefix := strings.ToLower(req.Prefix)

	out := make([]string, 0, len(words))
	for _, w := range words {
		if prefix != "" && !strings.HasPrefix(strings.ToLower(w), prefix) {
			continue
		}
		// Offering the prefix back to the user is pointless.
		if w == req.Prefix {
			continue
		}
		out = append(out, w)
		if len(out) == maxCompletions {
			break
		}
	}
	return out, nil
}

// scanWords extracts the unique identifier-like tokens from text,
// sorted. A token starts with a letter or underscore and continues
// with letters, digits and underscores.
func scanWords(text string) []string {
	seen := make(map[string]struct{})
	var start int
	inWord := false

	flush := func(end int) {
		if !inWord {
			return
		}
		inWord = false
		word := text[start:end]
		if len(word) > 1 {
			seen[word] = struct{}{}
		}
	}

	for i, r := range text {
		switch {
		case unicode.IsLetter(r) || r == '_':
			if !inWord {
				start = i
				inWord = true
			}
		case unicode.IsDigit(r) && inWord:
			// Digits continue a word but never start one.
		default:
			flush(i)
		}
	}
	flush(len(text))

	words := make([]string, 0, len(seen))
	for w := range seen {
		words = append(words, w)
	}
	sort.Strings(words)
	return words
}
