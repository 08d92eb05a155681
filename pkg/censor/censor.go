// Package censor filters comment text against a list of forbidden word patterns.
package censor

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"
	"unicode"
)

type Word struct {
	Text       string   `json:"text"`
	Pattern    string   `json:"pattern"`
	Exceptions []string `json:"exceptions"`

	regexPattern *regexp.Regexp
}

type Censor struct {
	bannedWords []Word
}

// New returns an empty Censor instance. An empty Censor accepts everything.
func New() *Censor {
	return &Censor{}
}

// LoadFromJSON loads banned words from a JSON file and compiles regexes.
func (c *Censor) LoadFromJSON(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var words []Word
	if err := json.Unmarshal(data, &words); err != nil {
		return err
	}

	for i, word := range words {
		words[i].regexPattern, err = regexp.Compile(word.Pattern)
		if err != nil {
			return fmt.Errorf("failed to compile pattern %q: %w", word.Pattern, err)
		}
	}

	c.bannedWords = words
	return nil
}

// Len returns the number of loaded patterns.
func (c *Censor) Len() int {
	return len(c.bannedWords)
}

func normalize(text string) string {
	return strings.TrimSpace(strings.ToLower(text))
}

// Check scans text for banned vocabulary using case-insensitive matching.
// Returns true if any word:
//   - Matches prohibited pattern(s)
//   - Isn't explicitly allowed in exceptions
func (c *Censor) Check(text string) bool {
	words := strings.FieldsFunc(normalize(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	for _, w := range words {
		for _, banned := range c.bannedWords {
			match := banned.regexPattern.FindString(w)
			if match == "" {
				continue
			}

			if !slices.Contains(banned.Exceptions, w) {
				return true
			}
		}
	}

	return false
}
