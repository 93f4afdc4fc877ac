// Package tokens counts model tokens for context window budgeting.
package tokens

import (
	"strings"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"github.com/zatekoja/procedurecopilot/backend/internal/domain/providers"
)

// TiktokenCounter counts tokens with the BPE encoding of a model.
type TiktokenCounter struct {
	encoding *tiktoken.Tiktoken
}

var _ providers.TokenCounter = (*TiktokenCounter)(nil)

// NewTiktokenCounter loads the encoding for model. Loading may fetch the BPE
// ranks on first use.
func NewTiktokenCounter(model string) (*TiktokenCounter, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return nil, err
	}
	return &TiktokenCounter{encoding: enc}, nil
}

// Count returns the number of tokens in text.
func (c *TiktokenCounter) Count(text string) int {
	return len(c.encoding.Encode(text, nil, nil))
}

// ApproximateCounter estimates tokens as one per four characters, rounded up
// per word, so it errs toward overcounting. Used when no encoding can be loaded.
type ApproximateCounter struct{}

var _ providers.TokenCounter = ApproximateCounter{}

// Count returns an estimate of the number of tokens in text.
func (ApproximateCounter) Count(text string) int {
	total := 0
	for _, word := range strings.Fields(text) {
		total += (utf8.RuneCountInString(word) + 3) / 4
	}
	return total
}

// NewCounter returns a tiktoken counter, or the approximate counter when the
// encoding is unavailable.
func NewCounter(model string) (providers.TokenCounter, error) {
	c, err := NewTiktokenCounter(model)
	if err != nil {
		return ApproximateCounter{}, err
	}
	return c, nil
}
