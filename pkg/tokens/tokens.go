// Package tokens estimates how many model tokens a piece of text costs.
package tokens

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// Counter counts tokens for budget decisions.
type Counter interface {
	Count(text string) int
}

// TiktokenCounter counts with a BPE encoding.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter loads the named encoding, e.g. "cl100k_base".
// Loading may need network access the first time.
func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, err
	}
	return &TiktokenCounter{enc: enc}, nil
}

func (c *TiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// ApproxCounter assumes roughly four tokens per three words.
type ApproxCounter struct{}

func (ApproxCounter) Count(text string) int {
	words := len(strings.Fields(text))
	return (words*4 + 2) / 3
}

// NewCounter returns a cl100k_base counter, or ApproxCounter when the
// encoding cannot be loaded.
func NewCounter() Counter {
	c, err := NewTiktokenCounter("cl100k_base")
	if err != nil {
		return ApproxCounter{}
	}
	return c
}
