package prompt

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter abstracts token counting so the builder is testable with a
// fixed counter and keeps working when the BPE data is unavailable.
type TokenCounter interface {
	Count(text string) int
}

// TiktokenCounter counts with the cl100k_base encoding, matching the
// budget the backing models tokenize against.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func NewTiktokenCounter() (*TiktokenCounter, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("load cl100k_base encoding: %w", err)
	}
	return &TiktokenCounter{enc: enc}, nil
}

func (c *TiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// ApproxCounter estimates roughly four bytes per token. Good enough to keep
// prompts bounded when the encoding cannot be loaded at startup.
type ApproxCounter struct{}

func (ApproxCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}
