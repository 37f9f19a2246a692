// Package history repairs, sizes, and compresses stored conversation
// history into a context safe and small enough to submit to the
// completion provider.
package history

import (
	"unicode/utf8"

	"github.com/omnimind-ai/omnimind/internal/llm"
)

// Estimate approximates the token count of a message sequence.
//
// Each message's text contributes half its rune count. The corpus is
// mixed CJK/Latin: CJK runs near one token per character and Latin near
// one token per four characters, so half a rune is a workable middle
// ground without shipping a tokenizer. Image parts are priced by the
// provider separately and contribute nothing to the textual budget.
func Estimate(msgs []llm.Message) int {
	total := 0
	for _, m := range msgs {
		total += utf8.RuneCountInString(m.Text()) / 2
	}
	return total
}
