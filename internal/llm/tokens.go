package llm

import (
	"log/slog"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	tokenCounter     *tiktoken.Tiktoken
	tokenCounterOnce sync.Once
)

func initTokenCounter() {
	tokenCounterOnce.Do(func() {
		tk, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			slog.Warn("token estimation will use fallback method", "error", err)
			return
		}
		tokenCounter = tk
	})
}

// EstimateTokens counts prompt tokens with cl100k_base, or approximates four
// runes per token when the encoding is unavailable.
func EstimateTokens(messages []Message) int {
	initTokenCounter()

	total := 0
	for _, m := range messages {
		if tokenCounter != nil {
			total += len(tokenCounter.Encode(m.Content, nil, nil))
			continue
		}
		runes := 0
		for range m.Content {
			runes++
		}
		total += (runes + 3) / 4
	}
	return total
}
