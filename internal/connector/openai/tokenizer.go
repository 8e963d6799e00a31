package openai

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/intellirouter/intellirouter/internal/types"
)

// modelEncodings maps model name prefixes to their tiktoken encoding,
// mirrored from BaSui01-agentflow/llm/tokenizer/tiktoken.go.
var modelEncodings = map[string]string{
	"gpt-4o":        "o200k_base",
	"gpt-4-turbo":   "cl100k_base",
	"gpt-4":         "cl100k_base",
	"gpt-3.5-turbo": "cl100k_base",
}

// tokenizer lazily initializes one tiktoken encoding per model prefix
// encountered, since GetEncoding does non-trivial setup work.
type tokenizer struct {
	mu   sync.Mutex
	encs map[string]*tiktoken.Tiktoken
}

func newTokenizer() *tokenizer {
	return &tokenizer{encs: make(map[string]*tiktoken.Tiktoken)}
}

func (t *tokenizer) encodingFor(model string) *tiktoken.Tiktoken {
	name := "cl100k_base"
	best := 0
	for prefix, enc := range modelEncodings {
		if len(prefix) > best && len(model) >= len(prefix) && model[:len(prefix)] == prefix {
			name = enc
			best = len(prefix)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if enc, ok := t.encs[name]; ok {
		return enc
	}
	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		return nil
	}
	t.encs[name] = enc
	return enc
}

// countMessages approximates the OpenAI chat-format token overhead:
// 4 tokens per message plus role/content tokens, 3 tokens conversation
// close, same accounting as BaSui01-agentflow's CountMessages.
func (t *tokenizer) countMessages(model string, msgs []types.Message) int {
	enc := t.encodingFor(model)
	if enc == nil {
		// Conservative fallback when tiktoken has no data file available.
		total := 0
		for _, m := range msgs {
			total += len(m.ContentText())/4 + 4
		}
		return total + 3
	}

	total := 0
	for _, m := range msgs {
		total += 4
		total += len(enc.Encode(m.ContentText(), nil, nil))
		total += len(enc.Encode(m.Role, nil, nil))
	}
	return total + 3
}
