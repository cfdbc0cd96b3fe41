package adapter

// Usage captures normalized token usage.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func normalizeUsage(prompt, completion, total int) *Usage {
	if prompt == 0 && completion == 0 && total == 0 {
		return nil
	}
	if total == 0 {
		total = prompt + completion
	}
	return &Usage{PromptTokens: prompt, CompletionTokens: completion, TotalTokens: total}
}

// AddUsage sums two usage records; nil counts as zero.
func AddUsage(a, b *Usage) *Usage {
	if a == nil && b == nil {
		return nil
	}
	out := &Usage{}
	for _, u := range []*Usage{a, b} {
		if u == nil {
			continue
		}
		out.PromptTokens += u.PromptTokens
		out.CompletionTokens += u.CompletionTokens
		out.TotalTokens += u.TotalTokens
	}
	return out
}
