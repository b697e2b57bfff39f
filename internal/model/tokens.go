package model

// EstimateTokens approximates the token count of text when the API does not
// report an authoritative number. Roughly 4 characters per token for English
// prose; non-empty text always counts at least one token.
func EstimateTokens(text string) int64 {
	if text == "" {
		return 0
	}
	n := int64(len(text) / 4)
	if n < 1 {
		n = 1
	}
	return n
}
