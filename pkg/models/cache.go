package models

import "time"

// CacheEntry is a cached provider response with the embedding of its prompt.
type CacheEntry struct {
	Prompt    string        `json:"prompt"`
	Response  string        `json:"response"`
	Embedding []float64     `json:"embedding"`
	Timestamp time.Time     `json:"timestamp"`
	TTL       time.Duration `json:"ttl"`
}

// CacheHit is a semantic cache lookup result.
type CacheHit struct {
	Response       string  `json:"response"`
	Similarity     float64 `json:"similarity"`
	OriginalPrompt string  `json:"original_prompt"`
}

// CacheStats reports cache performance metrics.
type CacheStats struct {
	Entries int64 `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}
