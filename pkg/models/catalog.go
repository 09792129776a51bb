package models

import "time"

// ModelInfo describes a routable model and its price.
type ModelInfo struct {
	Provider       string        `json:"provider" yaml:"provider"`
	Model          string        `json:"model" yaml:"model"`
	CostPer1K      float64       `json:"cost_per_1k" yaml:"cost_per_1k"`
	Latency        time.Duration `json:"latency" yaml:"latency"`
	ContextWindow  int           `json:"context_window" yaml:"context_window"`
	Quality        float64       `json:"quality" yaml:"quality"`
	Capabilities   []string      `json:"capabilities,omitempty" yaml:"capabilities"`
	GeneralPurpose bool          `json:"general_purpose" yaml:"general_purpose"`
}

// EstimateCost prices a number of tokens with this model.
func (m ModelInfo) EstimateCost(tokens int) float64 {
	return m.CostPer1K * float64(tokens) / 1000
}

// HasCapabilities reports whether the model offers every required capability.
func (m ModelInfo) HasCapabilities(required []string) bool {
	for _, r := range required {
		found := false
		for _, c := range m.Capabilities {
			if c == r {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
