package domain

import (
	"encoding/json"
	"time"
)

// Latencies travel as whole milliseconds on the wire.

func (c Case) MarshalJSON() ([]byte, error) {
	type plain Case
	return json.Marshal(struct {
		plain
		SuggestionLatencyMS int64 `json:"suggestion_latency_ms,omitempty"`
	}{plain(c), c.SuggestionLatency.Milliseconds()})
}

func (c *Case) UnmarshalJSON(b []byte) error {
	type plain Case
	aux := struct {
		*plain
		SuggestionLatencyMS int64 `json:"suggestion_latency_ms"`
	}{plain: (*plain)(c)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	c.SuggestionLatency = msDuration(aux.SuggestionLatencyMS)
	return nil
}

func (r ClassificationResult) MarshalJSON() ([]byte, error) {
	type plain ClassificationResult
	return json.Marshal(struct {
		plain
		LatencyMS int64 `json:"latency_ms"`
	}{plain(r), r.Latency.Milliseconds()})
}

func (r *ClassificationResult) UnmarshalJSON(b []byte) error {
	type plain ClassificationResult
	aux := struct {
		*plain
		LatencyMS int64 `json:"latency_ms"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	r.Latency = msDuration(aux.LatencyMS)
	return nil
}

func (s SuggestedResponse) MarshalJSON() ([]byte, error) {
	type plain SuggestedResponse
	return json.Marshal(struct {
		plain
		LatencyMS int64 `json:"latency_ms"`
	}{plain(s), s.Latency.Milliseconds()})
}

func (s *SuggestedResponse) UnmarshalJSON(b []byte) error {
	type plain SuggestedResponse
	aux := struct {
		*plain
		LatencyMS int64 `json:"latency_ms"`
	}{plain: (*plain)(s)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	s.Latency = msDuration(aux.LatencyMS)
	return nil
}

func msDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
