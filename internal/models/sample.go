package models

import "time"

// Sample is one decoded, converted and timestamped record.
type Sample struct {
	Seq       int64   `db:"seq" json:"seq"`
	Timestamp int64   `db:"ts_ms" json:"timestamp"`
	Voltage   float32 `db:"voltage_v" json:"voltage"`
	Current   float32 `db:"current_ma" json:"current"`
}

// RunSummary describes one conversion run.
type RunSummary struct {
	RunID          string    `json:"run_id"`
	Source         string    `json:"source"`
	Timezone       string    `json:"timezone,omitempty"`
	Anchored       bool      `json:"anchored"`
	Rows           int64     `json:"rows"`
	FirstTimestamp int64     `json:"first_timestamp"`
	LastTimestamp  int64     `json:"last_timestamp"`
	VoltageMin     float32   `json:"voltage_min"`
	VoltageMax     float32   `json:"voltage_max"`
	CurrentMin     float32   `json:"current_min"`
	CurrentMax     float32   `json:"current_max"`
	Failed         bool      `json:"failed"`
	ConvertedAt    time.Time `json:"converted_at"`
}

// Observe folds one sample into the summary's counters and ranges.
func (s *RunSummary) Observe(sample Sample) {
	if s.Rows == 0 {
		s.FirstTimestamp = sample.Timestamp
		s.VoltageMin, s.VoltageMax = sample.Voltage, sample.Voltage
		s.CurrentMin, s.CurrentMax = sample.Current, sample.Current
	}
	s.Rows++
	s.LastTimestamp = sample.Timestamp
	s.VoltageMin = min(s.VoltageMin, sample.Voltage)
	s.VoltageMax = max(s.VoltageMax, sample.Voltage)
	s.CurrentMin = min(s.CurrentMin, sample.Current)
	s.CurrentMax = max(s.CurrentMax, sample.Current)
}

// Duration returns the span covered by the samples.
func (s *RunSummary) Duration() time.Duration {
	return time.Duration(s.LastTimestamp-s.FirstTimestamp) * time.Millisecond
}
