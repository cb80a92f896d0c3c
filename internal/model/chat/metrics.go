package chat

import "time"

// Metrics accumulates usage counters for a session.
type Metrics struct {
	TotalMessages       int       `json:"totalMessages"`
	TotalTokens         int       `json:"totalTokens"`
	TotalCost           float64   `json:"totalCost"`
	AverageResponseTime float64   `json:"averageResponseTime"`
	SuccessRate         float64   `json:"successRate"`
	ErrorCount          int       `json:"errorCount"`
	ToolUsageCount      int       `json:"toolUsageCount"`
	SessionStartTime    time.Time `json:"sessionStartTime"`
}

// NewMetrics returns zeroed counters with a 100% success rate.
func NewMetrics(start time.Time) Metrics {
	return Metrics{SuccessRate: 100, SessionStartTime: start}
}

// MetricsPatch is a shallow partial of Metrics.
type MetricsPatch struct {
	TotalMessages       *int       `json:"totalMessages,omitempty"`
	TotalTokens         *int       `json:"totalTokens,omitempty"`
	TotalCost           *float64   `json:"totalCost,omitempty"`
	AverageResponseTime *float64   `json:"averageResponseTime,omitempty"`
	SuccessRate         *float64   `json:"successRate,omitempty"`
	ErrorCount          *int       `json:"errorCount,omitempty"`
	ToolUsageCount      *int       `json:"toolUsageCount,omitempty"`
	SessionStartTime    *time.Time `json:"sessionStartTime,omitempty"`
}

// Apply returns m with every non-nil field of p merged in.
func (p MetricsPatch) Apply(m Metrics) Metrics {
	if p.TotalMessages != nil {
		m.TotalMessages = *p.TotalMessages
	}
	if p.TotalTokens != nil {
		m.TotalTokens = *p.TotalTokens
	}
	if p.TotalCost != nil {
		m.TotalCost = *p.TotalCost
	}
	if p.AverageResponseTime != nil {
		m.AverageResponseTime = *p.AverageResponseTime
	}
	if p.SuccessRate != nil {
		m.SuccessRate = *p.SuccessRate
	}
	if p.ErrorCount != nil {
		m.ErrorCount = *p.ErrorCount
	}
	if p.ToolUsageCount != nil {
		m.ToolUsageCount = *p.ToolUsageCount
	}
	if p.SessionStartTime != nil {
		m.SessionStartTime = *p.SessionStartTime
	}
	return m
}

// CompletionMetrics computes the patch applied after a successful completion.
// before is the snapshot taken when the send started. The latency average
// halves toward each new sample instead of tracking a cumulative mean.
func CompletionMetrics(before Metrics, elapsed time.Duration, toolCalls int) MetricsPatch {
	elapsedMs := float64(elapsed.Milliseconds())
	avg := (before.AverageResponseTime + elapsedMs) / 2
	total := float64(before.TotalMessages)
	rate := (before.SuccessRate*total + 100) / (total + 1)
	tools := before.ToolUsageCount + toolCalls
	return MetricsPatch{
		AverageResponseTime: &avg,
		SuccessRate:         &rate,
		ToolUsageCount:      &tools,
	}
}
