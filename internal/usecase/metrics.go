package usecase

import "context"

// MetricsSummary represents aggregated verification insights.
type MetricsSummary struct {
	TotalVerifications     int64   `json:"total_verifications"`
	ApprovedVerifications  int64   `json:"approved_verifications"`
	ApprovalRate           float64 `json:"approval_rate"`
	AverageSimilarityScore float64 `json:"average_similarity_score"`
}

// GetMetricsSummary aggregates verification metrics from persisted logs.
func (uc *VerificationUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := uc.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalVerifications:     aggregation.TotalCount,
		ApprovedVerifications:  aggregation.ApprovedCount,
		AverageSimilarityScore: aggregation.AverageScore,
	}

	if aggregation.TotalCount > 0 {
		summary.ApprovalRate = float64(aggregation.ApprovedCount) / float64(aggregation.TotalCount)
	}

	return summary, nil
}
