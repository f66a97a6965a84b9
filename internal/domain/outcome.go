package domain

// OutcomeKind names what a processor did with a job.
type OutcomeKind string

const (
	OutcomeSkipped          OutcomeKind = "skipped"
	OutcomeOrderProcessed   OutcomeKind = "order_processed"
	OutcomeOrderCancelled   OutcomeKind = "order_cancelled"
	OutcomeProductUpserted  OutcomeKind = "product_upserted"
	OutcomeProductDeleted   OutcomeKind = "product_deleted"
	OutcomeCustomerUpserted OutcomeKind = "customer_upserted"
	OutcomeRankingsSaved    OutcomeKind = "rankings_saved"
)

// Outcome is the structured result of processing one job. Business skips are
// outcomes, not errors.
type Outcome struct {
	Kind   OutcomeKind `json:"kind"`
	Type   string      `json:"type"`
	Topic  string      `json:"topic"`
	Action string      `json:"action"`
	Reason string      `json:"reason,omitempty"`

	UserID             string   `json:"userId,omitempty"`
	AffectedProductIDs []string `json:"affectedProductIds,omitempty"`

	OrderNumber  string `json:"orderNumber,omitempty"`
	RecordsCount int    `json:"recordsCount,omitempty"`

	ProductID string       `json:"productId,omitempty"`
	Product   *ProductInfo `json:"product,omitempty"`

	Achievements []Achievement `json:"achievements,omitempty"`
	Coins        []FlavorCoin  `json:"coins,omitempty"`
	Streak       *StreakUpdate `json:"streak,omitempty"`
}

// StreakUpdate reports a streak transition to clients.
type StreakUpdate struct {
	StreakType string `json:"streakType"`
	Current    int    `json:"current"`
	Longest    int    `json:"longest"`
	Status     string `json:"status"`
	Milestone  bool   `json:"milestone,omitempty"`
	Broken     bool   `json:"broken,omitempty"`
}

// Skip builds a business-skip outcome.
func Skip(typ, topic, reason string) Outcome {
	return Outcome{Kind: OutcomeSkipped, Type: typ, Topic: topic, Action: "skipped", Reason: reason}
}

// Skipped reports whether the outcome is a business skip.
func (o Outcome) Skipped() bool { return o.Kind == OutcomeSkipped }
