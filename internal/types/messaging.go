package types

import "time"

// DispatchMessage is the queue payload handed to the downstream delivery
// workers for one batch. It is the transport envelope carrying everything a
// worker needs to attempt delivery without re-reading the batch from the
// store. JSON tags use snake_case to match the worker contract.
type DispatchMessage struct {
	BatchID     string       `json:"batch_id"`
	Strategy    StrategyName `json:"strategy"`
	Priority    WorkPriority `json:"priority"`
	ScheduledAt time.Time    `json:"scheduled_at"`

	Items []DispatchItem `json:"items"`

	// Retry state carried across the publish-subscribe cycle. Incremented
	// by workers on transient failures before re-publishing.
	RetryCount int `json:"retry_count"`

	// TraceID ties all pages of one orchestrator cycle together.
	TraceID string `json:"trace_id"`
}

// DispatchItem is the per-item slice of a DispatchMessage.
type DispatchItem struct {
	WorkItemID string           `json:"work_item_id"`
	UserID     string           `json:"user_id"`
	PayloadRef string           `json:"payload_ref"`
	Methods    []DeliveryMethod `json:"methods"`
	TargetAt   time.Time        `json:"target_at"`
}
