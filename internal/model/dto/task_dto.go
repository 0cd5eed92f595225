package dto

import "encoding/json"

type TaskStatusResponse struct {
	TaskID      string          `json:"task_id"`
	Status      string          `json:"status"`
	Result      json.RawMessage `json:"result"`
	Error       string          `json:"error,omitempty"`
	IsCompleted bool            `json:"is_completed"`
	IsFailed    bool            `json:"is_failed"`
	IsPending   bool            `json:"is_pending"`
}
