package service

import (
	"context"
	"errors"

	"github.com/koladefaj/document-intelligence-backend/internal/model/dto"
	"github.com/koladefaj/document-intelligence-backend/internal/pkg/queue"
)

// TaskService reads job outcomes from the queue's status store.
type TaskService struct {
	queue queue.Backend
}

func NewTaskService(q queue.Backend) *TaskService {
	return &TaskService{queue: q}
}

// Authorize returns the job status if userID owns the job.
func (s *TaskService) Authorize(ctx context.Context, userID, taskID string) (*queue.JobStatus, error) {
	st, err := s.queue.Status(ctx, taskID)
	if err != nil {
		if errors.Is(err, queue.ErrJobNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	if st.OwnerID != userID {
		return nil, ErrNotOwner
	}
	return st, nil
}

func (s *TaskService) Status(ctx context.Context, userID, taskID string) (*dto.TaskStatusResponse, error) {
	st, err := s.Authorize(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}

	resp := &dto.TaskStatusResponse{
		TaskID:      st.JobID,
		Status:      st.Status,
		IsCompleted: st.Status == queue.StatusSuccess,
		IsFailed:    st.Status == queue.StatusFailure,
		IsPending:   !st.IsTerminal(),
	}
	switch st.Status {
	case queue.StatusSuccess:
		resp.Result = st.Result
	case queue.StatusFailure:
		resp.Error = st.Error
	}
	return resp, nil
}
