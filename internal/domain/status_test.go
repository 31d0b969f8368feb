package domain_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicetrack/internal/domain"
)

func TestParseTaskStatus(t *testing.T) {
	cases := map[string]domain.TaskStatus{
		"approved":       domain.TaskApproved,
		" Approved ":     domain.TaskApproved,
		"not_approved":   domain.TaskNotApproved,
		"disapproved":    domain.TaskNotApproved,
		"rejected":       domain.TaskNotApproved,
		"needs_revision": domain.TaskNeedsRevision,
		"revision":       domain.TaskNeedsRevision,
		"in_progress":    domain.TaskInProgress,
		"pending":        domain.TaskInProgress,
	}
	for in, want := range cases {
		got, err := domain.ParseTaskStatus(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestParseTaskStatusRejectsUnknown(t *testing.T) {
	for _, in := range []string{"", "done", "completed"} {
		_, err := domain.ParseTaskStatus(in)
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrValidation))
		var vErr *domain.ValidationError
		require.True(t, errors.As(err, &vErr))
		assert.Equal(t, "status", vErr.Field)
	}
}

func TestGatingViolationMessage(t *testing.T) {
	err := &domain.GatingViolationError{
		StageID:  "stage1",
		TaskID:   "brief",
		Order:    2,
		Blocking: []domain.Task{{ID: "upload", Order: 1}},
	}
	assert.True(t, errors.Is(err, domain.ErrGated))
	assert.Contains(t, err.Error(), "waiting on upload")
}
