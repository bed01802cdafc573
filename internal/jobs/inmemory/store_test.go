package inmemory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/statement-import/internal/domain"
	"github.com/dvloznov/statement-import/internal/jobs"
)

func TestStore_ListJobsFilters(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	seed := []jobs.ParseStatementJob{
		{JobID: "a", UploadID: "u1", UserID: "alice", Status: jobs.JobStatusCompleted, CreatedAt: base},
		{JobID: "b", UploadID: "u2", UserID: "alice", Status: jobs.JobStatusFailed, CreatedAt: base.Add(time.Minute)},
		{JobID: "c", UploadID: "u3", UserID: "bob", Status: jobs.JobStatusCompleted, CreatedAt: base.Add(2 * time.Minute)},
	}
	for i := range seed {
		require.NoError(t, s.SaveJob(ctx, &seed[i]))
	}

	tests := []struct {
		name   string
		filter jobs.JobFilter
		want   []string
	}{
		{"all newest first", jobs.JobFilter{}, []string{"c", "b", "a"}},
		{"by upload", jobs.JobFilter{UploadID: "u2"}, []string{"b"}},
		{"by user", jobs.JobFilter{UserID: "alice"}, []string{"b", "a"}},
		{"by status", jobs.JobFilter{Status: jobs.JobStatusCompleted}, []string{"c", "a"}},
		{"limit and offset", jobs.JobFilter{Offset: 1, Limit: 1}, []string{"b"}},
		{"offset past end", jobs.JobFilter{Offset: 5}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListJobs(ctx, tt.filter)
			require.NoError(t, err)
			ids := make([]string, 0, len(got))
			for _, j := range got {
				ids = append(ids, j.JobID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestStore_GetAndUpdate(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	_, err := s.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, s.UpdateJobStatus(ctx, "missing", jobs.JobStatusFailed, "x"), domain.ErrNotFound)
	assert.Error(t, s.SaveJob(ctx, &jobs.ParseStatementJob{}))

	job := &jobs.ParseStatementJob{JobID: "j", Status: jobs.JobStatusPending}
	require.NoError(t, s.SaveJob(ctx, job))
	job.Status = jobs.JobStatusRunning // stored copy is unaffected

	require.NoError(t, s.UpdateJobStatus(ctx, "j", jobs.JobStatusFailed, "bad file"))
	got, err := s.GetJob(ctx, "j")
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusFailed, got.Status)
	assert.Equal(t, "bad file", got.Error)
}
