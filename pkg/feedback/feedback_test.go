package feedback_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusknowledge/nexusknowledge/pkg/clock"
	"github.com/nexusknowledge/nexusknowledge/pkg/feedback"
	"github.com/nexusknowledge/nexusknowledge/pkg/store"
	"github.com/nexusknowledge/nexusknowledge/pkg/store/storetest"
)

func TestSubmitWithoutSchedulerPersistsSynchronously(t *testing.T) {
	fake := storetest.New()
	svc := feedback.New(fake, nil, clock.System{})
	ctx := context.Background()

	id, err := svc.Submit(ctx, "bug", "search returns stale results", "")
	require.NoError(t, err)

	got, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, store.FeedbackNew, got.Status)
	assert.Equal(t, "bug", got.FeedbackType)
}

type recordingScheduler struct {
	jobs []string
}

func (r *recordingScheduler) Submit(ctx context.Context, jobName string, payload store.Metadata, correlationID string) error {
	r.jobs = append(r.jobs, jobName)
	return nil
}

func TestSubmitWithSchedulerDoesNotPersistImmediately(t *testing.T) {
	fake := storetest.New()
	sched := &recordingScheduler{}
	svc := feedback.New(fake, sched, clock.System{})
	ctx := context.Background()

	id, err := svc.Submit(ctx, "feature", "add dark mode", "user-1")
	require.NoError(t, err)
	require.NotEmpty(t, id)
	assert.Equal(t, []string{"persist_feedback"}, sched.jobs)

	_, err = fake.GetFeedback(ctx, id)
	assert.Error(t, err)
}

func TestSubmitRejectsEmptyMessage(t *testing.T) {
	fake := storetest.New()
	svc := feedback.New(fake, nil, clock.System{})
	ctx := context.Background()

	_, err := svc.Submit(ctx, "bug", "", "")
	require.Error(t, err)
}
