package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAndList(t *testing.T) {
	svc := New(NewMemoryStore())
	ctx := context.Background()

	require.NoError(t, svc.Record(ctx, "mgr-1", "submission.approve", "submission", "sub-1", "req-1", "10.0.0.1",
		map[string]string{"status": "PENDING"}, map[string]string{"status": "APPROVED"}))
	require.NoError(t, svc.Record(ctx, "hr-1", "period.activate", "period", "p-1", "req-2", "10.0.0.2", nil, map[string]string{"state": "ACTIVE"}))

	total, err := svc.Count(ctx, Filter{EntityType: "submission"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	events, err := svc.List(ctx, Filter{}, false, 10, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "period.activate", events[0].Action)
	assert.Nil(t, events[1].Before)

	events, err = svc.List(ctx, Filter{ActorUser: "mgr-1"}, true, 10, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.JSONEq(t, `{"status":"PENDING"}`, string(events[0].Before))
	assert.JSONEq(t, `{"status":"APPROVED"}`, string(events[0].After))

	events, err = svc.List(ctx, Filter{}, false, 10, 2)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestBuildBaseQuery(t *testing.T) {
	query, args := buildBaseQuery("SELECT COUNT(1)", Filter{Action: "a", ActorUser: "u"})
	assert.Equal(t, "SELECT COUNT(1) FROM audit_events WHERE 1=1 AND action = $1 AND actor_user_id = $2", query)
	assert.Equal(t, []any{"a", "u"}, args)
}
