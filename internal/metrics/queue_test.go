package metrics

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/skairunner/commentater/internal/commentater"
)

type stubStats struct {
	stats commentater.QueueStats
	err   error
}

func (s stubStats) QueueStats(context.Context) (commentater.QueueStats, error) {
	return s.stats, s.err
}

func TestQueueCollector(t *testing.T) {
	c := NewQueueCollector(stubStats{stats: commentater.QueueStats{Total: 10, Done: 7, Pending: 3, Errored: 2}}, 0, nil)

	expected := `
# HELP commentater_queue_tasks Number of article queue tasks, labeled by state.
# TYPE commentater_queue_tasks gauge
commentater_queue_tasks{state="done"} 7
commentater_queue_tasks{state="errored"} 2
commentater_queue_tasks{state="pending"} 3
commentater_queue_tasks{state="total"} 10
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected), "commentater_queue_tasks"))
}

func TestQueueCollectorSkipsOnError(t *testing.T) {
	c := NewQueueCollector(stubStats{err: errors.New("database is down")}, 0, nil)
	require.Equal(t, 0, testutil.CollectAndCount(c))
}
