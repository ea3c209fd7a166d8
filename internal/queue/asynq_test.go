package queue

import (
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsynqOptions(t *testing.T) {
	opts := asynqOptions([]EnqueueOption{{Queue: "notifications", MaxRetry: 5}})
	require.Len(t, opts, 2)
	assert.Equal(t, asynq.QueueOpt, opts[0].Type())
	assert.Equal(t, "notifications", opts[0].Value())
	assert.Equal(t, asynq.MaxRetryOpt, opts[1].Type())
	assert.Equal(t, 5, opts[1].Value())

	assert.Empty(t, asynqOptions([]EnqueueOption{{}}), "zero values add nothing")
	assert.Empty(t, asynqOptions(nil))
}
