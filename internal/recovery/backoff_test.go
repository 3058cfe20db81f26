package recovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"contentflow/internal/queue"
)

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Base: time.Minute, Max: 30 * time.Minute}

	first := b.Delay("wf", queue.StageRender, 0)
	assert.GreaterOrEqual(t, first, time.Minute)
	assert.LessOrEqual(t, first, time.Minute+15*time.Second)

	second := b.Delay("wf", queue.StageRender, 1)
	assert.GreaterOrEqual(t, second, 2*time.Minute)

	assert.Equal(t, first, b.Delay("wf", queue.StageRender, 0), "jitter is deterministic")
	assert.Equal(t, 30*time.Minute, b.Delay("wf", queue.StageRender, 12))
}

func TestBackoffDisabled(t *testing.T) {
	assert.Zero(t, Backoff{}.Delay("wf", queue.StageCaption, 3))
}
