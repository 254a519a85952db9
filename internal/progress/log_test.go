package progress

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestLogManager(buf *bytes.Buffer, interval time.Duration) *LogManager {
	m := NewLogManager(slog.New(slog.NewTextHandler(buf, nil)))
	m.interval = interval
	return m
}

func TestLogTracker_Throttles(t *testing.T) {
	var buf bytes.Buffer
	tr := newTestLogManager(&buf, time.Hour).NewTracker(0, 2, "rows 0-99")

	tr.SetStage("netting")
	tr.SetProgress(1, 10)
	tr.SetProgress(2, 10) // throttled
	tr.SetCounter("matched", 1)

	out := buf.String()
	assert.Contains(t, out, `block=1/2`)
	assert.Contains(t, out, `name="rows 0-99"`)
	assert.Contains(t, out, "pct=10%")
	assert.NotContains(t, out, "current=2")
	assert.NotContains(t, out, "matched=1")
}

func TestLogTracker_StageResetsThrottle(t *testing.T) {
	var buf bytes.Buffer
	tr := newTestLogManager(&buf, time.Hour).NewTracker(1, 2, "b")

	tr.SetStage("netting")
	tr.SetProgress(1, 4)
	tr.SetStage("writing")
	tr.SetProgress(3, 4)
	tr.LogWarning("date filtering failed")
	tr.Done()

	out := buf.String()
	assert.Contains(t, out, "pct=75%")
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "msg=finished")
	assert.Equal(t, 6, strings.Count(out, "\n"))
}

func TestLogTracker_NoInterval(t *testing.T) {
	var buf bytes.Buffer
	tr := newTestLogManager(&buf, 0).NewTracker(0, 1, "b")
	tr.SetProgress(5, 0)
	tr.SetProgress(0, 0) // nothing to report
	tr.SetCounter("reversals", 7)

	out := buf.String()
	assert.Contains(t, out, "current=5")
	assert.Contains(t, out, "reversals=7")
	assert.Equal(t, 2, strings.Count(out, "\n"))
}

func TestNoopManager_CountsBlocks(t *testing.T) {
	m := &NoopManager{}
	for i := 0; i < 3; i++ {
		tr := m.NewTracker(i, 3, "b")
		tr.SetStage("netting")
		tr.SetProgress(1, 1)
		tr.Done()
	}
	m.Wait()
	assert.EqualValues(t, 3, m.BlocksDone)
}
