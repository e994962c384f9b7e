package metrics

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWritePrometheus(t *testing.T) {
	RuntimeRequestTotal.WithLabelValues("health", "ok").Inc()
	StreamEventTotal.WithLabelValues("finish").Inc()
	MalformedFrameTotal.Inc()

	var buf bytes.Buffer
	require.NoError(t, WritePrometheus(&buf))
	out := buf.String()
	assert.Contains(t, out, "bridge_runtime_request_total")
	assert.Contains(t, out, "bridge_stream_event_total")
	assert.Contains(t, out, "bridge_malformed_frame_total")
}
