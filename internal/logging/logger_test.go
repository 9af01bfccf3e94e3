package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToFieldsDropsDanglingKey(t *testing.T) {
	fields := toFields([]interface{}{"backend", "tesseract", "confidence", 0.8, "orphan"})

	assert.Len(t, fields, 2)
	assert.Equal(t, "tesseract", fields["backend"])
	assert.Equal(t, 0.8, fields["confidence"])
}

func TestLoggerWritesComponentAndFields(t *testing.T) {
	var buf bytes.Buffer
	base.SetOutput(&buf)
	Configure("debug", "json")
	t.Cleanup(func() {
		base.SetOutput(os.Stdout)
		Configure("info", "text")
	})

	NewLogger("Orchestrator").With("jobId", "job-1").Debug("voting complete", "engines", 2)

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "Orchestrator", line["component"])
	assert.Equal(t, "job-1", line["jobId"])
	assert.Equal(t, float64(2), line["engines"])
	assert.Equal(t, "voting complete", line["msg"])
}

func TestConfigureFallsBackToInfo(t *testing.T) {
	Configure("not-a-level", "text")
	assert.Equal(t, logrus.InfoLevel, base.GetLevel())
}
