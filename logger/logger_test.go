package logger

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogrusFields(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	l.Out = &buf
	l.Formatter = &logrus.JSONFormatter{}

	NewLogrus(l).Info("opened", "path", "data.blk", "blocks", 3, "dangling")

	out := buf.String()
	assert.Contains(t, out, `"msg":"opened"`)
	assert.Contains(t, out, `"path":"data.blk"`)
	assert.Contains(t, out, `"blocks":3`)
	assert.NotContains(t, out, "dangling")
}

func TestLogrusLevel(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	l.Out = &buf
	l.Level = logrus.ErrorLevel

	log := NewLogrus(l)
	log.Info("hidden")
	log.Warn("hidden")
	assert.Empty(t, buf.String())

	log.Error("write back failed", "page", 7)
	assert.Contains(t, buf.String(), "write back failed")
}

func TestConsolePrefix(t *testing.T) {
	var buf bytes.Buffer
	log := NewConsole(&buf, logrus.InfoLevel, "blockriver")

	log.Info("cleared", "path", "data.blk")
	assert.Contains(t, buf.String(), "blockriver")
	assert.Contains(t, buf.String(), "cleared")
}

func TestZap(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	log := NewZap(zap.New(core))

	log.Info("opened", "path", "data.blk")
	log.Warn("slow")
	log.Error("failed", "page", 3)

	require.Equal(t, 3, logs.Len())
	entries := logs.All()
	assert.Equal(t, "opened", entries[0].Message)
	assert.Equal(t, "data.blk", entries[0].ContextMap()["path"])
	assert.Equal(t, zap.ErrorLevel, entries[2].Level)
}
