package logger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribe(t *testing.T) {
	log := New("test-component", "test")
	log.DisableConsoleOutput()

	ch := log.Subscribe()
	log.Infof("hello %s", "world")

	select {
	case entry := <-ch:
		assert.Equal(t, "INFO", entry.Level)
		assert.Equal(t, "hello world", entry.Message)
	case <-time.After(time.Second):
		t.Fatal("no log entry received")
	}
}

func TestWithFields(t *testing.T) {
	log := New("test-component", "test")
	log.DisableConsoleOutput()

	ch := log.Subscribe()
	log.WithFields(map[string]string{"tenant": "7"}).Info("scoped")

	select {
	case entry := <-ch:
		require.NotNil(t, entry.Fields)
		assert.Equal(t, "7", entry.Fields["tenant"])
	case <-time.After(time.Second):
		t.Fatal("no log entry received")
	}
}

func TestFormatComponentName(t *testing.T) {
	assert.Len(t, formatComponentName("short"), ComponentNameWidth)
	long := formatComponentName("a-very-long-component-name")
	assert.Contains(t, long, "…")
}
