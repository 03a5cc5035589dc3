package task

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/GregdeFoy/Zettl/pkg/logger"
)

func TestStartRejectsInvalidSchedule(t *testing.T) {
	r := NewRefresher(nil, logger.New("task-test", "test"), "every five minutes")

	// AddFunc fails before the first refresh, so no store access happens
	err := r.Start(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid refresh schedule")
}
