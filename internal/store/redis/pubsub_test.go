package redis_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	redisstore "github.com/gosuda/taskbridge/internal/store/redis"
)

func TestFrameChannels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		frameID string
		host    string
		task    string
	}{
		{name: "uuid", frameID: "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee", host: "frame:aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee:host", task: "frame:aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee:task"},
		{name: "plain", frameID: "f1", host: "frame:f1:host", task: "frame:f1:task"},
		{name: "empty", frameID: "", host: "frame::host", task: "frame::task"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.host, redisstore.HostChannel(tt.frameID))
			assert.Equal(t, tt.task, redisstore.TaskChannel(tt.frameID))
			assert.True(t, strings.HasPrefix(redisstore.HostChannel(tt.frameID), "frame:"))
		})
	}
}

func TestFrameChannels_DirectionsDoNotCollide(t *testing.T) {
	t.Parallel()

	assert.NotEqual(t, redisstore.HostChannel("f1"), redisstore.TaskChannel("f1"))
	assert.NotEqual(t, redisstore.HostChannel("f1"), redisstore.HostChannel("f2"))
}
