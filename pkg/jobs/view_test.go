package jobs

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProject_RunningJob(t *testing.T) {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	j := &Job{
		ID:        "abc",
		Status:    StatusRunning,
		Workspace: "/tmp/secret-ws",
		Progress:  Progress{Expected: 4, Done: 1},
		CreatedAt: created,
		UpdatedAt: created.Add(time.Second),
	}

	v := Project(j)

	assert.False(t, v.Success)
	assert.Equal(t, "abc", v.JobID)
	assert.Equal(t, StatusRunning, v.Status)
	assert.Equal(t, "2026-03-01T10:00:00Z", v.CreatedAt)
	assert.Equal(t, "2026-03-01T10:00:01Z", v.UpdatedAt)
	assert.Empty(t, v.CompletedAt)
	assert.Empty(t, v.Error)
	assert.Empty(t, v.Files)

	// The workspace path never leaks into the serialized view.
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "secret-ws")
}

func TestProject_SucceededJob(t *testing.T) {
	completed := time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC)
	j := &Job{
		ID:          "abc",
		Status:      StatusSucceeded,
		Progress:    Progress{Expected: 1, Done: 1},
		CreatedAt:   completed.Add(-5 * time.Minute),
		UpdatedAt:   completed,
		CompletedAt: &completed,
		Output:      []OutputFile{{Filename: "a.png", ContentType: "image/png", Data: []byte{1}}},
	}

	v := Project(j)

	assert.True(t, v.Success)
	assert.Equal(t, "2026-03-01T10:05:00Z", v.CompletedAt)
	require.Len(t, v.Files, 1)
	assert.Equal(t, "a.png", v.Files[0].Filename)
}

func TestProject_FailedJob(t *testing.T) {
	completed := time.Now().UTC()
	j := &Job{
		ID:          "abc",
		Status:      StatusFailed,
		Error:       "anonymizer exited with code 137",
		CreatedAt:   completed,
		UpdatedAt:   completed,
		CompletedAt: &completed,
		// Even if output somehow lingered on the record, a failed view must
		// not carry files.
		Output: []OutputFile{{Filename: "partial.png"}},
	}

	v := Project(j)

	assert.False(t, v.Success)
	assert.NotEmpty(t, v.CompletedAt)
	assert.Equal(t, "anonymizer exited with code 137", v.Error)
	assert.Empty(t, v.Files)
}
