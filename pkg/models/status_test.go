package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorKind_String(t *testing.T) {
	assert.Equal(t, "none", ErrorKindNone.String())
	assert.Equal(t, "timeout", ErrorKindTimeout.String())
	assert.Equal(t, "redirect_loop", ErrorKindRedirectLoop.String())
}

func TestCrawlState_Transitions(t *testing.T) {
	tests := []struct {
		state    CrawlState
		name     string
		canStart bool
	}{
		{StateIdle, "idle", true},
		{StateRunning, "running", false},
		{StateStopping, "stopping", false},
		{StateStopped, "stopped", true},
		{CrawlState(42), "unknown", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.name, tt.state.String())
			assert.Equal(t, tt.canStart, tt.state.CanStart())
		})
	}
}

func TestCrawlState_MarshalJSON(t *testing.T) {
	data, err := json.Marshal(map[string]CrawlState{"state": StateStopping})
	require.NoError(t, err)
	assert.JSONEq(t, `{"state":"stopping"}`, string(data))
}

func TestNewPageRecord(t *testing.T) {
	seen := time.Now().Add(-time.Minute)

	ok := NewPageRecord(FetchResult{
		URL:         "http://example.com/",
		Depth:       1,
		Success:     true,
		StatusCode:  200,
		Bytes:       512,
		ContentHash: "abc",
	}, seen)
	assert.Equal(t, PageStatusSuccess, ok.Status)
	assert.Equal(t, ErrorKindNone, ok.ErrorKind)
	assert.Equal(t, int64(512), ok.Bytes)
	assert.Equal(t, seen, ok.FirstSeen)
	assert.False(t, ok.LastAttempt.Before(seen))

	bad := NewPageRecord(FetchResult{
		URL:        "http://example.com/missing",
		StatusCode: 404,
		ErrorKind:  ErrorKindHTTPStatus,
		Error:      "non-2xx HTTP status: 404",
	}, seen)
	assert.Equal(t, PageStatusFailure, bad.Status)
	assert.Equal(t, ErrorKindHTTPStatus, bad.ErrorKind)
	assert.Equal(t, 404, bad.StatusCode)
	assert.Contains(t, bad.Error, "404")
}
