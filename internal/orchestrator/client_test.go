package orchestrator

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"chime/pkg/logx"
)

func TestReplaySendsA2AMessage(t *testing.T) {
	var got []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		got, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":"1","result":{"kind":"message","parts":[{"kind":"text","text":"Lights "},{"kind":"text","text":"off."}]}}`))
	}))
	defer srv.Close()

	c := New(Config{URL: srv.URL}, nil, logx.Nop())
	require.NoError(t, c.Replay(context.Background(), "conv-1", "turn off the lights", "living room"))

	req := gjson.ParseBytes(got)
	assert.Equal(t, "2.0", req.Get("jsonrpc").String())
	assert.Equal(t, "message/send", req.Get("method").String())
	assert.Equal(t, "message", req.Get("params.message.kind").String())
	assert.Equal(t, "user", req.Get("params.message.role").String())
	assert.Equal(t, "conv-1", req.Get("params.message.contextId").String())
	assert.Equal(t, "text", req.Get("params.message.parts.0.kind").String())
	assert.Equal(t, "turn off the lights\n\nContext: living room", req.Get("params.message.parts.0.text").String())
	assert.NotEmpty(t, req.Get("params.message.messageId").String())
}

func TestSendReturnsText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"result":{"parts":[{"kind":"data","data":{}},{"kind":"text","text":"done"}]}}`))
	}))
	defer srv.Close()

	out, err := New(Config{URL: srv.URL}, nil, logx.Nop()).Send(context.Background(), "", "hi")
	require.NoError(t, err)
	assert.Equal(t, "done", out)
}

func TestSendErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		agent   bool
		message string
	}{
		{"rpc error", 200, `{"error":{"code":-32000,"message":"agent exploded"}}`, true, "agent exploded"},
		{"http status", 502, `bad gateway`, false, "status 502"},
		{"not json", 200, `<html>`, false, "invalid json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			err := New(Config{URL: srv.URL}, nil, logx.Nop()).Replay(context.Background(), "c", "p", "")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.message)
			if tt.agent {
				assert.ErrorIs(t, err, ErrAgent)
			}
		})
	}
}

func TestSendTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := New(Config{URL: srv.URL, Timeout: 50 * time.Millisecond}, nil, logx.Nop())
	_, err := c.Send(context.Background(), "c", "p")
	assert.Error(t, err)
}

func TestSendWithoutURL(t *testing.T) {
	_, err := New(Config{}, nil, logx.Nop()).Send(context.Background(), "c", "p")
	assert.Error(t, err)
}
