package alert

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hourglass-data/hourglass/pkg/types"
)

func testAlert() types.Alert {
	return types.Alert{
		Level:     types.AlertLevelError,
		Window:    "2024-01-02T05:00Z",
		Stage:     types.StageAborted,
		Message:   "window 2024-01-02T05:00Z aborted: incomplete",
		Timestamp: time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC),
	}
}

func TestWebhookSink_PostsJSON(t *testing.T) {
	var got types.Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL)
	require.NoError(t, sink.Send(testAlert()))
	assert.Equal(t, testAlert(), got)
}

func TestWebhookSink_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL)
	err := sink.Send(testAlert())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestFileSink_AppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.jsonl")
	sink, err := NewFileSink(path)
	require.NoError(t, err)

	require.NoError(t, sink.Send(testAlert()))
	require.NoError(t, sink.Send(testAlert()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var a types.Alert
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &a))
	assert.Equal(t, testAlert(), a)
}

func TestFileSink_UnwritablePath(t *testing.T) {
	_, err := NewFileSink(filepath.Join(t.TempDir(), "missing", "alerts.jsonl"))
	assert.Error(t, err)
}

type failingSink struct{ calls int }

func (s *failingSink) Send(types.Alert) error { s.calls++; return errors.New("down") }
func (s *failingSink) Name() string           { return "failing" }

func TestDispatcher_SinkFailureDoesNotPropagate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.jsonl")
	d, err := NewDispatcher([]types.AlertConfig{{Type: types.AlertFile, Path: path}}, nil)
	require.NoError(t, err)

	failing := &failingSink{}
	d.sinks = append([]Sink{failing}, d.sinks...)

	d.Dispatch(testAlert())
	assert.Equal(t, 1, failing.calls)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotEmpty(t, data, "later sinks must still receive the alert")
}

func TestNewDispatcher_RejectsInvalidConfig(t *testing.T) {
	_, err := NewDispatcher([]types.AlertConfig{{Type: "pager"}}, nil)
	assert.Error(t, err)

	_, err = NewDispatcher([]types.AlertConfig{{Type: types.AlertWebhook}}, nil)
	assert.Error(t, err)
}

type fakeSNS struct {
	inputs []*sns.PublishInput
}

func (f *fakeSNS) Publish(_ context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.inputs = append(f.inputs, in)
	return &sns.PublishOutput{}, nil
}

func TestSNSSink_PublishesWithSubject(t *testing.T) {
	client := &fakeSNS{}
	sink, err := NewSNSSink("arn:aws:sns:us-east-1:1234:alerts", WithSNSClient(client))
	require.NoError(t, err)

	require.NoError(t, sink.Send(testAlert()))
	require.Len(t, client.inputs, 1)

	in := client.inputs[0]
	assert.Equal(t, "arn:aws:sns:us-east-1:1234:alerts", *in.TopicArn)
	assert.Equal(t, "[error] hourglass 2024-01-02T05:00Z", *in.Subject)

	var a types.Alert
	require.NoError(t, json.Unmarshal([]byte(*in.Message), &a))
	assert.Equal(t, testAlert(), a)
}

func TestNewSNSSink_RequiresTopic(t *testing.T) {
	_, err := NewSNSSink("")
	assert.Error(t, err)
}
