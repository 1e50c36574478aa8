package data

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ReplyLane/internal/conf"
	pkgerrors "ReplyLane/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/durationpb"
)

func collaboratorConf(baseURL string) *conf.Pipeline {
	return &conf.Pipeline{
		Collaborators: &conf.Pipeline_Collaborators{
			PreprocessorUrl:  baseURL,
			RulesUrl:         baseURL,
			WorkflowUrl:      baseURL,
			PostprocessorUrl: baseURL,
			Timeout:          durationpb.New(2 * time.Second),
		},
	}
}

func TestPreprocessorClientProcess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/process", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body struct {
			Message string            `json:"message"`
			Headers map[string]string `json:"headers"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hello", body.Message)

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"success":           true,
			"sanitized_message": "hello",
		})
	}))
	defer srv.Close()

	client := NewPreprocessorClient(collaboratorConf(srv.URL), testLogger())
	result, err := client.Process(context.Background(), "hello", map[string]string{"x-source": "test"})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "hello", result.SanitizedMessage)
}

func TestWorkflowClientProcessMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/process_message", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"response_text": "Sure, let me check that.",
			"stage":         "triage",
		})
	}))
	defer srv.Close()

	client := NewWorkflowClient(collaboratorConf(srv.URL), testLogger())
	reply, err := client.ProcessMessage(context.Background(), "+551188887777", "hello", "primary")
	require.NoError(t, err)
	assert.Equal(t, "Sure, let me check that.", reply.ResponseText)
}

func TestCollaboratorClientUnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewBusinessRulesClient(collaboratorConf(srv.URL), testLogger())
	_, err := client.Evaluate(context.Background(), "hello", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestCollaboratorClientMissingBaseURL(t *testing.T) {
	client := NewPostprocessorClient(collaboratorConf(""), testLogger())

	_, err := client.Format(context.Background(), "hi", "+551188887777", nil)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCollaboratorConfig(err))
}

func TestCollaboratorClientTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{})
	}))
	defer srv.Close()

	c := collaboratorConf(srv.URL)
	c.Collaborators.Timeout = durationpb.New(50 * time.Millisecond)

	client := NewWorkflowClient(c, testLogger())
	_, err := client.ProcessMessage(context.Background(), "+551188887777", "hello", "primary")
	assert.Error(t, err)
}
