package agent

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trainctl/trainctl/pkg/models"
)

func TestClientRegisterAndPoll(t *testing.T) {
	var gotReg models.NodeRegistration

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/nodes/register":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReg))
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(models.Node{ID: "node-1", Name: "gpu-01"})
		case "/nodes/node-1/heartbeat":
			w.WriteHeader(http.StatusOK)
		case "/runs/next":
			assert.Equal(t, "node-1", r.URL.Query().Get("node_id"))
			json.NewEncoder(w).Encode(map[string]interface{}{
				"run": models.Run{ID: "run-1", Status: models.RunStatusAssigned},
			})
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL)

	node, err := c.Register(&models.NodeRegistration{
		Address:  "http://gpu-01:9091",
		GPUCount: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, "node-1", node.ID)
	assert.Equal(t, "node-1", c.NodeID())
	assert.Equal(t, 2, gotReg.GPUCount)

	require.NoError(t, c.SendHeartbeat())

	run, err := c.GetNextRun()
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, "run-1", run.ID)
}

func TestClientGetNextRunEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"run": nil})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	c.nodeID = "node-1"

	run, err := c.GetNextRun()
	require.NoError(t, err)
	assert.Nil(t, run)
}

func TestClientSendResult(t *testing.T) {
	var got models.RunResult

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/results", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]string{"status": "success"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	err := c.SendResult(&models.RunResult{
		RunID:       "run-1",
		NodeID:      "node-1",
		Status:      models.RunStatusCompleted,
		FinalEpoch:  9,
		CompletedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, 9, got.FinalEpoch)
}

func TestClientRequiresRegistration(t *testing.T) {
	c := NewClient("http://localhost:0")

	assert.Error(t, c.SendHeartbeat())
	_, err := c.GetNextRun()
	assert.Error(t, err)
}

func TestClientAuthHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	c.nodeID = "node-1"
	c.SetAPIKey("secret")

	require.NoError(t, c.SendHeartbeat())
}
