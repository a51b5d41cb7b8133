package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/trainctl/trainctl/pkg/models"
)

// Client manages communication with the coordinator
type Client struct {
	coordinatorURL string
	httpClient     *http.Client
	nodeID         string
	apiKey         string
}

// NewClient creates a new agent client
func NewClient(coordinatorURL string) *Client {
	return &Client{
		coordinatorURL: coordinatorURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetAPIKey sets the API key for authentication
func (c *Client) SetAPIKey(apiKey string) {
	c.apiKey = apiKey
}

func (c *Client) addAuthHeader(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// Register registers the node with the coordinator
func (c *Client) Register(reg *models.NodeRegistration) (*models.Node, error) {
	data, err := json.Marshal(reg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal registration: %w", err)
	}

	req, err := http.NewRequest("POST", c.coordinatorURL+"/nodes/register", bytes.NewBuffer(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.addAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send registration: %w", err)
	}
	defer resp.Body.Close()

	// 201 on first contact, 200 on re-registration
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("registration failed with status %d: %s", resp.StatusCode, string(body))
	}

	var node models.Node
	if err := json.NewDecoder(resp.Body).Decode(&node); err != nil {
		return nil, fmt.Errorf("failed to decode node: %w", err)
	}

	c.nodeID = node.ID
	return &node, nil
}

// SendHeartbeat sends a heartbeat to the coordinator
func (c *Client) SendHeartbeat() error {
	if c.nodeID == "" {
		return fmt.Errorf("node not registered")
	}

	req, err := http.NewRequest("POST", fmt.Sprintf("%s/nodes/%s/heartbeat", c.coordinatorURL, c.nodeID), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.addAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send heartbeat: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("heartbeat failed with status %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

// GetNextRun polls the coordinator for the next run this node should execute.
// Returns nil without error when no run is available.
func (c *Client) GetNextRun() (*models.Run, error) {
	if c.nodeID == "" {
		return nil, fmt.Errorf("node not registered")
	}

	req, err := http.NewRequest("GET", fmt.Sprintf("%s/runs/next?node_id=%s", c.coordinatorURL, c.nodeID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.addAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get next run: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("get next run failed with status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Run *models.Run `json:"run"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode run: %w", err)
	}

	return result.Run, nil
}

// GetRun fetches the current state of a run, used to watch for cancellation
func (c *Client) GetRun(runID string) (*models.Run, error) {
	req, err := http.NewRequest("GET", fmt.Sprintf("%s/runs/%s", c.coordinatorURL, runID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.addAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("get run failed with status %d: %s", resp.StatusCode, string(body))
	}

	var run models.Run
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		return nil, fmt.Errorf("failed to decode run: %w", err)
	}
	return &run, nil
}

// ReportEpoch reports epoch progress for a run
func (c *Client) ReportEpoch(runID string, epoch int) error {
	data, err := json.Marshal(map[string]int{"epoch": epoch})
	if err != nil {
		return fmt.Errorf("failed to marshal epoch report: %w", err)
	}

	req, err := http.NewRequest("POST", fmt.Sprintf("%s/runs/%s/epoch", c.coordinatorURL, runID), bytes.NewBuffer(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.addAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to report epoch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("epoch report failed with status %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

// SendResult sends a finished run result to the coordinator
func (c *Client) SendResult(result *models.RunResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	req, err := http.NewRequest("POST", c.coordinatorURL+"/results", bytes.NewBuffer(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.addAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send result: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("send result failed with status %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

// NodeID returns the node ID assigned during registration
func (c *Client) NodeID() string {
	return c.nodeID
}

// CoordinatorURL returns the coordinator base URL
func (c *Client) CoordinatorURL() string {
	return c.coordinatorURL
}
