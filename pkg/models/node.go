package models

import (
	"time"
)

// NodeType classifies a node by its training capacity
type NodeType string

const (
	NodeTypeGPUServer   NodeType = "gpu-server"  // multi-GPU training box
	NodeTypeWorkstation NodeType = "workstation" // single-GPU desk machine
	NodeTypeCPUOnly     NodeType = "cpu-only"    // debug / smoke-test runs only
)

// Node represents a compute node in the training fleet
type Node struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"` // hostname
	Address       string            `json:"address"`
	Type          NodeType          `json:"type"`
	GPUCount      int               `json:"gpu_count"`
	GPUModel      string            `json:"gpu_model,omitempty"`
	GPUMemoryMB   uint64            `json:"gpu_memory_mb,omitempty"` // per-GPU VRAM
	CUDAVersion   string            `json:"cuda_version,omitempty"`
	CPUThreads    int               `json:"cpu_threads"`
	CPUModel      string            `json:"cpu_model"`
	RAMTotalBytes uint64            `json:"ram_total_bytes"`
	Labels        map[string]string `json:"labels,omitempty"`
	Status        string            `json:"status"` // "available", "busy", "offline"
	LastHeartbeat time.Time         `json:"last_heartbeat"`
	RegisteredAt  time.Time         `json:"registered_at"`
	CurrentRunID  string            `json:"current_run_id,omitempty"`
}

// NodeRegistration represents a node registration request
type NodeRegistration struct {
	Address       string            `json:"address"`
	Type          NodeType          `json:"type"`
	GPUCount      int               `json:"gpu_count"`
	GPUModel      string            `json:"gpu_model,omitempty"`
	GPUMemoryMB   uint64            `json:"gpu_memory_mb,omitempty"`
	CUDAVersion   string            `json:"cuda_version,omitempty"`
	CPUThreads    int               `json:"cpu_threads"`
	CPUModel      string            `json:"cpu_model"`
	RAMTotalBytes uint64            `json:"ram_total_bytes"`
	Labels        map[string]string `json:"labels,omitempty"`
}

// NodeCapabilities represents the detected capabilities of a node
type NodeCapabilities struct {
	GPUCount      int               `json:"gpu_count"`
	GPUModel      string            `json:"gpu_model,omitempty"`
	GPUMemoryMB   uint64            `json:"gpu_memory_mb,omitempty"`
	CUDAVersion   string            `json:"cuda_version,omitempty"`
	CPUThreads    int               `json:"cpu_threads"`
	CPUModel      string            `json:"cpu_model"`
	RAMTotalBytes uint64            `json:"ram_total_bytes"`
	Labels        map[string]string `json:"labels,omitempty"`
}

// CanFit reports whether the node has enough GPUs for a run needing gpus.
func (n *Node) CanFit(gpus int) bool {
	if gpus == 0 {
		return true // cpu run fits anywhere
	}
	return n.GPUCount >= gpus
}
