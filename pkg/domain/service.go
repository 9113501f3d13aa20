package domain

import (
	"time"
)

// ServiceStatus represents the liveness state of a registered service.
type ServiceStatus string

const (
	StatusUnknown ServiceStatus = "unknown"
	StatusUp      ServiceStatus = "up"
	StatusWarning ServiceStatus = "warning"
	StatusDown    ServiceStatus = "down"
)

// ServiceDescriptor tracks a single named service (stt, llm, tts, camera,
// sensor, ros2 bridge, behavior tree, ...).
type ServiceDescriptor struct {
	ServiceID     string        `json:"service_id"`
	DisplayName   string        `json:"display_name"`
	Status        ServiceStatus `json:"status"`
	LastHeartbeat time.Time     `json:"last_heartbeat_time"`
	Port          int           `json:"port"`
	IsRunning     bool          `json:"is_running"`
	PortListening bool          `json:"port_listening"`
	Uptime        float64       `json:"uptime_seconds"`
}

// HeartbeatMeta carries optional metadata reported alongside a heartbeat.
type HeartbeatMeta struct {
	DisplayName   string  `json:"display_name,omitempty"`
	Port          int     `json:"port,omitempty"`
	IsRunning     bool    `json:"is_running"`
	PortListening bool    `json:"port_listening"`
	Uptime        float64 `json:"uptime_seconds,omitempty"`
}
