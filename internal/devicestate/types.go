package devicestate

import (
	"fmt"
	"strings"
	"time"
)

// Settings are the user-adjustable properties of one device.
type Settings struct {
	Serial     string    `json:"serial"`
	ServerPort int       `json:"server_port"`
	Prefix     string    `json:"prefix"`
	AppHost    string    `json:"app_host"`
	AppPort    int       `json:"app_port"`
	Rotation   int       `json:"rotation"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// HistoryEntry records when a device was last attached.
type HistoryEntry struct {
	Serial       string    `json:"serial"`
	FriendlyName string    `json:"friendly_name"`
	Devnode      string    `json:"devnode"`
	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
	AttachCount  int       `json:"attach_count"`
}

// NormalizePrefix prepends a slash when missing and drops trailing ones.
func NormalizePrefix(prefix string) string {
	prefix = strings.TrimRight(prefix, "/")
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return prefix
}

// Validate checks the settings before they are stored.
func (s *Settings) Validate() error {
	var problems []string
	if s.Serial == "" {
		problems = append(problems, "serial is required")
	}
	if s.Prefix == "" || s.Prefix == "/" {
		problems = append(problems, "prefix is required")
	}
	if s.AppHost == "" {
		problems = append(problems, "app host is required")
	}
	if s.AppPort < 1 || s.AppPort > 65535 {
		problems = append(problems, fmt.Sprintf("app port %d out of range", s.AppPort))
	}
	if s.ServerPort < 0 || s.ServerPort > 65535 {
		problems = append(problems, fmt.Sprintf("server port %d out of range", s.ServerPort))
	}
	switch s.Rotation {
	case 0, 90, 180, 270:
	default:
		problems = append(problems, fmt.Sprintf("rotation %d is not 0, 90, 180 or 270", s.Rotation))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidSettings, strings.Join(problems, "; "))
	}
	return nil
}
