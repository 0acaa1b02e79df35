package storage

import "time"

// Log defines the structure of records storing in Storage as log of handled requests
type Log struct {
	Timestamp  time.Time         `json:"@timestamp"`
	URL        string            `json:"url"`
	Method     string            `json:"method"`
	MockDomain string            `json:"mock_domain"`
	Decision   string            `json:"decision"` // use_mock, mock_not_found, scenario_not_found, ignore_domain
	Source     string            `json:"source"`   // mock, live, error
	Scenario   string            `json:"scenario,omitempty"`
	DeviceID   string            `json:"device_id,omitempty"`
	StatusCode int               `json:"status_code"`
	DurationMS float64           `json:"duration_ms"`
	Headers    map[string]string `json:"headers,omitempty"` // Request headers after redaction
	MockID     string            `json:"mock_id,omitempty"` // Served or recorded mock
	MockFile   string            `json:"mock_file,omitempty"`
	Saved      bool              `json:"saved"`
}
