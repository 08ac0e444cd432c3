package registry

import "time"

// Query limits.
const (
	DefaultReadingLimit = 500
	MaxReadingLimit     = 10000
	DefaultCommandLimit = 100
	MaxCommandLimit     = 1000
)

// timeLayout is fixed-width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000Z"

// Node is one configured garden node.
type Node struct {
	ID           int        `json:"id"`
	Address      string     `json:"address"`
	Pipe         int        `json:"pipe"`
	FirstSeenAt  *time.Time `json:"first_seen_at,omitempty"`
	LastSeenAt   *time.Time `json:"last_seen_at,omitempty"`
	ReadingCount int64      `json:"reading_count"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Reading is a stored telemetry sample. Temperature and Humidity are nil
// when the sensor read failed.
type Reading struct {
	ID          string    `json:"id"`
	NodeID      int       `json:"node_id"`
	Temperature *float64  `json:"temperature"`
	Humidity    *float64  `json:"humidity"`
	LDR         int       `json:"ldr"`
	Soil        int       `json:"soil"`
	ReceivedAt  time.Time `json:"received_at"`
}

// CommandRecord is one entry of the command log.
type CommandRecord struct {
	ID        string    `json:"id"`
	NodeID    int       `json:"node_id"`
	Command   string    `json:"command"`
	Source    string    `json:"source"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ReadingQuery selects readings. Zero values mean "any".
type ReadingQuery struct {
	NodeID int
	From   time.Time
	To     time.Time
	// Limit defaults to DefaultReadingLimit and may not exceed
	// MaxReadingLimit.
	Limit int
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}
