package playback

import "time"

// State is the controller lifecycle state.
type State int

const (
	StateIdle State = iota
	StateOpening
	StateStreaming
	StateEnded
	StateErrored
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpening:
		return "opening"
	case StateStreaming:
		return "streaming"
	case StateEnded:
		return "ended"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Stats are per-session counters.
type Stats struct {
	ChunksFetched  int   `json:"chunks_fetched"`
	ChunksAppended int   `json:"chunks_appended"`
	BytesAppended  int64 `json:"bytes_appended"`
	FetchFailures  int   `json:"fetch_failures"`
	AppendFailures int   `json:"append_failures"`
	// DuplicateTriggers counts prefetch triggers dropped because the chunk was already reserved.
	DuplicateTriggers int `json:"duplicate_triggers"`
}

// Status is a snapshot of the controller for display.
type Status struct {
	SessionID       string        `json:"session_id,omitempty"`
	AssetID         string        `json:"asset_id,omitempty"`
	State           string        `json:"state"`
	Message         string        `json:"message"`
	Error           string        `json:"error,omitempty"`
	Cursor          int           `json:"cursor"`
	LastIndex       int           `json:"last_index"`
	InFlight        []int         `json:"in_flight"`
	Position        time.Duration `json:"position"`
	BufferedThrough time.Duration `json:"buffered_through"`
	Stats           Stats         `json:"stats"`
}
