package handlers

import "github.com/jmylchreest/chunkplay/internal/playback"

// PlaybackStatusResponse is the API view of the controller status.
type PlaybackStatusResponse struct {
	SessionID              string         `json:"session_id,omitempty" doc:"ULID of the current playback session"`
	AssetID                string         `json:"asset_id,omitempty"`
	State                  string         `json:"state" enum:"idle,opening,streaming,ended,errored"`
	Message                string         `json:"message"`
	Error                  string         `json:"error,omitempty"`
	Cursor                 int            `json:"cursor" doc:"Highest chunk index appended, 0 when unset"`
	LastIndex              int            `json:"last_index" doc:"Highest chunk index in the manifest"`
	InFlight               []int          `json:"in_flight" doc:"Chunk indices currently being fetched or appended"`
	PositionSeconds        float64        `json:"position_seconds"`
	BufferedThroughSeconds float64        `json:"buffered_through_seconds"`
	Stats                  playback.Stats `json:"stats"`
}

// PlaybackStatusFromController converts a controller snapshot.
func PlaybackStatusFromController(st playback.Status) PlaybackStatusResponse {
	inFlight := st.InFlight
	if inFlight == nil {
		inFlight = []int{}
	}
	return PlaybackStatusResponse{
		SessionID:              st.SessionID,
		AssetID:                st.AssetID,
		State:                  st.State,
		Message:                st.Message,
		Error:                  st.Error,
		Cursor:                 st.Cursor,
		LastIndex:              st.LastIndex,
		InFlight:               inFlight,
		PositionSeconds:        st.Position.Seconds(),
		BufferedThroughSeconds: st.BufferedThrough.Seconds(),
		Stats:                  st.Stats,
	}
}

// LoadPlaybackRequest is the body of a load request.
type LoadPlaybackRequest struct {
	AssetID string `json:"asset_id" doc:"Backend asset identifier" minLength:"1" maxLength:"512"`
}

// LoadPlaybackInput is the input for loading an asset.
type LoadPlaybackInput struct {
	Body LoadPlaybackRequest
}

// PlaybackActionInput is the input for body-less playback actions.
type PlaybackActionInput struct{}

// PlaybackStatusOutput wraps a status response.
type PlaybackStatusOutput struct {
	Body PlaybackStatusResponse
}
