package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/chunkplay/pkg/httpclient"
)

// BackendCircuit is the breaker surface of the media backend client.
type BackendCircuit interface {
	CircuitStats() httpclient.CircuitBreakerStats
	ResetCircuit()
}

// CircuitBreakerHandler exposes the backend circuit breaker.
type CircuitBreakerHandler struct {
	circuit BackendCircuit
}

// NewCircuitBreakerHandler creates a new circuit breaker handler.
func NewCircuitBreakerHandler(circuit BackendCircuit) *CircuitBreakerHandler {
	return &CircuitBreakerHandler{circuit: circuit}
}

// Register registers the circuit breaker routes with the API.
func (h *CircuitBreakerHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getBackendCircuit",
		Method:      "GET",
		Path:        "/api/v1/backend/circuit",
		Summary:     "Get backend circuit breaker status",
		Tags:        []string{"Backend"},
	}, h.GetStatus)

	huma.Register(api, huma.Operation{
		OperationID: "resetBackendCircuit",
		Method:      "POST",
		Path:        "/api/v1/backend/circuit/reset",
		Summary:     "Reset the backend circuit breaker",
		Description: "Forces the breaker closed so chunk fetches are attempted again",
		Tags:        []string{"Backend"},
	}, h.Reset)
}

// CircuitStatusInput is the input for getting the breaker status.
type CircuitStatusInput struct{}

// CircuitStatusOutput is the output for breaker status and reset.
type CircuitStatusOutput struct {
	Body httpclient.CircuitBreakerStats
}

// GetStatus returns the breaker counters.
func (h *CircuitBreakerHandler) GetStatus(_ context.Context, _ *CircuitStatusInput) (*CircuitStatusOutput, error) {
	return &CircuitStatusOutput{Body: h.circuit.CircuitStats()}, nil
}

// Reset closes the breaker and returns the resulting counters.
func (h *CircuitBreakerHandler) Reset(_ context.Context, _ *CircuitStatusInput) (*CircuitStatusOutput, error) {
	h.circuit.ResetCircuit()
	return &CircuitStatusOutput{Body: h.circuit.CircuitStats()}, nil
}
