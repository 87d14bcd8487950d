package models

// ExecutionPath identifies which computation strategy produced a prediction.
type ExecutionPath string

const (
	PathFast      ExecutionPath = "fast"
	PathSlow      ExecutionPath = "slow"
	PathEmergency ExecutionPath = "emergency"
)

// Prediction is the result of one inference cycle. Degraded is set whenever
// the emergency path served a reduced or cached result so downstream
// consumers can discount it.
type Prediction struct {
	Symbol       string        `json:"symbol"`
	Timestamp    int64         `json:"t"`
	Value        float32       `json:"value"`
	Confidence   float32       `json:"confidence"`
	Path         ExecutionPath `json:"path"`
	Degraded     bool          `json:"degraded"`
	Model        string        `json:"model,omitempty"`
	ContractHash uint64        `json:"contract_hash"`
}
