package types

// RetrievalMetadata records how the generator built its schema context
type RetrievalMetadata struct {
	Attempted       bool     `json:"attempted"`
	Used            bool     `json:"used"`
	TableCount      int      `json:"tableCount"`
	Threshold       int      `json:"threshold"`
	ChunksRetrieved int      `json:"chunksRetrieved"`
	TopScore        float64  `json:"topScore,omitempty"`
	FocusedTables   []string `json:"focusedTables,omitempty"`
	FallbackReason  string   `json:"fallbackReason,omitempty"`
}

// GenerationRequest asks for a query answering Question against Schema
type GenerationRequest struct {
	Question string
	Schema   *Schema
	// UseRetrieval overrides the configured retrieval switch when set
	UseRetrieval *bool
	Database     string
}

// GenerationResponse is the generator's answer; an empty Query means no query could be produced
type GenerationResponse struct {
	Query             string             `json:"query"`
	Explanation       string             `json:"explanation"`
	Confidence        Confidence         `json:"confidence"`
	TablesUsed        []string           `json:"tablesUsed"`
	Assumptions       []string           `json:"assumptions"`
	RetrievalMetadata *RetrievalMetadata `json:"retrievalMetadata,omitempty"`
}

// Generated reports whether a query was produced
func (r GenerationResponse) Generated() bool {
	return r.Query != ""
}

// ValidationStage is a state of the validator's two-stage state machine
type ValidationStage string

const (
	StagePending          ValidationStage = "pending"
	StageSafetyRejected   ValidationStage = "safety_rejected"
	StageSemanticPending  ValidationStage = "semantic_pending"
	StageValid            ValidationStage = "valid"
	StageSemanticRejected ValidationStage = "semantic_rejected"
)

// Terminal reports whether no further transition is possible
func (s ValidationStage) Terminal() bool {
	return s == StageSafetyRejected || s == StageValid || s == StageSemanticRejected
}

// ValidationResult is the validator's verdict on one query
type ValidationResult struct {
	IsValid         bool            `json:"isValid"`
	SyntaxValid     bool            `json:"syntaxValid"`
	SchemaValid     bool            `json:"schemaValid"`
	SafetyValid     bool            `json:"safetyValid"`
	ComplexityScore Complexity      `json:"complexityScore"`
	Errors          []string        `json:"errors"`
	Warnings        []string        `json:"warnings"`
	Suggestions     []string        `json:"suggestions"`
	Stage           ValidationStage `json:"stage"`
}

// ExecutionResult is the outcome of running one statement; failures are data, not errors
type ExecutionResult struct {
	Success         bool     `json:"success"`
	ExecutionTimeMs int64    `json:"executionTimeMs"`
	RowCount        int      `json:"rowCount"`
	Columns         []string `json:"columns,omitempty"`
	Data            [][]any  `json:"data,omitempty"`
	Error           string   `json:"error,omitempty"`
	Truncated       bool     `json:"truncated"`
}
