// Package dialog tracks a conversation and decides whether each input starts a
// new question or refines the active query. Classification is rule-based and
// makes no remote calls.
package dialog

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kyleking/askdb/internal/config"
	"github.com/kyleking/askdb/internal/logging"
	"github.com/kyleking/askdb/internal/monitor"
	"github.com/kyleking/askdb/internal/types"
)

const (
	DefaultHistorySize      = 10
	DefaultShortInputTokens = 5
)

// ErrEmptyInput is returned for blank input; the conversation does not advance
var ErrEmptyInput = errors.New("input is empty")

var (
	ResetPhrases = []string{
		"start over", "reset", "new question", "forget that", "never mind", "nevermind", "clear context",
	}

	RefinementKeywords = []string{
		"only", "instead", "also", "filter", "exclude", "excluding", "include", "including",
		"sort", "sorted", "order by", "limit", "top", "first", "more", "less", "fewer",
		"add", "remove", "change", "modify", "refine", "narrow", "group by", "just",
		"without", "same", "those", "them", "these", "previous", "that query",
		"ascending", "descending", "rename",
	}

	NewQueryKeywords = []string{
		"how many", "how much", "what", "which", "who", "when", "where",
		"show me", "tell me", "give me", "list all", "find all", "show all",
		"another question", "different question", "something else",
	}

	resetPattern      = phrasePattern(ResetPhrases)
	refinementPattern = phrasePattern(RefinementKeywords)
	newQueryPattern   = phrasePattern(NewQueryKeywords)
	residuePattern    = regexp.MustCompile(`[\p{L}\p{N}]`)
)

// phrasePattern matches any phrase as whole words, case-insensitively
func phrasePattern(phrases []string) *regexp.Regexp {
	alts := make([]string, len(phrases))
	for i, p := range phrases {
		alts[i] = strings.Join(strings.Fields(regexp.QuoteMeta(p)), `\s+`)
	}

	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(alts, "|") + `)\b`)
}

// IsReset reports whether input contains a reset phrase
func IsReset(input string) bool {
	return resetPattern.MatchString(input)
}

// ResetOnly reports whether input is nothing but reset phrases and punctuation
func ResetOnly(input string) bool {
	return IsReset(input) && !residuePattern.MatchString(resetPattern.ReplaceAllString(input, ""))
}

// TurnResult is what the pipeline produced for one turn
type TurnResult struct {
	Query      string                  `json:"query,omitempty"`
	Confidence types.Confidence        `json:"confidence"`
	TablesUsed []string                `json:"tablesUsed,omitempty"`
	Validation *types.ValidationResult `json:"validation,omitempty"`
	Execution  *types.ExecutionResult  `json:"execution,omitempty"`
	// Rejected marks a query the safety rules refused; it stays in the history
	// but never becomes the active query
	Rejected bool `json:"rejected,omitempty"`
}

// Turn is one processed input
type Turn struct {
	ID        string       `json:"id"`
	Timestamp time.Time    `json:"timestamp"`
	UserInput string       `json:"userInput"`
	Intent    types.Intent `json:"intent"`
	Result    *TurnResult  `json:"result,omitempty"`
}

// ConversationState is a snapshot of a session's conversation
type ConversationState struct {
	SessionID     string                 `json:"sessionId"`
	Database      string                 `json:"database"`
	Turns         []Turn                 `json:"turns"`
	CurrentQuery  string                 `json:"currentQuery,omitempty"`
	CurrentResult *types.ExecutionResult `json:"currentResult,omitempty"`
}

// Manager owns one session's conversation. It is not safe for concurrent use;
// the session that owns it serializes access.
type Manager struct {
	sessionID string
	database  string

	history     *History
	shortTokens int

	currentQuery    string
	currentQuestion string
	currentTables   []string
	currentResult   *types.ExecutionResult

	logger *logging.Logger
	now    func() time.Time
}

// NewManager creates a conversation for one session
func NewManager(sessionID, database string, cfg config.DialogConfig, logger *logging.Logger) *Manager {
	shortTokens := cfg.ShortInputTokens
	if shortTokens <= 0 {
		shortTokens = DefaultShortInputTokens
	}

	return &Manager{
		sessionID:   sessionID,
		database:    database,
		history:     NewHistory(cfg.HistorySize),
		shortTokens: shortTokens,
		logger:      logging.OrNop(logger).WithSession(sessionID).WithField("component", "dialog"),
		now:         time.Now,
	}
}

// Classify decides the intent of input without changing any state
func (m *Manager) Classify(input string) (types.Intent, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", ErrEmptyInput
	}

	if m.history.Len() == 0 || IsReset(input) || m.currentQuery == "" {
		return types.IntentNewQuery, nil
	}

	refines := refinementPattern.MatchString(input)
	asksNew := newQueryPattern.MatchString(input)

	switch {
	case refines && !asksNew:
		return types.IntentRefinement, nil
	case asksNew && !refines:
		return types.IntentNewQuery, nil
	}

	// Both or neither matched: a short follow-up to an active query is a refinement
	if len(strings.Fields(input)) < m.shortTokens {
		return types.IntentRefinement, nil
	}

	return types.IntentNewQuery, nil
}

// Record appends a processed turn. A reset phrase clears the active query first;
// a result with an accepted query then becomes the active one.
func (m *Manager) Record(input string, intent types.Intent, result *TurnResult) Turn {
	input = strings.TrimSpace(input)

	if IsReset(input) {
		m.Reset()
	}

	turn := Turn{
		ID:        uuid.NewString(),
		Timestamp: m.now(),
		UserInput: input,
		Intent:    intent,
		Result:    result,
	}

	m.history.Push(turn)
	monitor.RecordIntent(string(intent))

	if result != nil && result.Query != "" && !result.Rejected {
		if intent == types.IntentNewQuery || m.currentQuestion == "" {
			m.currentQuestion = input
		}

		m.currentQuery = result.Query
		m.currentTables = append([]string(nil), result.TablesUsed...)
		m.currentResult = result.Execution
	}

	m.logger.WithFields(map[string]interface{}{
		"intent": string(intent),
		"turns":  m.history.Len(),
	}).Debug("turn recorded")

	return turn
}

// Reset clears the active query but keeps the history
func (m *Manager) Reset() {
	m.currentQuery = ""
	m.currentQuestion = ""
	m.currentTables = nil
	m.currentResult = nil
}

// CurrentQuery returns the active query, or "" when there is none
func (m *Manager) CurrentQuery() string { return m.currentQuery }

// CurrentQuestion returns the question that produced the active query
func (m *Manager) CurrentQuestion() string { return m.currentQuestion }

// CurrentTables returns the tables the active query reads
func (m *Manager) CurrentTables() []string {
	return append([]string(nil), m.currentTables...)
}

// CurrentResult returns the last execution of the active query
func (m *Manager) CurrentResult() *types.ExecutionResult { return m.currentResult }

// History returns the retained turns, oldest first
func (m *Manager) History() []Turn { return m.history.Turns() }

// State returns a snapshot of the conversation
func (m *Manager) State() ConversationState {
	return ConversationState{
		SessionID:     m.sessionID,
		Database:      m.database,
		Turns:         m.history.Turns(),
		CurrentQuery:  m.currentQuery,
		CurrentResult: m.currentResult,
	}
}
