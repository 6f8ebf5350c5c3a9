package domain

import "time"

// SessionStatus is the lifecycle state of a quiz session.
type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusPaused    SessionStatus = "paused"
	StatusCompleted SessionStatus = "completed"
	StatusAbandoned SessionStatus = "abandoned"
)

// Terminal reports whether the status accepts no further tool calls.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusAbandoned
}

// SessionPhase is the position of a session inside the question loop.
type SessionPhase string

const (
	PhaseGreeting  SessionPhase = "greeting"
	PhaseAsking    SessionPhase = "asking"
	PhaseListening SessionPhase = "listening"
	PhasePostScore SessionPhase = "post_score"
)

// EventType identifies a timeline fact about a session-question.
type EventType string

const (
	EventTTSStart       EventType = "tts_start"
	EventTTSEnd         EventType = "tts_end"
	EventSpeechStart    EventType = "speech_start"
	EventAnswerReceived EventType = "answer_received"
)

// Role is the authorization level of an acting user.
type Role string

const (
	RoleParticipant Role = "participant"
	RoleAdmin       Role = "admin"
	RoleService     Role = "service"
)

// Actor is the already-authenticated caller of a tool.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// BypassesOwnership reports whether the actor skips session ownership checks.
// Phase gates still apply to everyone.
func (a Actor) BypassesOwnership() bool {
	return a.Role == RoleAdmin || a.Role == RoleService
}

// Session is one participant's quiz attempt. At most one active or paused
// session exists per participant.
type Session struct {
	ID                   string        `json:"id"`
	ParticipantID        string        `json:"participantId"`
	Status               SessionStatus `json:"status"`
	Phase                SessionPhase  `json:"phase"`
	CurrentQuestionIndex int           `json:"currentQuestionIndex"`
	TotalScore           int           `json:"totalScore"`
	Streak               int           `json:"streak"`
	StartedAt            time.Time     `json:"startedAt"`
	CompletedAt          *time.Time    `json:"completedAt,omitempty"`
	LastActivityAt       time.Time     `json:"lastActivityAt"`
}

// SessionQuestion binds one catalog question to one session. It is mutated
// once, at answer time, and immutable afterwards.
type SessionQuestion struct {
	ID             string `json:"id"`
	SessionID      string `json:"sessionId"`
	QuestionID     string `json:"questionId"`
	OrderInSession int    `json:"orderInSession"`
	IsAnswered     bool   `json:"isAnswered"`
	UserAnswer     string `json:"userAnswer,omitempty"`
	IsCorrect      bool   `json:"isCorrect"`
	PointsEarned   int    `json:"pointsEarned"`
	ResponseTimeMs *int64 `json:"responseTimeMs,omitempty"`
}

// TimingEvent is one server-authoritative timeline fact. ServerTimestamp is
// the only value used for scoring math; the client signal timestamp is kept
// for network-latency diagnostics only.
type TimingEvent struct {
	ID                    string            `json:"id"`
	SessionQuestionID     string            `json:"sessionQuestionId"`
	Type                  EventType         `json:"type"`
	ServerTimestamp       time.Time         `json:"serverTimestamp"`
	ClientSignalTimestamp *time.Time        `json:"clientSignalTimestamp,omitempty"`
	Metadata              map[string]string `json:"metadata,omitempty"`
}

// Question is one catalog entry served to sessions.
type Question struct {
	ID          string `json:"id"`
	Prompt      string `json:"prompt"`
	Answer      string `json:"answer"`
	BasePoints  int    `json:"basePoints"` // defaults to 1 if zero
	TimeLimitMs int64  `json:"timeLimitMs"`
	Difficulty  int    `json:"difficulty"` // 1..5
}

// AuditRecord is the immutable trail of one successful tool execution.
type AuditRecord struct {
	ID            string         `json:"id"`
	SessionID     string         `json:"sessionId"`
	ParticipantID string         `json:"participantId"`
	Tool          string         `json:"tool"`
	Args          map[string]any `json:"args,omitempty"`
	Result        string         `json:"result"`
	RecordedAt    time.Time      `json:"recordedAt"`
}

// SessionSnapshot is the resume view handed back to clients.
type SessionSnapshot struct {
	Session         Session          `json:"session"`
	CurrentQuestion *SessionQuestion `json:"currentQuestion,omitempty"`
	QuestionsServed int              `json:"questionsServed"`
	AnsweredCorrect int              `json:"answeredCorrect"`
	AnsweredTotal   int              `json:"answeredTotal"`
}

// LeaderboardEntry is one ranked row of the completed-session leaderboard.
type LeaderboardEntry struct {
	Rank          int       `json:"rank"`
	SessionID     string    `json:"sessionId"`
	ParticipantID string    `json:"participantId"`
	Score         int       `json:"score"`
	CompletedAt   time.Time `json:"completedAt"`
	AvgResponseMs *int64    `json:"avgResponseMs,omitempty"`
}
