package app

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ahmetmnr/dogalast-sub000/internal/domain"
	"github.com/ahmetmnr/dogalast-sub000/internal/scoring"
	"github.com/ahmetmnr/dogalast-sub000/internal/timing"
)

// Config carries the engine's tunable policy values.
type Config struct {
	// IdempotencyTTL bounds how long cached tool results are replayed.
	IdempotencyTTL time.Duration
	// SignalMinInterval throttles mark_tts_end / mark_speech_start per session.
	SignalMinInterval time.Duration
}

// DefaultConfig matches the production policy constants.
func DefaultConfig() Config {
	return Config{
		IdempotencyTTL:    5 * time.Minute,
		SignalMinInterval: 250 * time.Millisecond,
	}
}

// Engine is the single authorized entry point through which client actions
// mutate session state. Every invocation runs the same contract: argument
// validation, session requirement, ownership, phase gate, execution, audit.
type Engine struct {
	sessions  SessionStore
	questions SessionQuestionStore
	audit     AuditStore
	catalog   Catalog
	timing    *timing.Service
	idem      *resultCache
	limiter   *rateLimiter
	logger    *zap.Logger
	clock     func() time.Time
}

func NewEngine(sessions SessionStore, questions SessionQuestionStore, audit AuditStore, catalog Catalog, timingSvc *timing.Service, cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := time.Now
	e := &Engine{
		sessions:  sessions,
		questions: questions,
		audit:     audit,
		catalog:   catalog,
		timing:    timingSvc,
		logger:    logger,
		clock:     clock,
	}
	e.idem = newResultCache(cfg.IdempotencyTTL, func() time.Time { return e.clock() })
	e.limiter = newRateLimiter(cfg.SignalMinInterval, func() time.Time { return e.clock() })
	return e
}

// WithClock is test-only for deterministic timestamps.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.clock = now
	return e
}

// ToolCall is one client-triggered operation.
type ToolCall struct {
	Name           ToolName       `json:"name"`
	Args           map[string]any `json:"args"`
	SessionID      string         `json:"sessionId,omitempty"`
	Actor          domain.Actor   `json:"actor"`
	IdempotencyKey string         `json:"idempotencyKey,omitempty"`
}

// ToolResult is the structured outcome of a successful invocation.
type ToolResult struct {
	Tool    ToolName `json:"tool"`
	Payload any      `json:"payload,omitempty"`
}

// StartResult reports the session a start_quiz call resolved to.
type StartResult struct {
	Session domain.Session `json:"session"`
	Resumed bool           `json:"resumed"`
}

// QuestionServed is the client view of a served question. The canonical
// answer never leaves the engine.
type QuestionServed struct {
	SessionQuestionID string `json:"sessionQuestionId"`
	QuestionID        string `json:"questionId"`
	Order             int    `json:"order"`
	Prompt            string `json:"prompt"`
	BasePoints        int    `json:"basePoints"`
	TimeLimitMs       int64  `json:"timeLimitMs"`
	Difficulty        int    `json:"difficulty"`
}

// SignalResult acknowledges a recorded timing signal.
type SignalResult struct {
	EventID        string     `json:"eventId"`
	TimerStartedAt *time.Time `json:"timerStartedAt,omitempty"`
}

// SubmitResult is the full outcome of one answer.
type SubmitResult struct {
	SessionQuestionID string            `json:"sessionQuestionId"`
	Correct           bool              `json:"correct"`
	MatchType         scoring.MatchType `json:"matchType"`
	Similarity        float64           `json:"similarity"`
	ResponseTimeMs    int64             `json:"responseTimeMs"`
	Score             scoring.Breakdown `json:"score"`
	TotalScore        int               `json:"totalScore"`
	Streak            int               `json:"streak"`
	Anomalies         []string          `json:"anomalies,omitempty"`
}

// FinishResult is the final aggregate for a completed session.
type FinishResult struct {
	SessionID         string `json:"sessionId"`
	TotalScore        int    `json:"totalScore"`
	QuestionsAnswered int    `json:"questionsAnswered"`
	CorrectAnswers    int    `json:"correctAnswers"`
	AvgResponseMs     *int64 `json:"avgResponseMs,omitempty"`
	Rank              int    `json:"rank"`
}

// ExecuteTool validates and runs one tool call. Rejections identify the
// failed precondition; no side effect happens before all gates pass.
func (e *Engine) ExecuteTool(ctx context.Context, call ToolCall) (ToolResult, error) {
	spec, ok := toolTable[call.Name]
	if !ok {
		return ToolResult{}, &domain.ValidationError{Field: "name", Reason: "unknown tool"}
	}
	if call.Actor.ID == "" {
		return ToolResult{}, &domain.ValidationError{Field: "actor", Reason: "acting user required"}
	}
	if err := spec.validate(call.Args); err != nil {
		return ToolResult{}, err
	}

	idemKey := scopedIdemKey(call)
	if cached, ok := e.idem.Get(idemKey); ok {
		return cached, nil
	}

	var session *domain.Session
	if spec.requiresSession {
		if call.SessionID == "" {
			return ToolResult{}, domain.ErrSessionRequired
		}
		var err error
		session, err = e.sessions.Get(ctx, call.SessionID)
		if err != nil {
			return ToolResult{}, err
		}
		if session == nil {
			return ToolResult{}, domain.ErrSessionNotFound
		}
		if session.ParticipantID != call.Actor.ID && !call.Actor.BypassesOwnership() {
			return ToolResult{}, domain.ErrNotSessionOwner
		}
		if session.Status.Terminal() {
			return ToolResult{}, domain.ErrSessionTerminal
		}
		if session.Status == domain.StatusPaused {
			return ToolResult{}, domain.ErrSessionPaused
		}
		if !phaseAllowed(spec, session.Phase) {
			return ToolResult{}, &domain.PhaseError{Tool: string(call.Name), Phase: session.Phase, Allowed: spec.allowedPhases}
		}
		if spec.rateLimited && !e.limiter.Allow(session.ID, call.Name) {
			return ToolResult{}, domain.ErrRateLimited
		}
	}

	var (
		payload any
		err     error
	)
	switch call.Name {
	case ToolStartQuiz:
		payload, err = e.startQuiz(ctx, call.Actor)
	case ToolNextQuestion:
		payload, err = e.nextQuestion(ctx, session)
	case ToolMarkTTSEnd:
		payload, err = e.markTTSEnd(ctx, session, call.Args)
	case ToolMarkSpeechStart:
		payload, err = e.markSpeechStart(ctx, session, call.Args)
	case ToolSubmitAnswer:
		payload, err = e.submitAnswer(ctx, session, call.Args)
	case ToolFinishQuiz:
		payload, err = e.finishQuiz(ctx, session)
	}
	if err != nil {
		return ToolResult{}, err
	}

	result := ToolResult{Tool: call.Name, Payload: payload}
	e.writeAudit(ctx, call, session, "ok")
	e.idem.Put(idemKey, result)
	return result, nil
}

// writeAudit records the execution trail. A compliance log gap must not
// break gameplay, so failures are logged and swallowed.
func (e *Engine) writeAudit(ctx context.Context, call ToolCall, session *domain.Session, result string) {
	sessionID := call.SessionID
	if session != nil {
		sessionID = session.ID
	}
	rec := &domain.AuditRecord{
		ID:            uuid.NewString(),
		SessionID:     sessionID,
		ParticipantID: call.Actor.ID,
		Tool:          string(call.Name),
		Args:          call.Args,
		Result:        result,
		RecordedAt:    e.clock(),
	}
	if err := e.audit.Append(ctx, rec); err != nil {
		e.logger.Warn("audit write failed",
			zap.String("tool", string(call.Name)),
			zap.String("session", sessionID),
			zap.Error(err))
	}
}

// startQuiz creates a session, or idempotently returns the caller's existing
// open one instead of erroring on a retried start.
func (e *Engine) startQuiz(ctx context.Context, actor domain.Actor) (any, error) {
	existing, err := e.sessions.FindOpen(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return StartResult{Session: *existing, Resumed: true}, nil
	}

	now := e.clock()
	session := &domain.Session{
		ID:             uuid.NewString(),
		ParticipantID:  actor.ID,
		Status:         domain.StatusActive,
		Phase:          domain.PhaseGreeting,
		StartedAt:      now,
		LastActivityAt: now,
	}
	if err := e.sessions.Create(ctx, session); err != nil {
		return nil, err
	}
	e.logger.Info("session started",
		zap.String("session", session.ID),
		zap.String("participant", actor.ID))
	return StartResult{Session: *session}, nil
}

// nextQuestion advances to the next catalog question. Serving is idempotent
// on (sessionID, order) so a retried request reuses the same instance.
func (e *Engine) nextQuestion(ctx context.Context, session *domain.Session) (any, error) {
	order := session.CurrentQuestionIndex + 1
	question, err := e.catalog.QuestionAt(ctx, order)
	if err != nil {
		return nil, err
	}
	if question == nil {
		return nil, domain.ErrQuestionsExhausted
	}

	sq, err := e.questions.GetByOrder(ctx, session.ID, order)
	if err != nil {
		return nil, err
	}
	if sq == nil {
		sq = &domain.SessionQuestion{
			ID:             uuid.NewString(),
			SessionID:      session.ID,
			QuestionID:     question.ID,
			OrderInSession: order,
		}
		if err := e.questions.Create(ctx, sq); err != nil {
			return nil, err
		}
	}

	if _, err := e.timing.RecordEvent(ctx, sq.ID, domain.EventTTSStart, nil, map[string]string{"questionId": question.ID}); err != nil {
		return nil, err
	}

	session.CurrentQuestionIndex = order
	session.Phase = domain.PhaseAsking
	session.LastActivityAt = e.clock()
	if err := e.sessions.Save(ctx, session); err != nil {
		return nil, err
	}

	return QuestionServed{
		SessionQuestionID: sq.ID,
		QuestionID:        question.ID,
		Order:             order,
		Prompt:            question.Prompt,
		BasePoints:        question.BasePoints,
		TimeLimitMs:       question.TimeLimitMs,
		Difficulty:        question.Difficulty,
	}, nil
}

func (e *Engine) currentQuestion(ctx context.Context, session *domain.Session) (*domain.SessionQuestion, error) {
	if session.CurrentQuestionIndex < 1 {
		return nil, domain.ErrQuestionNotFound
	}
	sq, err := e.questions.GetByOrder(ctx, session.ID, session.CurrentQuestionIndex)
	if err != nil {
		return nil, err
	}
	if sq == nil {
		return nil, domain.ErrQuestionNotFound
	}
	return sq, nil
}

// markTTSEnd records the moment speech synthesis finished; this is the
// authoritative start of the answer clock.
func (e *Engine) markTTSEnd(ctx context.Context, session *domain.Session, args map[string]any) (any, error) {
	sq, err := e.currentQuestion(ctx, session)
	if err != nil {
		return nil, err
	}
	eventID, err := e.timing.RecordEvent(ctx, sq.ID, domain.EventTTSEnd, clientTimestamp(args), signalMetadata(args))
	if err != nil {
		return nil, err
	}

	session.Phase = domain.PhaseListening
	session.LastActivityAt = e.clock()
	if err := e.sessions.Save(ctx, session); err != nil {
		return nil, err
	}

	timerStart, err := e.timing.TimerStart(ctx, sq.ID)
	if err != nil {
		return nil, err
	}
	return SignalResult{EventID: eventID, TimerStartedAt: timerStart}, nil
}

// markSpeechStart records detected voice activity while listening.
func (e *Engine) markSpeechStart(ctx context.Context, session *domain.Session, args map[string]any) (any, error) {
	sq, err := e.currentQuestion(ctx, session)
	if err != nil {
		return nil, err
	}
	eventID, err := e.timing.RecordEvent(ctx, sq.ID, domain.EventSpeechStart, clientTimestamp(args), signalMetadata(args))
	if err != nil {
		return nil, err
	}

	session.LastActivityAt = e.clock()
	if err := e.sessions.Save(ctx, session); err != nil {
		return nil, err
	}
	return SignalResult{EventID: eventID}, nil
}

// submitAnswer is the critical path: it records the answer_received event,
// judges the transcript, derives response time from the timeline (refusing
// to proceed when timing data is incomplete), computes the score, and
// persists the question outcome together with the running total.
func (e *Engine) submitAnswer(ctx context.Context, session *domain.Session, args map[string]any) (any, error) {
	sq, err := e.currentQuestion(ctx, session)
	if err != nil {
		return nil, err
	}
	if sq.IsAnswered {
		return e.replayOutcome(session, sq), nil
	}

	answer := args["answer"].(string)
	meta := signalMetadata(args)
	if meta == nil {
		meta = make(map[string]string)
	}
	meta["transcript"] = answer
	if _, err := e.timing.RecordEvent(ctx, sq.ID, domain.EventAnswerReceived, clientTimestamp(args), meta); err != nil {
		return nil, err
	}

	responseMs, err := e.timing.ResponseTime(ctx, sq.ID)
	if err != nil {
		return nil, err
	}
	if responseMs == nil {
		return nil, domain.ErrTimingIncomplete
	}

	question, err := e.catalog.QuestionAt(ctx, sq.OrderInSession)
	if err != nil {
		return nil, err
	}
	if question == nil {
		return nil, domain.ErrQuestionNotFound
	}

	judgement := scoring.ValidateAnswer(answer, question.Answer)
	streak := 0
	if judgement.IsCorrect {
		streak = session.Streak + 1
	}
	breakdown := scoring.CalculateScore(judgement.IsCorrect, question.BasePoints, *responseMs, question.TimeLimitMs, question.Difficulty, streak)

	applied, err := e.questions.MarkAnswered(ctx, sq.ID, answer, judgement.IsCorrect, breakdown.Total, *responseMs)
	if err != nil {
		return nil, err
	}
	if !applied {
		// Lost a race against a duplicate submit; the stored outcome wins.
		stored, err := e.questions.GetByOrder(ctx, session.ID, sq.OrderInSession)
		if err != nil {
			return nil, err
		}
		if stored != nil {
			return e.replayOutcome(session, stored), nil
		}
		return nil, domain.ErrQuestionNotFound
	}

	total, err := e.sessions.ApplyAnswer(ctx, session.ID, breakdown.Total, streak, domain.PhasePostScore, e.clock())
	if err != nil {
		return nil, err
	}

	anomalies := e.collectAnomalies(ctx, session, sq, *responseMs, question.TimeLimitMs, streak, breakdown.Total)
	if judgement.MatchType == scoring.MatchPartial {
		e.logger.Info("partial answer match",
			zap.String("session", session.ID),
			zap.String("sessionQuestion", sq.ID),
			zap.Float64("similarity", judgement.Similarity))
	}

	return SubmitResult{
		SessionQuestionID: sq.ID,
		Correct:           judgement.IsCorrect,
		MatchType:         judgement.MatchType,
		Similarity:        judgement.Similarity,
		ResponseTimeMs:    *responseMs,
		Score:             breakdown,
		TotalScore:        total,
		Streak:            streak,
		Anomalies:         anomalies,
	}, nil
}

// collectAnomalies merges timing and scoring telemetry. Advisory only.
func (e *Engine) collectAnomalies(ctx context.Context, session *domain.Session, sq *domain.SessionQuestion, responseMs, timeLimitMs int64, streak, points int) []string {
	var flags []string
	if breakdown, err := e.timing.Breakdown(ctx, sq.ID); err == nil {
		flags = append(flags, breakdown.Anomalies...)
	}

	answered, err := e.questions.ListBySession(ctx, session.ID)
	if err != nil {
		return flags
	}
	var recent []int
	for _, q := range answered {
		if q.IsAnswered && q.ID != sq.ID {
			recent = append(recent, q.PointsEarned)
		}
	}
	recent = append(recent, points)
	return append(flags, scoring.DetectAnomalies(responseMs, timeLimitMs, streak, recent)...)
}

// replayOutcome rebuilds the submit result for an already-answered question
// so retried submits stay side-effect free.
func (e *Engine) replayOutcome(session *domain.Session, sq *domain.SessionQuestion) SubmitResult {
	result := SubmitResult{
		SessionQuestionID: sq.ID,
		Correct:           sq.IsCorrect,
		TotalScore:        session.TotalScore,
		Streak:            session.Streak,
	}
	if sq.ResponseTimeMs != nil {
		result.ResponseTimeMs = *sq.ResponseTimeMs
	}
	result.Score = scoring.Breakdown{Total: sq.PointsEarned}
	return result
}

// finishQuiz marks the session completed, aggregates its results, and
// resolves the caller's leaderboard rank.
func (e *Engine) finishQuiz(ctx context.Context, session *domain.Session) (any, error) {
	questions, err := e.questions.ListBySession(ctx, session.ID)
	if err != nil {
		return nil, err
	}

	answered, correct := 0, 0
	var responseSum, responseCount int64
	for _, q := range questions {
		if !q.IsAnswered {
			continue
		}
		answered++
		if q.IsCorrect {
			correct++
		}
		if q.ResponseTimeMs != nil {
			responseSum += *q.ResponseTimeMs
			responseCount++
		}
	}

	now := e.clock()
	session.Status = domain.StatusCompleted
	session.CompletedAt = &now
	session.LastActivityAt = now
	if err := e.sessions.Save(ctx, session); err != nil {
		return nil, err
	}

	result := FinishResult{
		SessionID:         session.ID,
		TotalScore:        session.TotalScore,
		QuestionsAnswered: answered,
		CorrectAnswers:    correct,
	}
	if responseCount > 0 {
		avg := responseSum / responseCount
		result.AvgResponseMs = &avg
	}

	entries, err := e.sessions.CompletedEntries(ctx)
	if err != nil {
		return nil, err
	}
	for _, entry := range scoring.Rank(entries) {
		if entry.SessionID == session.ID {
			result.Rank = entry.Rank
			break
		}
	}

	e.logger.Info("session completed",
		zap.String("session", session.ID),
		zap.Int("score", session.TotalScore),
		zap.Int("rank", result.Rank))
	return result, nil
}

// Leaderboard is the ranked, paged view of completed sessions.
func (e *Engine) Leaderboard(ctx context.Context, limit, offset int) ([]domain.LeaderboardEntry, error) {
	entries, err := e.sessions.CompletedEntries(ctx)
	if err != nil {
		return nil, err
	}
	return scoring.Page(scoring.Rank(entries), limit, offset), nil
}

// Snapshot is the session-state view exposed for recovery and resume UI.
func (e *Engine) Snapshot(ctx context.Context, sessionID string) (domain.SessionSnapshot, error) {
	session, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return domain.SessionSnapshot{}, err
	}
	if session == nil {
		return domain.SessionSnapshot{}, domain.ErrSessionNotFound
	}

	questions, err := e.questions.ListBySession(ctx, sessionID)
	if err != nil {
		return domain.SessionSnapshot{}, err
	}

	snap := domain.SessionSnapshot{Session: *session, QuestionsServed: len(questions)}
	for i := range questions {
		q := questions[i]
		if q.OrderInSession == session.CurrentQuestionIndex {
			snap.CurrentQuestion = &questions[i]
		}
		if q.IsAnswered {
			snap.AnsweredTotal++
			if q.IsCorrect {
				snap.AnsweredCorrect++
			}
		}
	}
	return snap, nil
}

// AuditTrail lists the immutable tool-call records for one session.
func (e *Engine) AuditTrail(ctx context.Context, sessionID string) ([]domain.AuditRecord, error) {
	return e.audit.ListBySession(ctx, sessionID)
}
