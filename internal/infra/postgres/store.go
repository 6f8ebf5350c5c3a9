package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"

	"github.com/ahmetmnr/dogalast-sub000/internal/domain"
)

// Store is the durable, bun-backed implementation of the engine's
// persistence interfaces.
type Store struct {
	db *bun.DB
}

func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Sessions() *SessionStore   { return &SessionStore{db: s.db} }
func (s *Store) Questions() *QuestionStore { return &QuestionStore{db: s.db} }
func (s *Store) Events() *EventStore       { return &EventStore{db: s.db} }
func (s *Store) Audit() *AuditStore        { return &AuditStore{db: s.db} }

type sessionRow struct {
	bun.BaseModel `bun:"table:sessions"`

	ID                   string     `bun:"id,pk"`
	ParticipantID        string     `bun:"participant_id"`
	Status               string     `bun:"status"`
	Phase                string     `bun:"phase"`
	CurrentQuestionIndex int        `bun:"current_question_index"`
	TotalScore           int        `bun:"total_score"`
	Streak               int        `bun:"streak"`
	StartedAt            time.Time  `bun:"started_at"`
	CompletedAt          *time.Time `bun:"completed_at"`
	LastActivityAt       time.Time  `bun:"last_activity_at"`
}

func sessionToRow(s *domain.Session) *sessionRow {
	return &sessionRow{
		ID:                   s.ID,
		ParticipantID:        s.ParticipantID,
		Status:               string(s.Status),
		Phase:                string(s.Phase),
		CurrentQuestionIndex: s.CurrentQuestionIndex,
		TotalScore:           s.TotalScore,
		Streak:               s.Streak,
		StartedAt:            s.StartedAt,
		CompletedAt:          s.CompletedAt,
		LastActivityAt:       s.LastActivityAt,
	}
}

func (r *sessionRow) toDomain() *domain.Session {
	return &domain.Session{
		ID:                   r.ID,
		ParticipantID:        r.ParticipantID,
		Status:               domain.SessionStatus(r.Status),
		Phase:                domain.SessionPhase(r.Phase),
		CurrentQuestionIndex: r.CurrentQuestionIndex,
		TotalScore:           r.TotalScore,
		Streak:               r.Streak,
		StartedAt:            r.StartedAt,
		CompletedAt:          r.CompletedAt,
		LastActivityAt:       r.LastActivityAt,
	}
}

type SessionStore struct{ db *bun.DB }

func (s *SessionStore) Create(ctx context.Context, sess *domain.Session) error {
	_, err := s.db.NewInsert().Model(sessionToRow(sess)).Exec(ctx)
	return err
}

func (s *SessionStore) Get(ctx context.Context, id string) (*domain.Session, error) {
	row := new(sessionRow)
	err := s.db.NewSelect().Model(row).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

func (s *SessionStore) FindOpen(ctx context.Context, participantID string) (*domain.Session, error) {
	row := new(sessionRow)
	err := s.db.NewSelect().Model(row).
		Where("participant_id = ?", participantID).
		Where("status IN (?)", bun.In([]string{string(domain.StatusActive), string(domain.StatusPaused)})).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

func (s *SessionStore) Save(ctx context.Context, sess *domain.Session) error {
	_, err := s.db.NewUpdate().Model(sessionToRow(sess)).WherePK().Exec(ctx)
	return err
}

// ApplyAnswer is a single atomic read-modify-write so near-simultaneous tool
// calls cannot overwrite each other's score effects.
func (s *SessionStore) ApplyAnswer(ctx context.Context, sessionID string, delta, streak int, phase domain.SessionPhase, at time.Time) (int, error) {
	var total int
	err := s.db.QueryRowContext(ctx,
		`UPDATE sessions
		 SET total_score = total_score + ?, streak = ?, phase = ?, last_activity_at = ?
		 WHERE id = ?
		 RETURNING total_score`,
		delta, streak, string(phase), at, sessionID).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.ErrSessionNotFound
	}
	return total, err
}

func (s *SessionStore) CompletedEntries(ctx context.Context) ([]domain.LeaderboardEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.id, s.participant_id, s.total_score, s.completed_at,
		        (SELECT CAST(AVG(q.response_time_ms) AS BIGINT)
		         FROM session_questions q
		         WHERE q.session_id = s.id AND q.is_answered AND q.response_time_ms IS NOT NULL)
		 FROM sessions s
		 WHERE s.status = ? AND s.completed_at IS NOT NULL`,
		string(domain.StatusCompleted))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.LeaderboardEntry
	for rows.Next() {
		var entry domain.LeaderboardEntry
		var avg sql.NullInt64
		if err := rows.Scan(&entry.SessionID, &entry.ParticipantID, &entry.Score, &entry.CompletedAt, &avg); err != nil {
			return nil, err
		}
		if avg.Valid {
			v := avg.Int64
			entry.AvgResponseMs = &v
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

type questionRow struct {
	bun.BaseModel `bun:"table:session_questions"`

	ID             string `bun:"id,pk"`
	SessionID      string `bun:"session_id"`
	QuestionID     string `bun:"question_id"`
	OrderInSession int    `bun:"order_in_session"`
	IsAnswered     bool   `bun:"is_answered"`
	UserAnswer     string `bun:"user_answer,nullzero"`
	IsCorrect      bool   `bun:"is_correct"`
	PointsEarned   int    `bun:"points_earned"`
	ResponseTimeMs *int64 `bun:"response_time_ms"`
}

func (r *questionRow) toDomain() *domain.SessionQuestion {
	return &domain.SessionQuestion{
		ID:             r.ID,
		SessionID:      r.SessionID,
		QuestionID:     r.QuestionID,
		OrderInSession: r.OrderInSession,
		IsAnswered:     r.IsAnswered,
		UserAnswer:     r.UserAnswer,
		IsCorrect:      r.IsCorrect,
		PointsEarned:   r.PointsEarned,
		ResponseTimeMs: r.ResponseTimeMs,
	}
}

type QuestionStore struct{ db *bun.DB }

func (s *QuestionStore) Create(ctx context.Context, q *domain.SessionQuestion) error {
	row := &questionRow{
		ID:             q.ID,
		SessionID:      q.SessionID,
		QuestionID:     q.QuestionID,
		OrderInSession: q.OrderInSession,
	}
	_, err := s.db.NewInsert().Model(row).Exec(ctx)
	return err
}

func (s *QuestionStore) GetByOrder(ctx context.Context, sessionID string, order int) (*domain.SessionQuestion, error) {
	row := new(questionRow)
	err := s.db.NewSelect().Model(row).
		Where("session_id = ?", sessionID).
		Where("order_in_session = ?", order).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

// MarkAnswered writes the outcome only when the row is still unanswered;
// a false return means a duplicate lost the race.
func (s *QuestionStore) MarkAnswered(ctx context.Context, id, userAnswer string, correct bool, points int, responseTimeMs int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE session_questions
		 SET is_answered = TRUE, user_answer = ?, is_correct = ?, points_earned = ?, response_time_ms = ?
		 WHERE id = ? AND is_answered = FALSE`,
		userAnswer, correct, points, responseTimeMs, id)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	return affected == 1, err
}

func (s *QuestionStore) ListBySession(ctx context.Context, sessionID string) ([]domain.SessionQuestion, error) {
	var rows []questionRow
	err := s.db.NewSelect().Model(&rows).
		Where("session_id = ?", sessionID).
		Order("order_in_session ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	questions := make([]domain.SessionQuestion, 0, len(rows))
	for i := range rows {
		questions = append(questions, *rows[i].toDomain())
	}
	return questions, nil
}

type eventRow struct {
	bun.BaseModel `bun:"table:timing_events"`

	ID                    string            `bun:"id,pk"`
	SessionQuestionID     string            `bun:"session_question_id"`
	EventType             string            `bun:"event_type"`
	ServerTimestamp       time.Time         `bun:"server_timestamp"`
	ClientSignalTimestamp *time.Time        `bun:"client_signal_timestamp"`
	Metadata              map[string]string `bun:"metadata,type:jsonb"`
}

func (r *eventRow) toDomain() *domain.TimingEvent {
	return &domain.TimingEvent{
		ID:                    r.ID,
		SessionQuestionID:     r.SessionQuestionID,
		Type:                  domain.EventType(r.EventType),
		ServerTimestamp:       r.ServerTimestamp,
		ClientSignalTimestamp: r.ClientSignalTimestamp,
		Metadata:              r.Metadata,
	}
}

type EventStore struct{ db *bun.DB }

func (s *EventStore) Append(ctx context.Context, ev *domain.TimingEvent) error {
	row := &eventRow{
		ID:                    ev.ID,
		SessionQuestionID:     ev.SessionQuestionID,
		EventType:             string(ev.Type),
		ServerTimestamp:       ev.ServerTimestamp,
		ClientSignalTimestamp: ev.ClientSignalTimestamp,
		Metadata:              ev.Metadata,
	}
	_, err := s.db.NewInsert().Model(row).Exec(ctx)
	return err
}

func (s *EventStore) Find(ctx context.Context, sessionQuestionID string, t domain.EventType) (*domain.TimingEvent, error) {
	row := new(eventRow)
	err := s.db.NewSelect().Model(row).
		Where("session_question_id = ?", sessionQuestionID).
		Where("event_type = ?", string(t)).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

func (s *EventStore) List(ctx context.Context, sessionQuestionID string) ([]domain.TimingEvent, error) {
	var rows []eventRow
	err := s.db.NewSelect().Model(&rows).
		Where("session_question_id = ?", sessionQuestionID).
		Order("server_timestamp ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	events := make([]domain.TimingEvent, 0, len(rows))
	for i := range rows {
		events = append(events, *rows[i].toDomain())
	}
	return events, nil
}

type auditRow struct {
	bun.BaseModel `bun:"table:audit_log"`

	ID            string         `bun:"id,pk"`
	SessionID     string         `bun:"session_id"`
	ParticipantID string         `bun:"participant_id"`
	Tool          string         `bun:"tool"`
	Args          map[string]any `bun:"args,type:jsonb"`
	Result        string         `bun:"result"`
	RecordedAt    time.Time      `bun:"recorded_at"`
}

type AuditStore struct{ db *bun.DB }

func (s *AuditStore) Append(ctx context.Context, rec *domain.AuditRecord) error {
	row := &auditRow{
		ID:            rec.ID,
		SessionID:     rec.SessionID,
		ParticipantID: rec.ParticipantID,
		Tool:          rec.Tool,
		Args:          rec.Args,
		Result:        rec.Result,
		RecordedAt:    rec.RecordedAt,
	}
	_, err := s.db.NewInsert().Model(row).Exec(ctx)
	return err
}

func (s *AuditStore) ListBySession(ctx context.Context, sessionID string) ([]domain.AuditRecord, error) {
	var rows []auditRow
	err := s.db.NewSelect().Model(&rows).
		Where("session_id = ?", sessionID).
		Order("recorded_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	records := make([]domain.AuditRecord, 0, len(rows))
	for _, r := range rows {
		records = append(records, domain.AuditRecord{
			ID:            r.ID,
			SessionID:     r.SessionID,
			ParticipantID: r.ParticipantID,
			Tool:          r.Tool,
			Args:          r.Args,
			Result:        r.Result,
			RecordedAt:    r.RecordedAt,
		})
	}
	return records, nil
}
