package domain

import "time"

// SetsPerQuiz is the number of question sets every generated quiz carries.
const SetsPerQuiz = 8

// Board is the curriculum board a subject belongs to.
type Board string

const (
	BoardCBSE Board = "CBSE"
	BoardICSE Board = "ICSE"
	BoardISC  Board = "ISC"
)

// ScheduleStatus is the lifecycle state of a QuizSchedule.
type ScheduleStatus string

const (
	StatusPending   ScheduleStatus = "pending"
	StatusCompleted ScheduleStatus = "completed"
	StatusMissed    ScheduleStatus = "missed"
)

// Terminal reports whether no further transition is allowed.
func (s ScheduleStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusMissed
}

// Question is a single MCQ item of a quiz set. CorrectKey holds the option key
// a submitted answer is compared against.
type Question struct {
	ID         string   `json:"id" validate:"required"`
	Prompt     string   `json:"prompt"`
	Options    []string `json:"options,omitempty"`
	CorrectKey string   `json:"correctKey" validate:"required"`
}

// Quiz is one generation request for a subject/chapter/(topic).
type Quiz struct {
	ID        string    `json:"id" validate:"required"`
	UserID    string    `json:"userId" validate:"required"`
	SubjectID string    `json:"subjectId" validate:"required"`
	ChapterID string    `json:"chapterId" validate:"required"`
	TopicID   *string   `json:"topicId,omitempty"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
}

// QuizSet is one of the eight immutable question batches of a quiz.
type QuizSet struct {
	ID        string     `json:"id" validate:"required"`
	QuizID    string     `json:"quizId"`
	SetNumber int        `json:"setNumber" validate:"min=1,max=8"`
	Questions []Question `json:"questions" validate:"min=1,unique=ID,dive"`
}

// GeneratedQuiz is what the generator hands over: a quiz plus its sets.
type GeneratedQuiz struct {
	Quiz Quiz      `json:"quiz"`
	Sets []QuizSet `json:"sets" validate:"len=8,unique=ID,dive"`
}

// QuizSchedule is the scheduled (and eventually completed or missed) attempt
// of one user at one quiz set.
type QuizSchedule struct {
	ID            string            `json:"id"`
	QuizID        string            `json:"quizId"`
	UserID        string            `json:"userId"`
	QuizSetID     string            `json:"quizSetId"`
	SetNumber     int               `json:"setNumber"`
	ScheduledDate time.Time         `json:"scheduledDate"`
	CompletedDate *time.Time        `json:"completedDate,omitempty"`
	Score         *int              `json:"score,omitempty"`
	UserAnswers   map[string]string `json:"userAnswers,omitempty"`
	Status        ScheduleStatus    `json:"status"`
}

// ScheduleView is the plain record handed to the presentation layer.
type ScheduleView struct {
	ScheduleID    string         `json:"scheduleId"`
	QuizID        string         `json:"quizId"`
	QuizSetID     string         `json:"quizSetId"`
	SetNumber     int            `json:"setNumber"`
	ScheduledDate time.Time      `json:"scheduledDate"`
	Status        ScheduleStatus `json:"status"`
}

// View projects a schedule into its presentation record.
func (s QuizSchedule) View() ScheduleView {
	return ScheduleView{
		ScheduleID:    s.ID,
		QuizID:        s.QuizID,
		QuizSetID:     s.QuizSetID,
		SetNumber:     s.SetNumber,
		ScheduledDate: s.ScheduledDate,
		Status:        s.Status,
	}
}

// Completion carries the fields written atomically on pending -> completed.
type Completion struct {
	Score       int
	Answers     map[string]string
	CompletedAt time.Time
}

// DateRange bounds a report by completion date. Nil ends are open.
type DateRange struct {
	From *time.Time
	To   *time.Time
}

// PerformanceFilter selects completed schedules for a performance series.
type PerformanceFilter struct {
	UserID    string
	SubjectID *string
	Range     DateRange
}

// CompletedAttempt is a row of the reporting read model.
type CompletedAttempt struct {
	ScheduleID    string
	QuizID        string
	SubjectID     string
	SetNumber     int
	Score         int
	CompletedAt   time.Time
	QuizCreatedAt time.Time
}

// PerformancePoint is one charted (date, score, set) tuple.
type PerformancePoint struct {
	ScheduleID     string    `json:"scheduleId"`
	QuizID         string    `json:"quizId"`
	Date           time.Time `json:"date"`
	Score          int       `json:"score"`
	SetNumber      int       `json:"setNumber"`
	RetentionStage int       `json:"retentionStage"`
}

// EventType names a schedule feed event.
type EventType string

const (
	EventSchedulesCreated  EventType = "schedulesCreated"
	EventScheduleCompleted EventType = "scheduleCompleted"
	EventSchedulesMissed   EventType = "schedulesMissed"
)

// ScheduleEvent is pushed to a user's live feed.
type ScheduleEvent struct {
	Type      EventType      `json:"type"`
	UserID    string         `json:"userId"`
	Schedules []ScheduleView `json:"schedules"`
	Score     *int           `json:"score,omitempty"`
	At        time.Time      `json:"at"`
}
