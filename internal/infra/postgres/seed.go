package postgres

import (
	"context"

	"github.com/uptrace/bun"

	"quizrevise/internal/domain"
)

type userRow struct {
	bun.BaseModel `bun:"table:users"`

	ID    string       `bun:"id,pk"`
	Name  string       `bun:"name,notnull"`
	Email string       `bun:"email,nullzero"`
	Board domain.Board `bun:"board,nullzero"`
	Grade int          `bun:"grade,nullzero"`
}

type subjectRow struct {
	bun.BaseModel `bun:"table:subjects"`

	ID    string       `bun:"id,pk"`
	Name  string       `bun:"name,notnull"`
	Board domain.Board `bun:"board,notnull"`
	Grade int          `bun:"grade,notnull"`
}

type chapterRow struct {
	bun.BaseModel `bun:"table:chapters"`

	ID        string `bun:"id,pk"`
	SubjectID string `bun:"subject_id,notnull"`
	Name      string `bun:"name,notnull"`
	Position  int    `bun:"position"`
}

type topicRow struct {
	bun.BaseModel `bun:"table:topics"`

	ID        string `bun:"id,pk"`
	ChapterID string `bun:"chapter_id,notnull"`
	Name      string `bun:"name,notnull"`
}

// SeedData is the catalog written by the seed command.
type SeedData struct {
	Users    []userRow
	Subjects []subjectRow
	Chapters []chapterRow
	Topics   []topicRow
}

// DemoSeed is a small CBSE class 10 catalog with one student.
func DemoSeed() SeedData {
	return SeedData{
		Users: []userRow{
			{ID: "demo-student", Name: "Demo Student", Email: "student@example.com", Board: domain.BoardCBSE, Grade: 10},
		},
		Subjects: []subjectRow{
			{ID: "cbse-10-science", Name: "Science", Board: domain.BoardCBSE, Grade: 10},
			{ID: "icse-10-physics", Name: "Physics", Board: domain.BoardICSE, Grade: 10},
			{ID: "isc-12-chemistry", Name: "Chemistry", Board: domain.BoardISC, Grade: 12},
		},
		Chapters: []chapterRow{
			{ID: "cbse-10-science-light", SubjectID: "cbse-10-science", Name: "Light - Reflection and Refraction", Position: 9},
			{ID: "icse-10-physics-force", SubjectID: "icse-10-physics", Name: "Force", Position: 1},
			{ID: "isc-12-chemistry-solutions", SubjectID: "isc-12-chemistry", Name: "Solutions", Position: 2},
		},
		Topics: []topicRow{
			{ID: "cbse-10-science-light-mirrors", ChapterID: "cbse-10-science-light", Name: "Spherical Mirrors"},
			{ID: "icse-10-physics-force-moments", ChapterID: "icse-10-physics-force", Name: "Moment of Force"},
		},
	}
}

// Seed inserts the catalog in one transaction, skipping rows that already exist.
func Seed(ctx context.Context, db *bun.DB, data SeedData) error {
	return db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		models := []interface{}{&data.Users, &data.Subjects, &data.Chapters, &data.Topics}
		lengths := []int{len(data.Users), len(data.Subjects), len(data.Chapters), len(data.Topics)}
		for i, model := range models {
			if lengths[i] == 0 {
				continue
			}
			if _, err := tx.NewInsert().Model(model).On("CONFLICT (id) DO NOTHING").Exec(ctx); err != nil {
				return domain.Persistence("seed", err)
			}
		}
		return nil
	})
}
