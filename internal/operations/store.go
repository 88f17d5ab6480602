package operations

import (
	"context"
	"time"

	"sparklenote/server/internal/model"
)

// Store is the persistence collaborator for roll, student and paper records.
// The pgx-backed implementation lives in internal/repository; absent rows are
// reported as pgx.ErrNoRows.
type Store interface {
	GetTeacherByID(ctx context.Context, id string) (model.Teacher, error)

	CreateRoll(ctx context.Context, roll model.Roll) error
	GetRollByID(ctx context.Context, id string) (model.Roll, error)
	GetRollByURL(ctx context.Context, url string) (model.Roll, error)
	RollURLExists(ctx context.Context, url string) (bool, error)
	UpdateRollName(ctx context.Context, id, name string, updatedAt time.Time) error
	DeleteRoll(ctx context.Context, id string) error
	ListRollsByOwner(ctx context.Context, ownerID string) ([]model.Roll, error)

	CreateStudent(ctx context.Context, student model.Student) error
	GetStudentByID(ctx context.Context, id string) (model.Student, error)
	ListStudentsByRollAndName(ctx context.Context, rollID, name string) ([]model.Student, error)

	CreatePaper(ctx context.Context, paper model.Paper) error
	GetPaper(ctx context.Context, id string) (model.Paper, error)
	UpdatePaperContent(ctx context.Context, id, content string, updatedAt time.Time) error
	DeletePaper(ctx context.Context, id string) error
	ListPapersByRoll(ctx context.Context, rollID string) ([]model.Paper, error)
}

// Publisher is the broadcast collaborator; implemented by internal/hub.
type Publisher interface {
	Publish(rollID, event string, data []byte)
	DropRoom(rollID string)
}

// Credentials is the session token pair handed out on join and login.
type Credentials struct {
	AccessToken  string
	RefreshToken string
}

// CredentialIssuer mints the token pair for a resolved identity. The HTTP
// layer binds it to the configured JWT secret and TTLs.
type CredentialIssuer func(identity model.Identity) (Credentials, error)
