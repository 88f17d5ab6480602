package operations

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"sparklenote/server/internal/crypto"
	"sparklenote/server/internal/model"
)

const (
	classCodeMin = 1000
	classCodeMax = 9999

	urlTokenBytes    = 9
	urlTokenAttempts = 5
)

type RollView struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ClassCode int    `json:"classCode"`
	URL       string `json:"url"`
}

type JoinResult struct {
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken"`
	RollID       string      `json:"rollId"`
	RollName     string      `json:"rollName"`
	StudentID    string      `json:"studentId"`
	StudentName  string      `json:"studentName"`
	Role         model.Role  `json:"role"`
	Papers       []PaperView `json:"papers"`
}

// CreateRoll registers a new roll owned by the calling teacher, minting its
// class code and join URL. Class codes are scoped to their roll and may repeat
// across rolls; the URL token is checked for uniqueness and regenerated on
// collision.
func CreateRoll(ctx context.Context, store Store, identity model.Identity, name string) (RollView, error) {
	if identity.Role != model.RoleTeacher {
		return RollView{}, &Error{Code: ErrUnauthorized}
	}

	code, err := NewClassCode()
	if err != nil {
		return RollView{}, &Error{Code: ErrServerError}
	}
	url, err := newRollURL(ctx, store)
	if err != nil {
		return RollView{}, &Error{Code: ErrServerError}
	}

	now := time.Now().UTC()
	roll := model.Roll{
		ID:        uuid.NewString(),
		Name:      name,
		ClassCode: code,
		URL:       url,
		OwnerID:   identity.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.CreateRoll(ctx, roll); err != nil {
		return RollView{}, &Error{Code: ErrServerError}
	}
	return rollView(roll), nil
}

// DeleteRoll removes a roll, its papers and its live subscriber set. Only the
// owning teacher may delete.
func DeleteRoll(ctx context.Context, store Store, pub Publisher, identity model.Identity, rollID string) error {
	roll, err := store.GetRollByID(ctx, rollID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &Error{Code: ErrRollNotFound}
		}
		return &Error{Code: ErrServerError}
	}
	if roll.OwnerID != identity.ID {
		return &Error{Code: ErrForbidden}
	}
	if err := store.DeleteRoll(ctx, rollID); err != nil {
		return &Error{Code: ErrServerError}
	}
	pub.DropRoom(rollID)
	return nil
}

// RenameRoll changes a roll's display name. Renaming to the current name is
// reported as roll_name_not_changed, distinct from success.
func RenameRoll(ctx context.Context, store Store, identity model.Identity, rollID, newName string) (RollView, error) {
	roll, err := store.GetRollByID(ctx, rollID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RollView{}, &Error{Code: ErrRollNotFound}
		}
		return RollView{}, &Error{Code: ErrServerError}
	}
	if roll.OwnerID != identity.ID {
		return RollView{}, &Error{Code: ErrForbidden}
	}
	if roll.Name == newName {
		return RollView{}, &Error{Code: ErrRollNameNotChanged}
	}
	if err := store.UpdateRollName(ctx, rollID, newName, time.Now().UTC()); err != nil {
		return RollView{}, &Error{Code: ErrServerError}
	}
	roll.Name = newName
	return rollView(roll), nil
}

// ListRolls returns the rolls owned by the calling teacher.
func ListRolls(ctx context.Context, store Store, identity model.Identity) ([]RollView, error) {
	if identity.Role != model.RoleTeacher {
		return nil, &Error{Code: ErrForbidden}
	}
	rolls, err := store.ListRollsByOwner(ctx, identity.ID)
	if err != nil {
		return nil, &Error{Code: ErrServerError}
	}
	views := make([]RollView, 0, len(rolls))
	for _, roll := range rolls {
		views = append(views, rollView(roll))
	}
	return views, nil
}

// Join validates the class code for the roll behind the join URL, resolves or
// lazily creates the student, and issues session credentials. Joining again
// with the same (name, pin) pair reuses the existing student. The code check
// runs before the student lookup: a wrong code is rejected even for an
// already-registered student.
func Join(ctx context.Context, store Store, issue CredentialIssuer, url, studentName, pin string, classCode int) (JoinResult, error) {
	roll, err := store.GetRollByURL(ctx, url)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JoinResult{}, &Error{Code: ErrRollNotFound}
		}
		return JoinResult{}, &Error{Code: ErrServerError}
	}
	if roll.ClassCode != classCode {
		return JoinResult{}, &Error{Code: ErrInvalidClassCode}
	}

	student, err := resolveStudent(ctx, store, roll.ID, studentName, pin)
	if err != nil {
		return JoinResult{}, err
	}

	identity := model.Identity{ID: student.ID, Role: model.RoleStudent, Name: student.Name}
	creds, err := issue(identity)
	if err != nil {
		return JoinResult{}, &Error{Code: ErrServerError}
	}

	papers, err := ListPapers(ctx, store, roll.ID)
	if err != nil {
		return JoinResult{}, err
	}

	return JoinResult{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		RollID:       roll.ID,
		RollName:     roll.Name,
		StudentID:    student.ID,
		StudentName:  student.Name,
		Role:         model.RoleStudent,
		Papers:       papers,
	}, nil
}

// resolveStudent reuses the student registered under (roll, name, pin) or
// creates one. PINs are stored hashed, so candidates sharing the name are
// checked one by one.
func resolveStudent(ctx context.Context, store Store, rollID, name, pin string) (model.Student, error) {
	candidates, err := store.ListStudentsByRollAndName(ctx, rollID, name)
	if err != nil {
		return model.Student{}, &Error{Code: ErrServerError}
	}
	for _, candidate := range candidates {
		if crypto.CheckPin(candidate.PinHash, pin) == nil {
			return candidate, nil
		}
	}

	pinHash, err := crypto.HashPin(pin)
	if err != nil {
		return model.Student{}, &Error{Code: ErrServerError}
	}
	student := model.Student{
		ID:        uuid.NewString(),
		RollID:    rollID,
		Name:      name,
		PinHash:   pinHash,
		CreatedAt: time.Now().UTC(),
	}
	if err := store.CreateStudent(ctx, student); err != nil {
		return model.Student{}, &Error{Code: ErrServerError}
	}
	return student, nil
}

// NewClassCode draws a 4-digit join code. Codes are not unique across rolls.
func NewClassCode() (int, error) {
	span := big.NewInt(int64(classCodeMax - classCodeMin + 1))
	value, err := rand.Int(rand.Reader, span)
	if err != nil {
		return 0, err
	}
	return classCodeMin + int(value.Int64()), nil
}

func newRollURL(ctx context.Context, store Store) (string, error) {
	for i := 0; i < urlTokenAttempts; i++ {
		buf := make([]byte, urlTokenBytes)
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		token := base64.RawURLEncoding.EncodeToString(buf)
		exists, err := store.RollURLExists(ctx, token)
		if err != nil {
			return "", err
		}
		if !exists {
			return token, nil
		}
	}
	return "", errors.New("url_generation_exhausted")
}

func rollView(roll model.Roll) RollView {
	return RollView{
		ID:        roll.ID,
		Name:      roll.Name,
		ClassCode: roll.ClassCode,
		URL:       roll.URL,
	}
}
