package operations

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"sparklenote/server/internal/model"
)

const (
	EventPaperCreated = "create"
	EventPaperUpdated = "update"
	EventPaperDeleted = "delete"
)

type PaperView struct {
	ID         string     `json:"id"`
	Content    string     `json:"content"`
	Sticker    *string    `json:"sticker,omitempty"`
	AuthorName string     `json:"authorName"`
	AuthorRole model.Role `json:"authorRole"`
}

// CreatePaper posts a new paper into a roll. Only the roll's owning teacher or
// one of its students may create; the author union is recorded from the
// caller's role. Subscribers of the roll receive a create event before the
// call returns.
func CreatePaper(ctx context.Context, store Store, pub Publisher, identity model.Identity, rollID, content string, sticker *string) (PaperView, error) {
	roll, err := store.GetRollByID(ctx, rollID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PaperView{}, &Error{Code: ErrRollNotFound}
		}
		return PaperView{}, &Error{Code: ErrServerError}
	}
	if identity.Role == model.RoleTeacher && identity.ID != roll.OwnerID {
		return PaperView{}, &Error{Code: ErrForbidden}
	}

	author, opErr := resolveAuthor(ctx, store, identity)
	if opErr != nil {
		return PaperView{}, opErr
	}

	now := time.Now().UTC()
	paper := model.Paper{
		ID:        uuid.NewString(),
		RollID:    roll.ID,
		Content:   content,
		Sticker:   sticker,
		Author:    author,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.CreatePaper(ctx, paper); err != nil {
		return PaperView{}, &Error{Code: ErrServerError}
	}

	view := paperView(paper)
	publishPaper(pub, roll.ID, EventPaperCreated, view)
	return view, nil
}

// UpdatePaper replaces a paper's content under the authorship rule: the roll's
// owning teacher may touch any paper, a student only their own.
func UpdatePaper(ctx context.Context, store Store, pub Publisher, identity model.Identity, paperID, content string) (PaperView, error) {
	paper, roll, opErr := resolvePaper(ctx, store, paperID)
	if opErr != nil {
		return PaperView{}, opErr
	}
	if !CanMutatePaper(identity, roll, paper.Author) {
		return PaperView{}, &Error{Code: ErrForbidden}
	}

	if err := store.UpdatePaperContent(ctx, paperID, content, time.Now().UTC()); err != nil {
		return PaperView{}, &Error{Code: ErrServerError}
	}
	paper.Content = content

	view := paperView(paper)
	publishPaper(pub, paper.RollID, EventPaperUpdated, view)
	return view, nil
}

// DeletePaper removes a paper under the same rule as UpdatePaper. The delete
// event carries the paper's last-known content and author and is published
// before the row is removed, so clients can clear it from their view.
func DeletePaper(ctx context.Context, store Store, pub Publisher, identity model.Identity, paperID string) error {
	paper, roll, opErr := resolvePaper(ctx, store, paperID)
	if opErr != nil {
		return opErr
	}
	if !CanMutatePaper(identity, roll, paper.Author) {
		return &Error{Code: ErrForbidden}
	}

	publishPaper(pub, paper.RollID, EventPaperDeleted, paperView(paper))
	if err := store.DeletePaper(ctx, paperID); err != nil {
		return &Error{Code: ErrServerError}
	}
	return nil
}

// ListPapers returns the roll's papers in creation order, each annotated with
// the resolved author name and role. Reads are not restricted to roll members.
func ListPapers(ctx context.Context, store Store, rollID string) ([]PaperView, error) {
	papers, err := store.ListPapersByRoll(ctx, rollID)
	if err != nil {
		return nil, &Error{Code: ErrServerError}
	}
	views := make([]PaperView, 0, len(papers))
	for _, paper := range papers {
		views = append(views, paperView(paper))
	}
	return views, nil
}

func resolvePaper(ctx context.Context, store Store, paperID string) (model.Paper, model.Roll, *Error) {
	paper, err := store.GetPaper(ctx, paperID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Paper{}, model.Roll{}, &Error{Code: ErrPaperNotFound}
		}
		return model.Paper{}, model.Roll{}, &Error{Code: ErrServerError}
	}
	roll, err := store.GetRollByID(ctx, paper.RollID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Paper{}, model.Roll{}, &Error{Code: ErrRollNotFound}
		}
		return model.Paper{}, model.Roll{}, &Error{Code: ErrServerError}
	}
	return paper, roll, nil
}

func resolveAuthor(ctx context.Context, store Store, identity model.Identity) (model.Author, *Error) {
	switch identity.Role {
	case model.RoleTeacher:
		teacher, err := store.GetTeacherByID(ctx, identity.ID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return model.Author{}, &Error{Code: ErrTeacherNotFound}
			}
			return model.Author{}, &Error{Code: ErrServerError}
		}
		return model.AuthoredByTeacher(teacher.ID, teacher.Name), nil
	case model.RoleStudent:
		student, err := store.GetStudentByID(ctx, identity.ID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return model.Author{}, &Error{Code: ErrStudentNotFound}
			}
			return model.Author{}, &Error{Code: ErrServerError}
		}
		return model.AuthoredByStudent(student.ID, student.Name), nil
	default:
		return model.Author{}, &Error{Code: ErrUnauthorized}
	}
}

func publishPaper(pub Publisher, rollID, event string, view PaperView) {
	data, err := json.Marshal(view)
	if err != nil {
		return
	}
	pub.Publish(rollID, event, data)
}

func paperView(paper model.Paper) PaperView {
	return PaperView{
		ID:         paper.ID,
		Content:    paper.Content,
		Sticker:    paper.Sticker,
		AuthorName: paper.Author.Name(),
		AuthorRole: paper.Author.Role(),
	}
}
