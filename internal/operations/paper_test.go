package operations

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"sparklenote/server/internal/hub"
	"sparklenote/server/internal/model"
)

func studentIdentity(result JoinResult) model.Identity {
	return model.Identity{ID: result.StudentID, Role: model.RoleStudent, Name: result.StudentName}
}

func TestCreatePaperByStudent(t *testing.T) {
	store := newMemStore()
	pub := &recordingPublisher{}
	roll := seedRoll(t, store)
	joined := joinStudent(t, store, roll, "Mina", "1234")

	view, err := CreatePaper(context.Background(), store, pub, studentIdentity(joined), roll.ID, "hi", nil)
	if err != nil {
		t.Fatalf("create paper: %v", err)
	}
	if view.Content != "hi" || view.AuthorRole != model.RoleStudent || view.AuthorName != "Mina" {
		t.Fatalf("unexpected view %+v", view)
	}

	papers, err := ListPapers(context.Background(), store, roll.ID)
	if err != nil {
		t.Fatalf("list papers: %v", err)
	}
	if len(papers) != 1 || papers[0].Content != "hi" || papers[0].AuthorRole != model.RoleStudent {
		t.Fatalf("unexpected list %v", papers)
	}

	if len(pub.events) != 1 || pub.events[0].Event != EventPaperCreated || pub.events[0].RollID != roll.ID {
		t.Fatalf("expected create event, got %v", pub.events)
	}
}

func TestCreatePaperByRollTeacher(t *testing.T) {
	store := newMemStore()
	pub := &recordingPublisher{}
	roll := seedRoll(t, store)

	sticker := "star"
	view, err := CreatePaper(context.Background(), store, pub, teacherIdentity, roll.ID, "welcome", &sticker)
	if err != nil {
		t.Fatalf("create paper: %v", err)
	}
	if view.AuthorRole != model.RoleTeacher || view.AuthorName != "Ms. Park" {
		t.Fatalf("unexpected author %+v", view)
	}
	if view.Sticker == nil || *view.Sticker != "star" {
		t.Fatalf("expected sticker to carry through")
	}
}

func TestCreatePaperNonOwnerTeacherForbidden(t *testing.T) {
	store := newMemStore()
	pub := &recordingPublisher{}
	roll := seedRoll(t, store)
	store.teachers["teacher-2"] = model.Teacher{ID: "teacher-2", Name: "Mr. Oh"}

	_, err := CreatePaper(context.Background(), store, pub, otherTeacher, roll.ID, "intruding", nil)
	assertCode(t, err, ErrForbidden)
	if len(pub.events) != 0 {
		t.Fatalf("expected no broadcast, got %v", pub.events)
	}

	papers, err := ListPapers(context.Background(), store, roll.ID)
	if err != nil {
		t.Fatalf("list papers: %v", err)
	}
	if len(papers) != 0 {
		t.Fatalf("expected no paper persisted, got %d", len(papers))
	}
}

func TestCreatePaperUnknownRoll(t *testing.T) {
	store := newMemStore()
	pub := &recordingPublisher{}
	seedTeacher(store)

	_, err := CreatePaper(context.Background(), store, pub, teacherIdentity, "missing", "hi", nil)
	assertCode(t, err, ErrRollNotFound)
}

func TestUpdatePaperAuthorship(t *testing.T) {
	store := newMemStore()
	pub := &recordingPublisher{}
	roll := seedRoll(t, store)
	authorJoin := joinStudent(t, store, roll, "Mina", "1234")
	otherJoin := joinStudent(t, store, roll, "Jun", "5678")

	paper, err := CreatePaper(context.Background(), store, pub, studentIdentity(authorJoin), roll.ID, "hi", nil)
	if err != nil {
		t.Fatalf("create paper: %v", err)
	}

	// Another student of the same roll may not touch it.
	_, err = UpdatePaper(context.Background(), store, pub, studentIdentity(otherJoin), paper.ID, "hacked")
	assertCode(t, err, ErrForbidden)

	// The author may.
	updated, err := UpdatePaper(context.Background(), store, pub, studentIdentity(authorJoin), paper.ID, "hello")
	if err != nil {
		t.Fatalf("author update: %v", err)
	}
	if updated.Content != "hello" {
		t.Fatalf("expected updated content, got %s", updated.Content)
	}

	// The roll's owning teacher may as well.
	if _, err := UpdatePaper(context.Background(), store, pub, teacherIdentity, paper.ID, "moderated"); err != nil {
		t.Fatalf("owner update: %v", err)
	}

	// A teacher who does not own the roll may not.
	_, err = UpdatePaper(context.Background(), store, pub, otherTeacher, paper.ID, "hijacked")
	assertCode(t, err, ErrForbidden)
}

func TestStudentCannotMutateTeacherPaper(t *testing.T) {
	store := newMemStore()
	pub := &recordingPublisher{}
	roll := seedRoll(t, store)
	joined := joinStudent(t, store, roll, "Mina", "1234")

	paper, err := CreatePaper(context.Background(), store, pub, teacherIdentity, roll.ID, "notice", nil)
	if err != nil {
		t.Fatalf("create paper: %v", err)
	}

	_, err = UpdatePaper(context.Background(), store, pub, studentIdentity(joined), paper.ID, "defaced")
	assertCode(t, err, ErrForbidden)

	err = DeletePaper(context.Background(), store, pub, studentIdentity(joined), paper.ID)
	assertCode(t, err, ErrForbidden)
}

func TestUpdatePaperNotFound(t *testing.T) {
	store := newMemStore()
	pub := &recordingPublisher{}
	seedTeacher(store)

	_, err := UpdatePaper(context.Background(), store, pub, teacherIdentity, "missing", "x")
	assertCode(t, err, ErrPaperNotFound)

	err = DeletePaper(context.Background(), store, pub, teacherIdentity, "missing")
	assertCode(t, err, ErrPaperNotFound)
}

func TestDeletePaperBroadcastsLastKnownState(t *testing.T) {
	store := newMemStore()
	pub := &recordingPublisher{}
	roll := seedRoll(t, store)
	joined := joinStudent(t, store, roll, "Mina", "1234")

	paper, err := CreatePaper(context.Background(), store, pub, studentIdentity(joined), roll.ID, "bye", nil)
	if err != nil {
		t.Fatalf("create paper: %v", err)
	}

	// The owner deletes a student paper.
	if err := DeletePaper(context.Background(), store, pub, teacherIdentity, paper.ID); err != nil {
		t.Fatalf("delete paper: %v", err)
	}

	last := pub.events[len(pub.events)-1]
	if last.Event != EventPaperDeleted {
		t.Fatalf("expected delete event, got %s", last.Event)
	}
	var view PaperView
	if err := json.Unmarshal([]byte(last.Data), &view); err != nil {
		t.Fatalf("decode delete payload: %v", err)
	}
	if view.ID != paper.ID || view.Content != "bye" || view.AuthorName != "Mina" {
		t.Fatalf("expected last-known state in delete event, got %+v", view)
	}

	papers, err := ListPapers(context.Background(), store, roll.ID)
	if err != nil {
		t.Fatalf("list papers: %v", err)
	}
	if len(papers) != 0 {
		t.Fatalf("expected paper removed, got %d", len(papers))
	}
}

func TestPaperEventsReachHubSubscribers(t *testing.T) {
	store := newMemStore()
	h := hub.New()
	roll := seedRoll(t, store)
	joined := joinStudent(t, store, roll, "Mina", "1234")

	sub := h.Subscribe(roll.ID)
	defer h.Unsubscribe(sub)

	if _, err := CreatePaper(context.Background(), store, h, studentIdentity(joined), roll.ID, "hi", nil); err != nil {
		t.Fatalf("create paper: %v", err)
	}

	select {
	case event := <-sub.Events():
		if event.Name != EventPaperCreated {
			t.Fatalf("expected create event, got %s", event.Name)
		}
		var view PaperView
		if err := json.Unmarshal(event.Data, &view); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if view.Content != "hi" || view.AuthorRole != model.RoleStudent {
			t.Fatalf("unexpected payload %+v", view)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected event on subscribed stream")
	}
}
