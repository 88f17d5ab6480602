package operations

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"sparklenote/server/internal/model"
)

// memStore is an in-memory Store used by the package tests. Absent rows are
// reported as pgx.ErrNoRows, matching the repository implementation.
type memStore struct {
	mu       sync.Mutex
	teachers map[string]model.Teacher
	rolls    map[string]model.Roll
	students map[string]model.Student
	papers   []model.Paper
}

func newMemStore() *memStore {
	return &memStore{
		teachers: make(map[string]model.Teacher),
		rolls:    make(map[string]model.Roll),
		students: make(map[string]model.Student),
	}
}

func (m *memStore) GetTeacherByID(_ context.Context, id string) (model.Teacher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	teacher, ok := m.teachers[id]
	if !ok {
		return model.Teacher{}, pgx.ErrNoRows
	}
	return teacher, nil
}

func (m *memStore) CreateRoll(_ context.Context, roll model.Roll) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolls[roll.ID] = roll
	return nil
}

func (m *memStore) GetRollByID(_ context.Context, id string) (model.Roll, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	roll, ok := m.rolls[id]
	if !ok {
		return model.Roll{}, pgx.ErrNoRows
	}
	return roll, nil
}

func (m *memStore) GetRollByURL(_ context.Context, url string) (model.Roll, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, roll := range m.rolls {
		if roll.URL == url {
			return roll, nil
		}
	}
	return model.Roll{}, pgx.ErrNoRows
}

func (m *memStore) RollURLExists(_ context.Context, url string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, roll := range m.rolls {
		if roll.URL == url {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) UpdateRollName(_ context.Context, id, name string, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	roll, ok := m.rolls[id]
	if !ok {
		return pgx.ErrNoRows
	}
	roll.Name = name
	roll.UpdatedAt = updatedAt
	m.rolls[id] = roll
	return nil
}

func (m *memStore) DeleteRoll(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rolls, id)
	kept := m.papers[:0]
	for _, paper := range m.papers {
		if paper.RollID != id {
			kept = append(kept, paper)
		}
	}
	m.papers = kept
	for studentID, student := range m.students {
		if student.RollID == id {
			delete(m.students, studentID)
		}
	}
	return nil
}

func (m *memStore) ListRollsByOwner(_ context.Context, ownerID string) ([]model.Roll, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rolls []model.Roll
	for _, roll := range m.rolls {
		if roll.OwnerID == ownerID {
			rolls = append(rolls, roll)
		}
	}
	return rolls, nil
}

func (m *memStore) CreateStudent(_ context.Context, student model.Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.students[student.ID] = student
	return nil
}

func (m *memStore) GetStudentByID(_ context.Context, id string) (model.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	student, ok := m.students[id]
	if !ok {
		return model.Student{}, pgx.ErrNoRows
	}
	return student, nil
}

func (m *memStore) ListStudentsByRollAndName(_ context.Context, rollID, name string) ([]model.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var students []model.Student
	for _, student := range m.students {
		if student.RollID == rollID && student.Name == name {
			students = append(students, student)
		}
	}
	return students, nil
}

func (m *memStore) CreatePaper(_ context.Context, paper model.Paper) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.papers = append(m.papers, paper)
	return nil
}

func (m *memStore) GetPaper(_ context.Context, id string) (model.Paper, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, paper := range m.papers {
		if paper.ID == id {
			return paper, nil
		}
	}
	return model.Paper{}, pgx.ErrNoRows
}

func (m *memStore) UpdatePaperContent(_ context.Context, id, content string, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, paper := range m.papers {
		if paper.ID == id {
			m.papers[i].Content = content
			m.papers[i].UpdatedAt = updatedAt
			return nil
		}
	}
	return pgx.ErrNoRows
}

func (m *memStore) DeletePaper(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, paper := range m.papers {
		if paper.ID == id {
			m.papers = append(m.papers[:i], m.papers[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *memStore) ListPapersByRoll(_ context.Context, rollID string) ([]model.Paper, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var papers []model.Paper
	for _, paper := range m.papers {
		if paper.RollID == rollID {
			papers = append(papers, paper)
		}
	}
	return papers, nil
}

// recordingPublisher captures publishes in call order.
type recordingPublisher struct {
	mu      sync.Mutex
	events  []publishedEvent
	dropped []string
}

type publishedEvent struct {
	RollID string
	Event  string
	Data   string
}

func (p *recordingPublisher) Publish(rollID, event string, data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{RollID: rollID, Event: event, Data: string(data)})
}

func (p *recordingPublisher) DropRoom(rollID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dropped = append(p.dropped, rollID)
}
