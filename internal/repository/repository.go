package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"sparklenote/server/internal/model"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Teachers

func (s *Store) CreateTeacher(ctx context.Context, teacher model.Teacher) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO teachers (id, email, password_hash, name, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, teacher.ID, teacher.Email, teacher.PasswordHash, teacher.Name, teacher.CreatedAt)
	return err
}

func (s *Store) GetTeacherByID(ctx context.Context, id string) (model.Teacher, error) {
	var teacher model.Teacher
	row := s.pool.QueryRow(ctx, `
		SELECT id, email, password_hash, name, created_at
		FROM teachers
		WHERE id = $1
	`, id)
	err := row.Scan(&teacher.ID, &teacher.Email, &teacher.PasswordHash, &teacher.Name, &teacher.CreatedAt)
	return teacher, err
}

func (s *Store) GetTeacherByEmail(ctx context.Context, email string) (model.Teacher, error) {
	var teacher model.Teacher
	row := s.pool.QueryRow(ctx, `
		SELECT id, email, password_hash, name, created_at
		FROM teachers
		WHERE email = $1
	`, email)
	err := row.Scan(&teacher.ID, &teacher.Email, &teacher.PasswordHash, &teacher.Name, &teacher.CreatedAt)
	return teacher, err
}

// Rolls

func (s *Store) CreateRoll(ctx context.Context, roll model.Roll) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rolls (id, name, class_code, url, owner_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, roll.ID, roll.Name, roll.ClassCode, roll.URL, roll.OwnerID, roll.CreatedAt, roll.UpdatedAt)
	return err
}

func (s *Store) GetRollByID(ctx context.Context, id string) (model.Roll, error) {
	return s.scanRoll(s.pool.QueryRow(ctx, `
		SELECT id, name, class_code, url, owner_id, created_at, updated_at
		FROM rolls
		WHERE id = $1
	`, id))
}

func (s *Store) GetRollByURL(ctx context.Context, url string) (model.Roll, error) {
	return s.scanRoll(s.pool.QueryRow(ctx, `
		SELECT id, name, class_code, url, owner_id, created_at, updated_at
		FROM rolls
		WHERE url = $1
	`, url))
}

func (s *Store) RollURLExists(ctx context.Context, url string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM rolls WHERE url = $1)`, url).Scan(&exists)
	return exists, err
}

func (s *Store) UpdateRollName(ctx context.Context, id, name string, updatedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE rolls SET name = $1, updated_at = $2 WHERE id = $3
	`, name, updatedAt, id)
	return err
}

// DeleteRoll removes the roll; students and papers cascade via foreign keys.
func (s *Store) DeleteRoll(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM rolls WHERE id = $1`, id)
	return err
}

func (s *Store) ListRollsByOwner(ctx context.Context, ownerID string) ([]model.Roll, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, class_code, url, owner_id, created_at, updated_at
		FROM rolls
		WHERE owner_id = $1
		ORDER BY created_at
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rolls []model.Roll
	for rows.Next() {
		var roll model.Roll
		if err := rows.Scan(&roll.ID, &roll.Name, &roll.ClassCode, &roll.URL, &roll.OwnerID, &roll.CreatedAt, &roll.UpdatedAt); err != nil {
			return nil, err
		}
		rolls = append(rolls, roll)
	}
	return rolls, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanRoll(row rowScanner) (model.Roll, error) {
	var roll model.Roll
	err := row.Scan(&roll.ID, &roll.Name, &roll.ClassCode, &roll.URL, &roll.OwnerID, &roll.CreatedAt, &roll.UpdatedAt)
	return roll, err
}

// Students

func (s *Store) CreateStudent(ctx context.Context, student model.Student) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO students (id, roll_id, name, pin_hash, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, student.ID, student.RollID, student.Name, student.PinHash, student.CreatedAt)
	return err
}

func (s *Store) GetStudentByID(ctx context.Context, id string) (model.Student, error) {
	var student model.Student
	row := s.pool.QueryRow(ctx, `
		SELECT id, roll_id, name, pin_hash, created_at
		FROM students
		WHERE id = $1
	`, id)
	err := row.Scan(&student.ID, &student.RollID, &student.Name, &student.PinHash, &student.CreatedAt)
	return student, err
}

func (s *Store) ListStudentsByRollAndName(ctx context.Context, rollID, name string) ([]model.Student, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, roll_id, name, pin_hash, created_at
		FROM students
		WHERE roll_id = $1 AND name = $2
	`, rollID, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var students []model.Student
	for rows.Next() {
		var student model.Student
		if err := rows.Scan(&student.ID, &student.RollID, &student.Name, &student.PinHash, &student.CreatedAt); err != nil {
			return nil, err
		}
		students = append(students, student)
	}
	return students, rows.Err()
}

// Papers

func (s *Store) CreatePaper(ctx context.Context, paper model.Paper) error {
	var teacherID, studentID *string
	authorID := paper.Author.ID()
	switch paper.Author.Role() {
	case model.RoleTeacher:
		teacherID = &authorID
	case model.RoleStudent:
		studentID = &authorID
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO papers (id, roll_id, content, sticker, created_by, teacher_id, student_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, paper.ID, paper.RollID, paper.Content, paper.Sticker, string(paper.Author.Role()), teacherID, studentID, paper.CreatedAt, paper.UpdatedAt)
	return err
}

const paperSelect = `
	SELECT p.id, p.roll_id, p.content, p.sticker, p.created_by,
	       COALESCE(t.id, s.id), COALESCE(t.name, s.name),
	       p.created_at, p.updated_at
	FROM papers p
	LEFT JOIN teachers t ON p.created_by = 'TEACHER' AND t.id = p.teacher_id
	LEFT JOIN students s ON p.created_by = 'STUDENT' AND s.id = p.student_id
`

func (s *Store) GetPaper(ctx context.Context, id string) (model.Paper, error) {
	return scanPaper(s.pool.QueryRow(ctx, paperSelect+` WHERE p.id = $1`, id))
}

func (s *Store) UpdatePaperContent(ctx context.Context, id, content string, updatedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE papers SET content = $1, updated_at = $2 WHERE id = $3
	`, content, updatedAt, id)
	return err
}

func (s *Store) DeletePaper(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM papers WHERE id = $1`, id)
	return err
}

func (s *Store) ListPapersByRoll(ctx context.Context, rollID string) ([]model.Paper, error) {
	rows, err := s.pool.Query(ctx, paperSelect+` WHERE p.roll_id = $1 ORDER BY p.created_at, p.id`, rollID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var papers []model.Paper
	for rows.Next() {
		paper, err := scanPaper(rows)
		if err != nil {
			return nil, err
		}
		papers = append(papers, paper)
	}
	return papers, rows.Err()
}

func scanPaper(row rowScanner) (model.Paper, error) {
	var paper model.Paper
	var createdBy string
	var authorID, authorName *string
	err := row.Scan(&paper.ID, &paper.RollID, &paper.Content, &paper.Sticker, &createdBy,
		&authorID, &authorName, &paper.CreatedAt, &paper.UpdatedAt)
	if err != nil {
		return model.Paper{}, err
	}
	id, name := "", ""
	if authorID != nil {
		id = *authorID
	}
	if authorName != nil {
		name = *authorName
	}
	switch model.Role(createdBy) {
	case model.RoleTeacher:
		paper.Author = model.AuthoredByTeacher(id, name)
	default:
		paper.Author = model.AuthoredByStudent(id, name)
	}
	return paper, nil
}
