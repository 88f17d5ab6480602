package model

import "time"

type Role string

const (
	RoleTeacher Role = "TEACHER"
	RoleStudent Role = "STUDENT"
)

// Identity is the resolved caller of an operation. It is built once from
// validated token claims at the transport boundary and passed down explicitly.
type Identity struct {
	ID   string
	Role Role
	Name string
}

type Teacher struct {
	ID           string
	Email        string
	PasswordHash string
	Name         string
	CreatedAt    time.Time
}

// Student belongs to exactly one roll, fixed at join time.
type Student struct {
	ID        string
	RollID    string
	Name      string
	PinHash   string
	CreatedAt time.Time
}

// Roll is a teacher-owned session students join with a class code.
// Class codes are only meaningful relative to their own roll; they are not
// unique across rolls. The URL token is the globally unique external handle.
type Roll struct {
	ID        string
	Name      string
	ClassCode int
	URL       string
	OwnerID   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Author is the tagged author of a paper: either the roll's teacher or one of
// its students, never both. Construct through AuthoredByTeacher or
// AuthoredByStudent.
type Author struct {
	role Role
	id   string
	name string
}

func AuthoredByTeacher(id, name string) Author {
	return Author{role: RoleTeacher, id: id, name: name}
}

func AuthoredByStudent(id, name string) Author {
	return Author{role: RoleStudent, id: id, name: name}
}

func (a Author) Role() Role   { return a.role }
func (a Author) ID() string   { return a.id }
func (a Author) Name() string { return a.name }

// Matches reports whether the identity is the author of the paper.
func (a Author) Matches(identity Identity) bool {
	return a.role == identity.Role && a.id == identity.ID
}

type Paper struct {
	ID        string
	RollID    string
	Content   string
	Sticker   *string
	Author    Author
	CreatedAt time.Time
	UpdatedAt time.Time
}
