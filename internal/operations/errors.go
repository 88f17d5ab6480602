package operations

const (
	ErrUnauthorized       = "unauthorized"
	ErrForbidden          = "forbidden"
	ErrRollNotFound       = "roll_not_found"
	ErrPaperNotFound      = "paper_not_found"
	ErrStudentNotFound    = "student_not_found"
	ErrTeacherNotFound    = "teacher_not_found"
	ErrInvalidClassCode   = "invalid_class_code"
	ErrRollNameNotChanged = "roll_name_not_changed"
	ErrServerError        = "server_error"
)

type Error struct {
	Code string
}

func (e *Error) Error() string {
	return e.Code
}
