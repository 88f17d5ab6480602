package operations

import "sparklenote/server/internal/model"

// CanMutatePaper decides whether the identity may update or delete a paper.
// The roll's owning teacher may mutate any paper in the roll; a student may
// mutate only papers they authored themselves. Pure function, no side effects.
func CanMutatePaper(identity model.Identity, roll model.Roll, author model.Author) bool {
	switch identity.Role {
	case model.RoleTeacher:
		return identity.ID == roll.OwnerID
	case model.RoleStudent:
		return author.Role() == model.RoleStudent && author.Matches(identity)
	default:
		return false
	}
}
