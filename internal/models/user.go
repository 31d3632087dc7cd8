package models

// UserRole represents the roles the workflow authorizes against.
type UserRole string

const (
	RoleAdmin     UserRole = "ADMIN"
	RoleApprover  UserRole = "HOD"
	RoleTeacher   UserRole = "TEACHER"
	RoleScheduler UserRole = "SCHEDULER"
)

// Actor identifies who triggers a workflow operation.
type Actor struct {
	ID   string   `json:"id"`
	Role UserRole `json:"role"`
}

// SchedulerActor is the identity used by scheduled freeze jobs.
var SchedulerActor = Actor{ID: "system:scheduler", Role: RoleScheduler}

// IsScheduler reports whether the actor is the scheduled job identity.
func (a Actor) IsScheduler() bool {
	return a.Role == RoleScheduler
}
