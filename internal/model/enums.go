package model

type SummonsStatus string

const (
	SummonsStatusPending  SummonsStatus = "pending"
	SummonsStatusAccepted SummonsStatus = "accepted"
	SummonsStatusDeclined SummonsStatus = "declined"
)

type SummonsRole string

const (
	RoleJudge    SummonsRole = "judge"
	RoleAdvocate SummonsRole = "advocate"
	RoleWitness  SummonsRole = "witness"
	RoleSteward  SummonsRole = "steward"
	RoleObserver SummonsRole = "observer"
)

var SummonsRoles = []SummonsRole{RoleJudge, RoleAdvocate, RoleWitness, RoleSteward, RoleObserver}

func (r SummonsRole) IsValid() bool {
	for _, role := range SummonsRoles {
		if r == role {
			return true
		}
	}
	return false
}

type AuditAction string

const (
	AuditActionWitnessSummoned AuditAction = "witness_summoned"
	AuditActionWitnessAccepted AuditAction = "witness_accepted"
	AuditActionWitnessDeclined AuditAction = "witness_declined"
)
