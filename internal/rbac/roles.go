package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RolePatient    = "patient"
	RoleDoctor     = "doctor"
	RolePharmacy   = "pharmacy"
	RoleLaboratory = "laboratory"
	RoleNurse      = "nurse"
	RoleAdmin      = "admin"
)

func IsAdmin(role string) bool { return role == RoleAdmin }

// CanHoldClinicSession reports whether the role runs a consultation queue.
func CanHoldClinicSession(role string) bool { return role == RoleDoctor }
