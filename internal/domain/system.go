package domain

// System identifies one of the five interpretive systems a reading can be
// generated in.
type System string

// The fixed set of supported systems. AllSystems preserves the canonical
// ordering used when assigning task sequence numbers, so planning the same job
// twice yields the same task list.
const (
	SystemWestern     System = "western"
	SystemVedic       System = "vedic"
	SystemChinese     System = "chinese"
	SystemNumerology  System = "numerology"
	SystemHumanDesign System = "human_design"
)

// AllSystems lists every supported system in canonical order.
var AllSystems = []System{
	SystemWestern,
	SystemVedic,
	SystemChinese,
	SystemNumerology,
	SystemHumanDesign,
}

// IsValidSystem reports whether s is one of the five supported systems.
func IsValidSystem(s System) bool {
	switch s {
	case SystemWestern, SystemVedic, SystemChinese, SystemNumerology, SystemHumanDesign:
		return true
	default:
		return false
	}
}

// DocumentRole identifies which document within a system a task or artifact
// belongs to.
type DocumentRole string

// Possible document roles. RoleOrder preserves the canonical per-system
// ordering used for sequence assignment.
const (
	RolePerson1 DocumentRole = "person1"
	RolePerson2 DocumentRole = "person2"
	RoleOverlay DocumentRole = "overlay"
	RoleVerdict DocumentRole = "verdict"
)

// RoleOrder lists the per-system roles in canonical order. RoleVerdict is not
// included because the verdict document spans all systems and is always
// sequenced last.
var RoleOrder = []DocumentRole{RolePerson1, RolePerson2, RoleOverlay}

// IsValidDocumentRole reports whether r is a known document role.
func IsValidDocumentRole(r DocumentRole) bool {
	switch r {
	case RolePerson1, RolePerson2, RoleOverlay, RoleVerdict:
		return true
	default:
		return false
	}
}
