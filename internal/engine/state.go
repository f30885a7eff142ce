package engine

// ScreenState identifies which of the known game screens a screenshot shows.
type ScreenState int

const (
	StateUnknown ScreenState = iota
	StateHome
	StateProfile
	StateSecretaryMenu
	StateApplicantList
	StateAlliancePanel
	StateTreasurePanel
)

func (s ScreenState) String() string {
	switch s {
	case StateHome:
		return "home"
	case StateProfile:
		return "profile"
	case StateSecretaryMenu:
		return "secretary_menu"
	case StateApplicantList:
		return "applicant_list"
	case StateAlliancePanel:
		return "alliance_panel"
	case StateTreasurePanel:
		return "treasure_panel"
	default:
		return "unknown"
	}
}
