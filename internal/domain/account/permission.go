package account

// Action names something a role may be allowed to do.
type Action string

// Actions gated by role.
const (
	ActionEditCalendar           Action = "edit-calendar"
	ActionViewArchives           Action = "view-archives"
	ActionViewScripture          Action = "view-scripture"
	ActionCreateMeetingArchive   Action = "create-meeting-archive"
	ActionManageUsers            Action = "manage-users"
	ActionViewContactSubmissions Action = "view-contact-submissions"
)

// minimumRole maps each action to the lowest role allowed to perform it.
// Expressing the table as a floor keeps it monotonic in the role order.
var minimumRole = map[Action]Role{
	ActionEditCalendar:           RoleLeader,
	ActionViewArchives:           RoleMember,
	ActionViewScripture:          RoleMember,
	ActionCreateMeetingArchive:   RoleLeader,
	ActionManageUsers:            RoleAdmin,
	ActionViewContactSubmissions: RoleLeader,
}

// Actions returns every gated action in a stable order.
func Actions() []Action {
	return []Action{
		ActionEditCalendar,
		ActionViewArchives,
		ActionViewScripture,
		ActionCreateMeetingArchive,
		ActionManageUsers,
		ActionViewContactSubmissions,
	}
}

// Can reports whether role may perform action. Unknown actions are denied.
// PRE: none
// POST: No side effects
func Can(role Role, action Action) bool {
	min, ok := minimumRole[action]
	if !ok {
		return false
	}
	if _, known := roleLevels[role]; !known {
		return false
	}
	return role.AtLeast(min)
}

// MinimumRole returns the lowest role allowed to perform action.
func MinimumRole(action Action) (Role, bool) {
	r, ok := minimumRole[action]
	return r, ok
}
