package utils

// contains checks if a slice of strings contains an element.
func contains(slice []string, item string) bool {
	for _, a := range slice {
		if a == item {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether roles and wanted share an element.
func HasAnyRole(roles, wanted []string) bool {
	for _, r := range roles {
		if contains(wanted, r) {
			return true
		}
	}
	return false
}

// IsModerator reports whether the user may manage punishment rules: owners
// always can, everyone else needs one of the moderator roles.
func IsModerator(userID string, roles, owners, moderatorRoles []string) bool {
	if contains(owners, userID) {
		return true
	}
	return HasAnyRole(roles, moderatorRoles)
}
