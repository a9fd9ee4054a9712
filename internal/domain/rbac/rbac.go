// Пакет rbac — определение привилегий пользователя Print Queue.
// Ролей две: обычный submitter и admin. Admin определяется членством
// в группах IdP (PQ_ADMIN_GROUPS) или ролью "admin" из realm_access.
package rbac

// RoleAdmin — роль оператора очереди.
const RoleAdmin = "admin"

// IsAdmin проверяет, даёт ли набор групп пользователя роль admin.
// Совпадение по точному имени группы из adminGroups.
func IsAdmin(groups []string, adminGroups []string) bool {
	adminSet := toSet(adminGroups)
	for _, g := range groups {
		if adminSet[g] {
			return true
		}
	}
	return false
}

// HasAdminRole проверяет наличие роли admin в realm-ролях JWT.
func HasAdminRole(roles []string) bool {
	for _, r := range roles {
		if r == RoleAdmin {
			return true
		}
	}
	return false
}

// toSet конвертирует срез строк в map для быстрого поиска.
func toSet(items []string) map[string]bool {
	s := make(map[string]bool, len(items))
	for _, item := range items {
		s[item] = true
	}
	return s
}
