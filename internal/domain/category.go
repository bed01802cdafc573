package domain

// ResolveCategory returns confirmed when present, otherwise suggested.
func ResolveCategory(suggested CategoryID, confirmed NullCategoryID) CategoryID {
	if confirmed.Valid {
		return confirmed.CategoryID
	}
	return suggested
}
