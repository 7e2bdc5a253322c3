package models

import "sort"

// ConsoleLess orders questions the way the moderator console shows them: display_order asc,
// then pinned first, then highlighted first, then newest first.
func ConsoleLess(a, b *Question) bool {
	if a.DisplayOrder != b.DisplayOrder {
		return a.DisplayOrder < b.DisplayOrder
	}
	if a.IsPinned != b.IsPinned {
		return a.IsPinned
	}
	if a.IsHighlighted != b.IsHighlighted {
		return a.IsHighlighted
	}
	return a.CreatedAt.After(b.CreatedAt)
}

// SortForConsole sorts list in place by ConsoleLess.
func SortForConsole(list []Question) {
	sort.SliceStable(list, func(i, j int) bool { return ConsoleLess(&list[i], &list[j]) })
}
