package state

import (
	"sort"

	"tradefloor/internal/models"
)

// DeriveLayout reconciles the persisted sidebar layout with the
// current channel list: categories keep their saved order, categories
// new on the server append in server order, and entries for vanished
// categories are dropped.
func DeriveLayout(prev DBLayout, channels []models.Channel) DBLayout {
	present := make(map[string]bool)
	var serverOrder []string
	for _, ch := range channels {
		if ch.Category == "" || present[ch.Category] {
			continue
		}
		present[ch.Category] = true
		serverOrder = append(serverOrder, ch.Category)
	}

	seen := make(map[string]bool)
	var order []string
	for _, cat := range prev.CategoryOrder {
		if present[cat] && !seen[cat] {
			seen[cat] = true
			order = append(order, cat)
		}
	}
	for _, cat := range serverOrder {
		if !seen[cat] {
			seen[cat] = true
			order = append(order, cat)
		}
	}

	var collapsed []string
	for _, cat := range prev.Collapsed {
		if present[cat] {
			collapsed = append(collapsed, cat)
		}
	}

	return DBLayout{CategoryOrder: order, Collapsed: collapsed}
}

// ApplyLayout orders channels by the layout's category order while
// keeping the incoming order within each category. Channels whose
// category the layout does not know sort last.
func ApplyLayout(layout DBLayout, channels []models.Channel) []models.Channel {
	rank := make(map[string]int, len(layout.CategoryOrder))
	for i, cat := range layout.CategoryOrder {
		rank[cat] = i
	}

	out := make([]models.Channel, len(channels))
	copy(out, channels)
	sort.SliceStable(out, func(i, j int) bool {
		ri, iKnown := rank[out[i].Category]
		rj, jKnown := rank[out[j].Category]
		if iKnown != jKnown {
			return iKnown
		}
		if !iKnown {
			return false
		}
		return ri < rj
	})
	return out
}
