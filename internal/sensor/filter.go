package sensor

// BuildFilters returns the feed filters needed to read every variable of a station.
//
// Legacy stations return all feeds of one parameter group per request, so one filter
// is built per distinct parameter group, in first-seen order. Current stations need a
// single filter for the whole station.
func BuildFilters(internalID int, md *StationMetadata) []Filter {
	if !md.IsLegacy() {
		return []Filter{{StationID: internalID}}
	}

	seen := make(map[int]struct{})
	var filters []Filter
	for _, v := range md.Variables.Variables() {
		if _, ok := seen[v.ParameterGroupID]; ok {
			continue
		}
		seen[v.ParameterGroupID] = struct{}{}
		filters = append(filters, Filter{
			StationID:         internalID,
			ParameterGroupID:  v.ParameterGroupID,
			HasParameterGroup: true,
		})
	}
	return filters
}
