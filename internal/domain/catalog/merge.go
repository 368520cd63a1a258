package catalog

// MergeItem layers a user's override on top of a master item. Every set
// override field wins; unset fields keep the master value. A nil override
// yields the master item unchanged.
func MergeItem(master *StandardItem, override *UserItemOverride) *ResolvedItem {
	r := &ResolvedItem{
		ID:                master.ID,
		Name:              master.Name,
		DisplayNameKo:     master.DisplayNameKo,
		Category:          master.Category,
		ExamType:          master.ExamType,
		DefaultUnit:       master.DefaultUnit,
		OrganTags:         master.OrganTags,
		DescriptionCommon: master.DescriptionCommon,
		DescriptionHigh:   master.DescriptionHigh,
		DescriptionLow:    master.DescriptionLow,
		SourceTable:       SourceMaster,
	}
	if override == nil {
		return r
	}

	r.SourceTable = SourceMasterOverride
	r.DisplayNameKo = pick(override.DisplayNameKo, r.DisplayNameKo)
	r.Category = pick(override.Category, r.Category)
	r.ExamType = pick(override.ExamType, r.ExamType)
	r.DefaultUnit = pick(override.DefaultUnit, r.DefaultUnit)
	r.DescriptionCommon = pick(override.DescriptionCommon, r.DescriptionCommon)
	r.DescriptionHigh = pick(override.DescriptionHigh, r.DescriptionHigh)
	r.DescriptionLow = pick(override.DescriptionLow, r.DescriptionLow)
	if override.OrganTags != nil {
		r.OrganTags = override.OrganTags
	}
	return r
}

func pick(override, master *string) *string {
	if override != nil {
		return override
	}
	return master
}

// customToResolved exposes a user's custom item in resolved form.
func customToResolved(c *UserCustomItem) *ResolvedItem {
	return &ResolvedItem{
		ID:                c.ID,
		Name:              c.Name,
		DisplayNameKo:     c.DisplayNameKo,
		Category:          c.Category,
		ExamType:          c.ExamType,
		DefaultUnit:       c.DefaultUnit,
		OrganTags:         c.OrganTags,
		DescriptionCommon: c.DescriptionCommon,
		DescriptionHigh:   c.DescriptionHigh,
		DescriptionLow:    c.DescriptionLow,
		SourceTable:       SourceUserCustom,
	}
}
