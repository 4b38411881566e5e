package catalog

// Default returns the catalog the retail funnel currently sells from.
func Default() *Catalog {
	return New(defaultTiers, defaultAddOns)
}

var defaultTiers = []Tier{
	{
		ID:    "A1",
		Name:  "Aware Essentials",
		Price: 3450,
		Hardware: []Item{
			{Name: "home-hub", Qty: 1},
			{Name: "motion-sensor", Qty: 2},
		},
		Features: []string{"activity-baseline", "family-app"},
	},
	{
		ID:    "A2",
		Name:  "Aware Assured",
		Price: 4950,
		Hardware: []Item{
			{Name: "home-hub", Qty: 1},
			{Name: "motion-sensor", Qty: 4},
			{Name: "panic-button", Qty: 1},
		},
		Features: []string{"activity-baseline", "family-app", "emergency-escalation"},
	},
	{
		ID:    "A3",
		Name:  "Aware Complete",
		Price: 7450,
		Hardware: []Item{
			{Name: "home-hub", Qty: 1},
			{Name: "motion-sensor", Qty: 6},
			{Name: "panic-button", Qty: 2},
			{Name: "smart-speaker", Qty: 1},
		},
		Features: []string{"activity-baseline", "family-app", "emergency-escalation", "care-team-portal"},
	},
}

var defaultAddOns = []AddOn{
	{
		ID:       "gentle-checkin",
		Label:    "Gentle Check-in",
		Price:    290,
		Hardware: []Item{{Name: "smart-speaker", Qty: 1}},
		Features: []string{"voice-checkin"},
	},
	{
		ID:       "door-awareness",
		Label:    "Door Awareness",
		Price:    350,
		Hardware: []Item{{Name: "door-contact", Qty: 2}},
		Features: []string{"door-alerts"},
	},
	{
		ID:       "fall-detection",
		Label:    "Fall Detection",
		Price:    520,
		Hardware: []Item{{Name: "radar-fall-sensor", Qty: 1}},
		Features: []string{"fall-alerts"},
	},
	{
		ID:       "medication-reminders",
		Label:    "Medication Reminders",
		Price:    180,
		Features: []string{"medication-schedule"},
	},
}
