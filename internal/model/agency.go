package model

import (
	"math/rand"
	"strings"
)

// Agency is the user-chosen power/companion/role/artifact fixed at Chapter 1
// and referenced visually and narratively throughout the adventure. Set
// exactly once; never overwritten.
type Agency struct {
	Category      string `json:"category"`
	Name          string `json:"name"`
	VisualDetails string `json:"visual_details"`
	Description   string `json:"description"`
}

// AgencyCatalogEntry is one selectable option presented at Chapter 1.
// Choice text for these options is rendered as "Name [visual_details]" so it
// can be matched back against the catalog once the user responds.
type AgencyCatalogEntry struct {
	Category      string
	Name          string
	VisualDetails string
	Description   string
}

// DefaultAgencyCatalog is the fixed pool of Chapter-1 agency options.
// Entries are grouped by category so the composer can offer one option per
// category as the four Chapter-1 choices.
var DefaultAgencyCatalog = []AgencyCatalogEntry{
	{
		Category:      "Gain a Special Ability",
		Name:          "Element Bender",
		VisualDetails: "a swirling figure with hands sparking flames, frost, and lightning",
		Description:   "You can call fire, ice, and lightning to your fingertips.",
	},
	{
		Category:      "Gain a Special Ability",
		Name:          "Shadow Walker",
		VisualDetails: "a cloaked silhouette that blurs at the edges into drifting smoke",
		Description:   "You can slip between shadows and move unseen.",
	},
	{
		Category:      "Recruit a Companion",
		Name:          "Luma the Fox",
		VisualDetails: "a small silver fox with luminous blue-ringed eyes",
		Description:   "A clever fox companion who senses danger before it arrives.",
	},
	{
		Category:      "Recruit a Companion",
		Name:          "Cobble the Golem",
		VisualDetails: "a stout, moss-covered stone golem with glowing amber cracks",
		Description:   "A loyal stone guardian who shields you from harm.",
	},
	{
		Category:      "Claim an Artifact",
		Name:          "The Whispering Compass",
		VisualDetails: "a tarnished brass compass whose needle points toward hidden truths",
		Description:   "A compass that always points toward what you most need to find.",
	},
	{
		Category:      "Claim an Artifact",
		Name:          "The Sunken Lantern",
		VisualDetails: "a barnacle-crusted lantern that burns with a cold green flame",
		Description:   "A lantern that reveals what is hidden in darkness or deception.",
	},
	{
		Category:      "Take on a Role",
		Name:          "The Cartographer",
		VisualDetails: "a traveler in a weathered coat, satchel heavy with hand-drawn maps",
		Description:   "You chart the unknown, turning rumor into reliable path.",
	},
	{
		Category:      "Take on a Role",
		Name:          "The Emissary",
		VisualDetails: "a diplomat in traveling robes bearing a sealed letter of introduction",
		Description:   "You speak for others, and others listen when you speak.",
	},
}

// OneEntryPerCategory picks one random entry per distinct category in
// catalog, preserving each category's first-seen order. With
// DefaultAgencyCatalog's four categories this yields the four options
// Chapter 1 presents as its choice set.
func OneEntryPerCategory(catalog []AgencyCatalogEntry) []AgencyCatalogEntry {
	byCategory := make(map[string][]AgencyCatalogEntry)
	var order []string
	for _, entry := range catalog {
		if _, seen := byCategory[entry.Category]; !seen {
			order = append(order, entry.Category)
		}
		byCategory[entry.Category] = append(byCategory[entry.Category], entry)
	}

	picked := make([]AgencyCatalogEntry, 0, len(order))
	for _, category := range order {
		options := byCategory[category]
		picked = append(picked, options[rand.Intn(len(options))])
	}
	return picked
}

// ChoiceText renders a catalog entry's Chapter-1 choice text in the
// "Name [visual_details]" form the composer emits and MatchAgency parses.
func (e AgencyCatalogEntry) ChoiceText() string {
	return e.Name + " [" + e.VisualDetails + "]"
}

// MatchAgency resolves a Chapter-1 chosen option's text against the catalog.
// On no match, the raw text is kept as the description with empty category,
// name, and visual details per spec.md §4.6 edge-case handling — the caller
// is expected to treat that as a successful, non-blocking extraction.
func MatchAgency(catalog []AgencyCatalogEntry, chosenText string) Agency {
	trimmed := strings.TrimSpace(chosenText)
	for _, entry := range catalog {
		if entry.ChoiceText() == trimmed || entry.Name == trimmed {
			return Agency{
				Category:      entry.Category,
				Name:          entry.Name,
				VisualDetails: entry.VisualDetails,
				Description:   entry.Description,
			}
		}
	}
	return Agency{Description: trimmed}
}
