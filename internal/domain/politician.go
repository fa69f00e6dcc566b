package domain

import (
	"strings"
	"time"
)

// CredibilityLabel is derived from the credibility score, never set directly.
type CredibilityLabel string

const (
	LabelCredible    CredibilityLabel = "Credible"
	LabelMixed       CredibilityLabel = "Mixed"
	LabelNotCredible CredibilityLabel = "NotCredible"
)

// Score band lower bounds. Exact: 80 is Credible, 79 is Mixed, 60 is Mixed, 59 is NotCredible.
const (
	CredibleThreshold = 80
	MixedThreshold    = 60
	NeutralScore      = 50
)

// LabelFor classifies a score. A politician without any resolved promise is
// Mixed regardless of score, since there is nothing to judge yet.
func LabelFor(score int, resolved int) CredibilityLabel {
	if resolved == 0 {
		return LabelMixed
	}
	switch {
	case score >= CredibleThreshold:
		return LabelCredible
	case score >= MixedThreshold:
		return LabelMixed
	default:
		return LabelNotCredible
	}
}

var labelColors = map[CredibilityLabel]string{
	LabelCredible:    "#059669",
	LabelMixed:       "#D97706",
	LabelNotCredible: "#DC2626",
}

// Color is the display color of a label.
func (l CredibilityLabel) Color() string {
	if c, ok := labelColors[l]; ok {
		return c
	}
	return labelColors[LabelMixed]
}

func (l CredibilityLabel) IsValid() bool {
	_, ok := labelColors[l]
	return ok
}

// Orientation is the political orientation derived from party affiliation.
type Orientation string

const (
	OrientationLeft        Orientation = "left"
	OrientationCenterLeft  Orientation = "center-left"
	OrientationCenter      Orientation = "center"
	OrientationCenterRight Orientation = "center-right"
	OrientationRight       Orientation = "right"
)

// partyOrientations is checked in order; the first substring match wins.
var partyOrientations = []struct {
	fragment    string
	orientation Orientation
}{
	{"la france insoumise", OrientationLeft},
	{"parti socialiste", OrientationCenterLeft},
	{"europe ecologie", OrientationCenterLeft},
	{"renaissance", OrientationCenter},
	{"modem", OrientationCenter},
	{"agir", OrientationCenter},
	{"les republicains", OrientationCenterRight},
	{"lr", OrientationCenterRight},
	{"rassemblement national", OrientationRight},
	{"reconquete", OrientationRight},
}

// OrientationForParty maps a party label to an orientation, center when unknown.
func OrientationForParty(party string) Orientation {
	p := strings.ToLower(strings.TrimSpace(party))
	if p == "" {
		return OrientationCenter
	}
	for _, po := range partyOrientations {
		if strings.Contains(p, po.fragment) {
			return po.orientation
		}
	}
	return OrientationCenter
}

var orientationColors = map[Orientation]string{
	OrientationLeft:        "#DC2626",
	OrientationCenterLeft:  "#059669",
	OrientationCenter:      "#1E3A8A",
	OrientationCenterRight: "#D97706",
	OrientationRight:       "#7C2D12",
}

// Politician is a tracked public official. Only the scoring engine mutates
// the credibility fields; the pipeline never deletes politicians.
type Politician struct {
	ID               PoliticianID     `json:"id"`
	Name             string           `json:"name"`
	FirstName        string           `json:"first_name"`
	LastName         string           `json:"last_name"`
	Party            string           `json:"party"`
	Position         string           `json:"position"`
	Orientation      Orientation      `json:"orientation"`
	SourceIDs        []string         `json:"source_ids"`
	CredibilityScore int              `json:"credibility_score"`
	CredibilityLabel CredibilityLabel `json:"credibility_label"`
	ScoredAt         *time.Time       `json:"scored_at,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
}

// Color is the credibility display color.
func (p *Politician) Color() string {
	return p.CredibilityLabel.Color()
}

// OrientationColor is the card color for the politician's orientation.
func (p *Politician) OrientationColor() string {
	if c, ok := orientationColors[p.Orientation]; ok {
		return c
	}
	return orientationColors[OrientationCenter]
}

// FollowsSource reports whether actions published by source without an
// explicit politician reference are relevant to this politician.
func (p *Politician) FollowsSource(source string) bool {
	source = strings.ToLower(strings.TrimSpace(source))
	for _, s := range p.SourceIDs {
		if strings.ToLower(s) == source {
			return true
		}
	}
	return false
}

// DedupeKey identifies a politician across seed sources ("first_last").
func (p *Politician) DedupeKey() string {
	key := strings.ToLower(strings.TrimSpace(p.FirstName)) + "_" + strings.ToLower(strings.TrimSpace(p.LastName))
	return strings.ReplaceAll(key, " ", "_")
}
