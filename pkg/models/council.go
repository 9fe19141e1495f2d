package models

import "time"

// CouncilType identifies the kind of council holding a meeting.
type CouncilType string

const (
	CouncilBuildingOfficer CouncilType = "byggingarfulltrui"
	CouncilPlanningOfficer CouncilType = "skipulagsfulltrui"
	CouncilPlanning        CouncilType = "skipulagsrad"
	CouncilCity            CouncilType = "borgarrad"
)

// CouncilTypeInfo is presentation metadata for a council type.
type CouncilTypeInfo struct {
	Slug  string
	Label string
}

var councilTypeInfo = map[CouncilType]CouncilTypeInfo{
	CouncilBuildingOfficer: {Slug: "byggingarfulltrui", Label: "Byggingarfulltrúi"},
	CouncilPlanningOfficer: {Slug: "skipulagsfulltrui", Label: "Skipulagsfulltrúi"},
	CouncilPlanning:        {Slug: "skipulagsrad", Label: "Skipulagsráð"},
	CouncilCity:            {Slug: "borgarrad", Label: "Borgarráð"},
}

// IsValid reports whether t is a known council type.
func (t CouncilType) IsValid() bool {
	_, ok := councilTypeInfo[t]
	return ok
}

// Info returns the presentation metadata for t.
func (t CouncilType) Info() CouncilTypeInfo {
	return councilTypeInfo[t]
}

// Municipality owns councils.
type Municipality struct {
	ID   int64  `json:"id"`
	Slug string `json:"slug"`
	Name string `json:"name"`
}

// Council is one decision-making body of a municipality.
type Council struct {
	ID             int64       `json:"id"`
	MunicipalityID int64       `json:"municipality_id"`
	Type           CouncilType `json:"council_type"`
	Name           string      `json:"name"`
}

// Meeting is one sitting of a council.
type Meeting struct {
	ID        int64     `json:"id"`
	CouncilID int64     `json:"council_id"`
	Name      string    `json:"name"`
	URL       string    `json:"url,omitempty"`
	Start     time.Time `json:"start"`
}
