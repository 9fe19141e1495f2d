package models

import "time"

// MeetingRecord is a scraped meeting as handed to the minute processor.
type MeetingRecord struct {
	Name         string      `json:"name"`
	URL          string      `json:"url"`
	Start        time.Time   `json:"start"`
	Municipality string      `json:"municipality"`
	CouncilType  CouncilType `json:"council_type"`
}

// MinuteRecord is one scraped agenda item.
type MinuteRecord struct {
	Serial      string             `json:"serial"`
	CaseSerial  string             `json:"case_serial"`
	CaseAddress string             `json:"case_address"`
	Headline    string             `json:"headline"`
	Inquiry     string             `json:"inquiry"`
	Remarks     string             `json:"remarks"`
	Entities    []EntityRecord     `json:"entities"`
	Responses   []ResponseRecord   `json:"responses"`
	Attachments []AttachmentRecord `json:"attachments"`
}

// EntityRecord is an applicant listed by the council website.
type EntityRecord struct {
	Kennitala string `json:"kennitala"`
	Name      string `json:"name"`
	Address   string `json:"address"`
}

// ResponseRecord is a scraped response.
type ResponseRecord struct {
	Headline string `json:"headline"`
	Contents string `json:"contents"`
}

// AttachmentRecord is a scraped attachment link.
type AttachmentRecord struct {
	URL    string `json:"url"`
	Type   string `json:"type"`
	Label  string `json:"label"`
	Length int64  `json:"length"`
}
