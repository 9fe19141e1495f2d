package models

// Address is a geocoded street address.
type Address struct {
	ID           int64   `json:"id"`
	Street       string  `json:"street"`
	Number       int     `json:"number"`
	Letter       string  `json:"letter,omitempty"`
	Postcode     int     `json:"postcode"`
	Municipality string  `json:"municipality"`
	Lat          float64 `json:"lat"`
	Lon          float64 `json:"lon"`
}
