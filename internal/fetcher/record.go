// internal/fetcher/record.go

// Package fetcher turns discovered listing URLs into raw vehicle records:
// brand prefilter, polite rate-limited fetching with bounded retries, and
// fixed-schema field extraction with a "no data" sentinel.
package fetcher

import "time"

// NoData marks a field that could not be extracted. It is distinct from the
// empty string so downstream filters can tell "absent" from "blank".
const NoData = "nd"

// Columns is the fixed raw-record schema, in CSV column order.
var Columns = []string{
	"title",
	"subtitle",
	"price_raw",
	"price_eur",
	"mileage",
	"transmission",
	"emission_class",
	"fuel",
	"year",
	"brand",
	"model",
	"co2",
	"warranty",
	"link",
	"date",
}

// Record is one raw scraped vehicle. Every field is always populated,
// possibly with NoData; a fetch either yields a complete Record or nothing.
type Record struct {
	Title         string
	Subtitle      string
	PriceRaw      string
	PriceEUR      string
	Mileage       string
	Transmission  string
	EmissionClass string
	Fuel          string
	Year          string
	Brand         string
	Model         string
	CO2           string
	Warranty      string
	Link          string
	Date          string
}

// NewRecord returns a Record with every field set to NoData except the
// source link and fetch date.
func NewRecord(link string, fetchedAt time.Time) *Record {
	return &Record{
		Title:         NoData,
		Subtitle:      NoData,
		PriceRaw:      NoData,
		PriceEUR:      NoData,
		Mileage:       NoData,
		Transmission:  NoData,
		EmissionClass: NoData,
		Fuel:          NoData,
		Year:          NoData,
		Brand:         NoData,
		Model:         NoData,
		CO2:           NoData,
		Warranty:      NoData,
		Link:          link,
		Date:          fetchedAt.Format("02/01/2006"),
	}
}

// Row returns the record's values in Columns order.
func (r *Record) Row() []string {
	return []string{
		r.Title,
		r.Subtitle,
		r.PriceRaw,
		r.PriceEUR,
		r.Mileage,
		r.Transmission,
		r.EmissionClass,
		r.Fuel,
		r.Year,
		r.Brand,
		r.Model,
		r.CO2,
		r.Warranty,
		r.Link,
		r.Date,
	}
}
