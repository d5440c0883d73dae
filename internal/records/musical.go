package records

// Musical is the typed form of a musical record, used where a producer builds
// records itself rather than relaying a client document.
type Musical struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	PosterURL    string   `json:"posterUrl"`
	StartDate    string   `json:"startDate"` // YYYY-MM-DD
	EndDate      string   `json:"endDate"`   // YYYY-MM-DD
	DiscountRate *float64 `json:"discountRate,omitempty"`
	Description  string   `json:"description,omitempty"`
	SourceURL    string   `json:"sourceUrl,omitempty"`
	UpdatedAt    string   `json:"updatedAt,omitempty"`
}

// Key returns the record key of m.
func (m *Musical) Key() string { return MusicalKey(m.ID) }
