package lead

import (
	"strconv"
	"time"
)

// Header is the column layout shared by the CSV export and the spreadsheet sink.
var Header = []string{
	"Name", "Firm", "Email", "Website", "Source", "State", "Timestamp",
	"Name Verified", "Firm Verified", "Email Verified", "Website Verified", "Confidence Score",
}

// Row renders a record in Header order.
func Row(a Annotated) []string {
	ts := ""
	if !a.DiscoveredAt.IsZero() {
		ts = a.DiscoveredAt.UTC().Format(time.RFC3339)
	}
	return []string{
		a.Name,
		a.Firm,
		a.Email,
		a.Website,
		a.Source,
		a.Region,
		ts,
		strconv.FormatBool(a.NameVerified),
		strconv.FormatBool(a.FirmVerified),
		strconv.FormatBool(a.EmailVerified),
		strconv.FormatBool(a.WebsiteVerified),
		strconv.FormatFloat(a.ConfidenceScore, 'f', -1, 64),
	}
}

// Rows renders every record with a non-blank name.
func Rows(batch []Annotated) [][]string {
	rows := make([][]string, 0, len(batch))
	for _, a := range batch {
		if CleanText(a.Name) == "" {
			continue
		}
		rows = append(rows, Row(a))
	}
	return rows
}
