package dataset

import (
	"fmt"
	"time"
)

// UnknownDescription marks a citation whose code matched no reference entry.
// It is distinct from an empty description, which means mapping never ran.
const UnknownDescription = "Unknown"

// DateLayout is the canonical cell format of a cleaned issue_date.
const DateLayout = "2006-01-02T15:04:05"

// Citation is one cleaned row of the citation dataset.
type Citation struct {
	TicketNumber  string
	IssueDate     time.Time
	IssueMinutes  int
	HasIssueTime  bool
	FineAmount    float64
	ViolationCode string
	Location      string
	Latitude      float64
	Longitude     float64
	Description   string
}

// IssuedAt combines the issue date with the issue time when one was recorded.
func (c Citation) IssuedAt() time.Time {
	if !c.HasIssueTime {
		return c.IssueDate
	}
	d := c.IssueDate
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, d.Location()).
		Add(time.Duration(c.IssueMinutes) * time.Minute)
}

// IssueClock formats the issue time as HH:MM, or "" when absent.
func (c Citation) IssueClock() string {
	if !c.HasIssueTime {
		return ""
	}
	return fmt.Sprintf("%02d:%02d", c.IssueMinutes/60, c.IssueMinutes%60)
}
