package budget

import "fmt"

// Cap identifiers reported when admission is denied.
const (
	CapDaily   = "daily"
	CapMonthly = "monthly"
	CapSession = "session"
	CapQuery   = "query"
)

// ErrExceeded is returned when a projected spend surpasses a configured cap.
type ErrExceeded struct {
	Cap       string
	Projected float64
	Limit     float64
}

func (e ErrExceeded) Error() string {
	return fmt.Sprintf("budget %s cap exceeded: projected=$%.4f limit=$%.4f", e.Cap, e.Projected, e.Limit)
}
