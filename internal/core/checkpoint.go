package core

import "time"

// CascadeCheckpoint records how far a carry-forward cascade rooted at Root
// has progressed. Next is the first step not yet committed; End is the last
// step of the window.
type CascadeCheckpoint struct {
	Root      Period
	Next      PeriodIndex
	End       PeriodIndex
	UpdatedAt time.Time
}

// Done reports whether every step of the window has been committed.
func (c CascadeCheckpoint) Done() bool {
	return c.Next > c.End
}
