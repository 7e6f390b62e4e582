package core

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MonthNames are the persisted month tokens, in calendar order.
var MonthNames = [12]string{
	"Enero", "Febrero", "Marzo", "Abril", "Mayo", "Junio",
	"Julio", "Agosto", "Septiembre", "Octubre", "Noviembre", "Diciembre",
}

// Period is one accounting month, rendered as "<month name> <year>".
type Period struct {
	Year  int
	Month time.Month
}

// PeriodIndex is a position inside a PeriodSequence.
type PeriodIndex int

// NewPeriod builds a Period; it does not check that it belongs to any sequence.
func NewPeriod(year int, month time.Month) Period {
	return Period{Year: year, Month: month}
}

// ParsePeriod parses tokens such as "Enero 2026". Month names are matched
// case-insensitively.
func ParsePeriod(s string) (Period, error) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return Period{}, fmt.Errorf("%w: %q", ErrUnknownPeriod, s)
	}
	year, err := strconv.Atoi(fields[1])
	if err != nil {
		return Period{}, fmt.Errorf("%w: %q", ErrUnknownPeriod, s)
	}
	for i, name := range MonthNames {
		if strings.EqualFold(name, fields[0]) {
			return Period{Year: year, Month: time.Month(i + 1)}, nil
		}
	}
	return Period{}, fmt.Errorf("%w: %q", ErrUnknownPeriod, s)
}

// ParsePeriodToken accepts the persisted form ("Enero 2026") and the
// URL-friendly "2026-01".
func ParsePeriodToken(s string) (Period, error) {
	s = strings.TrimSpace(s)
	if y, m, ok := strings.Cut(s, "-"); ok && len(y) == 4 {
		year, errY := strconv.Atoi(y)
		month, errM := strconv.Atoi(m)
		if errY == nil && errM == nil && month >= 1 && month <= 12 {
			return Period{Year: year, Month: time.Month(month)}, nil
		}
	}
	return ParsePeriod(s)
}

func (p Period) IsZero() bool {
	return p.Year == 0 && p.Month == 0
}

func (p Period) String() string {
	if p.Month < time.January || p.Month > time.December {
		return ""
	}
	return MonthNames[p.Month-1] + " " + strconv.Itoa(p.Year)
}

// Before orders periods chronologically.
func (p Period) Before(o Period) bool {
	if p.Year != o.Year {
		return p.Year < o.Year
	}
	return p.Month < o.Month
}

func (p Period) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Period) UnmarshalText(b []byte) error {
	if len(strings.TrimSpace(string(b))) == 0 {
		*p = Period{}
		return nil
	}
	parsed, err := ParsePeriod(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// PeriodSequence is the ordered list of periods the ledger operates on.
// "Next period" always means the next position here, never calendar arithmetic.
type PeriodSequence struct {
	periods []Period
	index   map[Period]PeriodIndex
}

// GenerateSequence returns twelve periods per year from startYear to endYear inclusive.
func GenerateSequence(startYear, endYear int) (*PeriodSequence, error) {
	if startYear > endYear {
		return nil, fmt.Errorf("invalid period range: start year %d after end year %d", startYear, endYear)
	}
	n := (endYear - startYear + 1) * 12
	seq := &PeriodSequence{
		periods: make([]Period, 0, n),
		index:   make(map[Period]PeriodIndex, n),
	}
	for year := startYear; year <= endYear; year++ {
		for month := time.January; month <= time.December; month++ {
			p := Period{Year: year, Month: month}
			seq.index[p] = PeriodIndex(len(seq.periods))
			seq.periods = append(seq.periods, p)
		}
	}
	return seq, nil
}

// MustGenerateSequence is GenerateSequence for known-good ranges.
func MustGenerateSequence(startYear, endYear int) *PeriodSequence {
	seq, err := GenerateSequence(startYear, endYear)
	if err != nil {
		panic(err)
	}
	return seq
}

func (s *PeriodSequence) Len() int {
	return len(s.periods)
}

// Periods returns a copy of the sequence.
func (s *PeriodSequence) Periods() []Period {
	return append([]Period(nil), s.periods...)
}

func (s *PeriodSequence) IndexOf(p Period) (PeriodIndex, bool) {
	i, ok := s.index[p]
	return i, ok
}

func (s *PeriodSequence) Contains(p Period) bool {
	_, ok := s.index[p]
	return ok
}

func (s *PeriodSequence) At(i PeriodIndex) (Period, bool) {
	if i < 0 || int(i) >= len(s.periods) {
		return Period{}, false
	}
	return s.periods[i], true
}

// Last returns the index of the final period.
func (s *PeriodSequence) Last() PeriodIndex {
	return PeriodIndex(len(s.periods) - 1)
}

// Next returns the following position, or false at the end of the sequence.
func (s *PeriodSequence) Next(i PeriodIndex) (PeriodIndex, bool) {
	return s.Advance(i, 1)
}

// Advance moves n positions forward. It never wraps: it reports false when
// the result falls outside the sequence.
func (s *PeriodSequence) Advance(i PeriodIndex, n int) (PeriodIndex, bool) {
	j := i + PeriodIndex(n)
	if i < 0 || j < 0 || int(j) >= len(s.periods) {
		return 0, false
	}
	return j, true
}

// PeriodAfter is Advance expressed on periods.
func (s *PeriodSequence) PeriodAfter(p Period, n int) (Period, bool) {
	i, ok := s.IndexOf(p)
	if !ok {
		return Period{}, false
	}
	j, ok := s.Advance(i, n)
	if !ok {
		return Period{}, false
	}
	return s.periods[j], true
}

// YearPeriods returns every period of the given year that is in the sequence.
func (s *PeriodSequence) YearPeriods(year int) []Period {
	var out []Period
	for _, p := range s.periods {
		if p.Year == year {
			out = append(out, p)
		}
	}
	return out
}
