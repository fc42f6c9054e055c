package serialbridge

import (
	"fmt"
	"strconv"
)

type DataBits int

func (d DataBits) Int() int {
	return int(d)
}

func (d DataBits) Valid() bool {
	return d >= DataBits5 && d <= DataBits8
}

const (
	DataBits5 DataBits = 5
	DataBits6 DataBits = 6
	DataBits7 DataBits = 7
	DataBits8 DataBits = 8
)

// ParseDataBits accepts "5" through "8".
func ParseDataBits(s string) (DataBits, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid data bits %q: %w", s, err)
	}
	d := DataBits(n)
	if !d.Valid() {
		return 0, fmt.Errorf("data bits must be 5-8, got: %d", n)
	}
	return d, nil
}
