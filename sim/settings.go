package sim

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/puzpuzpuz/xsync/v3"
)

// Setting numbers the simulator acts on.
const (
	SettingStatusReportMask = 10
	SettingHomingEnable     = 22
	SettingHomingSeekRate   = 25
	SettingMaxRateX         = 110
	SettingMaxRateY         = 111
	SettingMaxRateZ         = 112
)

// defaultSettings are the GRBL 1.1 factory settings.
var defaultSettings = map[int]string{
	0: "10", 1: "25", 2: "0", 3: "0", 4: "0", 5: "0", 6: "0",
	10: "1", 11: "0.010", 12: "0.002", 13: "0",
	20: "0", 21: "0", 22: "0", 23: "0",
	24: "25.000", 25: "500.000", 26: "250", 27: "1.000",
	30: "1000", 31: "0", 32: "0",
	100: "250.000", 101: "250.000", 102: "250.000",
	110: "500.000", 111: "500.000", 112: "500.000",
	120: "10.000", 121: "10.000", 122: "10.000",
	130: "200.000", 131: "200.000", 132: "200.000",
}

// settings is the "$" settings table. It survives power cycles of the device.
type settings struct {
	values *xsync.MapOf[int, string]
}

func newSettings() *settings {
	s := &settings{values: xsync.NewMapOf[int, string]()}
	for n, v := range defaultSettings {
		s.values.Store(n, v)
	}

	return s
}

func (s *settings) get(n int) (string, bool) {
	return s.values.Load(n)
}

func (s *settings) float(n int) float64 {
	v, ok := s.values.Load(n)
	if !ok {
		return 0
	}
	f, _ := strconv.ParseFloat(v, 64)

	return f
}

func (s *settings) int(n int) int {
	return int(s.float(n))
}

// set stores value for setting n and returns a GRBL status code.
func (s *settings) set(n int, value string) int {
	prev, ok := s.values.Load(n)
	if !ok {
		return codeInvalidStatement
	}

	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return codeBadNumberFormat
	}
	if f < 0 {
		return codeNegativeValue
	}

	if strings.Contains(prev, ".") {
		s.values.Store(n, strconv.FormatFloat(f, 'f', 3, 64))
	} else {
		s.values.Store(n, strconv.Itoa(int(f)))
	}

	return codeOK
}

// dump returns the "$<n>=<value>" lines in setting order.
func (s *settings) dump() []string {
	keys := make([]int, 0, s.values.Size())
	s.values.Range(func(n int, _ string) bool {
		keys = append(keys, n)
		return true
	})
	slices.Sort(keys)

	lines := make([]string, 0, len(keys))
	for _, n := range keys {
		v, _ := s.values.Load(n)
		lines = append(lines, fmt.Sprintf("$%d=%s", n, v))
	}

	return lines
}
