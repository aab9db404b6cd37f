package stats

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DataType selects how a stat bar value is rendered
type DataType int

const (
	Integer     DataType = iota // 123
	Float                       // 123.45
	Percentage                  // 12.3%
	Bytes                       // 1.2 GB
	Duration                    // 1d 2h
	Temperature                 // 23.4°C
	Speed                       // 123.0 MB/s
	Currency                    // $123.45
	Scientific                  // 1.23e4
)

var dataTypeNames = []string{
	"integer", "float", "percentage", "bytes", "duration",
	"temperature", "speed", "currency", "scientific",
}

func (t DataType) String() string {
	if t < 0 || int(t) >= len(dataTypeNames) {
		return fmt.Sprintf("datatype(%d)", int(t))
	}
	return dataTypeNames[t]
}

// ParseDataType resolves a data type by name
func ParseDataType(name string) (DataType, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range dataTypeNames {
		if n == name {
			return DataType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown data type %q (valid: %s)", name, strings.Join(dataTypeNames, ", "))
}

// DataTypes returns every data type
func DataTypes() []DataType {
	types := make([]DataType, len(dataTypeNames))
	for i := range types {
		types[i] = DataType(i)
	}
	return types
}

func (t DataType) MarshalText() ([]byte, error) {
	if t < 0 || int(t) >= len(dataTypeNames) {
		return nil, fmt.Errorf("invalid data type %d", int(t))
	}
	return []byte(t.String()), nil
}

func (t *DataType) UnmarshalText(b []byte) error {
	parsed, err := ParseDataType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// FormatValue renders value for display in a channel name
func (t DataType) FormatValue(value float64) string {
	switch t {
	case Integer:
		return strconv.FormatInt(int64(value), 10)
	case Float:
		return fmt.Sprintf("%.2f", value)
	case Percentage:
		return fmt.Sprintf("%.1f%%", value)
	case Bytes:
		units := []string{"B", "KB", "MB", "GB", "TB"}
		i := 0
		for value >= 1024 && i < len(units)-1 {
			value /= 1024
			i++
		}
		return fmt.Sprintf("%.1f %s", value, units[i])
	case Duration:
		secs := int64(value)
		days := secs / 86400
		hours := (secs % 86400) / 3600
		mins := (secs % 3600) / 60
		switch {
		case days > 0:
			return fmt.Sprintf("%dd %dh", days, hours)
		case hours > 0:
			return fmt.Sprintf("%dh %dm", hours, mins)
		default:
			return fmt.Sprintf("%dm", mins)
		}
	case Temperature:
		return fmt.Sprintf("%.1f°C", value)
	case Speed:
		switch {
		case value >= 1e9:
			return fmt.Sprintf("%.1f GB/s", value/1e9)
		case value >= 1e6:
			return fmt.Sprintf("%.1f MB/s", value/1e6)
		case value >= 1e3:
			return fmt.Sprintf("%.1f KB/s", value/1e3)
		default:
			return fmt.Sprintf("%.1f B/s", value)
		}
	case Currency:
		return fmt.Sprintf("$%.2f", value)
	case Scientific:
		return formatScientific(value)
	default:
		return strconv.FormatFloat(value, 'g', -1, 64)
	}
}

// formatScientific writes 12340 as 1.234e4
func formatScientific(value float64) string {
	if value == 0 || math.IsInf(value, 0) || math.IsNaN(value) {
		return strconv.FormatFloat(value, 'g', -1, 64) + "e0"
	}
	s := strconv.FormatFloat(value, 'e', -1, 64)
	mantissa, exp, _ := strings.Cut(s, "e")
	n, _ := strconv.Atoi(exp)
	return mantissa + "e" + strconv.Itoa(n)
}
