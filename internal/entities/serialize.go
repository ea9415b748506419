package entities

import (
	"strconv"
	"strings"
)

// formatNumber renders a number with at most six decimals, '.' as separator
// and no grouping. Ties on the exact binary value round half to even.
func formatNumber(v float64) string {
	s := strconv.FormatFloat(v, 'f', 6, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	if s == "-0" {
		return "0"
	}
	return s
}

func formatInstant(t float64) string { return formatNumber(t) }

func formatValue(v any) string {
	switch x := v.(type) {
	case string:
		return strconv.Quote(x)
	case bool:
		if x {
			return "1"
		}
		return "0"
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return formatNumber(x)
	case float32:
		return formatNumber(float64(x))
	default:
		return strconv.Quote("")
	}
}

func createRecord(e *Entity) string {
	return "CREATE " + strconv.Itoa(e.id) + " " + string(e.kind)
}

// updateRecord renders the changed properties of one entity at one instant.
// Non-linear curves are attached to the key as key~curve.
func updateRecord(id int, t string, s entityState) string {
	var sb strings.Builder
	sb.WriteString("UPDATE ")
	sb.WriteString(strconv.Itoa(id))
	sb.WriteByte(' ')
	sb.WriteString(t)
	for _, k := range s.sortedKeys() {
		p := s[k]
		sb.WriteByte(' ')
		sb.WriteString(k)
		if p.curve != Linear {
			sb.WriteByte('~')
			sb.WriteString(p.curve.String())
		}
		sb.WriteByte(' ')
		sb.WriteString(p.value)
	}
	return sb.String()
}

func commitRecord(t string) string { return "COMMIT " + t }
