package csv

import "strings"

// ParseLine splits one physical line into trimmed fields.
//
// Commas inside double quotes do not split, and a doubled quote inside a
// quoted section is a literal '"'. Any other quote only toggles the quoted
// state and is dropped. The function never fails: a line that ends inside
// an open quote is returned as parsed so far, and the open quote does not
// carry over to the next line. Quoted fields spanning lines are not
// supported.
func ParseLine(line string) []string {
	fields := make([]string, 0, strings.Count(line, ",")+1)

	var cur strings.Builder
	inQuotes := false

	for i := 0; i < len(line); i++ {
		ch := line[i]
		switch {
		case ch == '"' && inQuotes && i+1 < len(line) && line[i+1] == '"':
			cur.WriteByte('"')
			i++
		case ch == '"':
			inQuotes = !inQuotes
		case ch == ',' && !inQuotes:
			fields = append(fields, strings.TrimSpace(cur.String()))
			cur.Reset()
		default:
			cur.WriteByte(ch)
		}
	}

	return append(fields, strings.TrimSpace(cur.String()))
}
