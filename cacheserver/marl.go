/*
Copyright (C) 2026  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package cacheserver

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
)

// marlLine is one parsed, non-comment line of a .marl sidecar.
type marlLine struct {
	raw       string
	table     string
	cords     []int64 // nil for a load_table line
	wholeTable bool
}

// parseMarl reads an ASCII, line-oriented .marl sidecar: blank lines and
// lines starting with '#' are ignored; "load_table: <name>" preloads an
// entire table, "load_case: <name>, <c0>, <c1>, …" preloads one cord tuple.
func parseMarl(raw []byte) ([]marlLine, error) {
	scanner := bufio.NewScanner(strings.NewReader(string(raw)))
	var lines []marlLine
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		line, err := parseMarlLine(text)
		if err != nil {
			return nil, fmt.Errorf("cacheserver: .marl line %d: %w", lineNo, err)
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func parseMarlLine(text string) (marlLine, error) {
	switch {
	case strings.HasPrefix(text, "load_table:"):
		name := strings.TrimSpace(strings.TrimPrefix(text, "load_table:"))
		if name == "" {
			return marlLine{}, fmt.Errorf("load_table missing a table name")
		}
		return marlLine{raw: text, table: name, wholeTable: true}, nil
	case strings.HasPrefix(text, "load_case:"):
		rest := strings.TrimSpace(strings.TrimPrefix(text, "load_case:"))
		fields := strings.Split(rest, ",")
		if len(fields) < 2 {
			return marlLine{}, fmt.Errorf("load_case requires a table name and at least one cord")
		}
		name := strings.TrimSpace(fields[0])
		cords := make([]int64, len(fields)-1)
		for i, f := range fields[1:] {
			n, err := strconv.ParseInt(strings.TrimSpace(f), 10, 64)
			if err != nil {
				return marlLine{}, fmt.Errorf("invalid cord %q: %w", f, err)
			}
			cords[i] = n
		}
		return marlLine{raw: text, table: name, cords: cords}, nil
	default:
		return marlLine{}, fmt.Errorf("unrecognized directive %q", text)
	}
}

// marlSidecarName is where a database's sidecar lives, beside its catalog.
func marlSidecarName(dbName string) string {
	return dbName + ".marl"
}
