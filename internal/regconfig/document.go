// Package regconfig reads the register configuration document exported
// for the DAC38RF82EVM: LMK04828 (address, value) lines first, then the
// DAC38RF8x lines after a marker line.
package regconfig

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

const (
	// ClockStopMarker ends the clock-chip section on the line containing it.
	ClockStopMarker = "DAC_RESET"
	// ConverterStartMarker starts the converter section when it appears as
	// a whole token of a line.
	ConverterStartMarker = "DAC38RF8x"
)

// Entry is one register write. Order within a section is significant.
type Entry struct {
	Address uint32 `json:"address"`
	Value   uint32 `json:"value"`
}

// Document holds both register sequences in document order.
type Document struct {
	Clock     []Entry `json:"clock"`
	Converter []Entry `json:"converter"`
}

// ParseError reports a token that is not a hexadecimal number.
type ParseError struct {
	Line  int
	Token string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: invalid hex token %q: %v", e.Line, e.Token, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Load opens and parses a configuration document.
func Load(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config document: %w", err)
	}
	defer f.Close()

	doc, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return doc, nil
}

// Parse reads a configuration document. Lines with fewer than two tokens
// are skipped; extra tokens after the value are ignored.
func Parse(r io.Reader) (*Document, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read config document: %w", err)
	}

	doc := &Document{}

	for i, line := range lines {
		if strings.Contains(line, ClockStopMarker) {
			break
		}
		e, ok, err := parseLine(i+1, line)
		if err != nil {
			return nil, err
		}
		if ok {
			doc.Clock = append(doc.Clock, e)
		}
	}

	found := false
	for i, line := range lines {
		if found {
			e, ok, err := parseLine(i+1, line)
			if err != nil {
				return nil, err
			}
			if ok {
				doc.Converter = append(doc.Converter, e)
			}
			continue
		}
		for _, tok := range strings.Fields(line) {
			if tok == ConverterStartMarker {
				found = true
				break
			}
		}
	}

	return doc, nil
}

func parseLine(n int, line string) (Entry, bool, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return Entry{}, false, nil
	}
	addr, err := parseHex(n, fields[0])
	if err != nil {
		return Entry{}, false, err
	}
	value, err := parseHex(n, fields[1])
	if err != nil {
		return Entry{}, false, err
	}
	return Entry{Address: addr, Value: value}, true, nil
}

func parseHex(line int, tok string) (uint32, error) {
	s := tok
	if len(s) > 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, &ParseError{Line: line, Token: tok, Err: err}
	}
	return uint32(v), nil
}
