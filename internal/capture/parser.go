package capture

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

// Parser reads a capture stream and emits Records.
type Parser struct {
	scanner *bufio.Scanner
	header  Header
}

// NewParser creates a Parser that reads from r.
func NewParser(r io.Reader) *Parser {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Parser{scanner: s}
}

// Header returns the session header seen so far, if any.
func (p *Parser) Header() Header {
	return p.header
}

// Next reads the next record. It returns false at EOF. Header blocks and
// blocks without a channel are skipped.
func (p *Parser) Next() (Record, bool) {
	for {
		b, ok := p.nextBlock()
		if !ok {
			return Record{}, false
		}
		if h, ok := b.header(); ok {
			p.header = h
			continue
		}
		if r, ok := b.record(); ok {
			return r, true
		}
	}
}

func (p *Parser) nextBlock() (block, bool) {
	var b block
	for p.scanner.Scan() {
		line := strings.TrimRight(p.scanner.Text(), "\r")

		if line == "" {
			if len(b) > 0 {
				return b, true
			}
			continue
		}
		if strings.HasPrefix(line, "#") && len(b) == 0 {
			continue
		}

		idx := strings.Index(line, ": ")
		if idx < 0 {
			// "Text:" with nothing after it is an empty text line.
			if k, ok := strings.CutSuffix(line, ":"); ok && !strings.Contains(k, " ") {
				b = append(b, field{Key: k})
			}
			continue
		}
		b = append(b, field{Key: line[:idx], Value: line[idx+2:]})
	}

	if len(b) > 0 {
		return b, true
	}
	return nil, false
}

// ParseAll reads every record from the stream.
func (p *Parser) ParseAll() []Record {
	var out []Record
	for {
		r, ok := p.Next()
		if !ok {
			break
		}
		out = append(out, r)
	}
	return out
}

// Err returns the first read error, if any.
func (p *Parser) Err() error {
	return p.scanner.Err()
}

// ParseBytes parses every record in data.
func ParseBytes(data []byte) []Record {
	return NewParser(bytes.NewReader(data)).ParseAll()
}
