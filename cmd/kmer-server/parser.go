// Request Parsing
//
// Clients speak RESP, so redis-cli and any Redis client library can drive
// the server. Two request shapes arrive:
//
//	*3\r\n$5\r\nQUERY\r\n$2\r\nq1\r\n$8\r\nACGTACGT\r\n   (array of bulk strings)
//	QUERY q1 ACGTACGT\r\n                                 (inline, for telnet)
//
// Query sequences travel as bulk strings, so a long read needs no escaping.
//
// Limits
// ======
//
// Every length a client announces is checked before anything is allocated:
// bulk strings against MaxBulkLength, arrays against MaxArrayLen, and header
// or inline lines against MaxLineSize.
package main

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strconv"

	"github.com/c2h5oh/datasize"
)

const (
	// MaxBulkLength bounds one argument, which is at most a query read.
	MaxBulkLength = int(64 * datasize.MB)

	// MaxArrayLen bounds the words of one command.
	MaxArrayLen = 1 << 10

	// MaxLineSize bounds header and inline lines.
	MaxLineSize = int(64 * datasize.KB)
)

var (
	ErrInvalidSyntax = errors.New("ERR protocol error: invalid syntax")
	ErrLineTooLong   = errors.New("ERR protocol error: line too long")
	ErrBulkTooLarge  = errors.New("ERR protocol error: bulk string too large")
	ErrArrayTooLong  = errors.New("ERR protocol error: too many arguments")
)

// Parser reads commands from one connection.
type Parser struct {
	reader *bufio.Reader
}

func NewParser(conn io.Reader) *Parser {
	return &Parser{reader: bufio.NewReaderSize(conn, 4096)}
}

// Parse reads the next command. An empty array yields an empty command.
func (p *Parser) Parse() ([]string, error) {
	line, err := p.readLine()
	if err != nil {
		return nil, err
	}
	if len(line) == 0 {
		return nil, ErrInvalidSyntax
	}
	if line[0] == '*' {
		return p.parseArray(line[1:])
	}
	fields := bytes.Fields(line)
	if len(fields) == 0 {
		return nil, ErrInvalidSyntax
	}
	cmd := make([]string, len(fields))
	for i, f := range fields {
		cmd[i] = string(f)
	}
	return cmd, nil
}

// Buffered reports the bytes read from the connection but not yet parsed.
func (p *Parser) Buffered() int {
	return p.reader.Buffered()
}

// readLine returns one line without its terminator, refusing lines over
// MaxLineSize.
func (p *Parser) readLine() ([]byte, error) {
	line, more, err := p.reader.ReadLine()
	if err != nil {
		return nil, err
	}
	if !more {
		return line, nil
	}

	var buf bytes.Buffer
	buf.Write(line)
	for more {
		if line, more, err = p.reader.ReadLine(); err != nil {
			return nil, err
		}
		if buf.Len()+len(line) > MaxLineSize {
			return nil, ErrLineTooLong
		}
		buf.Write(line)
	}
	return buf.Bytes(), nil
}

// length parses the number after a '*' or '$' marker.
func length(b []byte) (int, error) {
	n, err := strconv.Atoi(string(bytes.TrimSpace(b)))
	if err != nil {
		return 0, ErrInvalidSyntax
	}
	return n, nil
}

func (p *Parser) parseArray(header []byte) ([]string, error) {
	n, err := length(header)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return []string{}, nil
	}
	if n > MaxArrayLen {
		return nil, ErrArrayTooLong
	}

	cmd := make([]string, 0, n)
	for i := 0; i < n; i++ {
		s, err := p.parseBulk()
		if err != nil {
			return nil, err
		}
		cmd = append(cmd, s)
	}
	return cmd, nil
}

// parseBulk reads one $<len>\r\n<data>\r\n element. A null bulk string is
// read as empty.
func (p *Parser) parseBulk() (string, error) {
	line, err := p.readLine()
	if err != nil {
		return "", err
	}
	if len(line) == 0 || line[0] != '$' {
		return "", ErrInvalidSyntax
	}
	n, err := length(line[1:])
	if err != nil {
		return "", err
	}
	switch {
	case n == -1:
		return "", nil
	case n < 0:
		return "", ErrInvalidSyntax
	case n > MaxBulkLength:
		return "", ErrBulkTooLarge
	}

	buf := make([]byte, n+2)
	if _, err := io.ReadFull(p.reader, buf); err != nil {
		return "", err
	}
	if buf[n] != '\r' || buf[n+1] != '\n' {
		return "", ErrInvalidSyntax
	}
	return string(buf[:n]), nil
}
