package main

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
)

// Responses that need no formatting are written from these.
var (
	respOK   = []byte("+OK\r\n")
	respPong = []byte("+PONG\r\n")
	respZero = []byte(":0\r\n")
)

func (app *application) writeSimpleStringResponse(w io.Writer, s string) error {
	switch s {
	case "OK":
		_, err := w.Write(respOK)
		return err
	case "PONG":
		_, err := w.Write(respPong)
		return err
	}
	buf := make([]byte, 0, len(s)+3)
	buf = append(buf, '+')
	buf = append(buf, s...)
	buf = append(buf, '\r', '\n')
	_, err := w.Write(buf)
	return err
}

func (app *application) writeErrorResponse(w io.Writer, msg string) error {
	buf := make([]byte, 0, len(msg)+3)
	buf = append(buf, '-')
	buf = append(buf, msg...)
	buf = append(buf, '\r', '\n')
	_, err := w.Write(buf)
	return err
}

func (app *application) writeIntegerResponse(w io.Writer, i uint64) error {
	if i == 0 {
		_, err := w.Write(respZero)
		return err
	}
	buf := make([]byte, 0, 24)
	buf = append(buf, ':')
	buf = strconv.AppendUint(buf, i, 10)
	buf = append(buf, '\r', '\n')
	_, err := w.Write(buf)
	return err
}

// appendBulk appends s as a bulk string.
func appendBulk(buf []byte, s []byte) []byte {
	buf = append(buf, '$')
	buf = strconv.AppendInt(buf, int64(len(s)), 10)
	buf = append(buf, '\r', '\n')
	buf = append(buf, s...)
	return append(buf, '\r', '\n')
}

func (app *application) writeBulkStringResponse(w io.Writer, s string) error {
	_, err := w.Write(appendBulk(make([]byte, 0, len(s)+16), []byte(s)))
	return err
}

// writeIntegerArrayResponse writes values as one RESP array of integers.
func (app *application) writeIntegerArrayResponse(w io.Writer, values ...uint64) error {
	buf := make([]byte, 0, 8+len(values)*8)
	buf = append(buf, '*')
	buf = strconv.AppendInt(buf, int64(len(values)), 10)
	buf = append(buf, '\r', '\n')
	for _, v := range values {
		buf = append(buf, ':')
		buf = strconv.AppendUint(buf, v, 10)
		buf = append(buf, '\r', '\n')
	}
	_, err := w.Write(buf)
	return err
}

// writeLinesResponse writes the newline-terminated lines of text as a RESP
// array of bulk strings, one per line, without the newlines.
func (app *application) writeLinesResponse(w io.Writer, text []byte) error {
	var lines [][]byte
	if len(text) > 0 {
		lines = bytes.Split(bytes.TrimSuffix(text, []byte{'\n'}), []byte{'\n'})
	}

	buf := make([]byte, 0, len(text)+16*len(lines)+8)
	buf = append(buf, '*')
	buf = strconv.AppendInt(buf, int64(len(lines)), 10)
	buf = append(buf, '\r', '\n')
	for _, l := range lines {
		buf = appendBulk(buf, l)
	}
	_, err := w.Write(buf)
	return err
}

func (app *application) unknownCommandResponse(w io.Writer, name string) {
	_ = app.writeErrorResponse(w, fmt.Sprintf("ERR unknown command '%s'", name))
}

func (app *application) wrongNumberOfArgsResponse(w io.Writer, name string) {
	_ = app.writeErrorResponse(w, fmt.Sprintf("ERR wrong number of arguments for '%s' command", name))
}
