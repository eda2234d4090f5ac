// handlers.go implements the server commands.
//
//	PING                      +PONG
//	INFO                      server, index and session report
//	THRESHOLD                 the session's lower and upper thresholds
//	THRESHOLD lower upper     replace them for later queries
//	QUERY name sequence       match one read, reply with the reads reported
//	HITS [top]                the session's hit table, best hits first
//	SAVE file                 write the hit table under -save-dir
//	RESET                     drop the session's results
//
// Every handler but INFO touches only its own session, so none of them
// lock anything.
package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"kmer.lopezb.com/internal/hits"
)

func (app *application) handlePing(s *session, w io.Writer, args []string) {
	if len(args) != 0 {
		app.wrongNumberOfArgsResponse(w, "PING")
		return
	}
	_ = app.writeSimpleStringResponse(w, "PONG")
}

func (app *application) handleInfo(s *session, w io.Writer, args []string) {
	if len(args) != 0 {
		app.wrongNumberOfArgsResponse(w, "INFO")
		return
	}

	idx := app.index
	th := s.agg.Thresholds()
	var b strings.Builder

	b.WriteString("# Server\r\n")
	fmt.Fprintf(&b, "connections_total:%d\r\n", app.metrics.TotalConnections.Load())
	fmt.Fprintf(&b, "connections_active:%d\r\n", len(app.connLimiter))
	fmt.Fprintf(&b, "commands_processed_total:%d\r\n", app.metrics.TotalCommands.Load())
	fmt.Fprintf(&b, "queries_total:%d\r\n", app.metrics.TotalQueries.Load())
	fmt.Fprintf(&b, "queries_matched:%d\r\n", app.metrics.MatchedQueries.Load())

	b.WriteString("# Index\r\n")
	fmt.Fprintf(&b, "k:%d\r\n", idx.K())
	fmt.Fprintf(&b, "kmers:%d\r\n", idx.Kmers())
	fmt.Fprintf(&b, "read_entries:%d\r\n", idx.Pairs())
	fmt.Fprintf(&b, "reads:%d\r\n", idx.Reads())
	fmt.Fprintf(&b, "files:%d\r\n", len(idx.Files()))

	b.WriteString("# Session\r\n")
	fmt.Fprintf(&b, "queries:%d\r\n", len(s.agg.Results()))
	fmt.Fprintf(&b, "lower:%d\r\n", th.Lower)
	fmt.Fprintf(&b, "upper:%d\r\n", th.Upper)

	_ = app.writeBulkStringResponse(w, b.String())
}

func (app *application) handleThreshold(s *session, w io.Writer, args []string) {
	switch len(args) {
	case 0:
		th := s.agg.Thresholds()
		_ = app.writeIntegerArrayResponse(w, th.Lower, th.Upper)
	case 2:
		lower, err1 := strconv.ParseUint(args[0], 10, 64)
		upper, err2 := strconv.ParseUint(args[1], 10, 64)
		if err1 != nil || err2 != nil {
			_ = app.writeErrorResponse(w, "ERR thresholds are not non-negative integers")
			return
		}
		if err := s.agg.SetThresholds(lower, upper); err != nil {
			_ = app.writeErrorResponse(w, "ERR "+err.Error())
			return
		}
		_ = app.writeSimpleStringResponse(w, "OK")
	default:
		app.wrongNumberOfArgsResponse(w, "THRESHOLD")
	}
}

// handleQuery handles QUERY name sequence.
//
// The reply is the number of reads reported for the query. The hits
// themselves stay in the session for HITS and SAVE.
func (app *application) handleQuery(s *session, w io.Writer, args []string) {
	if len(args) != 2 {
		app.wrongNumberOfArgsResponse(w, "QUERY")
		return
	}
	r := s.agg.Query(args[0], []byte(args[1]))
	app.metrics.TotalQueries.Add(1)
	if len(r.Hits) > 0 {
		app.metrics.MatchedQueries.Add(1)
		if app.journal != nil {
			if err := app.journal.Write(hits.AppendResult(nil, app.index, r, 0)); err != nil {
				app.logger.Error("failed to append to journal", "error", err, "query", r.Query)
			}
		}
	}
	_ = app.writeIntegerResponse(w, uint64(len(r.Hits)))
}

// handleHits handles HITS [top]. Each array element is one table line:
// query, read and hit count separated by tabs.
func (app *application) handleHits(s *session, w io.Writer, args []string) {
	top := 0
	switch len(args) {
	case 0:
	case 1:
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 0 {
			_ = app.writeErrorResponse(w, "ERR top is not a non-negative integer")
			return
		}
		top = n
	default:
		app.wrongNumberOfArgsResponse(w, "HITS")
		return
	}

	var text []byte
	for _, r := range s.agg.Results() {
		text = hits.AppendResult(text, app.index, r, top)
	}
	_ = app.writeLinesResponse(w, text)
}

// handleSave handles SAVE file. Only the base name of file is used, and
// the table is written inside -save-dir.
func (app *application) handleSave(s *session, w io.Writer, args []string) {
	if len(args) != 1 {
		app.wrongNumberOfArgsResponse(w, "SAVE")
		return
	}
	if app.config.saveDir == "" {
		_ = app.writeErrorResponse(w, "ERR saving is disabled")
		return
	}
	name := filepath.Base(args[0])
	if name == "." || name == ".." || name == string(filepath.Separator) {
		_ = app.writeErrorResponse(w, "ERR invalid file name")
		return
	}
	path := filepath.Join(app.config.saveDir, name)
	if err := s.agg.Save(path); err != nil {
		app.logger.Error("save failed", "error", err, "file", path, "remote_addr", s.remote)
		_ = app.writeErrorResponse(w, "ERR save failed")
		return
	}
	_ = app.writeSimpleStringResponse(w, "OK")
}

func (app *application) handleReset(s *session, w io.Writer, args []string) {
	if len(args) != 0 {
		app.wrongNumberOfArgsResponse(w, "RESET")
		return
	}
	s.agg.Reset()
	_ = app.writeSimpleStringResponse(w, "OK")
}
