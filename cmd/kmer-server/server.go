package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kmer.lopezb.com/internal/hits"
)

const (
	rejectionTimeout          = 500 * time.Millisecond
	errMaxConnectionsResponse = "ERR max number of clients reached\n"
)

// serve accepts connections until SIGINT or SIGTERM, then waits for the
// open sessions to finish.
func (app *application) serve() error {
	//
	// DESIGN
	// ------
	//
	// 1. CONNECTION LIMITING
	//    connLimiter is a semaphore. A non-blocking send either takes a slot or
	//    the connection is told the server is full and closed at once. Each
	//    session holds an aggregator whose results grow with every query, so
	//    the cap also bounds memory.
	//
	// 2. GRACEFUL SHUTDOWN
	//    The signal goroutine closes the listener, which ends the accept loop,
	//    and then waits on the session WaitGroup for at most shutdownTimeout.
	//    Its verdict comes back on shutdownError.
	//
	addr := fmt.Sprintf(":%d", app.config.port)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	app.listener = ln
	serverAddr := ln.Addr().String()

	if app.readyCh != nil {
		close(app.readyCh)
	}

	shutdownError := make(chan error)
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		s := <-quit

		app.logger.Info("caught signal", "signal", s.String(), "address", serverAddr)

		ctx, cancel := context.WithTimeout(context.Background(), app.config.shutdownTimeout)
		defer cancel()

		if err := ln.Close(); err != nil {
			shutdownError <- err
			return
		}

		wgDone := make(chan struct{})
		go func() {
			app.wg.Wait()
			close(wgDone)
		}()

		select {
		case <-wgDone:
			shutdownError <- nil
		case <-ctx.Done():
			shutdownError <- ctx.Err()
		}
	}()

	app.logger.Info("server starting", "address", serverAddr, "k", app.index.K())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				break
			}
			app.logger.Error("failed to accept connection", "error", err, "address", serverAddr)
			continue
		}

		select {
		case app.connLimiter <- struct{}{}:
			app.wg.Add(1)
			go app.handleConnection(conn)
		default:
			app.logger.Info("rejecting connection, limit reached", "remote_addr", conn.RemoteAddr().String())
			// A client that never reads must not stall the accept loop.
			_ = conn.SetWriteDeadline(time.Now().Add(rejectionTimeout))
			_, _ = conn.Write([]byte(errMaxConnectionsResponse))
			_ = conn.Close()
		}
	}

	err = <-shutdownError
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		app.logger.Error("server stopped with error", "error", err, "address", serverAddr)
		return err
	}
	app.logger.Info("server stopped gracefully", "address", serverAddr)
	return nil
}

// session is the per-connection state handlers see.
type session struct {
	remote string
	agg    *hits.Aggregator
}

// newSession opens an aggregator with the server's default thresholds.
func (app *application) newSession(remote string) *session {
	agg := hits.NewAggregator(app.index, app.logger)
	// Validated in main.
	_ = agg.SetThresholds(app.config.lower, app.config.upper)
	return &session{remote: remote, agg: agg}
}

// handleConnection runs the request loop of one client.
func (app *application) handleConnection(conn net.Conn) {
	//
	// DESIGN
	// ------
	//
	// Responses go through a bufio.Writer. After each command the writer is
	// flushed only when the parser has nothing buffered, so a pipelined
	// batch of QUERY commands is answered with one write.
	//
	// The session dies with the connection: its results are not kept
	// anywhere unless the client asked for SAVE or the journal is on.
	//
	defer func() { <-app.connLimiter }()
	defer app.wg.Done()
	defer func() { _ = conn.Close() }()

	app.metrics.TotalConnections.Add(1)

	remoteAddr := conn.RemoteAddr().String()
	app.logger.Info("new connection", "remote_addr", remoteAddr)

	s := app.newSession(remoteAddr)
	parser := NewParser(conn)
	writer := bufio.NewWriterSize(conn, 4096)
	defer func() { _ = writer.Flush() }()

	for {
		if app.config.idleTimeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(app.config.idleTimeout)); err != nil {
				app.logger.Error("failed to set read deadline", "error", err, "remote_addr", remoteAddr)
				return
			}
		}

		parts, err := parser.Parse()
		if err != nil {
			if err == io.EOF {
				app.logger.Info("client disconnected", "remote_addr", remoteAddr, "queries", len(s.agg.Results()))
			} else {
				app.logger.Error("parser error", "error", err, "remote_addr", remoteAddr)
			}
			return
		}

		app.router.Dispatch(app, s, writer, parts)

		if parser.Buffered() == 0 {
			if err := writer.Flush(); err != nil {
				app.logger.Error("failed to flush response", "error", err, "remote_addr", remoteAddr)
				return
			}
		}
	}
}
