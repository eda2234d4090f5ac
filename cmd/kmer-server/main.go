// kmer-server answers read-hit queries against a kmer index over RESP.
//
// Sessions
// ========
//
// Every connection owns a hit aggregator over the one shared, read-only
// index. A client sets its thresholds, sends query sequences and collects
// the hit table of everything it sent, so redis-cli is enough to drive it:
//
//	redis-cli -p 6480 THRESHOLD 2 500
//	redis-cli -p 6480 QUERY read1 ACGTTGCAAGTC
//	redis-cli -p 6480 HITS 5
//
// The index is loaded before the listener opens and is never written, so
// handlers need no locking to read it.
//
// Results Journal
// ===============
//
// With -journal, every query result is appended to a tab-separated file in
// the format of "kmer find". Lines are buffered and a background goroutine
// flushes and fsyncs them once a second, so a crash loses at most the last
// second of results. The journal is flushed and closed on shutdown.
package main

import (
	"flag"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"kmer.lopezb.com/internal/hits"
	"kmer.lopezb.com/internal/indexhash"
)

type config struct {
	port            int
	maxConnections  int
	shutdownTimeout time.Duration
	idleTimeout     time.Duration
	indexPath       string
	lower           uint64
	upper           uint64
	journalPath     string
	saveDir         string
	verbose         bool
}

type application struct {
	config      config
	logger      *slog.Logger
	listener    net.Listener
	index       *indexhash.Index
	router      *Router
	metrics     *Metrics
	readyCh     chan struct{}
	wg          sync.WaitGroup
	connLimiter chan struct{}
	journal     *Journal
}

func main() {
	var cfg config

	flag.IntVar(&cfg.port, "port", 6480, "TCP server port")
	flag.IntVar(&cfg.maxConnections, "max-conn", 100, "Maximum concurrent connections")
	flag.DurationVar(&cfg.shutdownTimeout, "shutdown-timeout", 5*time.Second, "Graceful shutdown timeout")
	flag.DurationVar(&cfg.idleTimeout, "idle-timeout", 0, "Idle client connection timeout (0 for no timeout)")
	flag.StringVar(&cfg.indexPath, "index", "", "Index file built by kmer index")
	flag.Uint64Var(&cfg.lower, "lower", 1, "Default fewest hits a read needs to be reported")
	flag.Uint64Var(&cfg.upper, "upper", 0, "Default read list length above which kmers are skipped (0 keeps all)")
	flag.StringVar(&cfg.journalPath, "journal", "", "Append every query result to this file")
	flag.StringVar(&cfg.saveDir, "save-dir", "", "Directory SAVE writes into (empty disables SAVE)")
	flag.BoolVar(&cfg.verbose, "v", false, "Log every query")
	flag.Parse()

	level := slog.LevelInfo
	if cfg.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	if cfg.indexPath == "" {
		logger.Error("missing -index")
		os.Exit(2)
	}
	if err := (hits.Thresholds{Lower: cfg.lower, Upper: cfg.upper}).Validate(); err != nil {
		logger.Error("bad default thresholds", "error", err)
		os.Exit(2)
	}

	start := time.Now()
	idx, err := indexhash.Load(cfg.indexPath)
	if err != nil {
		logger.Error("failed to load index", "error", err)
		os.Exit(1)
	}
	logger.Info("index loaded",
		"file", cfg.indexPath,
		"k", idx.K(),
		"kmers", humanize.Comma(int64(idx.Kmers())),
		"reads", humanize.Comma(int64(idx.Reads())),
		"duration", time.Since(start))

	app := &application{
		config:      cfg,
		logger:      logger,
		index:       idx,
		metrics:     NewMetrics(),
		connLimiter: make(chan struct{}, cfg.maxConnections),
	}
	app.router = app.commands()

	if cfg.journalPath != "" {
		j, err := OpenJournal(cfg.journalPath)
		if err != nil {
			logger.Error("failed to open journal", "error", err)
			os.Exit(1)
		}
		app.journal = j
	}

	// Journal sync loop. Nothing to do without a journal.
	stop := make(chan struct{})
	if app.journal != nil {
		go func() {
			ticker := time.NewTicker(time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-stop:
					return
				case <-ticker.C:
					if err := app.journal.Fsync(); err != nil {
						logger.Error("journal sync failed", "error", err)
					}
				}
			}
		}()
	}

	defer func() {
		close(stop)
		if app.journal == nil {
			logger.Info("shutting down...")
			return
		}
		logger.Info("shutting down, closing journal...")
		if err := app.journal.Close(); err != nil {
			logger.Error("failed to close journal", "error", err)
		}
	}()

	if err := app.serve(); err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}
}
