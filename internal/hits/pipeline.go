package hits

import (
	"context"
	"io"
	"log/slog"
	"runtime"
	"sync"

	"github.com/c2h5oh/datasize"

	"kmer.lopezb.com/internal/indexhash"
)

// Source yields query records until io.EOF. *seqfile.Reader is one.
type Source interface {
	Next() (name string, seq []byte, err error)
}

// PipelineOptions configures Find.
type PipelineOptions struct {
	Thresholds Thresholds

	// Workers is the number of matching goroutines; zero means GOMAXPROCS.
	Workers int

	// Buffers is the number of input and of output buffers in rotation;
	// zero means twice Workers.
	Buffers int

	// BlockSize is the amount of query sequence gathered into one input
	// buffer before it is handed to a worker.
	BlockSize datasize.ByteSize

	Logger *slog.Logger

	// OnBlock, when set, is called by the serializer after each block with
	// the number of queries it held.
	OnBlock func(queries int)
}

// DefaultBlockSize is the input buffer size used when none is configured.
const DefaultBlockSize = 4 * datasize.MB

// Summary counts what Find processed.
type Summary struct {
	Queries int
	Matched int // queries with at least one reported hit
	Blocks  int
}

type inBlock struct {
	names []string
	seqs  [][]byte
	size  int
}

func (b *inBlock) reset() {
	b.names = b.names[:0]
	b.seqs = b.seqs[:0]
	b.size = 0
}

type outBlock struct {
	results []Result
}

// Find matches every record of src against idx and passes each result to
// emit.
//
// DESIGN
// ------
//
// One producer, a pool of workers and one serializer (the calling
// goroutine) pass a fixed set of buffers around:
//
//	producer --filled--> workers --outFilled--> serializer
//	   ^                  |  ^                      |
//	   +------free--------+  +------outFree---------+
//
// Every channel has room for all the buffers of its kind, so a send never
// blocks; only taking a buffer does, which is what bounds memory. Closing
// filled tells the workers the input is done, and closing outFilled once
// the workers have exited tells the serializer.
//
// Results arrive in block completion order. Within a block they follow the
// input, and the hits of each query keep their first-match order.
func Find(ctx context.Context, idx *indexhash.Index, src Source, opt PipelineOptions, emit func(Result) error) (Summary, error) {
	if err := opt.Thresholds.Validate(); err != nil {
		return Summary{}, err
	}
	if opt.Workers <= 0 {
		opt.Workers = runtime.GOMAXPROCS(0)
	}
	if opt.Buffers <= 0 {
		opt.Buffers = 2 * opt.Workers
	}
	if opt.BlockSize == 0 {
		opt.BlockSize = DefaultBlockSize
	}
	logger := opt.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	run, cancel := context.WithCancel(ctx)
	defer cancel()

	free := make(chan *inBlock, opt.Buffers)
	filled := make(chan *inBlock, opt.Buffers)
	outFree := make(chan *outBlock, opt.Buffers)
	outFilled := make(chan *outBlock, opt.Buffers)
	for i := 0; i < opt.Buffers; i++ {
		free <- &inBlock{}
		outFree <- &outBlock{}
	}

	var readErr error
	produced := make(chan struct{})
	go func() {
		defer close(produced)
		defer close(filled)
		limit := int(opt.BlockSize.Bytes())
		for run.Err() == nil {
			var b *inBlock
			select {
			case b = <-free:
			case <-run.Done():
				return
			}
			b.reset()
			for b.size < limit {
				name, seq, err := src.Next()
				if err == io.EOF {
					if len(b.names) > 0 {
						filled <- b
					}
					return
				}
				if err != nil {
					readErr = err
					cancel()
					return
				}
				b.names = append(b.names, name)
				b.seqs = append(b.seqs, seq)
				b.size += len(seq)
			}
			filled <- b
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < opt.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			t := newTally(idx.K())
			for b := range filled {
				var o *outBlock
				select {
				case o = <-outFree:
				case <-run.Done():
					return
				}
				o.results = o.results[:0]
				for j, seq := range b.seqs {
					t.reset()
					t.scan(idx, seq, opt.Thresholds.Upper)
					o.results = append(o.results, Result{Query: b.names[j], Hits: t.hits(opt.Thresholds.Lower)})
				}
				free <- b
				outFilled <- o
			}
		}()
	}
	go func() {
		wg.Wait()
		close(outFilled)
	}()

	var sum Summary
	var emitErr error
	for o := range outFilled {
		if emitErr == nil {
			for _, r := range o.results {
				if err := emit(r); err != nil {
					emitErr = err
					cancel()
					break
				}
				sum.Queries++
				if len(r.Hits) > 0 {
					sum.Matched++
				}
			}
			sum.Blocks++
			if opt.OnBlock != nil {
				opt.OnBlock(len(o.results))
			}
		}
		outFree <- o
	}
	<-produced

	switch {
	case readErr != nil:
		return sum, readErr
	case emitErr != nil:
		return sum, emitErr
	}
	if err := ctx.Err(); err != nil {
		return sum, err
	}
	logger.Info("matched queries", "queries", sum.Queries, "matched", sum.Matched, "blocks", sum.Blocks)
	return sum, nil
}
