package main

import (
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// progress is a single counting bar on stderr. A nil *progress does
// nothing, so callers need not check --progress themselves.
type progress struct {
	p   *mpb.Progress
	bar *mpb.Bar
}

// startProgress returns a bar counting up to total, or nil without
// --progress. A total of zero is unknown and set when the bar completes.
func (g *globals) startProgress(name string, total int64) *progress {
	if !g.progress {
		return nil
	}
	p := mpb.New(mpb.WithWidth(40), mpb.WithOutput(g.stderr))
	bar := p.AddBar(total,
		mpb.PrependDecorators(
			decor.Name(name, decor.WC{W: len(name) + 1, C: decor.DindentRight}),
			decor.CountersNoUnit("%d / %d", decor.WCSyncWidth),
		),
		mpb.AppendDecorators(
			decor.Name("ETA: ", decor.WC{W: len("ETA: ")}),
			decor.AverageETA(decor.ET_STYLE_GO),
			decor.OnComplete(decor.Name(""), ". done"),
		),
	)
	return &progress{p: p, bar: bar}
}

func (pr *progress) add(n int) {
	if pr == nil {
		return
	}
	pr.bar.IncrBy(n)
}

// done completes the bar and waits for it to render.
func (pr *progress) done() {
	if pr == nil {
		return
	}
	pr.bar.SetTotal(-1, true)
	pr.p.Wait()
}
