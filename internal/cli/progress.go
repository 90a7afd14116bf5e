package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	progressbar "github.com/schollz/progressbar/v2"

	"resolvd/pkg/types"
)

// progressView renders one terminal progress bar per in-flight task.
type progressView struct {
	bars map[int64]*taskBar
}

type taskBar struct {
	bar  *progressbar.ProgressBar
	done int64
}

func newProgressView() *progressView {
	return &progressView{bars: make(map[int64]*taskBar)}
}

func (v *progressView) update(ev types.ProgressEvent) {
	tb, ok := v.bars[ev.TaskID]
	if !ok {
		total := int(ev.TotalBytes)
		if total <= 0 {
			// length unknown; the bar still shows bytes and rate
			total = 1 << 40
		}
		tb = &taskBar{bar: progressbar.NewOptions(total,
			progressbar.OptionSetBytes(total),
			progressbar.OptionSetDescription(ev.Filename),
			progressbar.OptionSetRenderBlankState(true),
		)}
		v.bars[ev.TaskID] = tb
	}
	if delta := ev.Transferred - tb.done; delta > 0 {
		_ = tb.bar.Add(int(delta))
		tb.done = ev.Transferred
	}
	if ev.State.Terminal() {
		fmt.Println()
		switch ev.State {
		case types.TaskSucceeded:
			fmt.Printf("done %s (%s)\n", ev.Filename, humanize.Bytes(uint64(ev.Transferred)))
		case types.TaskCancelled:
			fmt.Printf("cancelled %s\n", ev.Filename)
		default:
			fmt.Printf("failed %s\n", ev.Filename)
		}
		delete(v.bars, ev.TaskID)
	}
}
