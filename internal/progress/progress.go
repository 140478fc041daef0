package progress

import (
	"io"

	"github.com/schollz/progressbar/v3"
)

// Bar tracks completion of the per-part build steps. A nil *Bar is valid and
// does nothing, so callers don't need to guard every Add.
type Bar struct {
	bar *progressbar.ProgressBar
}

func New(w io.Writer, steps int, description string) *Bar {
	return &Bar{
		bar: progressbar.NewOptions(steps,
			progressbar.OptionSetWriter(w),
			progressbar.OptionSetDescription(description),
			progressbar.OptionClearOnFinish(),
			progressbar.OptionSetPredictTime(false),
		),
	}
}

func (b *Bar) Add(n int) {
	if b == nil || b.bar == nil {
		return
	}
	_ = b.bar.Add(n)
}

func (b *Bar) Finish() {
	if b == nil || b.bar == nil {
		return
	}
	_ = b.bar.Finish()
}
