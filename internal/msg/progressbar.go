package msg

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// ProgressBar reports how many compile units have finished. It prints one full line per
// update instead of redrawing, because unit status lines are printed in between.
type ProgressBar struct {
	Total   int
	Current int
	Indent  int
	Start   time.Time
	W       io.Writer
}

const progressWidth = 30

func NewProgressBar(total int, indent int, w io.Writer) *ProgressBar {
	return &ProgressBar{
		Total:  total,
		Indent: indent,
		Start:  time.Now(),
		W:      w,
	}
}

// Add advances the bar by n finished units and prints it.
func (pb *ProgressBar) Add(n int) {
	pb.Current = min(pb.Current+n, pb.Total)
	pb.print()
}

func (pb *ProgressBar) String() string {
	percent := float64(pb.Current) / float64(max(pb.Total, 1))
	if pb.Total == 0 {
		percent = 1
	}

	filled := min(int(percent*progressWidth), progressWidth)
	bar := strings.Repeat("█", filled) + strings.Repeat("-", progressWidth-filled)

	return fmt.Sprintf("%s%3.f%% [%s] %d/%d (%s)",
		strings.Repeat(" ", pb.Indent),
		percent*100,
		bar,
		pb.Current,
		pb.Total,
		time.Since(pb.Start).Round(time.Millisecond),
	)
}

func (pb *ProgressBar) print() {
	if pb.W == nil {
		writeLine(pb.String())
		return
	}
	fmt.Fprintln(pb.W, pb.String())
}
