//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealWriter drives lines on actual hardware using the Linux GPIO character device.
type RealWriter struct {
	chip  *gpiocdev.Chip
	lines map[int]*gpiocdev.Line
}

// NewRealWriter requests every output on chipName, each driven to its
// Initial level as part of the request so relays never glitch on at boot.
func NewRealWriter(chipName string, outputs []Output) (*RealWriter, error) {
	chip, err := gpiocdev.NewChip(chipName, gpiocdev.WithConsumer(Consumer))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", chipName, err)
	}

	w := &RealWriter{chip: chip, lines: make(map[int]*gpiocdev.Line, len(outputs))}
	for _, o := range outputs {
		line, err := chip.RequestLine(o.Line, gpiocdev.AsOutput(levelValue(o.Initial)))
		if err != nil {
			w.Close()
			return nil, fmt.Errorf("request output line %d: %w", o.Line, err)
		}
		w.lines[o.Line] = line
	}

	return w, nil
}

// Set drives line to the given raw level.
func (w *RealWriter) Set(line int, high bool) error {
	l, ok := w.lines[line]
	if !ok {
		return fmt.Errorf("set line %d: not requested", line)
	}
	if err := l.SetValue(levelValue(high)); err != nil {
		return fmt.Errorf("set line %d: %w", line, err)
	}
	return nil
}

// Close releases GPIO resources.
// Lines are reconfigured to input with pull-down (matching Pi boot defaults)
// before closing so a relay board is left in the same state as after a reboot.
func (w *RealWriter) Close() error {
	var errs []error

	for offset, l := range w.lines {
		if err := l.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure line %d: %w", offset, err))
		}
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close line %d: %w", offset, err))
		}
	}
	w.lines = nil

	if w.chip != nil {
		if err := w.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		w.chip = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

func levelValue(high bool) int {
	if high {
		return 1
	}
	return 0
}
