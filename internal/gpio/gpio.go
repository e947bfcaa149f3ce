// Package gpio provides relay output lines with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Writer drives output lines.
type Writer interface {
	// Set puts a raw level on the line: true = high, false = low.
	// Polarity has already been applied by the caller.
	Set(line int, high bool) error

	// Close releases the lines.
	Close() error
}

// Output describes one line to request at startup.
type Output struct {
	Line    int  // BCM offset on the chip
	Initial bool // level driven as soon as the line is requested
}

// DefaultChip is the Raspberry Pi header GPIO chip.
const DefaultChip = "gpiochip0"

// Consumer is the label shown for our lines in gpioinfo.
const Consumer = "relay-node"
