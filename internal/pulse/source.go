package pulse

// Source delivers sensor edges into a Counter.
type Source interface {
	// Start claims the sensor line and begins counting edges.
	Start() error

	// Close releases the line.
	Close() error
}

// Defaults (BCM numbering)
const (
	DefaultChip = "gpiochip0"
	DefaultPin  = 17 // flow sensor signal
)
