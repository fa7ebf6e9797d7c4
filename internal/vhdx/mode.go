package vhdx

import "github.com/ostafen/vhdxlens/internal/logger"

// Mode controls how the parser reacts to recoverable structural faults.
type Mode int

const (
	// Strict fails open() on the first structural inconsistency.
	Strict Mode = iota
	// Tolerant downgrades recoverable faults to warnings and keeps going.
	Tolerant
)

// parseContext is threaded through every parser in this package. It carries
// the resilience mode and a sink for warnings raised in Tolerant mode.
type parseContext struct {
	mode Mode
	log  *logger.Logger
}

func newParseContext(mode Mode, log *logger.Logger) *parseContext {
	if log == nil {
		log = logger.New(discard{}, logger.ErrorLevel+1) // swallow everything
	}
	return &parseContext{mode: mode, log: log}
}

func (c *parseContext) tolerant() bool { return c.mode == Tolerant }

// fault reports a recoverable structural fault: a warning in Tolerant mode,
// a fatal error in Strict mode.
func (c *parseContext) fault(err error) error {
	if c.tolerant() {
		c.log.Warnf("%s", err)
		return nil
	}
	return err
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
