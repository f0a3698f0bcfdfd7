package cereal

import (
	"log"
	"sync/atomic"
)

// EnableTrace turns acquisition loop diagnostics on or off. Output goes to
// the standard logger.
func EnableTrace(enable bool) {
	traceEnabled.Store(enable)
}

var traceEnabled atomic.Bool

func trace(args ...interface{}) {
	if traceEnabled.Load() {
		log.Println(args...)
	}
}
