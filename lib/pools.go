package lib

import (
	"fmt"
	"sync"
)

var timerPool = &TimerPool{sp: sync.Pool{}, m: newPoolMetrics()}
var pendingResponsePool = &PendingResponsePool{sp: sync.Pool{}, m: newPoolMetrics()}
var pendingWritePool = &PendingWritePool{sp: sync.Pool{}, m: newPoolMetrics()}

// StartPoolMetrics begins folding the per-pool counters into running totals
// once every DefaultTickerDuration.
func StartPoolMetrics() {
	timerPool.m.start()
	pendingResponsePool.m.start()
	pendingWritePool.m.start()
}

func ReleasePoolMetrics() {
	timerPool.m.release()
	pendingResponsePool.m.release()
	pendingWritePool.m.release()
}

func JsonStringPoolMetrics() string {
	return fmt.Sprintf("{\"timerPool\": %s, \"pendingResponsePool\": %s, \"pendingWritePool\": %s}",
		timerPool.m.metricsString(),
		pendingResponsePool.m.metricsString(),
		pendingWritePool.m.metricsString(),
	)
}
