package lib

import "fmt"

// writeLoop drains the request queue in batches, flushing once per batch.
// It is the only goroutine that touches c.w after setup.
func (c *Conn) writeLoop() {
	defer c.wg.Done()

	var batch []*pendingWrite

	for {
		c.mu.Lock()
		for !c.writerDone && len(c.writerQueue) == 0 {
			c.writerCond.Wait()
		}
		done := c.writerDone
		batch, c.writerQueue = c.writerQueue, batch[:0]
		c.writerCond.Broadcast()
		c.mu.Unlock()

		if done {
			for _, pw := range batch {
				pendingWritePool.release(pw)
			}
			return
		}

		var err error
		for i, pw := range batch {
			if err == nil {
				_, err = c.w.Write(pw.frame)
			}
			pendingWritePool.release(pw)
			batch[i] = nil
		}
		if err == nil {
			err = c.w.Flush()
		}
		if err != nil {
			c.fail(fmt.Errorf("%w: write: %w", ErrConnectionDead, err))
			return
		}
	}
}
