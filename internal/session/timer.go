package session

import "time"

func (c *Controller) startTimerLocked() {
	if c.timerStop != nil || c.remaining <= 0 || c.tickInterval <= 0 {
		return
	}
	stop := make(chan struct{})
	c.timerStop = stop
	go c.runTimer(stop, c.tickInterval)
}

func (c *Controller) stopTimerLocked() {
	if c.timerStop != nil {
		close(c.timerStop)
		c.timerStop = nil
	}
}

func (c *Controller) runTimer(stop <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !c.tick(stop) {
				return
			}
		}
	}
}

// tick advances the countdown by one second and reports whether it should keep running.
// stop identifies the timer doing the tick; a replaced timer is told to exit
// without counting.
func (c *Controller) tick(stop <-chan struct{}) bool {
	c.mu.Lock()
	if c.timerStop != stop || c.state != StateInProgress || c.remaining <= 0 {
		c.mu.Unlock()
		return false
	}
	c.remaining--
	remaining := c.remaining
	expired := remaining == 0
	if expired {
		c.expired = true
		c.timerStop = nil
	}
	onTick, onExpire := c.onTick, c.onExpire
	c.mu.Unlock()

	if onTick != nil {
		onTick(remaining)
	}
	if expired {
		if onExpire != nil {
			onExpire()
		}
		return false
	}
	return true
}
