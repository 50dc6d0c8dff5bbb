package subscription

import "errors"

// resyncLoop re-hydrates the active topic on every tick until the
// activation ends.
func (c *Controller) resyncLoop(a *activation) {
	defer a.wg.Done()

	ticker := c.clock.NewTicker(c.cfg.ResyncInterval)
	defer ticker.Stop()

	a.logger.Debug("resync started", "interval", c.cfg.ResyncInterval)

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.Chan():
			if err := c.hydrate(a.ctx, a); err != nil && !errors.Is(err, ErrNotActive) {
				a.logger.Debug("resync failed", "error", err)
			}
		}
	}
}
