package resolvercore

import "time"

// cleanupInterval is how often the terminal-order reaper runs.
const cleanupInterval = time.Hour

// runCleanup periodically removes terminal orders older than
// cfg.MaxOrderAge from the order store (§4.3 "cleanup_older_than").
func (c *Core) runCleanup() {
	defer c.wg.Done()

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.quit:
			return
		case <-ticker.C:
			n, err := c.cfg.Orders.CleanupOlderThan(c.cfg.MaxOrderAge)
			if err != nil {
				log.Errorf("resolvercore: cleanup: %v", err)
				continue
			}
			if n > 0 {
				log.Infof("resolvercore: cleanup removed %d terminal orders", n)
			}
		}
	}
}
