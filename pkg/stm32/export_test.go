package stm32

import "github.com/serialtools/stm32flash/pkg/util"

// SetClock swaps the connection's clock so lifecycle tests skip the real
// reset delays.
func (c *Conn) SetClock(clock util.Clock) {
	c.clock = clock
}
