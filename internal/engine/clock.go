package engine

// LogicalClock is the engine's tick source. One tick per accepted price
// update; cooldowns and staleness windows are measured in ticks, never
// wall-clock time.
type LogicalClock struct {
	tick int64
}

func NewLogicalClock(start int64) *LogicalClock {
	return &LogicalClock{tick: start}
}

func (c *LogicalClock) Tick() int64 {
	return c.tick
}

func (c *LogicalClock) Advance() int64 {
	c.tick++
	return c.tick
}

func (c *LogicalClock) Restore(tick int64) {
	c.tick = tick
}
