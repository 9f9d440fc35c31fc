package queue

import "sync"

// completionQueue is an unbounded FIFO with many producers and one consumer.
// Producers never block on a slow consumer.
type completionQueue struct {
	mu    sync.Mutex
	items []Completion
}

func (c *completionQueue) push(item Completion) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, item)
	return len(c.items)
}

func (c *completionQueue) tryPop() (Completion, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.items) == 0 {
		return Completion{}, false
	}
	item := c.items[0]
	c.items[0] = Completion{}
	c.items = c.items[1:]
	if len(c.items) == 0 {
		c.items = nil
	}
	return item, true
}

func (c *completionQueue) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
