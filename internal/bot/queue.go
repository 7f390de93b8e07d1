package bot

import (
	"log/slog"
	"sync"
)

// chatQueue runs submitted work one item at a time per chat, in arrival order,
// while different chats proceed in parallel.
type chatQueue struct {
	mu     sync.RWMutex
	queues map[int64]chan func()
	size   int
	closed bool
	wg     sync.WaitGroup
}

func newChatQueue(size int) *chatQueue {
	if size <= 0 {
		size = 64
	}
	return &chatQueue{queues: make(map[int64]chan func()), size: size}
}

// Submit enqueues fn for chatID. It blocks when the chat's queue is full and
// drops fn after Close.
func (q *chatQueue) Submit(chatID int64, fn func()) {
	q.mu.RLock()
	ch, ok := q.queues[chatID]
	closed := q.closed
	q.mu.RUnlock()
	if closed {
		slog.Warn("Dropping update after shutdown", "chat_id", chatID)
		return
	}

	if !ok {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return
		}
		if ch, ok = q.queues[chatID]; !ok {
			ch = make(chan func(), q.size)
			q.queues[chatID] = ch
			q.wg.Add(1)
			go q.run(chatID, ch)
		}
		q.mu.Unlock()
	}

	// The read lock keeps Close from closing ch under a pending send.
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return
	}
	ch <- fn
}

func (q *chatQueue) run(chatID int64, ch <-chan func()) {
	defer q.wg.Done()
	for fn := range ch {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("Recovered from panic while handling update", "chat_id", chatID, "panic", r)
				}
			}()
			fn()
		}()
	}
}

// Close stops accepting work and waits for queued work to finish.
func (q *chatQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for _, ch := range q.queues {
		close(ch)
	}
	q.mu.Unlock()
	q.wg.Wait()
}
