package lobby

import (
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/lobby/internal/backend"
)

// DefaultPendingWindow bounds how far apart a local echo and its authoritative row may be.
const DefaultPendingWindow = 30 * time.Second

// Message is a cached room message with its author snapshot.
type Message struct {
	ID        string
	RoomID    string
	AuthorID  string
	Content   string
	CreatedAt time.Time
	Author    backend.Author
	// Pending marks a local echo awaiting its authoritative row.
	Pending bool
}

// RoomState reports per-room load status.
type RoomState struct {
	Loaded  bool
	Loading bool
	LoadErr error
}

type roomBuffer struct {
	messages []Message
	ids      map[string]struct{}
	loaded   bool
	loading  bool
	loadErr  error
}

func newRoomBuffer() *roomBuffer {
	return &roomBuffer{ids: make(map[string]struct{})}
}

// MessageCache keeps an ordered, id-deduplicated message sequence per room.
type MessageCache struct {
	pendingWindow time.Duration

	mu    sync.RWMutex
	rooms map[string]*roomBuffer
}

// NewMessageCache constructs an empty cache.
func NewMessageCache(pendingWindow time.Duration) *MessageCache {
	if pendingWindow <= 0 {
		pendingWindow = DefaultPendingWindow
	}
	return &MessageCache{
		pendingWindow: pendingWindow,
		rooms:         make(map[string]*roomBuffer),
	}
}

// SetLoading marks a history fetch as started for roomID.
func (c *MessageCache) SetLoading(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	buffer := c.bufferLocked(roomID)
	buffer.loading = true
	buffer.loadErr = nil
}

// Replace installs a fetched history in backend order, dropping duplicate ids.
// Authoritative rows already cached but missing from the history (inserts that
// arrived while it was in flight) are merged back in order. Local echoes that
// the history does not yet cover are kept at the end.
func (c *MessageCache) Replace(roomID string, messages []Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	previous := c.rooms[roomID]
	buffer := newRoomBuffer()
	for _, message := range messages {
		if _, duplicate := buffer.ids[message.ID]; duplicate {
			continue
		}
		message.RoomID = roomID
		message.Pending = false
		buffer.ids[message.ID] = struct{}{}
		buffer.messages = append(buffer.messages, message)
	}
	if previous != nil {
		for _, message := range previous.messages {
			if message.Pending {
				continue
			}
			if _, fetched := buffer.ids[message.ID]; fetched {
				continue
			}
			buffer.ids[message.ID] = struct{}{}
			buffer.messages = insertOrdered(buffer.messages, message)
		}
		for _, message := range previous.messages {
			if !message.Pending || c.matchesAny(buffer.messages, message) {
				continue
			}
			buffer.ids[message.ID] = struct{}{}
			buffer.messages = append(buffer.messages, message)
		}
	}
	buffer.loaded = true
	c.rooms[roomID] = buffer
}

// Fail clears roomID and records a room-scoped load error.
func (c *MessageCache) Fail(roomID string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	buffer := newRoomBuffer()
	buffer.loadErr = err
	c.rooms[roomID] = buffer
}

// Append inserts an authoritative message unless its id is already cached.
// A matching local echo is replaced. The sequence stays ordered by creation time,
// ties broken by id, so in-order arrivals are a plain append.
func (c *MessageCache) Append(roomID string, message Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	buffer := c.bufferLocked(roomID)
	if _, duplicate := buffer.ids[message.ID]; duplicate {
		return false
	}
	message.RoomID = roomID
	message.Pending = false

	if index := c.pendingMatchIndex(buffer.messages, message); index >= 0 {
		delete(buffer.ids, buffer.messages[index].ID)
		buffer.messages = append(buffer.messages[:index], buffer.messages[index+1:]...)
	}
	buffer.ids[message.ID] = struct{}{}
	buffer.messages = insertOrdered(buffer.messages, message)
	return true
}

// AppendPending adds a local echo for an in-flight send.
func (c *MessageCache) AppendPending(roomID string, message Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	buffer := c.bufferLocked(roomID)
	if _, duplicate := buffer.ids[message.ID]; duplicate {
		return false
	}
	message.RoomID = roomID
	message.Pending = true
	buffer.ids[message.ID] = struct{}{}
	buffer.messages = append(buffer.messages, message)
	return true
}

// RemovePending drops a local echo whose send failed.
func (c *MessageCache) RemovePending(roomID, messageID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	buffer, ok := c.rooms[roomID]
	if !ok {
		return false
	}
	for index, message := range buffer.messages {
		if message.ID == messageID && message.Pending {
			delete(buffer.ids, messageID)
			buffer.messages = append(buffer.messages[:index], buffer.messages[index+1:]...)
			return true
		}
	}
	return false
}

// Messages returns a copy of roomID's sequence.
func (c *MessageCache) Messages(roomID string) []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	buffer, ok := c.rooms[roomID]
	if !ok {
		return nil
	}
	return append([]Message(nil), buffer.messages...)
}

// Has reports whether messageID is cached for roomID.
func (c *MessageCache) Has(roomID, messageID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	buffer, ok := c.rooms[roomID]
	if !ok {
		return false
	}
	_, found := buffer.ids[messageID]
	return found
}

// Loaded reports whether roomID holds a fetched history.
func (c *MessageCache) Loaded(roomID string) bool {
	return c.State(roomID).Loaded
}

// State returns roomID's load status.
func (c *MessageCache) State(roomID string) RoomState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	buffer, ok := c.rooms[roomID]
	if !ok {
		return RoomState{}
	}
	return RoomState{Loaded: buffer.loaded, Loading: buffer.loading, LoadErr: buffer.loadErr}
}

// Reset empties the cache.
func (c *MessageCache) Reset() {
	c.mu.Lock()
	c.rooms = make(map[string]*roomBuffer)
	c.mu.Unlock()
}

func (c *MessageCache) bufferLocked(roomID string) *roomBuffer {
	buffer, ok := c.rooms[roomID]
	if !ok {
		buffer = newRoomBuffer()
		c.rooms[roomID] = buffer
	}
	return buffer
}

func (c *MessageCache) pendingMatchIndex(messages []Message, authoritative Message) int {
	for index, candidate := range messages {
		if candidate.Pending && c.sameSend(candidate, authoritative) {
			return index
		}
	}
	return -1
}

func (c *MessageCache) matchesAny(messages []Message, pending Message) bool {
	for _, candidate := range messages {
		if c.sameSend(pending, candidate) {
			return true
		}
	}
	return false
}

func (c *MessageCache) sameSend(pending, authoritative Message) bool {
	if pending.AuthorID != authoritative.AuthorID || pending.Content != authoritative.Content {
		return false
	}
	delta := authoritative.CreatedAt.Sub(pending.CreatedAt)
	if delta < 0 {
		delta = -delta
	}
	return delta <= c.pendingWindow
}

func insertOrdered(messages []Message, message Message) []Message {
	index := len(messages)
	for index > 0 && orderedAfter(messages[index-1], message) {
		index--
	}
	messages = append(messages, Message{})
	copy(messages[index+1:], messages[index:])
	messages[index] = message
	return messages
}

func orderedAfter(existing, incoming Message) bool {
	if existing.CreatedAt.Equal(incoming.CreatedAt) {
		return existing.ID > incoming.ID
	}
	return existing.CreatedAt.After(incoming.CreatedAt)
}
