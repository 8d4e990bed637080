package app

import (
	"sync"

	"github.com/dkeye/Walkie/internal/domain"
)

// Keypad accumulates a frequency one digit at a time.
// onReached fires when the code becomes complete, onUndo when a complete code loses a digit.
type Keypad struct {
	mu        sync.Mutex
	value     string
	onReached func(code string)
	onUndo    func()
}

func NewKeypad(onReached func(code string), onUndo func()) *Keypad {
	return &Keypad{onReached: onReached, onUndo: onUndo}
}

func (k *Keypad) Value() string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.value
}

// Press appends d. Non-digits and presses on a full keypad are ignored.
func (k *Keypad) Press(d rune) {
	if d < '0' || d > '9' {
		return
	}
	k.mu.Lock()
	if len(k.value) >= domain.RoomCodeLen {
		k.mu.Unlock()
		return
	}
	k.value += string(d)
	reached := len(k.value) == domain.RoomCodeLen
	code := k.value
	k.mu.Unlock()

	if reached && k.onReached != nil {
		k.onReached(code)
	}
}

func (k *Keypad) Backspace() {
	k.mu.Lock()
	if k.value == "" {
		k.mu.Unlock()
		return
	}
	wasFull := len(k.value) == domain.RoomCodeLen
	k.value = k.value[:len(k.value)-1]
	k.mu.Unlock()

	if wasFull && k.onUndo != nil {
		k.onUndo()
	}
}

func (k *Keypad) Clear() {
	k.mu.Lock()
	wasFull := len(k.value) == domain.RoomCodeLen
	k.value = ""
	k.mu.Unlock()

	if wasFull && k.onUndo != nil {
		k.onUndo()
	}
}

// Reset empties the keypad without firing events.
func (k *Keypad) Reset() {
	k.mu.Lock()
	k.value = ""
	k.mu.Unlock()
}
