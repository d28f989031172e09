package room

import (
	"fmt"
	"sync"
	"time"

	"github.com/robalobadob/gallows/internal/game"
)

// op is one queued publisher call.
type op struct {
	attach string
	detach string
	close  bool
	event  game.Event
}

// Room guards one session. mu serializes every read-modify-write of the
// session; outMu orders delivery of the outbox.
type Room struct {
	code string

	mu           sync.Mutex
	s            *game.Session
	timer        Timer // chrono deadline
	reaper       Timer // disposal after finish
	closed       bool
	lastActivity time.Time
	outbox       []op

	outMu sync.Mutex
}

// Code is the room code.
func (rm *Room) Code() string { return rm.code }

// View returns the public state under the room lock.
func (rm *Room) View() (game.View, error) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.closed {
		return game.View{}, fmt.Errorf("%w: %s", game.ErrRoomNotFound, rm.code)
	}
	return rm.s.View(), nil
}

func (rm *Room) emit(ops ...op) { rm.outbox = append(rm.outbox, ops...) }

func (rm *Room) touch(now time.Time) { rm.lastActivity = now }

func (rm *Room) stopTimer() {
	if rm.timer != nil {
		rm.timer.Stop()
		rm.timer = nil
	}
}
