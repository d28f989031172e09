package game

import "time"

// Event types pushed to room members.
const (
	EventRoomCreated   = "roomCreated"
	EventRoomJoined    = "roomJoined"
	EventPlayerJoined  = "playerJoined"
	EventPlayerReady   = "playerReady"
	EventGameStarted   = "gameStarted"
	EventLetterGuessed = "letterGuessed"
	EventNewWord       = "newWord"
	EventGameOver      = "gameOver"
	EventPlayerLeft    = "playerLeft"
	EventRoomClosed    = "roomClosed"
	EventChatMessage   = "chatMessage"
	EventError         = "error"
)

// Event is a typed notification. Data is JSON-encodable.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Payload is the data of every room event. Room is the post-transition
// public state; the other fields are filled per event type.
type Payload struct {
	Room          *View   `json:"room,omitempty"`
	PlayerID      string  `json:"playerId,omitempty"`
	PlayerName    string  `json:"playerName,omitempty"`
	Letter        string  `json:"letter,omitempty"`
	Correct       *bool   `json:"correct,omitempty"`
	GameOver      bool    `json:"gameOver,omitempty"`
	Reason        string  `json:"reason,omitempty"`
	Winner        *Winner `json:"winner,omitempty"`
	Word          string  `json:"word,omitempty"`
	CompletedWord string  `json:"completedWord,omitempty"`

	Message string    `json:"message,omitempty"`
	At      time.Time `json:"timestamp,omitzero"`
}

// ErrorPayload is sent only to the client whose action failed.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Session) event(typ string, p Payload) Event {
	v := s.View()
	p.Room = &v
	return Event{Type: typ, Data: p}
}

// RoomEvent builds an event carrying only the current room state.
func (s *Session) RoomEvent(typ string) Event { return s.event(typ, Payload{}) }
