package domain

import "time"

type RoomID string

// Room pairs exactly two clients of the same chat type. Participants[0] is
// the client that entered the pair first; it originates the offer.
type Room struct {
	ID           RoomID
	ChatType     ChatType
	Participants [2]ClientID
	CreatedAt    time.Time
}

func (r *Room) Initiator() ClientID { return r.Participants[0] }

func (r *Room) Has(id ClientID) bool {
	return r.Participants[0] == id || r.Participants[1] == id
}

// Other returns the counterpart of id, or false if id is not a participant.
func (r *Room) Other(id ClientID) (ClientID, bool) {
	switch id {
	case r.Participants[0]:
		return r.Participants[1], true
	case r.Participants[1]:
		return r.Participants[0], true
	default:
		return "", false
	}
}
