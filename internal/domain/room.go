package domain

type (
	// ChannelID names a voice channel. The server calls it a room.
	ChannelID string
	RoomName  string
)

type Room struct {
	ID   ChannelID
	Name RoomName
}
