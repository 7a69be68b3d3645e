package models

type Profile struct {
	Name       string `json:"name"`
	CreatedAt  int64  `json:"created_at"`
	LastSeenAt int64  `json:"last_seen_at"`
}

type SessionResult struct {
	ID              int64  `json:"id"`
	RoomName        string `json:"room_name"`
	Outcome         string `json:"outcome"`
	StationsCleared int    `json:"stations_cleared"`
	PlayerCount     int    `json:"player_count"`
	FinishedAt      int64  `json:"finished_at"`
}
