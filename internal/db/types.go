package db

import "time"

type ChannelEvent struct {
	ID      int64     `json:"id"`
	Ts      time.Time `json:"ts"`
	Channel string    `json:"channel"`
	Event   string    `json:"event"`
	Status  string    `json:"status"`
	Message string    `json:"message,omitempty"`
}
