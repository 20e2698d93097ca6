package types

import (
	"time"

	"github.com/slamtalk/slamtalk/internal/database"
)

// User is the public view of an account, carried in sessions and on
// WebSocket clients.
type User struct {
	Id           int64     `json:"id"`
	Nickname     string    `json:"nickname"`
	EmailAddress string    `json:"email_address,omitempty"`
	ImageUrl     string    `json:"image_url,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

func UserFrom(u database.User) User {
	return User{
		Id:           u.Id,
		Nickname:     u.Nickname,
		EmailAddress: u.EmailAddress,
		ImageUrl:     u.ImageUrl,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

type Message struct {
	Id             int64  `json:"id"`
	RoomId         int64  `json:"room_id"`
	SenderId       int64  `json:"sender_id"`
	SenderNickname string `json:"sender_nickname"`
	Content        string `json:"content"`
	CreationTime   string `json:"creation_time"`
}

func MessageFrom(m database.Message) Message {
	return Message{
		Id:             m.Id,
		RoomId:         m.RoomId,
		SenderId:       m.SenderId,
		SenderNickname: m.SenderNickname,
		Content:        m.Content,
		CreationTime:   m.CreationTime,
	}
}
