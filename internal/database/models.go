package database

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"
)

// MessageTimeLayout is the layout of Message.CreationTime.
const MessageTimeLayout = "2006-01-02T15:04:05"

// TogetherRoomName is the fixed name given to every TOGETHER room.
const TogetherRoomName = "TOGETHER"

type RoomType string

const (
	RoomDirect     RoomType = "DIRECT"
	RoomMatching   RoomType = "MATCHING"
	RoomBasketball RoomType = "BASKETBALL"
	RoomTogether   RoomType = "TOGETHER"
)

func ParseRoomType(s string) (RoomType, error) {
	switch t := RoomType(strings.ToUpper(strings.TrimSpace(s))); t {
	case RoomDirect, RoomMatching, RoomBasketball, RoomTogether:
		return t, nil
	default:
		return "", fmt.Errorf("unknown room type %q", s)
	}
}

// ShowsPeerProfile reports whether room listings show another member's
// profile image for this room type.
func (t RoomType) ShowsPeerProfile() bool {
	return t == RoomDirect || t == RoomMatching
}

// State is the lifecycle state of soft-deletable rows.
type State string

const (
	StateActive  State = "active"
	StateDeleted State = "deleted"
)

type User struct {
	Id           int64
	Nickname     string
	EmailAddress string
	PasswordHash string
	ImageUrl     string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type ChatRoom struct {
	Id        int64
	RoomType  RoomType
	Name      string
	CreatedAt time.Time
}

type Membership struct {
	Id        int64
	UserId    int64
	RoomId    int64
	RoomType  RoomType
	RoomName  string
	ReadIndex int64
	IsFirst   bool
	State     State
	ImageUrl  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (m Membership) Active() bool {
	return m.State == StateActive
}

type Message struct {
	Id             int64
	RoomId         int64
	SenderId       int64
	SenderNickname string
	Content        string
	CreationTime   string
}

type Position string

const (
	PositionCenter  Position = "CENTER"
	PositionGuard   Position = "GUARD"
	PositionForward Position = "FORWARD"
	PositionOther   Position = "OTHER"
)

// Positions lists every recruitable position in display order.
var Positions = []Position{PositionCenter, PositionGuard, PositionForward, PositionOther}

func ParsePosition(s string) (Position, error) {
	switch p := Position(strings.ToUpper(strings.TrimSpace(s))); p {
	case PositionCenter, PositionGuard, PositionForward, PositionOther:
		return p, nil
	default:
		return "", fmt.Errorf("unknown position %q", s)
	}
}

type SkillLevel string

const (
	SkillBeginner SkillLevel = "BEGINNER"
	SkillLow      SkillLevel = "LOW"
	SkillMiddle   SkillLevel = "MIDDLE"
	SkillHigh     SkillLevel = "HIGH"
)

func ParseSkillLevel(s string) (SkillLevel, error) {
	switch l := SkillLevel(strings.ToUpper(strings.TrimSpace(s))); l {
	case SkillBeginner, SkillLow, SkillMiddle, SkillHigh:
		return l, nil
	default:
		return "", fmt.Errorf("unknown skill level %q", s)
	}
}

type RecruitmentStatus string

const (
	StatusRecruiting RecruitmentStatus = "RECRUITING"
	StatusCompleted  RecruitmentStatus = "COMPLETED"
	StatusCanceled   RecruitmentStatus = "CANCELED"
)

// Slot is the occupancy of one position on a mate post.
type Slot struct {
	Current int `json:"current"`
	Max     int `json:"max"`
}

// Slots maps each position to its occupancy. Current never exceeds Max.
type Slots map[Position]Slot

// NewSlots builds a mapping with every position present and zero occupancy.
func NewSlots(max map[Position]int) Slots {
	s := make(Slots, len(Positions))
	for _, p := range Positions {
		s[p] = Slot{Max: max[p]}
	}
	return s
}

func (s Slots) Clone() Slots {
	c := make(Slots, len(s))
	for p, slot := range s {
		c[p] = slot
	}
	return c
}

// ClockTime is a time of day with minute precision, stored in TIME columns.
type ClockTime struct {
	Hour   int
	Minute int
}

const clockLayout = "15:04"

func ParseClockTime(s string) (ClockTime, error) {
	for _, layout := range []string{clockLayout, "15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return ClockTime{Hour: t.Hour(), Minute: t.Minute()}, nil
		}
	}
	return ClockTime{}, fmt.Errorf("invalid time of day %q", s)
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

func (c ClockTime) minutes() int {
	return c.Hour*60 + c.Minute
}

func (c ClockTime) After(o ClockTime) bool {
	return c.minutes() > o.minutes()
}

func (c ClockTime) Value() (driver.Value, error) {
	return c.String() + ":00", nil
}

func (c *ClockTime) Scan(src any) error {
	var s string
	switch v := src.(type) {
	case []byte:
		s = string(v)
	case string:
		s = v
	case time.Time:
		c.Hour, c.Minute = v.Hour(), v.Minute()
		return nil
	default:
		return fmt.Errorf("cannot scan %T into ClockTime", src)
	}

	parsed, err := ParseClockTime(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

func (c ClockTime) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *ClockTime) UnmarshalText(b []byte) error {
	parsed, err := ParseClockTime(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

type Schedule struct {
	Date  time.Time
	Start ClockTime
	End   ClockTime
}

// Valid reports whether the schedule starts no later than it ends.
func (s Schedule) Valid() bool {
	return !s.Start.After(s.End)
}

type MatePost struct {
	Id             int64
	WriterId       int64
	WriterNickname string
	Title          string
	Content        string
	LocationDetail string
	Schedule       Schedule
	SkillLevels    []SkillLevel
	Status         RecruitmentStatus
	Slots          Slots
	State          State
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (p MatePost) Deleted() bool {
	return p.State == StateDeleted
}

func (p MatePost) IsWrittenBy(userId int64) bool {
	return p.WriterId == userId
}

type Participant struct {
	Id         int64
	MatePostId int64
	UserId     int64
	Nickname   string
	Position   Position
	State      State
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type CreateUserParams struct {
	Nickname     string
	EmailAddress string
	PasswordHash string
	ImageUrl     string
}

type UpdateUserParams struct {
	UserId       int64
	Nickname     string
	PasswordHash string
	ImageUrl     string
}

type CreateChatRoomParams struct {
	RoomType RoomType
	Name     string
}

type CreateMembershipParams struct {
	UserId   int64
	RoomId   int64
	RoomType RoomType
	ImageUrl string
}

type CreateMessageParams struct {
	RoomId         int64
	SenderId       int64
	SenderNickname string
	Content        string
	CreationTime   string
}

type CreateMatePostParams struct {
	WriterId       int64
	Title          string
	Content        string
	LocationDetail string
	Schedule       Schedule
	SkillLevels    []SkillLevel
	Slots          Slots
}
