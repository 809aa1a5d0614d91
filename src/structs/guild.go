package structs

// Only the identifiers and relationships the cache needs.
// https://discord.com/developers/docs/resources/guild

type Guild struct {
	ID          string    `json:"id"`
	Name        string    `json:"name,omitempty"`
	OwnerID     string    `json:"owner_id,omitempty"`
	Unavailable bool      `json:"unavailable,omitempty"`
	MemberCount int       `json:"member_count,omitempty"`
	Channels    []Channel `json:"channels,omitempty"`
}

type ChannelType = int

const (
	ChannelTypeGuildText     ChannelType = 0
	ChannelTypeDM            ChannelType = 1
	ChannelTypeGuildVoice    ChannelType = 2
	ChannelTypeGroupDM       ChannelType = 3
	ChannelTypeGuildCategory ChannelType = 4
)

type Channel struct {
	ID       string      `json:"id"`
	GuildID  string      `json:"guild_id,omitempty"`
	Name     string      `json:"name,omitempty"`
	Type     ChannelType `json:"type"`
	Topic    string      `json:"topic,omitempty"`
	ParentID string      `json:"parent_id,omitempty"`
}
