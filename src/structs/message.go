package structs

// Represent a message sent in a channel within Discord.
// https://discord.com/developers/docs/resources/message

type Message struct {
	ID              string `json:"id"`
	ChannelID       string `json:"channel_id"`
	GuildID         string `json:"guild_id,omitempty"`
	Author          User   `json:"author"`
	Content         string `json:"content"`
	Timestamp       string `json:"timestamp"`
	EditedTimestamp string `json:"edited_timestamp,omitempty"`
	TTS             bool   `json:"tts"`
	MentionEveryone bool   `json:"mention_everyone"`
	Nonce           string `json:"nonce,omitempty"`
	Type            int    `json:"type"`
	Embeds          any    `json:"embeds,omitempty"`      // unimplemented
	Components      any    `json:"components,omitempty"`  // unimplemented
	Attachments     any    `json:"attachments,omitempty"` // unimplemented
}

type CreateMessageData struct {
	Content         string `json:"content"`
	TTS             bool   `json:"tts,omitempty"`
	Nonce           any    `json:"nonce,omitempty"`            // Use nonce to verify a message was sent.
	Embeds          any    `json:"embeds,omitempty"`           // unimplemented
	AllowedMentions any    `json:"allowed_mentions,omitempty"` // unimplemented
}
