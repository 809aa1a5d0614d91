package structs

type InteractionType = int

const (
	InteractionTypePing               InteractionType = 1
	InteractionTypeApplicationCommand InteractionType = 2
	InteractionTypeMessageComponent   InteractionType = 3
)

type InteractionResponseType = int

const (
	InteractionResponseTypePong                     InteractionResponseType = 1
	InteractionResponseTypeChannelMessageWithSource InteractionResponseType = 4
)

type Interaction struct {
	ID            string          `json:"id"`
	ApplicationID string          `json:"application_id"`
	Type          InteractionType `json:"type"`
	Token         string          `json:"token"`
	GuildID       string          `json:"guild_id,omitempty"`
	ChannelID     string          `json:"channel_id,omitempty"`
	Data          InteractionData `json:"data,omitempty"`
}

type InteractionData struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
	Type int    `json:"type,omitempty"`
}

type InteractionResponse struct {
	Type InteractionResponseType `json:"type"`
	Data any                     `json:"data,omitempty"`
}

type InteractionResponseDataMessage struct {
	Content string `json:"content"`
	TTS     bool   `json:"tts,omitempty"`
}
