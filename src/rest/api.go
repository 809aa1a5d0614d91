package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ternbot/tern/src/structs"
)

// Convenience calls for the resources the cache knows about. Each one is
// routed through the rate-limited queue under its own route key; the
// major resource id is part of the key so different channels and guilds
// do not share a bucket.

func (r *REST) CreateMessage(ctx context.Context, channelID string, data structs.CreateMessageData) (*structs.Message, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	res, err := r.Submit(ctx, &Request{
		Method:   http.MethodPost,
		RouteKey: fmt.Sprintf("POST:/channels/%s/messages", channelID),
		Path:     fmt.Sprintf("/channels/%s/messages", channelID),
		Body:     body,
	})
	if err != nil {
		return nil, err
	}
	msg := &structs.Message{}
	if err := json.Unmarshal(res.Body, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (r *REST) GetChannel(ctx context.Context, channelID string) (*structs.Channel, error) {
	res, err := r.Submit(ctx, &Request{
		Method:   http.MethodGet,
		RouteKey: fmt.Sprintf("GET:/channels/%s", channelID),
		Path:     fmt.Sprintf("/channels/%s", channelID),
	})
	if err != nil {
		return nil, err
	}
	ch := &structs.Channel{}
	if err := json.Unmarshal(res.Body, ch); err != nil {
		return nil, err
	}
	return ch, nil
}

func (r *REST) GetGuild(ctx context.Context, guildID string) (*structs.Guild, error) {
	res, err := r.Submit(ctx, &Request{
		Method:   http.MethodGet,
		RouteKey: fmt.Sprintf("GET:/guilds/%s", guildID),
		Path:     fmt.Sprintf("/guilds/%s", guildID),
	})
	if err != nil {
		return nil, err
	}
	g := &structs.Guild{}
	if err := json.Unmarshal(res.Body, g); err != nil {
		return nil, err
	}
	return g, nil
}

func (r *REST) GetUser(ctx context.Context, userID string) (*structs.User, error) {
	res, err := r.Submit(ctx, &Request{
		Method:   http.MethodGet,
		RouteKey: "GET:/users",
		Path:     fmt.Sprintf("/users/%s", userID),
	})
	if err != nil {
		return nil, err
	}
	u := &structs.User{}
	if err := json.Unmarshal(res.Body, u); err != nil {
		return nil, err
	}
	return u, nil
}

// CreateInteractionResponse acknowledges an interaction received over
// the gateway or the webhook server.
func (r *REST) CreateInteractionResponse(ctx context.Context, interactionID, interactionToken string, response structs.InteractionResponse) error {
	body, err := json.Marshal(response)
	if err != nil {
		return err
	}
	_, err = r.Submit(ctx, &Request{
		Method:   http.MethodPost,
		RouteKey: "POST:/interactions",
		Path:     fmt.Sprintf("/interactions/%s/%s/callback", interactionID, interactionToken),
		Body:     body,
	})
	return err
}
