package cache

import (
	"encoding/json"

	"github.com/ternbot/tern/src/structs"
)

// HandleEvent applies a dispatched gateway event to the cache before the
// event reaches user handlers. Decode failures are logged and dropped;
// the cache never blocks or fails the receive path.
func (c *Cache) HandleEvent(evt *structs.RawEvent) {
	switch evt.T {
	case structs.EventNameReady:
		ready := structs.ReadyEvent{}
		if err := json.Unmarshal(evt.D, &ready); err != nil {
			c.log.Warn("cache: failed to decode ready snapshot", "error", err)
			return
		}
		c.Upsert(KindUser, ready.User.ID, userFields(ready.User))
		for _, g := range ready.Guilds {
			c.applyGuild(g)
		}
	case structs.EventNameGuildCreate:
		g := structs.Guild{}
		if err := json.Unmarshal(evt.D, &g); err != nil {
			c.log.Warn("cache: failed to decode guild", "error", err)
			return
		}
		c.applyGuild(g)
	case structs.EventNameGuildDelete:
		g := structs.Guild{}
		if err := json.Unmarshal(evt.D, &g); err != nil {
			return
		}
		c.Evict(KindGuild, g.ID)
	case structs.EventNameChannelCreate, structs.EventNameChannelUpdate:
		ch := structs.Channel{}
		if err := json.Unmarshal(evt.D, &ch); err != nil {
			c.log.Warn("cache: failed to decode channel", "error", err)
			return
		}
		c.Upsert(KindChannel, ch.ID, channelFields(ch))
	case structs.EventNameChannelDelete:
		ch := structs.Channel{}
		if err := json.Unmarshal(evt.D, &ch); err != nil {
			return
		}
		c.Evict(KindChannel, ch.ID)
	case structs.EventNameMessageCreate:
		msg := structs.Message{}
		if err := json.Unmarshal(evt.D, &msg); err != nil {
			c.log.Warn("cache: failed to decode message", "error", err)
			return
		}
		c.Upsert(KindMessage, msg.ID, map[string]any{
			"channel_id": msg.ChannelID,
			"author_id":  msg.Author.ID,
			"content":    msg.Content,
		})
		if msg.Author.ID != "" {
			c.Upsert(KindUser, msg.Author.ID, userFields(msg.Author))
		}
	case structs.EventNameUserUpdate:
		u := structs.User{}
		if err := json.Unmarshal(evt.D, &u); err != nil {
			return
		}
		c.Upsert(KindUser, u.ID, userFields(u))
	}
}

func (c *Cache) applyGuild(g structs.Guild) {
	c.Upsert(KindGuild, g.ID, map[string]any{
		"name":        g.Name,
		"owner_id":    g.OwnerID,
		"unavailable": g.Unavailable,
	})
	for _, ch := range g.Channels {
		if ch.GuildID == "" {
			ch.GuildID = g.ID
		}
		c.Upsert(KindChannel, ch.ID, channelFields(ch))
	}
}

func userFields(u structs.User) map[string]any {
	return map[string]any{
		"username":    u.Username,
		"global_name": u.GlobalName,
		"bot":         u.Bot,
	}
}

func channelFields(ch structs.Channel) map[string]any {
	return map[string]any{
		"guild_id": ch.GuildID,
		"name":     ch.Name,
		"type":     ch.Type,
	}
}
