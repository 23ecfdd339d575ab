// Package discord adapts a Discord guild channel into the approval surface:
// submissions become embeds, moderation happens through reactions, and
// featured runs are announced to a second channel.
package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/inecat/mapads/internal/app/domain/marker"
	"github.com/inecat/mapads/internal/app/services/markers"
	"github.com/inecat/mapads/internal/app/system"
	"github.com/inecat/mapads/pkg/logger"
)

const (
	emblemApprove = "✅"
	emblemReject  = "❌"

	// reactorSampleLimit bounds how many reactors are fetched per emblem.
	reactorSampleLimit = 25

	colorApproved = 0x2ecc71
	colorRejected = 0xe74c3c
	colorFeatured = 0xf1c40f
	colorNeutral  = 0x3498db
)

// Config carries the channel wiring.
type Config struct {
	Token             string
	ApprovalChannelID string
	AdsChannelID      string
	MapURLFormat      string
}

// Channel is the discord-backed approval channel. It also implements the
// reaction feed consumed by the event reconciler and the lifecycle Service
// interface so the session opens and closes with the application.
type Channel struct {
	session *discordgo.Session
	cfg     Config
	log     *logger.Logger

	mu   sync.Mutex
	open bool
}

var (
	_ markers.ApprovalChannel = (*Channel)(nil)
	_ markers.ReactionFeed    = (*Channel)(nil)
	_ system.Service          = (*Channel)(nil)
)

// New constructs the channel adapter. The session is created here but not
// opened until Start.
func New(cfg Config, log *logger.Logger) (*Channel, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("discord token required")
	}
	if cfg.ApprovalChannelID == "" {
		return nil, fmt.Errorf("approval channel id required")
	}
	if log == nil {
		log = logger.NewDefault("discord")
	}

	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsGuildMessageReactions

	return &Channel{session: session, cfg: cfg, log: log}, nil
}

// lifecycle ---

func (c *Channel) Name() string { return "discord-channel" }

func (c *Channel) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open {
		return nil
	}
	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	c.open = true
	c.log.Info("discord session opened")
	return nil
}

func (c *Channel) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return nil
	}
	c.open = false
	return c.session.Close()
}

// approval channel ---

// PostApprovalRequest posts the submission embed and seeds both decision
// reactions. The returned message id is the approval reference.
func (c *Channel) PostApprovalRequest(ctx context.Context, m marker.Marker, requesterName string) (string, error) {
	embed := approvalEmbed(m, requesterName, c.cfg.MapURLFormat)
	msg, err := c.session.ChannelMessageSendEmbed(c.cfg.ApprovalChannelID, embed, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("post approval request: %w", err)
	}

	for _, emblem := range []string{emblemApprove, emblemReject} {
		if err := c.session.MessageReactionAdd(c.cfg.ApprovalChannelID, msg.ID, emblem, discordgo.WithContext(ctx)); err != nil {
			c.log.WithError(err).Warnf("seed reaction %s on %s failed", emblem, msg.ID)
		}
	}
	return msg.ID, nil
}

// FetchReactionState reads the decision reactions on an approval message and
// samples up to reactorSampleLimit users per emblem.
func (c *Channel) FetchReactionState(ctx context.Context, messageRef string) ([]markers.Reaction, error) {
	msg, err := c.session.ChannelMessage(c.cfg.ApprovalChannelID, messageRef, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("fetch approval message %s: %w", messageRef, err)
	}

	state := make([]markers.Reaction, 0, len(msg.Reactions))
	for _, r := range msg.Reactions {
		if r == nil || r.Emoji == nil {
			continue
		}
		reaction := markers.Reaction{Emblem: r.Emoji.Name, Count: r.Count}
		if r.Emoji.Name == emblemApprove || r.Emoji.Name == emblemReject {
			users, err := c.session.MessageReactions(c.cfg.ApprovalChannelID, messageRef, r.Emoji.APIName(), reactorSampleLimit, "", "", discordgo.WithContext(ctx))
			if err != nil {
				c.log.WithError(err).Warnf("sample reactors for %s on %s failed", r.Emoji.Name, messageRef)
			}
			for _, u := range users {
				if u == nil {
					continue
				}
				reaction.Reactors = append(reaction.Reactors, markers.Reactor{Name: u.Username, Bot: u.Bot})
			}
		}
		state = append(state, reaction)
	}
	return state, nil
}

// DeleteMessage removes an approval message. A message deleted by someone
// else already is not an error.
func (c *Channel) DeleteMessage(ctx context.Context, messageRef string) error {
	err := c.session.ChannelMessageDelete(c.cfg.ApprovalChannelID, messageRef, discordgo.WithContext(ctx))
	if err == nil || isNotFound(err) {
		return nil
	}
	return fmt.Errorf("delete approval message %s: %w", messageRef, err)
}

// PostHistoryEntry records a decision in the approval channel after the
// request message is gone.
func (c *Channel) PostHistoryEntry(ctx context.Context, key, action, details string) error {
	color := colorNeutral
	switch action {
	case "approved":
		color = colorApproved
	case "rejected":
		color = colorRejected
	}
	embed := &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("Marker %s: %s", action, key),
		Description: details,
		Color:       color,
	}
	if _, err := c.session.ChannelMessageSendEmbed(c.cfg.ApprovalChannelID, embed, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("post history entry for %s: %w", key, err)
	}
	return nil
}

// AnnounceFeatured advertises a featured run in the ads channel.
func (c *Channel) AnnounceFeatured(ctx context.Context, m marker.Marker) error {
	if c.cfg.AdsChannelID == "" {
		return nil
	}
	embed := featuredEmbed(m, c.cfg.MapURLFormat)
	if _, err := c.session.ChannelMessageSendEmbed(c.cfg.AdsChannelID, embed, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("announce featured %s: %w", m.Key, err)
	}
	return nil
}

// reaction feed ---

// SubscribeReactions forwards reaction-add events to the handler. Reactor
// identity comes from the guild member payload when present.
func (c *Channel) SubscribeReactions(handler func(ev markers.ReactionEvent)) (func(), error) {
	remove := c.session.AddHandler(func(s *discordgo.Session, r *discordgo.MessageReactionAdd) {
		ev := markers.ReactionEvent{
			ChannelID:  r.ChannelID,
			MessageRef: r.MessageID,
			Emblem:     r.Emoji.Name,
		}
		if r.Member != nil && r.Member.User != nil {
			ev.ReactorName = r.Member.User.Username
			ev.Bot = r.Member.User.Bot
		} else if s.State != nil && s.State.User != nil && r.UserID == s.State.User.ID {
			ev.Bot = true
		}
		handler(ev)
	})
	return remove, nil
}

// embeds ---

func approvalEmbed(m marker.Marker, requesterName, mapURLFormat string) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title: fmt.Sprintf("Marker approval: %s", m.Key),
		Color: colorNeutral,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Requested by", Value: requesterName, Inline: true},
			{Name: "Location", Value: m.Location.String(), Inline: true},
		},
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("%s approve / %s reject", emblemApprove, emblemReject),
		},
	}
	if m.Description != "" {
		embed.Description = m.Description
	}
	if link := mapURL(mapURLFormat, m.Location); link != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Map", Value: link})
	}
	return embed
}

func featuredEmbed(m marker.Marker, mapURLFormat string) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title: fmt.Sprintf("Now featured: %s", m.Key),
		Color: colorFeatured,
	}
	var lines []string
	if m.PromoMessage != "" {
		lines = append(lines, m.PromoMessage)
	}
	if m.Description != "" {
		lines = append(lines, m.Description)
	}
	if link := mapURL(mapURLFormat, m.Location); link != "" {
		lines = append(lines, link)
	}
	embed.Description = strings.Join(lines, "\n")
	if m.FeaturedUntil != nil {
		embed.Footer = &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("until %s", m.FeaturedUntil.Format("2006-01-02 15:04 MST")),
		}
	}
	return embed
}

// mapURL renders the public map link for a location. The format carries four
// verbs: world name then x, y, z.
func mapURL(format string, loc marker.Location) string {
	if format == "" {
		return ""
	}
	return fmt.Sprintf(format, loc.World, loc.X, loc.Y, loc.Z)
}

func isNotFound(err error) bool {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		return restErr.Response.StatusCode == http.StatusNotFound
	}
	return false
}
