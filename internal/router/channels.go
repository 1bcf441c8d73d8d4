package router

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/sglre6355/gatebot/internal/cache"
)

// ChannelSource fetches channels over REST. Implemented by *discordgo.Session.
type ChannelSource interface {
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
}

// ChannelInfoOptions configures ChannelInfo.
type ChannelInfoOptions struct {
	// State is consulted before the REST source. Optional.
	State    *discordgo.State
	Capacity int
	TTL      time.Duration
	// SweepInterval enables a periodic sweep of expired entries.
	SweepInterval time.Duration
}

// ChannelInfo answers channel questions from the gateway state, falling back
// to REST, and memoizes the answers.
type ChannelInfo struct {
	source ChannelSource
	state  *discordgo.State
	nsfw   *cache.Cache[string, bool]
}

// NewChannelInfo creates a ChannelInfo.
func NewChannelInfo(source ChannelSource, opts ChannelInfoOptions) (*ChannelInfo, error) {
	nsfw, err := cache.New(cache.Options[string, bool]{
		Name:            "channel-nsfw",
		Capacity:        opts.Capacity,
		DefaultTTL:      opts.TTL,
		CleanupInterval: opts.SweepInterval,
	})
	if err != nil {
		return nil, err
	}
	return &ChannelInfo{source: source, state: opts.State, nsfw: nsfw}, nil
}

// IsNSFW reports whether channelID is age-restricted. Threads inherit the
// flag of their parent channel.
func (c *ChannelInfo) IsNSFW(ctx context.Context, channelID string) (bool, error) {
	if nsfw, ok := c.nsfw.Get(channelID); ok {
		return nsfw, nil
	}

	ch, err := c.channel(ctx, channelID)
	if err != nil {
		return false, err
	}

	nsfw := ch.NSFW
	if ch.IsThread() && ch.ParentID != "" {
		parent, err := c.channel(ctx, ch.ParentID)
		if err != nil {
			return false, err
		}
		nsfw = parent.NSFW
	}

	c.nsfw.Set(channelID, nsfw)
	return nsfw, nil
}

func (c *ChannelInfo) channel(ctx context.Context, channelID string) (*discordgo.Channel, error) {
	if c.state != nil {
		if ch, err := c.state.Channel(channelID); err == nil {
			return ch, nil
		}
	}

	ch, err := c.source.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch channel %s: %w", channelID, err)
	}
	return ch, nil
}

// Stats returns the memo counters.
func (c *ChannelInfo) Stats() cache.Stats {
	return c.nsfw.Stats()
}

// Close stops the memo sweep.
func (c *ChannelInfo) Close() {
	c.nsfw.Close()
}
