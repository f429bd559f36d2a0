// Package events publishes per-follower mirror events to Redis.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

const followerEventChannelTemplate = "private:follower:{followerId}:events"

// Publisher publishes mirror lifecycle events.
type Publisher struct {
	client        *redis.Client
	channelFormat string
	hasFollowerID bool
}

// NewPublisher creates a publisher.
func NewPublisher(client *redis.Client, channel string) *Publisher {
	if channel == "" {
		channel = followerEventChannelTemplate
	}
	format, hasFollowerID := normalizeFollowerChannelFormat(channel)
	return &Publisher{
		client:        client,
		channelFormat: format,
		hasFollowerID: hasFollowerID,
	}
}

// PublishMirrorEvent publishes a mirror event for the follower.
func (p *Publisher) PublishMirrorEvent(ctx context.Context, followerID int64, event string, mirror interface{}) error {
	return p.publish(ctx, followerID, "mirror", event, mirror)
}

// PublishMirrorCreated publishes a mirror created event for the follower.
func (p *Publisher) PublishMirrorCreated(ctx context.Context, followerID int64, mirror interface{}) error {
	return p.PublishMirrorEvent(ctx, followerID, "created", mirror)
}

// PublishMirrorExecuted publishes a mirror executed event for the follower.
func (p *Publisher) PublishMirrorExecuted(ctx context.Context, followerID int64, mirror interface{}) error {
	return p.PublishMirrorEvent(ctx, followerID, "executed", mirror)
}

// PublishMirrorFailed publishes a mirror failed event for the follower.
func (p *Publisher) PublishMirrorFailed(ctx context.Context, followerID int64, mirror interface{}) error {
	return p.PublishMirrorEvent(ctx, followerID, "failed", mirror)
}

// PublishPnLSettled publishes a settled P&L event for the follower.
func (p *Publisher) PublishPnLSettled(ctx context.Context, followerID int64, settlement interface{}) error {
	return p.publish(ctx, followerID, "pnl", "", settlement)
}

func (p *Publisher) publish(ctx context.Context, followerID int64, channel string, event string, data interface{}) error {
	payload := map[string]interface{}{
		"channel": channel,
		"data":    data,
	}
	if event != "" {
		payload["event"] = event
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	targetChannel := p.channelFormat
	if p.hasFollowerID {
		targetChannel = fmt.Sprintf(p.channelFormat, followerID)
	}
	return p.client.Publish(ctx, targetChannel, raw).Err()
}

func normalizeFollowerChannelFormat(template string) (string, bool) {
	if strings.Contains(template, "{followerId}") {
		return strings.ReplaceAll(template, "{followerId}", "%d"), true
	}
	return template, false
}
