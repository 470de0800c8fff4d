package remote

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/MarcoPoloResearchLab/lobby/internal/backend"
)

type messagePayload struct {
	Content string `json:"content"`
}

type profilePayload struct {
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

func (c *Client) GetProfile(ctx context.Context, id string) (backend.Profile, error) {
	var profile backend.Profile
	err := c.do(ctx, "remote.get_profile", http.MethodGet, "/profiles/"+url.PathEscape(id), nil, nil, &profile)
	return profile, err
}

// UpsertProfile writes the caller's own profile; the server refuses any other id.
func (c *Client) UpsertProfile(ctx context.Context, profile backend.Profile) (backend.Profile, error) {
	var stored backend.Profile
	body := profilePayload{Email: profile.Email, DisplayName: profile.DisplayName, AvatarURL: profile.AvatarURL}
	err := c.do(ctx, "remote.upsert_profile", http.MethodPut, "/profiles/"+url.PathEscape(profile.ID), nil, body, &stored)
	return stored, err
}

func (c *Client) ListProfiles(ctx context.Context, query backend.ProfileQuery) ([]backend.Profile, error) {
	values := url.Values{}
	if query.ExcludeID != "" {
		values.Set("exclude", query.ExcludeID)
	}
	if query.Limit > 0 {
		values.Set("limit", strconv.Itoa(query.Limit))
	}
	var profiles []backend.Profile
	err := c.do(ctx, "remote.list_profiles", http.MethodGet, "/profiles", values, nil, &profiles)
	return profiles, err
}

func (c *Client) ListChannels(ctx context.Context, order backend.ChannelOrder) ([]backend.Channel, error) {
	values := url.Values{}
	values.Set("order", string(order))
	var channels []backend.Channel
	err := c.do(ctx, "remote.list_channels", http.MethodGet, "/channels", values, nil, &channels)
	return channels, err
}

func (c *Client) ListChannelMessages(ctx context.Context, channelID string) ([]backend.Message, error) {
	var messages []backend.Message
	err := c.do(ctx, "remote.list_channel_messages", http.MethodGet, "/channels/"+url.PathEscape(channelID)+"/messages", nil, nil, &messages)
	return messages, err
}

// ListDirectMessages lists the caller's conversation with peerID.
// The server takes the caller from the token, so userID only has to match it.
func (c *Client) ListDirectMessages(ctx context.Context, _ string, peerID string) ([]backend.Message, error) {
	var messages []backend.Message
	err := c.do(ctx, "remote.list_direct_messages", http.MethodGet, "/direct-messages/"+url.PathEscape(peerID), nil, nil, &messages)
	return messages, err
}

func (c *Client) ProbeDirectMessages(ctx context.Context) error {
	return c.do(ctx, "remote.probe_direct_messages", http.MethodHead, "/direct-messages", nil, nil, nil)
}

func (c *Client) InsertChannelMessage(ctx context.Context, message backend.NewChannelMessage) (backend.Message, error) {
	var stored backend.Message
	path := "/channels/" + url.PathEscape(message.ChannelID) + "/messages"
	err := c.do(ctx, "remote.insert_channel_message", http.MethodPost, path, nil, messagePayload{Content: message.Content}, &stored)
	return stored, err
}

func (c *Client) InsertDirectMessage(ctx context.Context, message backend.NewDirectMessage) (backend.Message, error) {
	var stored backend.Message
	path := "/direct-messages/" + url.PathEscape(message.RecipientID)
	err := c.do(ctx, "remote.insert_direct_message", http.MethodPost, path, nil, messagePayload{Content: message.Content}, &stored)
	return stored, err
}
