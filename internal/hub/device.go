package hub

import (
	"context"
	"errors"
	"strings"
)

// Announce speaks message on deviceID. Assist satellites use their own
// announce service; other media players go through tts.speak.
func (c *Client) Announce(ctx context.Context, deviceID, message string) error {
	if strings.HasPrefix(deviceID, "assist_satellite.") {
		return c.CallService(ctx, "assist_satellite", "announce", map[string]any{
			"entity_id": deviceID,
			"message":   message,
		})
	}
	cfg, _ := c.snapshot()
	if cfg.TTSEntity == "" {
		return errors.New("hub: no tts entity configured for announcements")
	}
	return c.CallService(ctx, "tts", "speak", map[string]any{
		"entity_id":              cfg.TTSEntity,
		"media_player_entity_id": deviceID,
		"message":                message,
		"cache":                  true,
	})
}

// PlaySound sets the volume and plays mediaURI on deviceID.
func (c *Client) PlaySound(ctx context.Context, deviceID, mediaURI string, volumePercent int) error {
	if err := c.SetVolume(ctx, deviceID, volumePercent); err != nil {
		return err
	}
	return c.CallService(ctx, "media_player", "play_media", map[string]any{
		"entity_id":          deviceID,
		"media_content_id":   mediaURI,
		"media_content_type": "music",
	})
}

func (c *Client) SetVolume(ctx context.Context, deviceID string, percent int) error {
	percent = max(0, min(100, percent))
	return c.CallService(ctx, "media_player", "volume_set", map[string]any{
		"entity_id":    deviceID,
		"volume_level": float64(percent) / 100,
	})
}

func (c *Client) StopPlayback(ctx context.Context, deviceID string) error {
	return c.CallService(ctx, "media_player", "media_stop", map[string]any{"entity_id": deviceID})
}
