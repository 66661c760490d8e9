package hub

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"chime/pkg/logx"
)

var playerDomains = []string{"media_player.", "assist_satellite."}

func isPlayer(entityID string) bool {
	for _, d := range playerDomains {
		if strings.HasPrefix(entityID, d) && len(entityID) > len(d) {
			return true
		}
	}
	return false
}

// Resolve maps a spoken location to a device entity. Entity ids pass
// through; then the configured location map is consulted; then the hub's
// media players and satellites are matched by friendly name or object id.
func (c *Client) Resolve(ctx context.Context, location string) (string, error) {
	loc := strings.TrimSpace(location)
	if loc == "" {
		return "", fmt.Errorf("%w: empty location", ErrUnresolved)
	}
	if isPlayer(loc) {
		return loc, nil
	}
	cfg, _ := c.snapshot()
	for k, v := range cfg.Locations {
		if strings.EqualFold(strings.TrimSpace(k), loc) {
			return v, nil
		}
	}

	raw, err := c.do(ctx, http.MethodGet, "/api/states", nil)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrUnresolved, loc, err)
	}
	if id := matchState(raw, loc); id != "" {
		c.log.Debug("location resolved", logx.String("location", loc), logx.String("entity", id))
		return id, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnresolved, loc)
}

// matchState ranks candidates: exact friendly name, then object id, then
// friendly name containing the location. Media players win ties.
func matchState(raw []byte, loc string) string {
	want := strings.ToLower(loc)
	slug := strings.ReplaceAll(want, " ", "_")

	best, bestRank := "", 0
	consider := func(id string, rank int) {
		if rank > bestRank || (rank == bestRank && rank > 0 &&
			strings.HasPrefix(id, "media_player.") && !strings.HasPrefix(best, "media_player.")) {
			best, bestRank = id, rank
		}
	}
	gjson.ParseBytes(raw).ForEach(func(_, st gjson.Result) bool {
		id := st.Get("entity_id").String()
		if !isPlayer(id) {
			return true
		}
		name := strings.ToLower(st.Get("attributes.friendly_name").String())
		object := id[strings.IndexByte(id, '.')+1:]
		switch {
		case name == want:
			consider(id, 3)
		case object == slug:
			consider(id, 2)
		case name != "" && strings.Contains(name, want):
			consider(id, 1)
		}
		return true
	})
	return best
}
