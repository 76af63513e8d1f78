package notifier

import (
	"fmt"
	"strconv"
	"time"

	"github.com/outagewatch/hub/internal/expirymap"
	"github.com/outagewatch/hub/internal/store"

	"github.com/pocketbase/dbx"
)

// buildingNameTTL bounds how stale a cached building display name may be —
// buildings are edited directly in the database by operators, rarely, so a
// short cache keeps every light_notify dispatch from re-querying it.
const buildingNameTTL = 5 * time.Minute

// buildingNameCache avoids a building lookup on every transition dispatch,
// adapting beszel's internal/expirymap (originally a system-fingerprint
// cache) to this narrower read-through-cache role.
var buildingNameCache = expirymap.New[string](time.Minute)

// buildingName looks up a building's display name for message composition.
func buildingName(st *store.Store, buildingID int) string {
	key := strconv.Itoa(buildingID)
	if name, ok := buildingNameCache.GetOk(key); ok {
		return name
	}
	var name string
	err := st.DB().NewQuery(`SELECT name FROM buildings WHERE id = {:id}`).
		Bind(dbx.Params{"id": buildingID}).Row(&name)
	if err != nil || name == "" {
		return fmt.Sprintf("Building %d", buildingID)
	}
	buildingNameCache.Set(key, name, buildingNameTTL)
	return name
}

// formatTransition composes the per-subscriber message for a power
// transition, keyed by event_type (spec §4.4 step 3).
func formatTransition(building string, sectionID int, eventType string) string {
	switch eventType {
	case "up":
		return fmt.Sprintf("✅ Power is back in %s, section %d.", building, sectionID)
	case "down":
		return fmt.Sprintf("⚠️ Power outage detected in %s, section %d.", building, sectionID)
	default:
		return fmt.Sprintf("%s, section %d: %s", building, sectionID, eventType)
	}
}
