package sos

import (
	"fmt"
	"time"

	"trekmate/internal/geo"
	"trekmate/internal/types"
)

// messageTimeLayout renders the local timestamp in outbound messages.
const messageTimeLayout = "Jan 2, 2006 3:04 PM"

// ComposeSOS builds the emergency text sent to the user's contacts: who
// needs help, why, where (maps link), and when (local time).
func ComposeSOS(userName string, loc types.LocationPoint, at time.Time, reason types.TrekReason) string {
	name := userName
	if name == "" {
		name = "A TrekMate user"
	}
	return fmt.Sprintf("EMERGENCY: %s\n%s needs help.\nLocation: %s\nTime: %s",
		reason.Label(),
		name,
		geo.MapsLink(loc.Latitude, loc.Longitude),
		at.Local().Format(messageTimeLayout),
	)
}
