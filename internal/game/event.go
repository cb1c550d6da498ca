package game

// EventType enum for event classification
type EventType uint8

const (
	EventTypeUnknown EventType = iota
	EventLaserFired
	EventLaserDestroyed
	EventLaserHitShip
	EventTorpedoFired
	EventTorpedoDestroyed
	EventTorpedoExploded
	EventTorpedoHitShip
	EventShipDestroyed
	EventStageText
	EventTeamDisabled
	EventStageDisabled
	EventShipEnteredZone
	EventShipLeftZone
)

// String returns human-readable event type
func (t EventType) String() string {
	switch t {
	case EventLaserFired:
		return "laser_fired"
	case EventLaserDestroyed:
		return "laser_destroyed"
	case EventLaserHitShip:
		return "laser_hit_ship"
	case EventTorpedoFired:
		return "torpedo_fired"
	case EventTorpedoDestroyed:
		return "torpedo_destroyed"
	case EventTorpedoExploded:
		return "torpedo_exploded"
	case EventTorpedoHitShip:
		return "torpedo_hit_ship"
	case EventShipDestroyed:
		return "ship_destroyed"
	case EventStageText:
		return "stage_text"
	case EventTeamDisabled:
		return "team_disabled"
	case EventStageDisabled:
		return "stage_disabled"
	case EventShipEnteredZone:
		return "ship_entered_zone"
	case EventShipLeftZone:
		return "ship_left_zone"
	default:
		return "unknown"
	}
}

// Event is one occurrence raised by the engine. Payload holds one of the
// *Payload value types below, matching Type.
type Event struct {
	Type     EventType `json:"type"`
	Tick     int       `json:"tick"`
	Sequence uint64    `json:"sequence"` // assigned by the Dispatcher
	Payload  any       `json:"payload"`
}

// Typed payloads for different event types

// LaserFiredPayload describes a newly fired laser.
type LaserFiredPayload struct {
	LaserID  int     `json:"laserId"`
	Ship     int     `json:"ship"`
	FireTime int     `json:"fireTime"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Heading  float64 `json:"heading"`
}

// LaserDestroyedPayload is raised when a laser hits something or leaves the
// stage.
type LaserDestroyedPayload struct {
	LaserID int     `json:"laserId"`
	Ship    int     `json:"ship"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
}

// LaserHitShipPayload carries the target's position and the impact vector.
type LaserHitShipPayload struct {
	LaserID int     `json:"laserId"`
	Ship    int     `json:"ship"` // firing ship
	Target  int     `json:"target"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	DX      float64 `json:"dx"`
	DY      float64 `json:"dy"`
	Damage  float64 `json:"damage"`
}

// TorpedoFiredPayload describes a newly fired torpedo.
type TorpedoFiredPayload struct {
	TorpedoID int     `json:"torpedoId"`
	Ship      int     `json:"ship"`
	FireTime  int     `json:"fireTime"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Heading   float64 `json:"heading"`
	Distance  float64 `json:"distance"`
}

// TorpedoDestroyedPayload is raised when a torpedo leaves the stage without
// exploding.
type TorpedoDestroyedPayload struct {
	TorpedoID int     `json:"torpedoId"`
	Ship      int     `json:"ship"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
}

// TorpedoExplodedPayload marks the blast centre.
type TorpedoExplodedPayload struct {
	TorpedoID int     `json:"torpedoId"`
	Ship      int     `json:"ship"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
}

// TorpedoHitShipPayload is raised once per ship caught in a blast.
type TorpedoHitShipPayload struct {
	TorpedoID int     `json:"torpedoId"`
	Ship      int     `json:"ship"`
	Target    int     `json:"target"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	DX        float64 `json:"dx"`
	DY        float64 `json:"dy"`
	HitAngle  float64 `json:"hitAngle"`
	Force     float64 `json:"force"`
	Damage    float64 `json:"damage"`
	Parts     int     `json:"parts"` // debris count
}

// ShipDestroyedPayload lists every other ship that damaged the victim during
// the tick it was destroyed, ascending.
type ShipDestroyedPayload struct {
	Ship       int     `json:"ship"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Destroyers []int   `json:"destroyers"`
}

// StageTextPayload is text drawn by the stage script.
type StageTextPayload struct {
	Text     string  `json:"text"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Size     int     `json:"size"`
	Color    RGBA    `json:"color"`
	Duration int     `json:"duration"`
}

// TeamDisabledPayload reports a team removed from the match by a script
// failure.
type TeamDisabledPayload struct {
	Team   int    `json:"team"`
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// StageDisabledPayload reports that the stage hooks stopped running.
type StageDisabledPayload struct {
	Reason string `json:"reason"`
}

// ZonePayload is used by both zone membership events.
type ZonePayload struct {
	Ship int    `json:"ship"`
	Zone int    `json:"zone"`
	Tag  string `json:"tag"`
}
