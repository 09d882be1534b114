package model

import "fmt"

// PortalType identifies one of the four front-ends. It is both the
// announcement scoping key and the notification filter key.
type PortalType string

const (
	PortalDevotee    PortalType = "devotee"
	PortalSeva       PortalType = "seva"
	PortalManagement PortalType = "management"
	PortalPilgrimage PortalType = "pilgrimage"
)

// Portals lists every portal type.
var Portals = []PortalType{PortalDevotee, PortalSeva, PortalManagement, PortalPilgrimage}

// ParsePortalType validates a portal name.
func ParsePortalType(s string) (PortalType, error) {
	p := PortalType(s)
	if p.Valid() {
		return p, nil
	}
	return "", fmt.Errorf("unknown portal type %q", s)
}

// Valid reports whether p is one of the four portals.
func (p PortalType) Valid() bool {
	switch p {
	case PortalDevotee, PortalSeva, PortalManagement, PortalPilgrimage:
		return true
	}
	return false
}

// AnnouncementScope reports whether p can be the target of an announcement.
func (p PortalType) AnnouncementScope() bool {
	return p == PortalDevotee || p == PortalSeva
}
