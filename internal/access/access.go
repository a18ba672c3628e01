// Package access decides which principals may reach a channel and the
// entities nested under it.
package access

import (
	"pawconnect/channels/internal/identity"
	"pawconnect/channels/internal/store"
)

type Role string

const (
	RoleNone        Role = ""
	RoleBehaviorist Role = "behaviorist"
	RoleClient      Role = "client"
)

// RoleIn returns the principal's role in the channel. Pending invitation
// markers never match, so an invited channel is reachable only by its
// behaviorist until the client id is resolved.
func RoleIn(principal string, channel store.Channel) Role {
	if principal == "" || identity.IsInvitationMarker(principal) {
		return RoleNone
	}
	switch principal {
	case channel.BehavioristID:
		return RoleBehaviorist
	case channel.ClientID:
		return RoleClient
	default:
		return RoleNone
	}
}

func CanAccessChannel(principal string, channel store.Channel) bool {
	return RoleIn(principal, channel) != RoleNone
}

// IsCreator reports whether principal created the entity. Mutations below the
// channel require it on top of channel access.
func IsCreator(principal, createdBy string) bool {
	return principal != "" && principal == createdBy
}
