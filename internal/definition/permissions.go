package definition

import (
	"fmt"
	"math/bits"

	"github.com/bwmarrin/discordgo"
)

var permissionNames = map[int64]string{
	discordgo.PermissionViewChannel:        "View Channel",
	discordgo.PermissionSendMessages:       "Send Messages",
	discordgo.PermissionManageMessages:     "Manage Messages",
	discordgo.PermissionEmbedLinks:         "Embed Links",
	discordgo.PermissionAttachFiles:        "Attach Files",
	discordgo.PermissionReadMessageHistory: "Read Message History",
	discordgo.PermissionAddReactions:       "Add Reactions",
	discordgo.PermissionKickMembers:        "Kick Members",
	discordgo.PermissionBanMembers:         "Ban Members",
	discordgo.PermissionManageChannels:     "Manage Channels",
	discordgo.PermissionManageRoles:        "Manage Roles",
	discordgo.PermissionAdministrator:      "Administrator",
}

// MissingPermissions returns the bits of want that have does not grant.
// Administrator grants everything.
func MissingPermissions(have, want int64) int64 {
	if have&discordgo.PermissionAdministrator != 0 {
		return 0
	}
	return want &^ have
}

// PermissionNames returns readable names for each bit set in perms, lowest bit first.
func PermissionNames(perms int64) []string {
	names := make([]string, 0, bits.OnesCount64(uint64(perms)))
	for perms != 0 {
		bit := perms & -perms
		if name, ok := permissionNames[bit]; ok {
			names = append(names, name)
		} else {
			names = append(names, fmt.Sprintf("Permission %d", bits.TrailingZeros64(uint64(bit))))
		}
		perms &^= bit
	}
	return names
}
