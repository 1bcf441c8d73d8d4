package commandsync

import (
	"cmp"
	"encoding/json"
	"reflect"
	"slices"

	"github.com/bwmarrin/discordgo"
	"github.com/sglre6355/gatebot/internal/definition"
)

// Compared command fields.
const (
	FieldDescription              = "description"
	FieldOptions                  = "options"
	FieldContexts                 = "contexts"
	FieldIntegrationTypes         = "integration_types"
	FieldNSFW                     = "nsfw"
	FieldDefaultMemberPermissions = "default_member_permissions"
)

// Creation is a local command absent from the remote catalogue.
type Creation struct {
	Name    string
	Command *discordgo.ApplicationCommand
}

// Modification is a remote command whose content differs from its local
// definition.
type Modification struct {
	ID      string
	Name    string
	Command *discordgo.ApplicationCommand
	Fields  []string
}

// Deletion is a remote command with no local definition.
type Deletion struct {
	ID   string
	Name string
}

// Diff is the set of mutations that make a remote catalogue match the local one.
type Diff struct {
	Scope  Scope
	Create []Creation
	Update []Modification
	Delete []Deletion
}

// Empty reports whether the catalogues already match.
func (d Diff) Empty() bool {
	return len(d.Create) == 0 && len(d.Update) == 0 && len(d.Delete) == 0
}

// Compute compares local command definitions against the remote catalogue of
// scope. Commands are matched by name. Non-command definitions are ignored.
func Compute(local []*definition.Definition, remote []*discordgo.ApplicationCommand, scope Scope) Diff {
	diff := Diff{Scope: scope}

	remoteByName := make(map[string]*discordgo.ApplicationCommand, len(remote))
	for _, cmd := range remote {
		if cmd == nil || cmd.Type != discordgo.ChatApplicationCommand && cmd.Type != 0 {
			continue
		}
		remoteByName[cmd.Name] = cmd
	}

	wanted := make(map[string]struct{}, len(local))
	for _, def := range local {
		if def == nil || def.Kind != definition.KindCommand {
			continue
		}
		wanted[def.Name] = struct{}{}

		desired := Build(def, scope)
		existing, ok := remoteByName[def.Name]
		if !ok {
			diff.Create = append(diff.Create, Creation{Name: def.Name, Command: desired})
			continue
		}

		if fields := changedFields(desired, existing, scope); len(fields) > 0 {
			diff.Update = append(diff.Update, Modification{
				ID:      existing.ID,
				Name:    def.Name,
				Command: desired,
				Fields:  fields,
			})
		}
	}

	for _, cmd := range remote {
		if cmd == nil {
			continue
		}
		if _, ok := wanted[cmd.Name]; ok && remoteByName[cmd.Name] == cmd {
			continue
		}
		diff.Delete = append(diff.Delete, Deletion{ID: cmd.ID, Name: cmd.Name})
	}

	return diff
}

// Equal reports whether two commands are equivalent once defaults are applied
// and empty values are discarded.
func Equal(a, b *discordgo.ApplicationCommand, scope Scope) bool {
	return len(changedFields(a, b, scope)) == 0
}

func changedFields(local, remote *discordgo.ApplicationCommand, scope Scope) []string {
	var fields []string

	if local.Description != remote.Description {
		fields = append(fields, FieldDescription)
	}
	if !reflect.DeepEqual(normalizeOptions(local.Options), normalizeOptions(remote.Options)) {
		fields = append(fields, FieldOptions)
	}
	if boolValue(local.NSFW) != boolValue(remote.NSFW) {
		fields = append(fields, FieldNSFW)
	}
	if !equalPermissions(local.DefaultMemberPermissions, remote.DefaultMemberPermissions) {
		fields = append(fields, FieldDefaultMemberPermissions)
	}

	// Installation scope only applies to global commands.
	if scope.IsGlobal() {
		if !sameSet(contextsOf(local), contextsOf(remote)) {
			fields = append(fields, FieldContexts)
		}
		if !sameSet(integrationTypesOf(local), integrationTypesOf(remote)) {
			fields = append(fields, FieldIntegrationTypes)
		}
	}

	return fields
}

func boolValue(b *bool) bool {
	return b != nil && *b
}

func equalPermissions(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func contextsOf(cmd *discordgo.ApplicationCommand) []discordgo.InteractionContextType {
	if cmd.Contexts == nil || len(*cmd.Contexts) == 0 {
		return DefaultContexts
	}
	return *cmd.Contexts
}

func integrationTypesOf(cmd *discordgo.ApplicationCommand) []discordgo.ApplicationIntegrationType {
	if cmd.IntegrationTypes == nil || len(*cmd.IntegrationTypes) == 0 {
		return DefaultIntegrationTypes
	}
	return *cmd.IntegrationTypes
}

func sameSet[T cmp.Ordered](a, b []T) bool {
	x := slices.Clone(a)
	y := slices.Clone(b)
	slices.Sort(x)
	slices.Sort(y)
	return slices.Equal(slices.Compact(x), slices.Compact(y))
}

// normalizeOptions projects options onto their JSON form with empty values
// removed, so an omitted field and its zero value compare equal. Choices are
// compared by value only.
func normalizeOptions(opts []*discordgo.ApplicationCommandOption) any {
	if len(opts) == 0 {
		return nil
	}

	raw, err := json.Marshal(opts)
	if err != nil {
		return opts
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return opts
	}
	return normalize(decoded)
}

func normalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for key, child := range val {
			if key == "choices" {
				child = choiceValues(child)
			}
			if n := normalize(child); !isEmpty(n) {
				out[key] = n
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	case []any:
		out := make([]any, 0, len(val))
		for _, child := range val {
			out = append(out, normalize(child))
		}
		if len(out) == 0 {
			return nil
		}
		return out
	default:
		return val
	}
}

func choiceValues(v any) any {
	choices, ok := v.([]any)
	if !ok {
		return v
	}
	values := make([]any, 0, len(choices))
	for _, c := range choices {
		if m, ok := c.(map[string]any); ok {
			values = append(values, m["value"])
			continue
		}
		values = append(values, c)
	}
	return values
}

func isEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case bool:
		return !val
	case []any:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	default:
		return false
	}
}
