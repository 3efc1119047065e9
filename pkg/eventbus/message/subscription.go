package message

import "slices"

// SubscriptionSet is a named filter. A message matches when its group is
// listed in Groups or its full name is listed in Names.
type SubscriptionSet struct {
	Name   string   `json:"name" yaml:"name" toml:"name"`
	Groups []string `json:"groups,omitempty" yaml:"groups,omitempty" toml:"groups"`
	Names  []string `json:"names,omitempty" yaml:"names,omitempty" toml:"names"`
}

// Matches reports whether msg passes this filter.
func (s SubscriptionSet) Matches(msg *Message) bool {
	if group := msg.Group(); group != "" && slices.Contains(s.Groups, group) {
		return true
	}
	return slices.Contains(s.Names, msg.Name())
}

// MatchAny reports whether any set matches msg, stopping at the first hit.
func MatchAny(sets []SubscriptionSet, msg *Message) bool {
	for _, s := range sets {
		if s.Matches(msg) {
			return true
		}
	}
	return false
}

// MergeSets unions added into existing by set name. A set in added replaces
// an existing set of the same name in place; new names are appended in
// order. Neither input is modified.
func MergeSets(existing, added []SubscriptionSet) []SubscriptionSet {
	merged := slices.Clone(existing)
	for _, s := range added {
		if i := slices.IndexFunc(merged, func(e SubscriptionSet) bool { return e.Name == s.Name }); i >= 0 {
			merged[i] = s
			continue
		}
		merged = append(merged, s)
	}
	return merged
}

// RemoveSets returns sets without any entry named name, and how many
// entries were dropped.
func RemoveSets(sets []SubscriptionSet, name string) ([]SubscriptionSet, int) {
	kept := slices.DeleteFunc(slices.Clone(sets), func(s SubscriptionSet) bool { return s.Name == name })
	return kept, len(sets) - len(kept)
}
