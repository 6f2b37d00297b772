// Package conversation derives the key that partitions direct messages
// between two users.
package conversation

import "strings"

// Separator joins the two sorted identities. Identities are externally issued
// object ids and never contain it.
const Separator = "_"

type ID string

// Resolve returns the same ID for (a, b) and (b, a).
func Resolve(a, b string) ID {
	if b < a {
		a, b = b, a
	}
	return ID(a + Separator + b)
}

// Participants splits an ID back into its two identities.
func Participants(id ID) (string, string, bool) {
	a, b, ok := strings.Cut(string(id), Separator)
	if !ok || a == "" || b == "" {
		return "", "", false
	}
	return a, b, true
}

// Counterpart returns the other participant of id, seen from user.
func Counterpart(id ID, user string) (string, bool) {
	a, b, ok := Participants(id)
	if !ok {
		return "", false
	}
	switch user {
	case a:
		return b, true
	case b:
		return a, true
	}
	return "", false
}

func (id ID) String() string { return string(id) }
