package processor

import "strings"

// SecurityLevel is a set of protection flags provided by a channel.
type SecurityLevel uint8

const (
	SecurityLevelNone SecurityLevel = 0
	Authenticated     SecurityLevel = 1
	MACProtected      SecurityLevel = 2
	Encrypted         SecurityLevel = 4
)

// Satisfies returns true if every flag of required is set in l.
func (l SecurityLevel) Satisfies(required SecurityLevel) bool {
	return l&required == required
}

func (l SecurityLevel) String() string {
	if l == SecurityLevelNone {
		return "none"
	}

	var flags []string
	if l&Authenticated != 0 {
		flags = append(flags, "authenticated")
	}
	if l&MACProtected != 0 {
		flags = append(flags, "mac")
	}
	if l&Encrypted != 0 {
		flags = append(flags, "encrypted")
	}

	return strings.Join(flags, "|")
}
