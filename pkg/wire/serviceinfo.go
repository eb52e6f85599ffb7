package wire

import "strings"

// ServiceInfo is the record spec.md §3 describes: a service's name, its
// directory-assigned id, the machine/process/session that hosts it, and
// the endpoint URLs reachable to connect to it.
type ServiceInfo struct {
	Name       string
	ServiceID  uint32
	MachineID  string
	ProcessID  int
	SessionID  string
	Endpoints  []string
}

// Hidden reports whether a service's name marks it hidden (spec.md §3:
// "Services whose name begins with `_` are hidden").
func (s ServiceInfo) Hidden() bool {
	return strings.HasPrefix(s.Name, "_")
}
