package handlers

import (
	"os/user"
	"strconv"
)

// groupID resolves a group name to a numeric gid. An empty name resolves
// to -1, meaning "leave group ownership unchanged" — used by dev/test
// brokers that don't run as root and so skip the chown step entirely.
func groupID(name string) (int, error) {
	if name == "" {
		return -1, nil
	}
	g, err := user.LookupGroup(name)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(g.Gid)
}
