package registry

import "strings"

const (
	nodesPrefix      = "/cluster/nodes/"
	byNamePrefix     = "/cluster/nodes/by-name/"
	heartbeatsPrefix = "/cluster/heartbeats/"
)

func nodeKey(id string) string      { return nodesPrefix + id }
func byNameKey(name string) string  { return byNamePrefix + name }
func heartbeatKey(id string) string { return heartbeatsPrefix + id }

// isByNameKey reports whether key is a uniqueness-index entry rather
// than a node record, so list() can skip it when scanning nodesPrefix.
func isByNameKey(key string) bool {
	return strings.HasPrefix(key, byNamePrefix)
}
