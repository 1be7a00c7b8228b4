package statemanager

import "strings"

const (
	containerPrefix = "/container/"
	modelPrefix     = "/model/"
	packagePrefix   = "/package/"
	indexPrefix     = "/index/"
)

func containerKey(id string) string { return containerPrefix + id + "/state" }

func modelStateKey(name string) string   { return modelPrefix + name + "/state" }
func modelPackageKey(name string) string { return indexPrefix + "model/" + name + "/package" }

func packageStateKey(name string) string { return packagePrefix + name + "/state" }

func modelContainerIndexPrefix(model string) string { return indexPrefix + "model/" + model + "/containers/" }
func modelContainerIndexKey(model, containerID string) string {
	return modelContainerIndexPrefix(model) + containerID
}

func packageModelIndexPrefix(pkg string) string { return indexPrefix + "package/" + pkg + "/models/" }
func packageModelIndexKey(pkg, model string) string {
	return packageModelIndexPrefix(pkg) + model
}

func lastSegment(key string) string {
	idx := strings.LastIndex(key, "/")
	if idx < 0 {
		return key
	}
	return key[idx+1:]
}
