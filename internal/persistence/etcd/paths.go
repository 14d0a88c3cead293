// Package etcd persists records of a broker's terminals, trunk
// declarations, external-terminal mappings and live service plans (trunk
// label allocations are not persisted; replaying the services that hold
// them re-creates them), and runs per-aggregator
// planning leadership across broker replicas (§9 "a small registry" is
// the agent side; this package is the durable side it sits on top of).
//
// Key layout and the watcher shape are grounded on the teacher's
// control-plane/internal/etcd package: a folder-of-folders namespace
// built from small path-joining functions, one concurrency.Election per
// serialised resource, and a resumable prefix watcher.
package etcd

import (
	"fmt"
	"path"

	"github.com/ng-cdi/dpb/internal/model"
)

const (
	rootFolder       = "/dpb"
	networksFolder   = rootFolder + "/networks"
	leadershipFolder = rootFolder + "/leadership"
)

// networkFolder : /dpb/networks/<network>
func networkFolder(network model.NetworkName) string {
	return path.Join(networksFolder, string(network))
}

// terminalsFolder : /dpb/networks/<network>/terminals
func terminalsFolder(network model.NetworkName) string {
	return path.Join(networkFolder(network), "terminals")
}

// terminalKey : /dpb/networks/<network>/terminals/<name>
func terminalKey(network model.NetworkName, name model.TerminalName) string {
	return path.Join(terminalsFolder(network), string(name))
}

// trunksFolder : /dpb/networks/<network>/trunks
//
// Trunks are recorded once, under the aggregator that owns them;
// UpsertTrunk callers pass that aggregator's name here.
func trunksFolder(aggregator model.NetworkName) string {
	return path.Join(networkFolder(aggregator), "trunks")
}

// trunkKey : /dpb/networks/<aggregator>/trunks/<id>
func trunkKey(aggregator model.NetworkName, id uint64) string {
	return path.Join(trunksFolder(aggregator), fmt.Sprintf("%05d", id))
}

// servicesFolder : /dpb/networks/<network>/services
func servicesFolder(network model.NetworkName) string {
	return path.Join(networkFolder(network), "services")
}

// serviceKey : /dpb/networks/<network>/services/<id>
func serviceKey(network model.NetworkName, id model.ServiceID) string {
	return path.Join(servicesFolder(network), fmt.Sprintf("%020d", uint64(id)))
}

// leadershipKey : /dpb/leadership/<aggregator>
//
// One election per aggregator. Winning it is logged; planning and
// reconciliation do not check who holds it.
func leadershipKey(aggregator model.NetworkName) string {
	return path.Join(leadershipFolder, string(aggregator))
}
