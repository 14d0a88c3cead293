package etcd

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ng-cdi/dpb/internal/model"
)

func TestTerminalKeyNestsUnderNetwork(t *testing.T) {
	assert.Equal(t, "/dpb/networks/S1/terminals/a", terminalKey("S1", "a"))
}

func TestServiceKeyIsFixedWidth(t *testing.T) {
	assert.Equal(t, "/dpb/networks/AGG/services/00000000000000000001", serviceKey("AGG", model.ServiceID(1)))
	assert.Equal(t, "/dpb/networks/AGG/services/00000000000000000010", serviceKey("AGG", model.ServiceID(10)))
}

func TestTrunkKeyNestsUnderAggregator(t *testing.T) {
	assert.Equal(t, "/dpb/networks/AGG/trunks/00042", trunkKey("AGG", 42))
}

func TestLeadershipKeyPerAggregator(t *testing.T) {
	assert.Equal(t, "/dpb/leadership/AGG", leadershipKey("AGG"))
}
