package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetricsGauges(t *testing.T) {
	m := New()
	m.SetRooms(3)
	m.SetPeers(7)
	m.IncEvent("join-video-room", "ok")
	m.IncFanoutFailure()
	m.IncWorkerDeath()

	families, err := m.Registry().Gather()
	assert.NoError(t, err)
	assert.NotEmpty(t, families)
}
