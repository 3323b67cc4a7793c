package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidateRejectsInvertedPortRange(t *testing.T) {
	cfg := Default()
	cfg.RTC.UDPPortMin = 20000
	cfg.RTC.UDPPortMax = 10000
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsBadAnnouncedIP(t *testing.T) {
	cfg := Default()
	cfg.RTC.AnnouncedIP = "not-an-ip"
	require.Error(t, cfg.Validate())
}

func TestLoadAppliesEnvOverride(t *testing.T) {
	t.Setenv("SFU_ANNOUNCED_IP", "203.0.113.5")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "203.0.113.5", cfg.RTC.AnnouncedIP)
}
