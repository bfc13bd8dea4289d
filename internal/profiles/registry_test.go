package profiles

import (
	"testing"

	"github.com/fgeck/goswitch-backup/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_BuiltinTypes(t *testing.T) {
	types := Default().Types()

	assert.Equal(t, []string{
		"arista_eos",
		"cisco_asa",
		"cisco_ios",
		"cisco_nxos",
		"cisco_xe",
		"generic",
		"hp_procurve",
		"juniper_junos",
	}, types)
}

func TestLookup(t *testing.T) {
	p, ok := Default().Lookup("cisco_ios")
	require.True(t, ok)
	assert.Equal(t, []string{"show running-config"}, p.RunningCommands)
	assert.Equal(t, "show startup-config", p.StartupCommand)
	assert.True(t, p.HasStartup())
	assert.NotEmpty(t, p.NormalizationRules)

	junos, ok := Default().Lookup("juniper_junos")
	require.True(t, ok)
	assert.False(t, junos.HasStartup())

	procurve, ok := Default().Lookup("hp_procurve")
	require.True(t, ok)
	assert.Equal(t, "show config", procurve.StartupCommand)

	_, ok = Default().Lookup("nokia_sros")
	assert.False(t, ok)
}

func TestLookup_ReturnsCopy(t *testing.T) {
	p, ok := Default().Lookup("cisco_ios")
	require.True(t, ok)
	p.RunningCommands[0] = "reload"
	p.NormalizationRules = nil

	again, _ := Default().Lookup("cisco_ios")
	assert.Equal(t, "show running-config", again.RunningCommands[0])
	assert.NotEmpty(t, again.NormalizationRules)
}

func TestResolve_FallsBackToGeneric(t *testing.T) {
	p, known := Default().Resolve("unknown_vendor")
	assert.False(t, known)
	assert.Equal(t, Generic, p.DeviceType)

	p, known = Default().Resolve("arista_eos")
	assert.True(t, known)
	assert.Equal(t, "arista_eos", p.DeviceType)
}

func TestNewRegistry_LaterProfileWins(t *testing.T) {
	r := NewRegistry(
		models.DeviceProfile{DeviceType: "x", RunningCommands: []string{"first"}},
		models.DeviceProfile{DeviceType: "x", RunningCommands: []string{"second"}},
	)

	p, ok := r.Lookup("x")
	require.True(t, ok)
	assert.Equal(t, []string{"second"}, p.RunningCommands)
	assert.Equal(t, []string{"x"}, r.Types())
}

func TestNoiseRules_Match(t *testing.T) {
	p, _ := Default().Lookup("cisco_ios")

	matches := func(line string) string {
		for _, rule := range p.NormalizationRules {
			if rule.Pattern.MatchString(line) {
				return rule.Name
			}
		}
		return ""
	}

	assert.Equal(t, "last-config-change", matches("! Last configuration change at 10:01:02 UTC Mon Mar 1 2024"))
	assert.Equal(t, "nvram-updated", matches("! NVRAM config last updated at 09:00:00 UTC"))
	assert.Equal(t, "uptime", matches("sw1 uptime is 3 weeks, 2 days"))
	assert.Equal(t, "ntp-clock-period", matches("ntp clock-period 17179870"))
	assert.Equal(t, "building-configuration", matches("Building configuration..."))
	assert.Equal(t, "current-configuration-size", matches("Current configuration : 1234 bytes"))
	assert.Empty(t, matches("hostname sw1"))
	assert.Empty(t, matches("interface GigabitEthernet0/1"))
}

func TestUptimeRule_CollapsesValue(t *testing.T) {
	rule := Substitute("uptime", `(?i)\b((?:system )?uptime(?: is|:))\s*.*$`, "${1} <uptime>")

	assert.Equal(t, "! uptime: <uptime>", rule.Pattern.ReplaceAllString("! uptime: 3 days", rule.Replacement))
	assert.Equal(t, "! uptime: <uptime>", rule.Pattern.ReplaceAllString("! uptime: 4 days", rule.Replacement))
	assert.Equal(t, "sw1 uptime is <uptime>", rule.Pattern.ReplaceAllString("sw1 uptime is 1 hour", rule.Replacement))
}
