package normalizer

import (
	"testing"

	"github.com/fgeck/goswitch-backup/internal/models"
	"github.com/fgeck/goswitch-backup/internal/profiles"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func running(text string) models.RetrievedConfig {
	return models.RetrievedConfig{Kind: models.ConfigRunning, Text: text}
}

func ciscoProfile(t *testing.T) models.DeviceProfile {
	t.Helper()
	p, ok := profiles.Default().Lookup("cisco_ios")
	require.True(t, ok)
	return p
}

const ciscoCapture = `Building configuration...

Current configuration : 1234 bytes
!
! Last configuration change at 10:01:02 UTC Mon Mar 1 2024 by admin
! NVRAM config last updated at 09:00:00 UTC Mon Mar 1 2024
!
version 15.2
hostname core-sw1
!
ntp clock-period 17179870
!
interface GigabitEthernet0/1
 description uplink
!


end
`

func TestNormalize_CiscoNoise(t *testing.T) {
	got, err := Normalize(running(ciscoCapture), ciscoProfile(t))
	require.NoError(t, err)

	want := "!\n!\nversion 15.2\nhostname core-sw1\n!\n!\ninterface GigabitEthernet0/1\n description uplink\n!\n\nend\n"
	assert.Equal(t, want, got.Text)
	assert.Equal(t, models.ConfigRunning, got.Kind)
}

func TestNormalize_NoiseOnlyDifferencesAreEqual(t *testing.T) {
	a := "hostname sw1\n! uptime: 3 days\n! Last configuration change at 10:00:00\ninterface Gi0/1\n"
	b := "hostname sw1\n! uptime: 4 days\n! Last configuration change at 11:30:00\ninterface Gi0/1\n"

	na, err := Normalize(running(a), ciscoProfile(t))
	require.NoError(t, err)
	nb, err := Normalize(running(b), ciscoProfile(t))
	require.NoError(t, err)

	assert.Equal(t, na.Text, nb.Text)
	assert.Contains(t, na.Text, "! uptime: <uptime>")
}

func TestNormalize_RealChangeIsPreserved(t *testing.T) {
	a, err := Normalize(running("hostname sw1\nvlan 10\n"), ciscoProfile(t))
	require.NoError(t, err)
	b, err := Normalize(running("hostname sw1\nvlan 20\n"), ciscoProfile(t))
	require.NoError(t, err)

	assert.NotEqual(t, a.Text, b.Text)
}

func TestNormalize_LineEndings(t *testing.T) {
	p := ciscoProfile(t)

	lf, err := Normalize(running("hostname sw1\ninterface Gi0/1\n"), p)
	require.NoError(t, err)
	crlf, err := Normalize(running("hostname sw1\r\ninterface Gi0/1\r\n"), p)
	require.NoError(t, err)
	cr, err := Normalize(running("hostname sw1\rinterface Gi0/1\r"), p)
	require.NoError(t, err)

	assert.Equal(t, lf.Text, crlf.Text)
	assert.Equal(t, lf.Text, cr.Text)
}

func TestNormalize_Pure(t *testing.T) {
	p := ciscoProfile(t)
	raw := running(ciscoCapture)

	first, err := Normalize(raw, p)
	require.NoError(t, err)
	second, err := Normalize(raw, p)
	require.NoError(t, err)
	again, err := Normalize(running(first.Text), p)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, ciscoCapture, raw.Text)
	assert.Equal(t, first.Text, again.Text)
}

func TestNormalize_RuleOrder(t *testing.T) {
	p := models.DeviceProfile{NormalizationRules: []models.NormalizationRule{
		profiles.Substitute("rename", `^secret \S+$`, "secret <redacted>"),
		profiles.Remove("drop-redacted", `<redacted>`),
		profiles.Substitute("never", `<redacted>`, "visible"),
	}}

	got, err := Normalize(running("hostname sw1\nsecret abc\n"), p)
	require.NoError(t, err)
	assert.Equal(t, "hostname sw1\n", got.Text)
}

func TestNormalize_SubstitutionsChain(t *testing.T) {
	p := models.DeviceProfile{NormalizationRules: []models.NormalizationRule{
		profiles.Substitute("a-to-b", `a`, "b"),
		profiles.Substitute("b-to-c", `b`, "c"),
	}}

	got, err := Normalize(running("a\n"), p)
	require.NoError(t, err)
	assert.Equal(t, "c\n", got.Text)
}

func TestNormalize_BlankLines(t *testing.T) {
	got, err := Normalize(running("\n\n  \nhostname sw1\n\n\n\ninterface Gi0/1\n\t\n\n"), models.DeviceProfile{})
	require.NoError(t, err)
	assert.Equal(t, "hostname sw1\n\ninterface Gi0/1\n", got.Text)
}

func TestNormalize_Empty(t *testing.T) {
	_, err := Normalize(running(""), ciscoProfile(t))
	assert.ErrorIs(t, err, models.ErrEmptyConfig)

	_, err = Normalize(running("Building configuration...\n\nCurrent configuration : 12 bytes\n"), ciscoProfile(t))
	assert.ErrorIs(t, err, models.ErrEmptyConfig)
}

func TestNormalize_JunosProfile(t *testing.T) {
	p, ok := profiles.Default().Lookup("juniper_junos")
	require.True(t, ok)

	got, err := Normalize(running("## Last commit: 2024-03-01 10:00:00 UTC by admin\nversion 20.4R3;\nsystem {\n    host-name sw1;\n}\n"), p)
	require.NoError(t, err)
	assert.Equal(t, "version 20.4R3;\nsystem {\n    host-name sw1;\n}\n", got.Text)
}
