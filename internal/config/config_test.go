package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleTOML = `
time_zone = "UTC"
main_log = "/tmp/rvrrpd-test.log"

[[vrouter]]
group = 1
interface = "eth0"
vip = "10.0.0.254"
priority = 150
preemption = true
auth_type = "rfc2338-simple"
auth_secret = "s3cr3t"

[vrouter.timers]
advert = 2

[[vrouter]]
group = 2
interface = "eth1"
vip = "10.0.1.254"

[protocols]
[[protocols.static]]
route = "0.0.0.0"
mask = "0.0.0.0"
nh = "10.0.0.1"
`

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "rvrrpd.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoad_AppliesDefaultsAndParsesTables(t *testing.T) {
	path := writeTemp(t, sampleTOML)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "/tmp/rvrrpd-test.log", cfg.MainLog)
	require.Equal(t, DefaultPIDFile, cfg.PID)
	require.Len(t, cfg.VRouter, 2)

	vr0 := cfg.VRouter[0]
	require.Equal(t, byte(150), *vr0.Priority)
	require.True(t, *vr0.Preemption)
	require.Equal(t, byte(2), vr0.Timers.Advert)
	require.Equal(t, "netlink", vr0.NetDrv)

	vr1 := cfg.VRouter[1]
	require.Equal(t, byte(DefaultPriority), *vr1.Priority)
	require.Equal(t, byte(DefaultAdvertInterval), vr1.Timers.Advert)

	require.Len(t, cfg.Protocols.Static, 1)
	require.Equal(t, "10.0.0.1", cfg.Protocols.Static[0].NH)
}

func TestLoad_RejectsInvalidVIP(t *testing.T) {
	path := writeTemp(t, `
[[vrouter]]
group = 1
interface = "eth0"
vip = "not-an-ip"
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_RejectsOutOfRangePriority(t *testing.T) {
	path := writeTemp(t, `
[[vrouter]]
group = 1
interface = "eth0"
vip = "10.0.0.254"
priority = 255
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_RejectsUnknownAuthType(t *testing.T) {
	path := writeTemp(t, `
[[vrouter]]
group = 1
interface = "eth0"
vip = "10.0.0.254"
auth_type = "bogus"
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_MacvlanRequiresVifName(t *testing.T) {
	path := writeTemp(t, `
[[vrouter]]
group = 1
interface = "eth0"
vip = "10.0.0.254"
iftype = "macvlan"
`)
	_, err := Load(path)
	require.Error(t, err)
}
