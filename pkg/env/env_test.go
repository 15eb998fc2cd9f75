package env

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beemesh/distributor/internal/config"
)

// fakeProbe reports fixed values; a non-empty fail names the measurement that errors.
type fakeProbe struct {
	fail  string
	calls []string
}

var errUnavailable = errors.New("unavailable")

func (p *fakeProbe) check(field string) error {
	p.calls = append(p.calls, field)
	if p.fail == field {
		return errUnavailable
	}
	return nil
}

func (p *fakeProbe) OSName() (string, error)   { return "linux", p.check(FieldOSName) }
func (p *fakeProbe) ArchName() (string, error) { return "x86_64", p.check(FieldArchName) }
func (p *fakeProbe) TotalMem() (uint64, error) { return 2 << 40, p.check(FieldTotalMem) }
func (p *fakeProbe) CPUCount() (uint16, error) { return 512, p.check(FieldCPUCount) }
func (p *fakeProbe) CPUSpeed() (uint16, error) { return 3600, p.check(FieldCPUSpeed) }
func (p *fakeProbe) FreeMem() (uint64, error)  { return 1 << 30, p.check(FieldFreeMem) }
func (p *fakeProbe) LoadAvg() (float64, error) { return 0.75, p.check(FieldLoadAvg) }

func TestInitRemoteEnv(t *testing.T) {
	e, err := InitRemoteEnv(&fakeProbe{}, PaillierType)
	require.NoError(t, err)

	assert.Equal(t, "linux", e.OSName())
	assert.Equal(t, "x86_64", e.ArchName())
	assert.Equal(t, uint64(2<<40), e.TotalMem(), "memory beyond 32 bits")
	assert.Equal(t, uint16(512), e.CPUCount(), "core counts beyond 256")
	assert.Equal(t, uint16(3600), e.CPUSpeed())
	assert.Equal(t, PaillierType, e.EnvType())
	assert.False(t, e.Trusted())
}

func TestInitRemoteEnvAllOrNothing(t *testing.T) {
	for _, field := range []string{FieldOSName, FieldArchName, FieldTotalMem, FieldCPUCount, FieldCPUSpeed} {
		t.Run(field, func(t *testing.T) {
			probe := &fakeProbe{fail: field}
			e, err := InitRemoteEnv(probe, InheritType)

			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrProbe))
			assert.True(t, errors.Is(err, errUnavailable))
			var pe *ProbeError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, field, pe.Field)
			assert.Equal(t, RemoteEnv{}, e)
			assert.Equal(t, field, probe.calls[len(probe.calls)-1], "probing stops at the failure")
		})
	}
}

func TestSetTrustedChangesOnlyTrust(t *testing.T) {
	e, err := InitRemoteEnv(&fakeProbe{}, InheritType)
	require.NoError(t, err)

	trusted := e.SetTrusted(true)
	assert.True(t, trusted.Trusted())
	assert.False(t, e.Trusted(), "original value is untouched")
	assert.Equal(t, e, trusted.SetTrusted(false))
}

func TestRemoteEnvJSON(t *testing.T) {
	e := NewRemoteEnv("linux", "aarch64", 8<<30, 8, 2000, OtherType("sgx")).SetTrusted(true)
	data, err := json.Marshal(e)
	require.NoError(t, err)
	assert.JSONEq(t, `{"os_name":"linux","arch_name":"aarch64","total_mem":8589934592,
		"cpu_count":8,"cpu_speed":2000,"env_type":"other:sgx","trusted":true}`, string(data))

	var decoded RemoteEnv
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, e, decoded)
}

func TestParseEnvType(t *testing.T) {
	cases := map[string]EnvType{
		"":             InheritType,
		"inherit":      InheritType,
		"Paillier":     PaillierType,
		"other:sgx":    OtherType("sgx"),
		"other: Nitro": OtherType("Nitro"),
	}
	for in, want := range cases {
		got, err := ParseEnvType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, bad := range []string{"other:", "quantum"} {
		_, err := ParseEnvType(bad)
		assert.Error(t, err, bad)
	}
	assert.Equal(t, "other:sgx", OtherType("sgx").String())
}

type bare struct{ Untrusted }

func TestUntrustedDefaults(t *testing.T) {
	var b bare
	assert.False(t, b.Trusted())
	assert.Equal(t, InheritType, b.EnvType())
}

func TestDerivedOperations(t *testing.T) {
	free, err := CurrentMem(&fakeProbe{})
	require.NoError(t, err)
	assert.Equal(t, uint64(1<<30), free)

	_, err = CurrentMem(&fakeProbe{fail: FieldFreeMem})
	assert.True(t, errors.Is(err, ErrProbe))

	avg, err := LoadAvg(&fakeProbe{})
	require.NoError(t, err)
	assert.Equal(t, 0.75, avg)

	_, err = LoadAvg(&fakeProbe{fail: FieldLoadAvg})
	var pe *ProbeError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, FieldLoadAvg, pe.Field)
}

func TestHostEnv(t *testing.T) {
	cfg := config.Node{ListenAddrs: []string{"/ip4/127.0.0.1/tcp/0"}}
	h, err := InitHostEnv(&fakeProbe{}, cfg, InheritType, false)
	require.NoError(t, err)

	assert.False(t, h.IsPublic())
	assert.False(t, h.Trusted())
	assert.Equal(t, "linux", h.OSName())
	assert.Equal(t, cfg, h.Config())
	assert.True(t, Fits(h, 1<<30, 4))
	assert.False(t, Fits(h, 4<<40, 4))

	h.SetPublic(true)
	h.SetEnvData(h.EnvData().SetTrusted(true))
	assert.True(t, h.IsPublic())
	assert.True(t, h.Trusted())

	_, err = InitHostEnv(&fakeProbe{fail: FieldCPUSpeed}, cfg, InheritType, true)
	assert.True(t, errors.Is(err, ErrProbe))
}

func TestSystemProbe(t *testing.T) {
	e, err := InitRemoteEnv(SystemProbe{}, InheritType)
	if err != nil {
		// Containers and some VMs hide the cpu clock; the failure must still be a probe error.
		assert.True(t, errors.Is(err, ErrProbe))
		return
	}
	assert.NotEmpty(t, e.OSName())
	assert.NotEmpty(t, e.ArchName())
	assert.NotZero(t, e.TotalMem())
	assert.NotZero(t, e.CPUCount())
}
