package env

import "encoding/json"

// RemoteEnv is a snapshot of an environment, probed locally or reported by a
// remote host. It never changes after construction except through SetTrusted.
type RemoteEnv struct {
	osName   string
	archName string
	totalMem uint64
	cpuCount uint16
	cpuSpeed uint16
	envType  EnvType
	trusted  bool
}

// InitRemoteEnv probes every measurement. The first one that fails aborts the
// construction; no partially measured value is returned.
func InitRemoteEnv(p Probe, envType EnvType) (RemoteEnv, error) {
	osName, err := p.OSName()
	if err != nil {
		return RemoteEnv{}, &ProbeError{Field: FieldOSName, Err: err}
	}
	archName, err := p.ArchName()
	if err != nil {
		return RemoteEnv{}, &ProbeError{Field: FieldArchName, Err: err}
	}
	totalMem, err := p.TotalMem()
	if err != nil {
		return RemoteEnv{}, &ProbeError{Field: FieldTotalMem, Err: err}
	}
	cpuCount, err := p.CPUCount()
	if err != nil {
		return RemoteEnv{}, &ProbeError{Field: FieldCPUCount, Err: err}
	}
	cpuSpeed, err := p.CPUSpeed()
	if err != nil {
		return RemoteEnv{}, &ProbeError{Field: FieldCPUSpeed, Err: err}
	}
	return NewRemoteEnv(osName, archName, totalMem, cpuCount, cpuSpeed, envType), nil
}

// NewRemoteEnv builds an untrusted snapshot from reported values.
func NewRemoteEnv(osName, archName string, totalMem uint64, cpuCount, cpuSpeed uint16, envType EnvType) RemoteEnv {
	return RemoteEnv{
		osName:   osName,
		archName: archName,
		totalMem: totalMem,
		cpuCount: cpuCount,
		cpuSpeed: cpuSpeed,
		envType:  envType,
	}
}

// SetTrusted returns a copy with the trust flag replaced. It is the only way
// trust changes; callers must have attested the environment first.
func (e RemoteEnv) SetTrusted(trusted bool) RemoteEnv {
	e.trusted = trusted
	return e
}

func (e RemoteEnv) Trusted() bool    { return e.trusted }
func (e RemoteEnv) EnvType() EnvType { return e.envType }
func (e RemoteEnv) OSName() string   { return e.osName }
func (e RemoteEnv) ArchName() string { return e.archName }
func (e RemoteEnv) TotalMem() uint64 { return e.totalMem }
func (e RemoteEnv) CPUCount() uint16 { return e.cpuCount }
func (e RemoteEnv) CPUSpeed() uint16 { return e.cpuSpeed }

type remoteEnvJSON struct {
	OSName   string  `json:"os_name"`
	ArchName string  `json:"arch_name"`
	TotalMem uint64  `json:"total_mem"`
	CPUCount uint16  `json:"cpu_count"`
	CPUSpeed uint16  `json:"cpu_speed"`
	EnvType  EnvType `json:"env_type"`
	Trusted  bool    `json:"trusted"`
}

func (e RemoteEnv) MarshalJSON() ([]byte, error) {
	return json.Marshal(remoteEnvJSON{
		OSName:   e.osName,
		ArchName: e.archName,
		TotalMem: e.totalMem,
		CPUCount: e.cpuCount,
		CPUSpeed: e.cpuSpeed,
		EnvType:  e.envType,
		Trusted:  e.trusted,
	})
}

func (e *RemoteEnv) UnmarshalJSON(b []byte) error {
	var raw remoteEnvJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*e = RemoteEnv{
		osName:   raw.OSName,
		archName: raw.ArchName,
		totalMem: raw.TotalMem,
		cpuCount: raw.CPUCount,
		cpuSpeed: raw.CPUSpeed,
		envType:  raw.EnvType,
		trusted:  raw.Trusted,
	}
	return nil
}
