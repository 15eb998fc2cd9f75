// Package env describes execution environments: what they run on, how much of
// it there is and whether they are trusted.
package env

// EnvData is implemented by anything that describes an environment.
type EnvData interface {
	Trusted() bool
	EnvType() EnvType
	OSName() string
	ArchName() string
	TotalMem() uint64
	CPUCount() uint16
	// CPUSpeed is in MHz.
	CPUSpeed() uint16
}

// Untrusted supplies the only two EnvData defaults. Embed it in types that
// have no measured trust or env type. The measured fields deliberately have no
// default: it would describe the local machine, not the subject.
type Untrusted struct{}

func (Untrusted) Trusted() bool    { return false }
func (Untrusted) EnvType() EnvType { return InheritType }

// ExecEnv is an environment code can be dispatched into. It adds live host
// introspection to EnvData.
type ExecEnv interface {
	EnvData
	// CurrentMem is the free memory in bytes.
	CurrentMem() (uint64, error)
	// LoadAvg is the 15 minute load average.
	LoadAvg() (float64, error)
}

// CurrentMem reads free memory from p as a ProbeError-wrapped result.
func CurrentMem(p Probe) (uint64, error) {
	free, err := p.FreeMem()
	if err != nil {
		return 0, &ProbeError{Field: FieldFreeMem, Err: err}
	}
	return free, nil
}

// LoadAvg reads the 15 minute load average from p.
func LoadAvg(p Probe) (float64, error) {
	avg, err := p.LoadAvg()
	if err != nil {
		return 0, &ProbeError{Field: FieldLoadAvg, Err: err}
	}
	return avg, nil
}

// Fits reports whether e has at least minMem bytes and minCPUs processors.
func Fits(e EnvData, minMem uint64, minCPUs uint16) bool {
	return e.TotalMem() >= minMem && e.CPUCount() >= minCPUs
}
