package env

import (
	"errors"
	"fmt"
	"math"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// Measurement names used in ProbeError.Field.
const (
	FieldOSName   = "os_name"
	FieldArchName = "arch_name"
	FieldTotalMem = "total_mem"
	FieldCPUCount = "cpu_count"
	FieldCPUSpeed = "cpu_speed"
	FieldFreeMem  = "free_mem"
	FieldLoadAvg  = "load_avg"
)

// ErrProbe is matched by every ProbeError.
var ErrProbe = errors.New("environment probe")

// ProbeError reports a local measurement that could not be taken.
type ProbeError struct {
	Field string
	Err   error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("environment probe: %s unavailable: %v", e.Field, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

func (e *ProbeError) Is(target error) bool { return target == ErrProbe }

// Probe measures the machine it runs on.
type Probe interface {
	OSName() (string, error)
	ArchName() (string, error)
	TotalMem() (uint64, error)
	CPUCount() (uint16, error)
	CPUSpeed() (uint16, error)
	FreeMem() (uint64, error)
	LoadAvg() (float64, error)
}

// SystemProbe reads the live OS through gopsutil.
type SystemProbe struct{}

func (SystemProbe) OSName() (string, error) {
	info, err := host.Info()
	if err != nil {
		return "", err
	}
	if info.OS == "" {
		return "", errors.New("os not reported")
	}
	return info.OS, nil
}

func (SystemProbe) ArchName() (string, error) {
	info, err := host.Info()
	if err != nil {
		return "", err
	}
	if info.KernelArch == "" {
		return "", errors.New("architecture not reported")
	}
	return info.KernelArch, nil
}

func (SystemProbe) TotalMem() (uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.Total, nil
}

func (SystemProbe) FreeMem() (uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.Free, nil
}

func (SystemProbe) CPUCount() (uint16, error) {
	n, err := cpu.Counts(true)
	if err != nil {
		return 0, err
	}
	if n <= 0 || n > math.MaxUint16 {
		return 0, fmt.Errorf("logical cpu count %d out of range", n)
	}
	return uint16(n), nil
}

func (SystemProbe) CPUSpeed() (uint16, error) {
	infos, err := cpu.Info()
	if err != nil {
		return 0, err
	}
	if len(infos) == 0 || infos[0].Mhz <= 0 {
		return 0, errors.New("cpu clock not reported")
	}
	if infos[0].Mhz > math.MaxUint16 {
		return 0, fmt.Errorf("cpu clock %.0f MHz out of range", infos[0].Mhz)
	}
	return uint16(infos[0].Mhz), nil
}

func (SystemProbe) LoadAvg() (float64, error) {
	avg, err := load.Avg()
	if err != nil {
		return 0, err
	}
	return avg.Load15, nil
}
