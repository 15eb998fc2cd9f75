// Package runtime holds the execution environments a distributor dispatches
// into.
package runtime

import (
	"slices"

	logging "github.com/ipfs/go-log/v2"

	"github.com/beemesh/distributor/pkg/env"
	"github.com/beemesh/distributor/pkg/identity"
)

var log = logging.Logger("runtime")

// VirtualKeySize is the length of the key protecting a virtual environment.
const VirtualKeySize = 16

// VirtualEnv is a virtualised, encrypted target. It accumulates code and holds
// the key the code is protected with; it does not execute anything itself.
type VirtualEnv struct {
	env.RemoteEnv
	probe  env.Probe
	code   []byte
	key    [VirtualKeySize]byte
	hasKey bool
}

var _ env.ExecEnv = (*VirtualEnv)(nil)

// EmptyVirtualEnv probes the host the environment runs on.
func EmptyVirtualEnv(p env.Probe, envType env.EnvType) (*VirtualEnv, error) {
	data, err := env.InitRemoteEnv(p, envType)
	if err != nil {
		return nil, err
	}
	return &VirtualEnv{RemoteEnv: data, probe: p}, nil
}

// Load appends code and replaces the key. A key of the wrong length leaves
// the environment unchanged.
func (v *VirtualEnv) Load(code, key []byte) error {
	if len(key) != VirtualKeySize {
		return &identity.KeyFormatError{What: "virtual env key", Want: VirtualKeySize, Got: len(key)}
	}
	v.code = append(v.code, code...)
	copy(v.key[:], key)
	v.hasKey = true
	log.Debugw("loaded code into virtual env", "bytes", len(code), "total", len(v.code))
	return nil
}

func (v *VirtualEnv) Code() []byte { return slices.Clone(v.code) }

func (v *VirtualEnv) Key() ([VirtualKeySize]byte, bool) { return v.key, v.hasKey }

func (v *VirtualEnv) CurrentMem() (uint64, error) { return env.CurrentMem(v.probe) }
func (v *VirtualEnv) LoadAvg() (float64, error)   { return env.LoadAvg(v.probe) }
