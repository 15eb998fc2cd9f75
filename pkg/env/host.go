package env

import "github.com/beemesh/distributor/internal/config"

// HostEnv is the local host: its measured environment, its node configuration
// and whether it offers itself as a shared resource.
type HostEnv struct {
	core   RemoteEnv
	config config.Node
	public bool
}

// InitHostEnv probes the local machine. A public host is only meaningful once
// the environment can be attested.
func InitHostEnv(p Probe, cfg config.Node, envType EnvType, public bool) (*HostEnv, error) {
	core, err := InitRemoteEnv(p, envType)
	if err != nil {
		return nil, err
	}
	return NewHostEnv(core, cfg, public), nil
}

func NewHostEnv(core RemoteEnv, cfg config.Node, public bool) *HostEnv {
	return &HostEnv{core: core, config: cfg, public: public}
}

func (h *HostEnv) EnvData() RemoteEnv        { return h.core }
func (h *HostEnv) SetEnvData(core RemoteEnv) { h.core = core }
func (h *HostEnv) Config() config.Node       { return h.config }
func (h *HostEnv) SetConfig(cfg config.Node) { h.config = cfg }
func (h *HostEnv) IsPublic() bool            { return h.public }
func (h *HostEnv) SetPublic(public bool)     { h.public = public }
func (h *HostEnv) Trusted() bool             { return h.core.Trusted() }
func (h *HostEnv) EnvType() EnvType          { return h.core.EnvType() }
func (h *HostEnv) OSName() string            { return h.core.OSName() }
func (h *HostEnv) ArchName() string          { return h.core.ArchName() }
func (h *HostEnv) TotalMem() uint64          { return h.core.TotalMem() }
func (h *HostEnv) CPUCount() uint16          { return h.core.CPUCount() }
func (h *HostEnv) CPUSpeed() uint16          { return h.core.CPUSpeed() }
