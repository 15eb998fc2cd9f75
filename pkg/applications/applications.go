// Package applications describes the workloads a distributor runs: their
// identity and the resources they were granted.
package applications

import (
	"fmt"
	"slices"

	"github.com/beemesh/distributor/pkg/permissions"
)

// AppIdentity uniquely identifies a deployable workload variant.
type AppIdentity struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	APIKey  string `json:"api_key"`
}

func NewAppIdentity(name, version, apiKey string) AppIdentity {
	return AppIdentity{Name: name, Version: version, APIKey: apiKey}
}

func (a AppIdentity) String() string { return fmt.Sprintf("%s-%s", a.Name, a.Version) }

// Application is a fully built workload descriptor. Values are immutable:
// accessors hand out copies.
type Application struct {
	name          string
	version       string
	apiKey        string
	owner         string
	permissions   []permissions.Resource
	description   *string
	documentation *string
	platform      *string
	repository    *string
}

// Builder assembles an Application. A Builder has a single owner; values
// returned by Build do not observe later builder calls.
type Builder struct {
	app Application
}

// NewApplication starts an application with no permissions and no metadata.
func NewApplication(name, version, apiKey, owner string) *Builder {
	return &Builder{app: Application{name: name, version: version, apiKey: apiKey, owner: owner}}
}

func (b *Builder) Description(description string) *Builder {
	b.app.description = &description
	return b
}

// Permissions appends resources; repeated calls accumulate in call order and
// duplicates are kept.
func (b *Builder) Permissions(resources ...permissions.Resource) *Builder {
	b.app.permissions = append(b.app.permissions, resources...)
	return b
}

func (b *Builder) Documentation(docs string) *Builder {
	b.app.documentation = &docs
	return b
}

func (b *Builder) Platform(platform string) *Builder {
	b.app.platform = &platform
	return b
}

func (b *Builder) Repository(repo string) *Builder {
	b.app.repository = &repo
	return b
}

func (b *Builder) Build() Application {
	app := b.app
	app.permissions = slices.Clone(b.app.permissions)
	return app
}

// Identity projects the application onto the key used to compare and look up
// applications independently of their grants.
func (a Application) Identity() AppIdentity {
	return NewAppIdentity(a.name, a.version, a.apiKey)
}

func (a Application) Name() string    { return a.name }
func (a Application) Version() string { return a.version }
func (a Application) APIKey() string  { return a.apiKey }
func (a Application) Owner() string   { return a.owner }

func (a Application) Permissions() []permissions.Resource { return slices.Clone(a.permissions) }

func (a Application) Description() (string, bool)   { return deref(a.description) }
func (a Application) Documentation() (string, bool) { return deref(a.documentation) }
func (a Application) Platform() (string, bool)      { return deref(a.platform) }
func (a Application) Repository() (string, bool)    { return deref(a.repository) }

func deref(s *string) (string, bool) {
	if s == nil {
		return "", false
	}
	return *s, true
}

func (a Application) String() string { return a.Identity().String() }
