package applications

import (
	"encoding/json"

	"github.com/beemesh/distributor/pkg/permissions"
)

type applicationJSON struct {
	Name          string                 `json:"name"`
	Version       string                 `json:"version"`
	APIKey        string                 `json:"api_key"`
	Owner         string                 `json:"owner"`
	Permissions   []permissions.Resource `json:"permissions"`
	Description   *string                `json:"description,omitempty"`
	Documentation *string                `json:"documentation,omitempty"`
	Platform      *string                `json:"platform,omitempty"`
	Repository    *string                `json:"repository,omitempty"`
}

func (a Application) MarshalJSON() ([]byte, error) {
	perms := a.permissions
	if perms == nil {
		perms = []permissions.Resource{}
	}
	return json.Marshal(applicationJSON{
		Name:          a.name,
		Version:       a.version,
		APIKey:        a.apiKey,
		Owner:         a.owner,
		Permissions:   perms,
		Description:   a.description,
		Documentation: a.documentation,
		Platform:      a.platform,
		Repository:    a.repository,
	})
}

func (a *Application) UnmarshalJSON(b []byte) error {
	var raw applicationJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*a = Application{
		name:          raw.Name,
		version:       raw.Version,
		apiKey:        raw.APIKey,
		owner:         raw.Owner,
		permissions:   raw.Permissions,
		description:   raw.Description,
		documentation: raw.Documentation,
		platform:      raw.Platform,
		repository:    raw.Repository,
	}
	return nil
}
