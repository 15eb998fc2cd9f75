package env

import (
	"fmt"
	"strings"
)

type Kind uint8

const (
	Inherit Kind = iota
	// Paillier is homomorphically encrypted execution.
	Paillier
	Other
)

// EnvType is the trust and computation model of an execution environment.
// Name is only set for Other.
type EnvType struct {
	Kind Kind
	Name string
}

var (
	InheritType  = EnvType{Kind: Inherit}
	PaillierType = EnvType{Kind: Paillier}
)

func OtherType(name string) EnvType { return EnvType{Kind: Other, Name: name} }

// ParseEnvType accepts "inherit", "paillier" and "other:<name>".
func ParseEnvType(s string) (EnvType, error) {
	switch lower := strings.ToLower(strings.TrimSpace(s)); {
	case lower == "" || lower == "inherit":
		return InheritType, nil
	case lower == "paillier":
		return PaillierType, nil
	case strings.HasPrefix(lower, "other:"):
		name := strings.TrimSpace(s[strings.Index(s, ":")+1:])
		if name == "" {
			return EnvType{}, fmt.Errorf("env type %q: other needs a name", s)
		}
		return OtherType(name), nil
	default:
		return EnvType{}, fmt.Errorf("unknown env type %q", s)
	}
}

func (t EnvType) String() string {
	switch t.Kind {
	case Inherit:
		return "inherit"
	case Paillier:
		return "paillier"
	default:
		return "other:" + t.Name
	}
}

func (t EnvType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *EnvType) UnmarshalText(b []byte) error {
	parsed, err := ParseEnvType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
