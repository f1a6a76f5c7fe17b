package profile

import (
	"fmt"
	"regexp"

	"github.com/matheus3301/wppcal/internal/config"
)

const DefaultName = "main"

var nameRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateName checks that name conforms to profile naming rules.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("invalid profile name %q: must match ^[a-z0-9_-]{1,64}$", name)
	}
	return nil
}

// Resolve picks the active profile: the --profile flag, then default_profile
// from the global config.toml, then "main".
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	g, err := config.LoadGlobal(GlobalConfigPath())
	if err == nil && g.DefaultProfile != "" {
		return g.DefaultProfile
	}
	return DefaultName
}
