package permission

import (
	"os"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// AllowLists are the bundle names with special treatment.
// They are read once at construction and never change afterward.
type AllowLists struct {
	// SystemServices must match a bundle name exactly.
	SystemServices []string `yaml:"systemServices"`
	// AutoLaunchApps match every bundle name that contains an entry.
	AutoLaunchApps []string `yaml:"autoLaunchApps"`
}

// DefaultAllowLists returns the built-in allow-lists.
func DefaultAllowLists() AllowLists {
	return AllowLists{
		SystemServices: []string{"bundle_manager_service", "form_storage", "ivi_config_manager"},
		AutoLaunchApps: []string{"com.ohos.contacts", "com.ohos.launcher", "providers.calendar"},
	}
}

// LoadAllowLists reads allow-lists from a YAML file:
//
//	systemServices: [bundle_manager_service]
//	autoLaunchApps: [com.example.sync]
//
// A list that is missing in the file keeps its default.
func LoadAllowLists(path string) (AllowLists, error) {
	lists := DefaultAllowLists()

	raw, err := os.ReadFile(path)
	if err != nil {
		return lists, errors.Wrapf(err, "read allow-list file %s", path)
	}

	var file struct {
		SystemServices *[]string `yaml:"systemServices"`
		AutoLaunchApps *[]string `yaml:"autoLaunchApps"`
	}
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return lists, errors.Wrapf(err, "parse allow-list file %s", path)
	}
	if file.SystemServices != nil {
		lists.SystemServices = *file.SystemServices
	}
	if file.AutoLaunchApps != nil {
		lists.AutoLaunchApps = *file.AutoLaunchApps
	}
	return lists, nil
}

func (l AllowLists) clone() AllowLists {
	return AllowLists{
		SystemServices: append([]string(nil), l.SystemServices...),
		AutoLaunchApps: append([]string(nil), l.AutoLaunchApps...),
	}
}
