package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Features is the set of capability flags attached to a form.
type Features uint16

const (
	FeatureOpen Features = 1 << iota
	FeatureRequiresLogin
	FeatureCollectEmail
	FeatureDisableAntispam
	FeatureWebhookEnabled
	FeatureAssignRole
	FeatureUniqueResponder
	FeatureDiscoverable
)

var featureNames = []struct {
	flag Features
	name string
}{
	{FeatureOpen, "OPEN"},
	{FeatureRequiresLogin, "REQUIRES_LOGIN"},
	{FeatureCollectEmail, "COLLECT_EMAIL"},
	{FeatureDisableAntispam, "DISABLE_ANTISPAM"},
	{FeatureWebhookEnabled, "WEBHOOK_ENABLED"},
	{FeatureAssignRole, "ASSIGN_ROLE"},
	{FeatureUniqueResponder, "UNIQUE_RESPONDER"},
	{FeatureDiscoverable, "DISCOVERABLE"},
}

// ParseFeatures converts stored flag names into a bitset. Names are matched
// case-insensitively; an unknown name is an error.
func ParseFeatures(names []string) (Features, error) {
	var f Features
	for _, raw := range names {
		name := strings.ToUpper(strings.TrimSpace(raw))
		found := false
		for _, fn := range featureNames {
			if fn.name == name {
				f |= fn.flag
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown form feature %q", raw)
		}
	}
	return f, nil
}

// Has reports whether every flag in want is set.
func (f Features) Has(want Features) bool {
	return f&want == want
}

// Names returns the flag names in declaration order.
func (f Features) Names() []string {
	names := make([]string, 0, len(featureNames))
	for _, fn := range featureNames {
		if f.Has(fn.flag) {
			names = append(names, fn.name)
		}
	}
	return names
}

func (f Features) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.Names())
}

func (f *Features) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	parsed, err := ParseFeatures(names)
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}
