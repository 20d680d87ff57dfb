package node

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstallProviders(t *testing.T) {
	ResetProviders()
	t.Cleanup(ResetProviders)

	require.NoError(t, RegisterProvider(&StaticProvider{
		PluginID:      "core-extras",
		PluginVersion: "1.2.0",
		Executors:     []Executor{&stubExecutor{info: Info{Type: "extra"}}},
	}))
	require.NoError(t, RegisterProvider(&StaticProvider{
		PluginID:      "depends-on-extras",
		PluginVersion: "0.1.0",
		Executors:     []Executor{&stubExecutor{info: Info{Type: "dependent"}}},
		Requires:      []Dependency{{PluginID: "core-extras", Constraint: "1.*"}},
	}))

	reg := NewRegistry()
	require.NoError(t, InstallProviders(reg))
	assert.Equal(t, []string{"dependent", "extra"}, reg.Types())
}

func TestInstallProvidersMissingDependency(t *testing.T) {
	ResetProviders()
	t.Cleanup(ResetProviders)

	require.NoError(t, RegisterProvider(&StaticProvider{
		PluginID:      "orphan",
		PluginVersion: "1.0.0",
		Requires:      []Dependency{{PluginID: "absent"}},
	}))

	err := InstallProviders(NewRegistry())
	require.ErrorIs(t, err, ErrProviderDependency)
}

func TestInstallProvidersVersionConstraint(t *testing.T) {
	ResetProviders()
	t.Cleanup(ResetProviders)

	require.NoError(t, RegisterProvider(&StaticProvider{PluginID: "base", PluginVersion: "2.0.0"}))
	require.NoError(t, RegisterProvider(&StaticProvider{
		PluginID:      "needs-v1",
		PluginVersion: "1.0.0",
		Requires:      []Dependency{{PluginID: "base", Constraint: "1.*"}},
	}))

	err := InstallProviders(NewRegistry())
	require.ErrorIs(t, err, ErrProviderDependency)
}

func TestRegisterProviderRejectsDuplicates(t *testing.T) {
	ResetProviders()
	t.Cleanup(ResetProviders)

	require.NoError(t, RegisterProvider(&StaticProvider{PluginID: "p", PluginVersion: "1.0.0"}))
	require.Error(t, RegisterProvider(&StaticProvider{PluginID: "p", PluginVersion: "2.0.0"}))
	require.Error(t, RegisterProvider(nil))
}

func TestVersionSatisfies(t *testing.T) {
	cases := []struct {
		version, constraint string
		want                bool
	}{
		{"1.2.3", "", true},
		{"1.2.3", "1.2.3", true},
		{"1.2.3", "1.2.4", false},
		{"1.2.3", "1.*", true},
		{"1.2.3", "1.2.*", true},
		{"2.0.0", "1.*", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, versionSatisfies(tc.version, tc.constraint),
			"version %s constraint %s", tc.version, tc.constraint)
	}
}
