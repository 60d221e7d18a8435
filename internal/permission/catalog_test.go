package permission

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultCatalogRequirementsByVersion(t *testing.T) {
	catalog := DefaultCatalog()

	require.Len(t, catalog.All(), 4)
	require.Equal(t, []Permission{CoarseLocation, FineLocation}, permissionsOf(catalog.RequirementsFor(30)))
	require.Equal(t, []Permission{CoarseLocation, FineLocation, BluetoothScan}, permissionsOf(catalog.RequirementsFor(31)))
	require.Equal(t, []Permission{CoarseLocation, FineLocation, BluetoothScan, PostNotifications}, permissionsOf(catalog.RequirementsFor(34)))

	// stable across calls
	require.Equal(t, catalog.RequirementsFor(33), catalog.RequirementsFor(33))
}

func TestDefaultCatalogEssentialSet(t *testing.T) {
	for _, r := range DefaultCatalog().All() {
		require.Equal(t, r.Permission == CoarseLocation || r.Permission == FineLocation, r.Essential, r.Permission)
	}
}

func TestCatalogPagesGroupBySharedKey(t *testing.T) {
	catalog := DefaultCatalog()
	require.Equal(t, "location", catalog.PageOf(CoarseLocation))
	require.Empty(t, catalog.PageOf(BluetoothScan))

	pages := catalog.Pages([]Permission{CoarseLocation, BluetoothScan, FineLocation, PostNotifications})
	require.Equal(t, [][]Permission{
		{CoarseLocation, FineLocation},
		{BluetoothScan},
		{PostNotifications},
	}, pages)

	require.Equal(t, [][]Permission{{FineLocation}}, catalog.Pages([]Permission{FineLocation}))
	require.Empty(t, catalog.Pages(nil))
}

func TestParseCatalogReadsPageKeys(t *testing.T) {
	catalog, err := ParseCatalog(`
[[requirement]]
permission = "a"
page = "pair"
[[requirement]]
permission = "b"
[[requirement]]
permission = "c"
page = "pair"
`)
	require.NoError(t, err)
	require.Equal(t, [][]Permission{{"a", "c"}, {"b"}}, catalog.Pages([]Permission{"a", "b", "c"}))
}

func TestParseCatalogRejectsInvalidTables(t *testing.T) {
	cases := map[string]string{
		"empty id": `
[[requirement]]
permission = ""
`,
		"duplicate": `
[[requirement]]
permission = "a"
[[requirement]]
permission = "a"
`,
		"negative version": `
[[requirement]]
permission = "a"
min_platform_version = -1
`,
		"syntax": `[[requirement`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCatalog(doc)
			require.ErrorIs(t, err, ErrInvalidCatalog)
		})
	}
}

func TestCatalogAllReturnsCopy(t *testing.T) {
	catalog, err := NewCatalog(Requirement{Permission: "a"})
	require.NoError(t, err)

	all := catalog.All()
	all[0].Permission = "mutated"
	require.Equal(t, Permission("a"), catalog.All()[0].Permission)
}

func permissionsOf(reqs []Requirement) []Permission {
	out := make([]Permission, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, r.Permission)
	}
	return out
}
