package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/require"
	"golang.org/x/tools/go/packages"
)

type recorder struct {
	msg string
}

func (r *recorder) Fatalf(format string, args ...any) {
	r.msg = format
	_ = args
}

func writeFile(t *testing.T, dir, name, src string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(src), 0o600))
}

func TestPredicates(t *testing.T) {
	cases := []struct {
		pred func(string) bool
		in   string
		want bool
	}{
		{InternalImportForbidden, "tomscore/internal/core", true},
		{InternalImportForbidden, "tomscore/pkg/domain", false},
		{InternalImportForbidden, "internal", false},
		{InternalImportForbidden, "crypto/internal/fips140/aes", false},
		{InternalImportForbidden, "github.com/google/cel-go/common/internal/x", false},
		{InternalImportForbidden, "example.com/mod/internal/x", false},
		{DriverImportForbidden, "modernc.org/sqlite", true},
		{DriverImportForbidden, "modernc.org/sqlite/lib", true},
		{DriverImportForbidden, "github.com/jackc/pgx/v5/stdlib", true},
		{DriverImportForbidden, "modernc.org/sqlitex", false},
		{DriverImportForbidden, "database/sql", false},
	}
	for _, c := range cases {
		require.Equal(t, c.want, c.pred(c.in), c.in)
	}
	combined := AnyOf(InternalImportForbidden, DriverImportForbidden)
	require.True(t, combined("tomscore/internal/query"))
	require.True(t, combined("github.com/jackc/pgx/v5"))
	require.False(t, combined("github.com/paulmach/orb"))
}

func TestDirectImportViolations(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.go", "package tmp\nimport (\n\t\"fmt\"\n\talias \"tomscore/internal/core\"\n)\nvar _ = fmt.Sprint\nvar _ = alias.StoreTiles\n")
	writeFile(t, dir, "a_test.go", "package tmp\nimport \"tomscore/internal/query\"\n")
	writeFile(t, dir, "notes.txt", "import \"tomscore/internal/x\"")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o750))
	writeFile(t, filepath.Join(dir, "sub"), "b.go", "package sub\nimport \"tomscore/internal/config\"\n")

	viols, err := directImportViolations(dir, InternalImportForbidden)
	require.NoError(t, err)
	require.Equal(t, []string{"tomscore/internal/core (in a.go)"}, viols)

	AssertNoDirectImports(t, dir, func(string) bool { return false }, "none")
}

func TestDirectImportViolationsParseError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bad.go", "not go")
	_, err := directImportViolations(dir, InternalImportForbidden)
	require.Error(t, err)
}

func TestTransitiveDependencyViolations(t *testing.T) {
	orig := loadPackages
	t.Cleanup(func() { loadPackages = orig })

	driver := &packages.Package{PkgPath: "modernc.org/sqlite"}
	store := &packages.Package{PkgPath: "tomscore/internal/infra/persistence/sqlite", Imports: map[string]*packages.Package{"modernc.org/sqlite": driver}}
	root := &packages.Package{PkgPath: "tomscore/cmd/tomsctl", Imports: map[string]*packages.Package{
		"tomscore/internal/infra/persistence/sqlite": store,
		"modernc.org/sqlite":                          driver,
	}}
	loadPackages = func(string) ([]*packages.Package, error) { return []*packages.Package{root}, nil }

	viols, err := transitiveDependencyViolations("./...", DriverImportForbidden)
	require.NoError(t, err)
	require.Equal(t, []string{"modernc.org/sqlite"}, viols)

	viols, err = transitiveDependencyViolations("./...", InternalImportForbidden)
	require.NoError(t, err)
	require.Equal(t, []string{"tomscore/internal/infra/persistence/sqlite"}, viols)

	stdlib := &packages.Package{PkgPath: "crypto/internal/boring"}
	domainPkg := &packages.Package{PkgPath: "tomscore/pkg/domain", Imports: map[string]*packages.Package{"crypto/internal/boring": stdlib}}
	loadPackages = func(string) ([]*packages.Package, error) { return []*packages.Package{domainPkg}, nil }
	viols, err = transitiveDependencyViolations("tomscore/pkg/domain", AnyOf(InternalImportForbidden, DriverImportForbidden))
	require.NoError(t, err)
	require.Empty(t, viols, "standard library internals are not module internals")
}

func TestTransitiveDependencyLoadFailures(t *testing.T) {
	orig := loadPackages
	t.Cleanup(func() { loadPackages = orig })

	loadPackages = func(string) ([]*packages.Package, error) { return nil, errors.New("boom") }
	_, err := transitiveDependencyViolations(".", DriverImportForbidden)
	require.Error(t, err)

	loadPackages = func(string) ([]*packages.Package, error) { return nil, nil }
	_, err = transitiveDependencyViolations(".", DriverImportForbidden)
	require.ErrorContains(t, err, "matched no packages")

	broken := &packages.Package{PkgPath: "x", Errors: []packages.Error{{Msg: "no Go files"}}}
	loadPackages = func(string) ([]*packages.Package, error) { return []*packages.Package{broken}, nil }
	_, err = transitiveDependencyViolations(".", DriverImportForbidden)
	require.ErrorContains(t, err, "no Go files")
}

func TestFailIfViolations(t *testing.T) {
	var r recorder
	failIfViolations(&r, "forbidden direct imports", "reason", nil)
	require.Empty(t, r.msg)
	failIfViolations(&r, "forbidden direct imports", "reason", []string{"x"})
	require.NotEmpty(t, r.msg)
}
