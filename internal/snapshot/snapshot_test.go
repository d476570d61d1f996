package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"etl-catalog/internal/domain"
	"etl-catalog/internal/meta"
	"etl-catalog/internal/table"
)

const ghoCSV = "country,year,deaths,estimated\nFrance,2020,10.5,true\nSpain,2020,,false\n"

var whoOrigin = meta.Origin{
	Producer:      "WHO",
	Title:         "Global Health Observatory",
	URLMain:       "https://www.who.int/data/gho",
	DatePublished: "2024-01-01",
	DateAccessed:  "2024-02-01",
	License:       meta.License{Name: "CC BY 4.0", URL: "https://creativecommons.org/licenses/by/4.0/"},
}

func createGHO(t *testing.T, root string) *Snapshot {
	t.Helper()
	s, err := Create(root, domain.MustParseURI("snapshot://who/2024-01-01/gho.csv"), Meta{Origin: whoOrigin}, strings.NewReader(ghoCSV))
	require.NoError(t, err)
	return s
}

func TestCreateAndLoad(t *testing.T) {
	root := t.TempDir()
	created := createGHO(t, root)
	assert.Equal(t, filepath.Join(root, "who", "2024-01-01", "gho.csv"), created.Path())
	assert.FileExists(t, created.MetadataPath())

	loaded, err := Load(root, created.URI)
	require.NoError(t, err)
	assert.Equal(t, created.Metadata, loaded.Metadata)
	assert.Equal(t, int64(len(ghoCSV)), loaded.Metadata.Outs[0].Size)
	assert.Equal(t, "gho.csv", loaded.Metadata.Outs[0].Path)
	assert.Equal(t, whoOrigin, loaded.Origin())
	assert.Equal(t, whoOrigin.License, loaded.License())
	assert.NoError(t, loaded.Verify())
	assert.True(t, loaded.Materialized())
}

func TestLoad_HandWrittenDVC(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "un", "2024-07-11")
	require.NoError(t, os.MkdirAll(dir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wpp.csv.dvc"), []byte(`
meta:
  origin:
    producer: UN DESA
    title: World Population Prospects
    url_main: https://population.un.org/wpp
  license:
    name: CC BY 3.0 IGO
outs:
  - md5: 0123456789abcdef0123456789abcdef
    size: 12
    path: wpp.csv
`), 0o600))

	s, err := Load(root, domain.MustParseURI("snapshot://un/2024-07-11/wpp.csv"))
	require.NoError(t, err)
	assert.Equal(t, "0123456789abcdef0123456789abcdef", s.MD5())
	assert.Equal(t, meta.License{Name: "CC BY 3.0 IGO"}, s.License())
	assert.Equal(t, "CC BY 3.0 IGO", s.Origin().License.Name, "license fills a missing origin license")
	assert.False(t, s.Materialized())
	require.ErrorIs(t, s.Verify(), os.ErrNotExist)
}

func TestLoad_Errors(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "x", "2024")
	require.NoError(t, os.MkdirAll(dir, 0o750))
	write := func(name, body string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
	}
	write("unknown.csv.dvc", "meta: {}\nouts: [{md5: abc, size: 1, path: unknown.csv}]\nextra: 1\n")
	write("noouts.csv.dvc", "meta: {}\nouts: []\n")
	write("nomd5.csv.dvc", "meta: {}\nouts: [{size: 1, path: nomd5.csv}]\n")

	tests := []struct {
		uri     string
		wantErr string
	}{
		{"snapshot://x/2024/missing.csv", "has no metadata file"},
		{"snapshot://x/2024/unknown.csv", "field extra not found"},
		{"snapshot://x/2024/noouts.csv", "exactly one entry"},
		{"snapshot://x/2024/nomd5.csv", "md5 is empty"},
		{"data://meadow/x/2024/t", "not a snapshot URI"},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			_, err := Load(root, domain.MustParseURI(tt.uri))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestVerify_DetectsTampering(t *testing.T) {
	s := createGHO(t, t.TempDir())
	require.NoError(t, os.WriteFile(s.Path(), []byte("country\nChanged\n"), 0o600))

	err := s.Verify()
	var mismatch *domain.ChecksumMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, s.MD5(), mismatch.Expected)
	assert.Equal(t, "snapshot://who/2024-01-01/gho.csv", mismatch.URI)

	_, err = s.ReadCSV(CSVOptions{})
	require.ErrorAs(t, err, &mismatch)
}

func TestPull(t *testing.T) {
	ctx := context.Background()
	src := createGHO(t, t.TempDir())
	store := NewLocalStore(t.TempDir())
	require.NoError(t, src.Publish(ctx, store))
	assert.FileExists(t, filepath.Join(store.Root, filepath.FromSlash(CacheKey(src.MD5()))))

	// A fresh checkout has the .dvc file but not the data.
	root := t.TempDir()
	dst := &Snapshot{URI: src.URI, Metadata: src.Metadata, root: root}
	require.NoError(t, os.MkdirAll(filepath.Dir(dst.MetadataPath()), 0o750))
	data, err := os.ReadFile(src.MetadataPath())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(dst.MetadataPath(), data, 0o600))

	loaded, err := Load(root, src.URI)
	require.NoError(t, err)
	assert.False(t, loaded.Materialized())

	var nf *domain.NotFoundError
	require.ErrorAs(t, loaded.Pull(ctx, nil), &nf)

	require.NoError(t, loaded.Pull(ctx, store))
	assert.True(t, loaded.Materialized())
	require.NoError(t, loaded.Pull(ctx, store), "already materialized")

	// A corrupt object never replaces the local file.
	require.NoError(t, os.Remove(loaded.Path()))
	require.NoError(t, store.Put(ctx, CacheKey(src.MD5()), strings.NewReader("garbage")))
	var mismatch *domain.ChecksumMismatchError
	require.ErrorAs(t, loaded.Pull(ctx, store), &mismatch)
	assert.NoFileExists(t, loaded.Path())

	require.NoError(t, os.RemoveAll(store.Root))
	require.ErrorAs(t, loaded.Pull(ctx, store), &nf)
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, "md5/01/23456789abcdef0123456789abcdef", CacheKey("0123456789abcdef0123456789abcdef"))
	assert.Equal(t, "md5/ab", CacheKey("ab"))
}

func TestLocalStore_RejectsEscapingKeys(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	for _, key := range []string{"../x", "/etc/passwd", "a/../../x"} {
		_, err := store.Get(context.Background(), key)
		var v *domain.ValidationError
		assert.ErrorAs(t, err, &v, key)
	}
}

func TestReadCSV_AttachesOrigin(t *testing.T) {
	s := createGHO(t, t.TempDir())
	tb, err := s.ReadCSV(CSVOptions{})
	require.NoError(t, err)

	assert.Equal(t, "gho", tb.ShortName())
	assert.Equal(t, 2, tb.NumRows())
	for _, c := range tb.Columns() {
		assert.Equal(t, []meta.Origin{whoOrigin}, c.Meta.Origins, c.Name)
		assert.Equal(t, []meta.License{whoOrigin.License}, c.Meta.Licenses, c.Name)
	}
	deaths, err := tb.Column("deaths")
	require.NoError(t, err)
	assert.Equal(t, table.KindFloat, deaths.Kind)
	assert.Equal(t, []any{10.5, nil}, deaths.Values)
}

func TestParseCSV(t *testing.T) {
	tests := []struct {
		name  string
		input string
		opts  CSVOptions
		kinds map[string]table.Kind
	}{
		{
			name:  "inference",
			input: "i,f,b,s,e\n1,1.5,TRUE,x,\n2,2,false,3,\n",
			kinds: map[string]table.Kind{"i": table.KindInt, "f": table.KindFloat, "b": table.KindBool, "s": table.KindString, "e": table.KindString},
		},
		{
			name:  "forced kinds",
			input: "code,year\n001,2020\n",
			opts:  CSVOptions{Kinds: map[string]table.Kind{"code": table.KindString}},
			kinds: map[string]table.Kind{"code": table.KindString, "year": table.KindInt},
		},
		{
			name:  "semicolon with bom",
			input: "\ufeffcountry;value\nFrance;1\n",
			opts:  CSVOptions{Comma: ';'},
			kinds: map[string]table.Kind{"country": table.KindString, "value": table.KindInt},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tb, err := ParseCSV(strings.NewReader(tt.input), "t", tt.opts)
			require.NoError(t, err)
			got := map[string]table.Kind{}
			for _, c := range tb.Columns() {
				got[c.Name] = c.Kind
			}
			assert.Equal(t, tt.kinds, got)
		})
	}

	tb, err := ParseCSV(strings.NewReader("code\n001\n"), "t", CSVOptions{Kinds: map[string]table.Kind{"code": table.KindString}})
	require.NoError(t, err)
	v, _ := tb.Value(0, "code")
	assert.Equal(t, "001", v)
}

func TestParseCSV_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		opts    CSVOptions
		wantErr string
	}{
		{name: "empty", input: "", wantErr: "no header row"},
		{name: "ragged", input: "a,b\n1\n", wantErr: "wrong number of fields"},
		{name: "duplicate header", input: "a,a\n1,2\n", wantErr: "duplicate column"},
		{name: "forced kind mismatch", input: "a\nx\n", opts: CSVOptions{Kinds: map[string]table.Kind{"a": table.KindInt}}, wantErr: "row 2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCSV(strings.NewReader(tt.input), "t", tt.opts)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
