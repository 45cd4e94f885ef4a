package rules

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/agentic-research/stacgen/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const s2Rules = `metadata;file;mappings;datatype
# identification
id;MTD_MSIL1C.xml;//PRODUCT_URI;String
processingLevel;static;L1C;String
beginningDateTime;MTD_MSIL1C.xml;date_format(//PRODUCT_START_TIME, '%Y-%m-%dT%H:%M:%SZ');DateTimeOffset
coordinates;MTD_MSIL1C.xml;WKT(//Global_Footprint/EXT_POS_LIST);Wkt
asset:B02;static;GRANULE/IMG_DATA/B02.jp2;String
asset:B02:proj:code;static;EPSG:32632;String
`

func TestLoad(t *testing.T) {
	path := writeFile(t, t.TempDir(), "s2.csv", s2Rules)

	rs, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 6, rs.Len())

	assert.Equal(t, "id", rs.Rules[0].Metadata)
	assert.NotNil(t, rs.Rules[0].Expr)
	assert.Equal(t, api.String, rs.Rules[0].Datatype)

	static := rs.Rules[1]
	assert.True(t, static.Static())
	assert.Nil(t, static.Expr)
	assert.Equal(t, "L1C", static.Mappings)
	assert.Contains(t, static.Source, "s2.csv:4")

	assert.Equal(t, api.DateTimeOffset, rs.Rules[2].Datatype)
	assert.Equal(t, "asset:B02:proj:code", rs.Rules[5].Metadata)
}

func TestLoad_Deterministic(t *testing.T) {
	path := writeFile(t, t.TempDir(), "s2.csv", s2Rules)

	a, err := Load(path)
	require.NoError(t, err)
	b, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, len(a.Rules), len(b.Rules))
	for i := range a.Rules {
		assert.Equal(t, a.Rules[i].MappingRule, b.Rules[i].MappingRule)
		assert.Equal(t, a.Rules[i].Source, b.Rules[i].Source)
		if a.Rules[i].Expr != nil {
			assert.Equal(t, a.Rules[i].Expr.String(), b.Rules[i].Expr.String())
		}
	}
}

func TestLoad_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		where   string
	}{
		{"empty file", "", ""},
		{"missing column", "metadata;file;mappings\nid;static;x\n", ":1"},
		{"misordered columns", "file;metadata;mappings;datatype\n", ":1"},
		{"extra column", "metadata;file;mappings;datatype;note\n", ":1"},
		{"short row", "metadata;file;mappings;datatype\nid;static;x\n", ":2"},
		{"empty field", "metadata;file;mappings;datatype\nid;;x;String\n", ":2"},
		{"unknown datatype", "metadata;file;mappings;datatype\nid;static;x;Decimal\n", ":2"},
		{"duplicate key", "metadata;file;mappings;datatype\nid;static;a;String\nid;static;b;String\n", ":3"},
		{"bad asset key", "metadata;file;mappings;datatype\nasset::size;static;1;Int64\n", ":2"},
		{"expression syntax", "metadata;file;mappings;datatype\nid;a.xml;upper(//x;String\n", ":2"},
		{"helper arity", "metadata;file;mappings;datatype\nid;a.xml;replace(//x, 'a');String\n", ":2"},
		{"invalid xpath", "metadata;file;mappings;datatype\nid;static;x;String\nstart;MTD.xml;/root/Time/@@Begin;String\n", ":3"},
		{"invalid xpath inside helper", "metadata;file;mappings;datatype\nid;manifest.safe;upper(//a/@@b);String\n", ":2"},
		{"invalid jsonpath", "metadata;file;mappings;datatype\ntile;meta/*.json;$.tile[abc];String\n", ":2"},
		{"invalid netcdf selector", "metadata;file;mappings;datatype\ntitle;Oa01_radiance.nc;title;String\n", ":2"},
		{"xpath inferred from syntax", "metadata;file;mappings;datatype\nid;MTD_*;/root/Time/@@Begin;String\n", ":2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "rules.csv", tt.content)
			_, err := Load(path)
			require.Error(t, err)
			assert.True(t, api.IsConfiguration(err), "got %v", err)
			assert.Contains(t, err.Error(), "rules.csv"+tt.where)
		})
	}
}

func TestLoad_QueriesPerLanguage(t *testing.T) {
	path := writeFile(t, t.TempDir(), "rules.csv", `metadata;file;mappings;datatype
id;MTD.xml;string(/root/Product/@id);String
coordinates;manifest.safe;WKT(//*[local-name()='posList']);Wkt
tile;meta/*.json;concat('T', $.tile.id);String
title;Oa01_radiance.nc;:title;String
units;Oa01_radiance.nc;Oa01_radiance:units;String
rows;Oa01_radiance.nc;dim/rows;Int64
platform;static;sentinel-2b;String
`)
	rs, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, rs.Len())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.csv"))
	assert.True(t, api.IsConfiguration(err))
}

func setupRouting(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "common.csv", "metadata;file;mappings;datatype\nplatform;static;A;String\nlicense;static;proprietary;String\n")
	writeFile(t, dir, "s2/l1c.csv", "metadata;file;mappings;datatype\nplatform;static;B;String\n")
	writeFile(t, dir, "s3/olci.csv", "metadata;file;mappings;datatype\nid;xfdumanifest.xml;//id;String\n")
	return writeFile(t, dir, "routing.csv", `product_type;pattern;rule_sets
S2MSI1C;S2?_MSIL1C_*.SAFE;common.csv, s2/l1c.csv
S3OLCI;S3?_OL_1_*;s3/olci.csv
MANUAL;;s3/olci.csv
`)
}

func TestLoadTable(t *testing.T) {
	path := setupRouting(t)
	table, err := LoadTable(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"S2MSI1C", "S3OLCI", "MANUAL"}, table.Types())
	e, ok := table.Lookup("S2MSI1C")
	require.True(t, ok)
	require.Len(t, e.RuleSets, 2)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "s2", "l1c.csv"), e.RuleSets[1])
}

func TestLoadTable_Errors(t *testing.T) {
	dir := t.TempDir()
	tests := map[string]string{
		"duplicate type": "product_type;pattern;rule_sets\nA;;a.csv\nA;;b.csv\n",
		"no rule sets":   "product_type;pattern;rule_sets\nA;; , \n",
		"bad pattern":    "product_type;pattern;rule_sets\nA;[a-;a.csv\n",
		"bad header":     "type;pattern;rule_sets\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadTable(writeFile(t, dir, name+".csv", content))
			assert.True(t, api.IsConfiguration(err), "got %v", err)
		})
	}
}

func TestRouter_SelectRuleSet(t *testing.T) {
	table, err := LoadTable(setupRouting(t))
	require.NoError(t, err)
	cache := NewCache()
	r := NewRouter(table, cache, nil)

	rs, err := r.SelectRuleSet("S2MSI1C")
	require.NoError(t, err)
	require.Equal(t, 3, rs.Len())
	assert.Equal(t, "platform", rs.Rules[0].Metadata)
	assert.Equal(t, "platform", rs.Rules[2].Metadata, "override rows follow the shared defaults")
	assert.Len(t, rs.Paths, 2)

	_, err = r.SelectRuleSet("S3OLCI")
	require.NoError(t, err)
	assert.Equal(t, 3, cache.Len())

	_, err = r.SelectRuleSet("S1GRD")
	assert.True(t, api.IsConfiguration(err))
}

func TestRouter_Detect(t *testing.T) {
	table, err := LoadTable(setupRouting(t))
	require.NoError(t, err)
	r := NewRouter(table, nil, nil)

	pt, err := r.Detect("/data/S2B_MSIL1C_20240101T101010_N0510_R022_T32TQM_20240101T120000.SAFE/")
	require.NoError(t, err)
	assert.Equal(t, "S2MSI1C", pt)

	pt, err = r.Detect("S3A_OL_1_EFR____20240101T000000")
	require.NoError(t, err)
	assert.Equal(t, "S3OLCI", pt)

	_, err = r.Detect("/data/LC08_L1TP_001002.tar")
	assert.True(t, errors.Is(err, ErrUnknownProduct))
	assert.False(t, api.IsConfiguration(err))
}

func TestRouter_CheckAll(t *testing.T) {
	path := setupRouting(t)
	table, err := LoadTable(path)
	require.NoError(t, err)
	require.NoError(t, NewRouter(table, nil, nil).CheckAll())

	writeFile(t, filepath.Dir(path), "s3/olci.csv", "metadata;file;mappings;datatype\nid;static;x;Nope\n")
	err = NewRouter(table, nil, nil).CheckAll()
	require.Error(t, err)
	assert.True(t, api.IsConfiguration(err))
	assert.Contains(t, err.Error(), "olci.csv:2")
}

func TestCache_ConcurrentLoads(t *testing.T) {
	path := writeFile(t, t.TempDir(), "s2.csv", s2Rules)
	cache := NewCache()

	var wg sync.WaitGroup
	results := make([]*RuleSet, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rs, err := cache.Get(path)
			assert.NoError(t, err)
			results[i] = rs
		}(i)
	}
	wg.Wait()

	for _, rs := range results {
		require.NotNil(t, rs)
		assert.Equal(t, results[0].Len(), rs.Len())
	}
	assert.Equal(t, 1, cache.Len())
}

func TestCache_Isolated(t *testing.T) {
	path := writeFile(t, t.TempDir(), "s2.csv", s2Rules)
	a, b := NewCache(), NewCache()
	_, err := a.Get(path)
	require.NoError(t, err)
	assert.Equal(t, 1, a.Len())
	assert.Equal(t, 0, b.Len())
}
