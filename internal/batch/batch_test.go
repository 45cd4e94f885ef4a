package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/agentic-research/stacgen/api"
	"github.com/agentic-research/stacgen/internal/catalog"
	"github.com/agentic-research/stacgen/internal/ingest"
	"github.com/agentic-research/stacgen/internal/metrics"
	"github.com/agentic-research/stacgen/internal/rules"
	"github.com/agentic-research/stacgen/internal/stac"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ruleSet = `metadata;file;mappings;datatype
id;MTD.xml;/product/id;String
datetime;MTD.xml;/product/start;DateTimeOffset
collection;static;sentinel-2-l2a;String
platform;MTD.xml;lower(/product/platform);String
asset:metadata;static;MTD.xml;String
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// fixture lays out a routing table with one rule set and returns the
// routing path and the directory products go in.
func fixture(t *testing.T, rows string) (routing, products string) {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "rules/s2.csv", rows)
	routing = writeFile(t, dir, "rules/routing.csv", "product_type;pattern;rule_sets\nS2MSI2A;S2?_MSIL2A_*.SAFE;s2.csv\n")
	return routing, filepath.Join(dir, "products")
}

func addProduct(t *testing.T, dir, name string) string {
	t.Helper()
	id := name[:len(name)-len(filepath.Ext(name))]
	writeFile(t, dir, filepath.Join(name, "MTD.xml"), fmt.Sprintf(
		`<product><id>%s</id><start>2024-01-01T10:10:10Z</start><platform>SENTINEL-2B</platform></product>`, id))
	return filepath.Join(dir, name)
}

func newPipeline(t *testing.T, routing string) *Pipeline {
	t.Helper()
	table, err := rules.LoadTable(routing)
	require.NoError(t, err)
	return &Pipeline{
		Router: rules.NewRouter(table, rules.NewCache(), nil),
		Engine: ingest.NewEngine(ingest.Options{Checksums: true}),
	}
}

func TestPipeline_Generate(t *testing.T) {
	routing, dir := fixture(t, ruleSet)
	product := addProduct(t, dir, "S2B_MSIL2A_20240101T101010.SAFE")
	p := newPipeline(t, routing)

	res, err := p.Generate(context.Background(), product, "")
	require.NoError(t, err)
	assert.Equal(t, "S2MSI2A", res.ProductType)
	assert.Equal(t, "S2B_MSIL2A_20240101T101010", res.Document.ID)
	assert.Equal(t, "sentinel-2b", res.Document.Properties["platform"])
	assert.Equal(t, "2024-01-01T10:10:10Z", res.Document.Properties["datetime"])

	asset, ok := res.Document.Assets.Get("metadata")
	require.True(t, ok)
	assert.Equal(t, "MTD.xml", asset["href"])
	assert.Contains(t, asset, "file:checksum")
	assert.Contains(t, asset, "file:size")
}

func TestPipeline_RemoteContext(t *testing.T) {
	routing, dir := fixture(t, ruleSet)
	product := addProduct(t, dir, "S2B_MSIL2A_20240101T101010.SAFE")
	p := newPipeline(t, routing)
	calls := 0
	p.Remote = stac.RemoteFunc(func(_ context.Context, path string) (*stac.RemoteContext, error) {
		calls++
		return &stac.RemoteContext{ID: "abc", Name: filepath.Base(path), S3Path: "/eodata/x", ZipperURL: "https://zipper"}, nil
	})

	res, err := p.Generate(context.Background(), product, "")
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	asset, _ := res.Document.Assets.Get("metadata")
	assert.Equal(t, "https://zipper/odata/v1/Products(abc)/Nodes(S2B_MSIL2A_20240101T101010.SAFE)/Nodes(MTD.xml)/$value", asset["href"])
	_, ok := res.Document.Assets.Get("product")
	assert.True(t, ok)
}

func TestPipeline_ExplicitTypeUnknown(t *testing.T) {
	routing, dir := fixture(t, ruleSet)
	product := addProduct(t, dir, "S2B_MSIL2A_20240101T101010.SAFE")
	_, err := newPipeline(t, routing).Resolve(context.Background(), product, "S1GRD")
	assert.True(t, api.IsConfiguration(err))
}

func TestRunner_ContinuesPastProductFailures(t *testing.T) {
	routing, dir := fixture(t, ruleSet)
	good1 := addProduct(t, dir, "S2A_MSIL2A_20240101T000000.SAFE")
	good2 := addProduct(t, dir, "S2B_MSIL2A_20240102T000000.SAFE")
	unknown := addProduct(t, dir, "LC08_L2SP_001002.SAFE")
	empty := filepath.Join(dir, "S2B_MSIL2A_20240103T000000.SAFE")
	require.NoError(t, os.MkdirAll(empty, 0o755))

	out := t.TempDir()
	sink, err := NewDirSink(out)
	require.NoError(t, err)
	dbPath := filepath.Join(t.TempDir(), "items.db")
	writer, err := catalog.NewWriter(dbPath, nil)
	require.NoError(t, err)
	m := metrics.New()

	r := &Runner{
		Pipeline:    newPipeline(t, routing),
		Concurrency: 3,
		Sinks:       []Sink{sink, writer},
		Metrics:     m,
	}
	report, err := r.Run(context.Background(), []string{good1, unknown, good2, empty})
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	assert.NotEmpty(t, report.RunID)
	require.Len(t, report.Succeeded, 2)
	assert.Equal(t, "S2A_MSIL2A_20240101T000000", report.Succeeded[0].ID)
	require.Len(t, report.Failed, 2)
	assert.Equal(t, unknown, report.Failed[0].Product)
	assert.True(t, errors.Is(report.Failed[0].Err, rules.ErrUnknownProduct))
	assert.Equal(t, empty, report.Failed[1].Product)
	assert.Error(t, report.Err())

	raw, err := os.ReadFile(filepath.Join(out, "S2B_MSIL2A_20240102T000000.json"))
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, "Feature", doc["type"])

	stored, err := catalog.Load(dbPath)
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	families, err := m.Registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestRunner_InvalidRuleSetAbortsBeforeWork(t *testing.T) {
	for name, rules := range map[string]string{
		"unknown datatype": "metadata;file;mappings;datatype\nid;MTD.xml;/product/id;Text\n",
		"invalid xpath":    ruleSet + "title;MTD.xml;/product/@@id;String\n",
	} {
		t.Run(name, func(t *testing.T) {
			routing, dir := fixture(t, rules)
			product := addProduct(t, dir, "S2B_MSIL2A_20240101T101010.SAFE")

			out := t.TempDir()
			sink, err := NewDirSink(out)
			require.NoError(t, err)
			r := &Runner{Pipeline: newPipeline(t, routing), Concurrency: 2, Sinks: []Sink{sink}}
			report, err := r.Run(context.Background(), []string{product})
			require.Error(t, err)
			assert.True(t, api.IsConfiguration(err))
			assert.Empty(t, report.Succeeded)
			assert.Empty(t, report.Failed)

			entries, err := os.ReadDir(out)
			require.NoError(t, err)
			assert.Empty(t, entries)
		})
	}
}

func TestRunner_ConfigurationErrorMidRunCancels(t *testing.T) {
	// the pattern is only compiled when a product is queried
	routing, dir := fixture(t, ruleSet+"title;MTD.xml;regex(/product/id, '(');String\n")
	var products []string
	for i := 0; i < 5; i++ {
		products = append(products, addProduct(t, dir, fmt.Sprintf("S2B_MSIL2A_2024010%dT000000.SAFE", i)))
	}

	r := &Runner{Pipeline: newPipeline(t, routing), Concurrency: 1}
	report, err := r.Run(context.Background(), products)
	require.Error(t, err)
	assert.True(t, api.IsConfiguration(err))
	assert.Empty(t, report.Succeeded)
	assert.Len(t, report.Failed, 1)
	assert.Equal(t, 4, report.Skipped)
}

func TestRunner_CancelledContext(t *testing.T) {
	routing, dir := fixture(t, ruleSet)
	product := addProduct(t, dir, "S2B_MSIL2A_20240101T101010.SAFE")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := &Runner{Pipeline: newPipeline(t, routing)}
	report, err := r.Run(ctx, []string{product})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, report.Skipped)
}

func TestDirSink_RejectsUnsafeIDs(t *testing.T) {
	sink, err := NewDirSink(t.TempDir())
	require.NoError(t, err)
	for _, id := range []string{"", "..", "a/b"} {
		assert.Error(t, sink.Put("p", &stac.Document{ID: id}), id)
	}
}

func TestRunner_SinkFailureWithdrawsEarlierWrites(t *testing.T) {
	routing, dir := fixture(t, ruleSet)
	product := addProduct(t, dir, "S2B_MSIL2A_20240101T101010.SAFE")

	out := t.TempDir()
	sink, err := NewDirSink(out)
	require.NoError(t, err)
	writer, err := catalog.NewWriter(filepath.Join(t.TempDir(), "items.db"), nil)
	require.NoError(t, err)
	// a closed writer rejects every Put
	require.NoError(t, writer.Close())

	r := &Runner{Pipeline: newPipeline(t, routing), Sinks: []Sink{sink, writer}}
	report, err := r.Run(context.Background(), []string{product})
	require.NoError(t, err)
	assert.Empty(t, report.Succeeded)
	require.Len(t, report.Failed, 1)
	assert.ErrorContains(t, report.Failed[0].Err, "write item S2B_MSIL2A_20240101T101010")

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	assert.Empty(t, entries, "the item file is withdrawn when a later sink fails")
}

func TestDirSink_Remove(t *testing.T) {
	sink, err := NewDirSink(t.TempDir())
	require.NoError(t, err)
	doc := &stac.Document{ID: "S2B_MSIL2A_20240101T101010"}
	require.NoError(t, sink.Put("p", doc))
	require.FileExists(t, filepath.Join(sink.Dir, doc.ID+".json"))

	require.NoError(t, sink.Remove("p", doc))
	assert.NoFileExists(t, filepath.Join(sink.Dir, doc.ID+".json"))
	assert.NoError(t, sink.Remove("p", doc), "removing twice is fine")
	assert.Error(t, sink.Remove("p", &stac.Document{ID: "a/b"}))
}
