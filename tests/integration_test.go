package tests

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/agentic-research/stacgen/internal/batch"
	"github.com/agentic-research/stacgen/internal/catalog"
	"github.com/agentic-research/stacgen/internal/ingest"
	"github.com/agentic-research/stacgen/internal/metrics"
	"github.com/agentic-research/stacgen/internal/rules"
	"github.com/agentic-research/stacgen/internal/stac"
	"github.com/batchatco/go-native-netcdf/netcdf"
	ncapi "github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/batchatco/go-native-netcdf/netcdf/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The shipped example rule sets are exercised against synthetic products
// laid out the way the ground segment delivers them.
var routing = filepath.Join("..", "examples", "rules", "routing.csv")

const (
	s2Name    = "S2B_MSIL2A_20240101T101010_N0510_R022_T32TQM_20240101T120000.SAFE"
	s2Granule = "GRANULE/L2A_T32TQM_A035000_20240101T101010"
	s3Name    = "S3A_OL_1_EFR____20240101T100000_20240101T100300_20240101T120000_0179_107_122_2160_PS1_O_NR_004.SEN3"
)

const s2Metadata = `<?xml version="1.0" encoding="UTF-8"?>
<n1:Level-2A_User_Product xmlns:n1="https://psd-14.sentinel2.eo.esa.int/PSD/User_Product_Level-2A.xsd">
  <n1:General_Info>
    <Product_Info>
      <PRODUCT_START_TIME>2024-01-01T10:10:10.024Z</PRODUCT_START_TIME>
      <PRODUCT_STOP_TIME>2024-01-01T10:10:10.024Z</PRODUCT_STOP_TIME>
      <PRODUCT_URI>` + s2Name + `</PRODUCT_URI>
      <PROCESSING_LEVEL>Level-2A</PROCESSING_LEVEL>
      <PRODUCT_TYPE>S2MSI2A</PRODUCT_TYPE>
      <PROCESSING_BASELINE>05.10</PROCESSING_BASELINE>
      <Datatake>
        <SPACECRAFT_NAME>Sentinel-2B</SPACECRAFT_NAME>
        <SENSING_ORBIT_NUMBER>22</SENSING_ORBIT_NUMBER>
        <SENSING_ORBIT_DIRECTION>DESCENDING</SENSING_ORBIT_DIRECTION>
      </Datatake>
      <Product_Organisation>
        <Granule_List>
          <Granule>
            <IMAGE_FILE>` + s2Granule + `/IMG_DATA/R10m/T32TQM_20240101T101010_B02_10m</IMAGE_FILE>
            <IMAGE_FILE>` + s2Granule + `/IMG_DATA/R10m/T32TQM_20240101T101010_B03_10m</IMAGE_FILE>
            <IMAGE_FILE>` + s2Granule + `/IMG_DATA/R10m/T32TQM_20240101T101010_B04_10m</IMAGE_FILE>
            <IMAGE_FILE>` + s2Granule + `/IMG_DATA/R10m/T32TQM_20240101T101010_TCI_10m</IMAGE_FILE>
            <IMAGE_FILE>` + s2Granule + `/IMG_DATA/R20m/T32TQM_20240101T101010_SCL_20m</IMAGE_FILE>
          </Granule>
        </Granule_List>
      </Product_Organisation>
    </Product_Info>
  </n1:General_Info>
  <n1:Geometric_Info>
    <Product_Footprint>
      <Product_Footprint>
        <Global_Footprint>
          <EXT_POS_LIST>46.0 11.0 46.0 12.4 45.0 12.4 45.0 11.0 46.0 11.0</EXT_POS_LIST>
        </Global_Footprint>
      </Product_Footprint>
    </Product_Footprint>
  </n1:Geometric_Info>
  <n1:Quality_Indicators_Info>
    <Cloud_Coverage_Assessment>12.5</Cloud_Coverage_Assessment>
    <Image_Content_QI>
      <SNOW_ICE_PERCENTAGE>0.75</SNOW_ICE_PERCENTAGE>
    </Image_Content_QI>
  </n1:Quality_Indicators_Info>
</n1:Level-2A_User_Product>
`

const s2Tile = `<?xml version="1.0" encoding="UTF-8"?>
<n1:Level-2A_Tile_ID xmlns:n1="https://psd-14.sentinel2.eo.esa.int/PSD/S2_PDI_Level-2A_Tile_Metadata.xsd">
  <n1:Geometric_Info>
    <Tile_Geocoding>
      <HORIZONTAL_CS_NAME>WGS84 / UTM zone 32N</HORIZONTAL_CS_NAME>
      <HORIZONTAL_CS_CODE>EPSG:32632</HORIZONTAL_CS_CODE>
    </Tile_Geocoding>
  </n1:Geometric_Info>
</n1:Level-2A_Tile_ID>
`

const s3Manifest = `<?xml version="1.0" encoding="UTF-8"?>
<xfdu:XFDU xmlns:xfdu="urn:ccsds:schema:xfdu:1" xmlns:gml="http://www.opengis.net/gml"
  xmlns:sentinel-safe="http://www.esa.int/safe/sentinel/1.1">
  <metadataSection>
    <metadataObject ID="measurementFrameSet">
      <metadataWrap>
        <xmlData>
          <sentinel-safe:frameSet>
            <sentinel-safe:footPrint>
              <gml:posList>40.0 -5.0 40.0 5.0 30.0 5.0 30.0 -5.0</gml:posList>
            </sentinel-safe:footPrint>
          </sentinel-safe:frameSet>
        </xmlData>
      </metadataWrap>
    </metadataObject>
  </metadataSection>
</xfdu:XFDU>
`

func write(t *testing.T, path string, content []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, content, 0o644))
}

func sentinel2(t *testing.T, dir string) string {
	t.Helper()
	root := filepath.Join(dir, s2Name)
	write(t, filepath.Join(root, "MTD_MSIL2A.xml"), []byte(s2Metadata))
	write(t, filepath.Join(root, s2Granule, "MTD_TL.xml"), []byte(s2Tile))
	for _, band := range []string{"R10m/T32TQM_20240101T101010_B02_10m", "R10m/T32TQM_20240101T101010_B03_10m",
		"R10m/T32TQM_20240101T101010_B04_10m", "R10m/T32TQM_20240101T101010_TCI_10m", "R20m/T32TQM_20240101T101010_SCL_20m"} {
		write(t, filepath.Join(root, s2Granule, "IMG_DATA", band+".jp2"), []byte("\x00\x00\x00\x0cjP  "+band))
	}
	return root
}

// olciRadiance writes a NetCDF-4 radiance file carrying the given global
// attributes, the way OLCI Level-1 products ship them.
func olciRadiance(t *testing.T, path string, globals map[string]any) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	w, err := netcdf.OpenWriter(path, netcdf.KindHDF5)
	require.NoError(t, err)

	keys := make([]string, 0, len(globals))
	for k := range globals {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	attrs, err := util.NewOrderedMap(keys, globals)
	require.NoError(t, err)
	require.NoError(t, w.AddAttributes(attrs))

	units, err := util.NewOrderedMap([]string{"units"}, map[string]any{"units": "mW.m-2.sr-1.nm-1"})
	require.NoError(t, err)
	require.NoError(t, w.AddVar("Oa01_radiance", ncapi.Variable{
		Values:     []float32{0, 1, 2, 3},
		Dimensions: []string{"columns"},
		Attributes: units,
	}))
	require.NoError(t, w.Close())
}

func sentinel3(t *testing.T, dir string) string {
	t.Helper()
	root := filepath.Join(dir, s3Name)
	write(t, filepath.Join(root, "xfdumanifest.xml"), []byte(s3Manifest))
	olciRadiance(t, filepath.Join(root, "Oa01_radiance.nc"), map[string]any{
		"product_name":          s3Name,
		"source":                "Sentinel-3A OLCI Ocean Land Colour Instrument",
		"start_time":            "2024-01-01T10:00:00.000000Z",
		"stop_time":             "2024-01-01T10:03:00.000000Z",
		"absolute_orbit_number": int32(41007),
	})
	return root
}

func pipeline(t *testing.T) *batch.Pipeline {
	t.Helper()
	table, err := rules.LoadTable(routing)
	require.NoError(t, err)
	return &batch.Pipeline{
		Router: rules.NewRouter(table, rules.NewCache(), nil),
		Engine: ingest.NewEngine(ingest.Options{Checksums: true}),
	}
}

func TestExampleRuleSetsLoad(t *testing.T) {
	p := pipeline(t)
	require.NoError(t, p.Router.CheckAll())
	assert.ElementsMatch(t, []string{"S2MSI2A", "S2MSI1C", "OL_1_EFR___"}, p.Router.Table().Types())
}

func TestSentinel2L2A(t *testing.T) {
	product := sentinel2(t, t.TempDir())
	res, err := pipeline(t).Generate(context.Background(), product, "")
	require.NoError(t, err)
	doc := res.Document

	assert.Equal(t, "S2MSI2A", res.ProductType)
	assert.Equal(t, strings.TrimSuffix(s2Name, ".SAFE"), doc.ID)
	assert.Equal(t, "sentinel-2-l2a", doc.Collection)
	assert.Equal(t, []float64{11.0, 45.0, 12.4, 46.0}, doc.BBox)
	require.NotNil(t, doc.Geometry)
	assert.Equal(t, "Polygon", doc.Geometry.Type)

	props := doc.Properties
	assert.Equal(t, "sentinel-2b", props["platform"])
	assert.Equal(t, "descending", props["sat:orbit_state"])
	assert.Equal(t, int64(22), props["sat:relative_orbit"])
	assert.InDelta(t, 12.5, props["eo:cloud_cover"], 1e-9)
	assert.InDelta(t, 0.75, props["eo:snow_cover"], 1e-9)
	assert.Equal(t, "EPSG:32632", props["proj:code"])
	assert.Equal(t, "05.10", props["processing:version"])
	assert.Equal(t, "2024-01-01T10:10:10.024Z", props["datetime"])

	for _, ext := range []stac.Extension{stac.EO, stac.Satellite, stac.Projection, stac.Product, stac.Processing, stac.File} {
		assert.Contains(t, doc.StacExtensions, ext.SchemaURL())
	}

	b02, ok := doc.Assets.Get("B02_10m")
	require.True(t, ok)
	assert.Equal(t, s2Granule+"/IMG_DATA/R10m/T32TQM_20240101T101010_B02_10m.jp2", b02["href"])
	assert.Equal(t, "image/jp2", b02["type"])
	assert.Equal(t, []string{"data", "reflectance"}, b02["roles"])
	assert.Contains(t, b02, "file:checksum")

	keys := make([]string, 0, len(doc.Assets))
	for _, a := range doc.Assets {
		keys = append(keys, a.Key)
	}
	assert.Equal(t, []string{"B02_10m", "B03_10m", "B04_10m", "SCL_20m", "TCI_10m", "metadata"}, keys)
}

func TestSentinel3OLCI(t *testing.T) {
	product := sentinel3(t, t.TempDir())
	res, err := pipeline(t).Generate(context.Background(), product, "")
	require.NoError(t, err)
	doc := res.Document

	assert.Equal(t, "OL_1_EFR___", res.ProductType)
	assert.Equal(t, strings.TrimSuffix(s3Name, ".SEN3"), doc.ID)
	assert.Equal(t, "sentinel-3a", doc.Properties["platform"])
	assert.Equal(t, int64(41007), doc.Properties["sat:absolute_orbit"])
	assert.Equal(t, "2024-01-01T10:03:00Z", doc.Properties["end_datetime"])
	assert.Equal(t, []float64{-5.0, 30.0, 5.0, 40.0}, doc.BBox)

	manifest, ok := doc.Assets.Get("manifest")
	require.True(t, ok)
	assert.Equal(t, "xfdumanifest.xml", manifest["href"])
	radiance, ok := doc.Assets.Get("Oa01_radiance")
	require.True(t, ok)
	assert.Equal(t, "application/netcdf", radiance["type"])
}

func TestBatchOverMixedMissions(t *testing.T) {
	dir := t.TempDir()
	products := []string{sentinel2(t, dir), sentinel3(t, dir), filepath.Join(dir, "LC08_L2SP_190029_20240101_02_T1")}
	require.NoError(t, os.MkdirAll(products[2], 0o755))

	out := t.TempDir()
	sink, err := batch.NewDirSink(out)
	require.NoError(t, err)
	dbPath := filepath.Join(t.TempDir(), "items.db")
	writer, err := catalog.NewWriter(dbPath, nil)
	require.NoError(t, err)

	r := &batch.Runner{
		Pipeline:    pipeline(t),
		Concurrency: 2,
		Sinks:       []batch.Sink{sink, writer},
		Metrics:     metrics.New(),
	}
	report, err := r.Run(context.Background(), products)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	assert.Len(t, report.Succeeded, 2)
	require.Len(t, report.Failed, 1)
	assert.ErrorIs(t, report.Failed[0].Err, rules.ErrUnknownProduct)

	var collections []string
	require.NoError(t, catalog.Stream(dbPath, func(e catalog.Entry) error {
		collections = append(collections, e.Collection)
		return nil
	}))
	assert.Equal(t, []string{"sentinel-2-l2a", "sentinel-3-olci-1-efr"}, collections)

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
