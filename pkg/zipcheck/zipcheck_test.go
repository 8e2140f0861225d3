package zipcheck

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
)

// The fixture maps sheet 433857: a 0.5 m/px image whose top-left corner sits
// at (437900, 358100), so the bottom-left corner lands at (437900, 356900)
// and the image covers the full 2000x1000 m sheet area.
const goodWorldFile = "0.5\n0.0\n0.0\n-0.5\n437900.0\n358100.0\n"

const goodFilename = "16516_433857.zip"

// fakeJPEG produces the minimal byte stream the SOF parser accepts.
func fakeJPEG(width, height int) []byte {
	data := []byte{0xff, 0xd8, 0xff, 0xc0, 0x00, 0x11, 0x08}
	data = binary.BigEndian.AppendUint16(data, uint16(height))
	data = binary.BigEndian.AppendUint16(data, uint16(width))
	return data
}

func makeArchive(t *testing.T, entries map[string][]byte) *bytes.Reader {
	buf := bytes.Buffer{}
	zw := zip.NewWriter(&buf)
	for name, content := range entries {
		w, err := zw.Create(name)
		assert.NoError(t, err)
		_, err = w.Write(content)
		assert.NoError(t, err)
	}
	assert.NoError(t, zw.Close())
	return bytes.NewReader(buf.Bytes())
}

func validate(t *testing.T, filename string, entries map[string][]byte) (*Report, error) {
	ra := makeArchive(t, entries)
	return ValidateArchive(ra, ra.Size(), filename)
}

func TestValidateArchive(t *testing.T) {
	for scenario, fn := range map[string]func(tt *testing.T){
		"valid archive passes":               testValidArchive,
		"jgwx preferred over jgw":            testWorldFilePrecedence,
		"image entry rules":                  testImageEntryRules,
		"tif accepted with warning":          testTifWarning,
		"missing world file":                 testMissingWorldFile,
		"near-origin transform rejected":     testNearOriginRejected,
		"sheet number mismatch":              testSheetMismatch,
		"image must cover the sheet area":    testBoundsCoverage,
		"invalid zip rejected":               testInvalidZip,
	} {
		t.Run(scenario, fn)
	}
}

func testValidArchive(t *testing.T) {
	report, err := validate(t, goodFilename, map[string][]byte{
		"16516_433857.jpg": fakeJPEG(4400, 2400),
		"16516_433857.jgw": []byte(goodWorldFile),
	})
	assert.NoError(t, err)
	assert.Equal(t, "16516", report.SeamID)
	assert.Equal(t, "433857", report.FilenameSheet)
	assert.Equal(t, "433857", report.DerivedSheet)
	assert.Empty(t, report.Warning)
}

func testWorldFilePrecedence(t *testing.T) {
	// The jgw is garbage; validation must not even read it when a jgwx is
	// present.
	report, err := validate(t, goodFilename, map[string][]byte{
		"16516_433857.jpg":  fakeJPEG(4400, 2400),
		"16516_433857.jgw":  []byte("garbage"),
		"16516_433857.jgwx": []byte(goodWorldFile),
	})
	assert.NoError(t, err)
	assert.Equal(t, "433857", report.DerivedSheet)
}

func testImageEntryRules(t *testing.T) {
	_, err := validate(t, goodFilename, map[string][]byte{
		"readme.txt": []byte("no images here"),
	})
	assert.ErrorContains(t, err, "no image files")

	_, err = validate(t, goodFilename, map[string][]byte{
		"a.jpg": fakeJPEG(10, 10),
		"b.jpg": fakeJPEG(10, 10),
	})
	assert.ErrorContains(t, err, "found 2 image files")

	// Hidden entries do not count as images.
	report, err := validate(t, goodFilename, map[string][]byte{
		"__MACOSX/._16516_433857.jpg": {0x00},
		"16516_433857.jpg":            fakeJPEG(4400, 2400),
		"16516_433857.jgw":            []byte(goodWorldFile),
	})
	assert.NoError(t, err)
	assert.Equal(t, "433857", report.DerivedSheet)
}

func testTifWarning(t *testing.T) {
	report, err := validate(t, goodFilename, map[string][]byte{
		"16516_433857.tif": {0x49, 0x49, 0x2a, 0x00},
	})
	assert.NoError(t, err)
	assert.Contains(t, report.Warning, "TIF file validation not yet implemented")
	assert.Empty(t, report.DerivedSheet)
}

func testMissingWorldFile(t *testing.T) {
	_, err := validate(t, goodFilename, map[string][]byte{
		"16516_433857.jpg": fakeJPEG(4400, 2400),
	})
	assert.ErrorContains(t, err, "no world file")
}

func testNearOriginRejected(t *testing.T) {
	_, err := validate(t, goodFilename, map[string][]byte{
		"16516_433857.jpg": fakeJPEG(4400, 2400),
		"16516_433857.jgw": []byte("0.5\n0.0\n0.0\n-0.5\n0.5\n-0.5\n"),
	})
	assert.ErrorContains(t, err, "coordinates near origin")
}

func testSheetMismatch(t *testing.T) {
	_, err := validate(t, "16516_533857.zip", map[string][]byte{
		"16516_533857.jpg": fakeJPEG(4400, 2400),
		"16516_533857.jgw": []byte(goodWorldFile),
	})
	assert.ErrorContains(t, err, "The correct sheet number appears to be '433857'")
}

func testBoundsCoverage(t *testing.T) {
	// Same bottom-left corner, but the image is too narrow to cover the
	// 2000 m sheet width.
	_, err := validate(t, goodFilename, map[string][]byte{
		"16516_433857.jpg": fakeJPEG(1000, 2400),
		"16516_433857.jgw": []byte(goodWorldFile),
	})
	assert.ErrorContains(t, err, "image bounds do not contain expected map area")
}

func testInvalidZip(t *testing.T) {
	notAZip := bytes.NewReader([]byte("definitely not a zip archive"))
	_, err := ValidateArchive(notAZip, notAZip.Size(), goodFilename)
	assert.ErrorContains(t, err, "invalid ZIP file")

	var validationErr *ValidationError
	assert.ErrorAs(t, err, &validationErr)
}
