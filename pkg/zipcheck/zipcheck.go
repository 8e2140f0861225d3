// Package zipcheck validates uploaded map archives before a presigned upload
// url is issued: the archive must contain exactly one mine-plan image, and a
// JPEG image must carry a world file whose georeferencing matches the sheet
// number encoded in the filename.
package zipcheck

import (
	"archive/zip"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/mra-mines/map-ingestion-service/pkg/models/sheet"
	"github.com/mra-mines/map-ingestion-service/pkg/models/worldfile"
)

// sheetShrinkM shrinks the expected sheet rectangle inwards to tolerate
// edge pixels that fall just outside the mapped area.
const sheetShrinkM = 2

// Report is the outcome of a successful validation.
type Report struct {
	SeamID        string `json:"seamId"`
	FilenameSheet string `json:"filenameSheetNumber"`
	DerivedSheet  string `json:"actualSheetNumber,omitempty"`
	Warning       string `json:"warning,omitempty"`
}

// ValidationError is a user-facing rejection of an uploaded archive.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func invalidf(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// ValidateArchive opens a ZIP archive and runs Validate on it.
func ValidateArchive(ra io.ReaderAt, size int64, originalFilename string) (*Report, error) {
	zr, err := zip.NewReader(ra, size)
	if err != nil {
		return nil, &ValidationError{Reason: "invalid ZIP file"}
	}
	return Validate(zr, originalFilename)
}

// Validate checks structure and georeferencing of an already-opened archive.
// originalFilename is the name the user uploaded under, which carries the
// seam id and sheet number.
func Validate(zr *zip.Reader, originalFilename string) (*Report, error) {
	parsed, err := sheet.Parse(originalFilename)
	if err != nil {
		return nil, err
	}

	image, err := findImage(zr)
	if err != nil {
		return nil, err
	}

	report := &Report{
		SeamID:        parsed.SeamID,
		FilenameSheet: parsed.Number,
	}

	if strings.EqualFold(path.Ext(image.Name), ".tif") {
		// TIFF georeferencing is embedded in the image and validated by the
		// processing task instead.
		report.Warning = "TIF file validation not yet implemented. Upload will proceed but may fail during processing."
		return report, nil
	}

	transform, err := readWorldFile(zr, image.Name)
	if err != nil {
		return nil, err
	}

	if transform.NearOrigin() {
		return nil, &ValidationError{Reason: "georeferencing transformation is invalid (coordinates near origin)"}
	}

	rc, err := image.Open()
	if err != nil {
		return nil, invalidf("could not read image %s: %v", image.Name, err)
	}
	defer rc.Close()

	width, height, err := jpegDimensions(rc)
	if err != nil {
		return nil, invalidf("could not read image dimensions: %v", err)
	}

	derived, err := transform.SheetNumber(width, height)
	if err != nil {
		return nil, invalidf("could not derive sheet number: %v", err)
	}
	report.DerivedSheet = derived

	if derived != parsed.Number {
		return nil, invalidf("sheet number validation failed for '%s': "+
			"extracted sheet number '%s' does not match the georeferenced area. "+
			"The correct sheet number appears to be '%s'. "+
			"Please rename the file to include the correct sheet number.",
			path.Base(image.Name), parsed.Number, derived)
	}

	sheetBounds, err := worldfile.SheetBounds(parsed.Number, sheetShrinkM)
	if err != nil {
		return nil, invalidf("could not compute sheet bounds: %v", err)
	}

	imageBounds := transform.ImageBounds(width, height)
	if !imageBounds.Contains(sheetBounds) {
		return nil, invalidf("image bounds do not contain expected map area for sheet %s. Image: %+v, Expected map: %+v",
			parsed.Number, imageBounds, sheetBounds)
	}

	return report, nil
}

// findImage locates the single image entry in the archive. Hidden files
// (macOS resource forks and the like) are ignored.
func findImage(zr *zip.Reader) (*zip.File, error) {
	var images []*zip.File
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		base := path.Base(f.Name)
		if strings.HasPrefix(base, ".") {
			continue
		}
		switch strings.ToLower(path.Ext(base)) {
		case ".jpg", ".tif":
			images = append(images, f)
		}
	}

	if len(images) == 0 {
		return nil, &ValidationError{Reason: "no image files (.jpg or .tif) found in ZIP"}
	}
	if len(images) > 1 {
		return nil, invalidf("found %d image files in ZIP. Expected exactly 1.", len(images))
	}

	return images[0], nil
}

// readWorldFile finds and parses the world file next to the image. The jgwx
// form takes precedence over jgw.
func readWorldFile(zr *zip.Reader, imageName string) (*worldfile.WorldFile, error) {
	stem := strings.TrimSuffix(imageName, path.Ext(imageName))

	for _, ext := range []string{".jgwx", ".jgw"} {
		for _, f := range zr.File {
			if !strings.EqualFold(f.Name, stem+ext) {
				continue
			}
			rc, err := f.Open()
			if err != nil {
				return nil, invalidf("could not read world file %s: %v", f.Name, err)
			}
			defer rc.Close()

			w, err := worldfile.Parse(rc)
			if err != nil {
				return nil, &ValidationError{Reason: err.Error()}
			}
			return w, nil
		}
	}

	return nil, &ValidationError{Reason: "no world file (.jgw or .jgwx) found for georeferencing"}
}
