// Package sheet implements the filename grammar for uploaded mine-plan maps.
//
// Uploaded archives are named [SeamID]_[SheetNumber][suffix].zip where the
// seam id is mandatory and the sheet number is exactly 6 digits directly
// after the first underscore, written either as XXXXXX or as XX_XXXX (two
// digits, a single optional separator, four digits).
package sheet

import (
	"fmt"
	"regexp"
	"strings"
)

// Sheet is the identity parsed from a map filename.
type Sheet struct {
	SeamID string
	Number string // always 6 digits
}

type failReason int

const (
	noUnderscore failReason = iota
	noSeamID
	noSheetPart
	noDigits
	wrongDigitCount
	wrongPosition
)

// FormatError describes why a filename does not match the expected grammar.
// The message is shown verbatim to the uploading user.
type FormatError struct {
	Filename   string
	reason     failReason
	digitCount int
}

func (e *FormatError) Error() string {
	switch e.reason {
	case noUnderscore:
		return fmt.Sprintf("invalid filename format: '%s'. Missing mandatory underscore separator. "+
			"Expected format: [seamID]_[SheetNumber].zip (e.g., '16516_433857.zip')", e.Filename)
	case noSeamID:
		return fmt.Sprintf("invalid filename format: '%s'. Missing mandatory seam ID before underscore. "+
			"Expected format: [seamID]_[SheetNumber].zip (e.g., '16516_433857.zip')", e.Filename)
	case noSheetPart:
		return fmt.Sprintf("invalid filename format: '%s'. Missing sheet number after underscore. "+
			"Expected format: [seamID]_[SheetNumber].zip (e.g., '16516_433857.zip')", e.Filename)
	case noDigits:
		return fmt.Sprintf("invalid filename format: '%s'. No digits found in sheet number part. "+
			"Sheet number must be exactly 6 digits in format XXXXXX or XX_XXXX.", e.Filename)
	case wrongDigitCount:
		return fmt.Sprintf("invalid filename format: '%s'. Sheet number must be exactly 6 digits, found %d digits. "+
			"Expected format: [seamID]_[SheetNumber].zip (e.g., '16516_433857.zip' or '16516_43_3857.zip')",
			e.Filename, e.digitCount)
	default:
		return fmt.Sprintf("invalid filename format: '%s'. Sheet number format is incorrect. "+
			"Expected 6 digits immediately after first underscore in format XXXXXX or XX_XXXX. "+
			"Valid examples: '16516_433857.zip' or '16516_43_3857.zip'", e.Filename)
	}
}

// sheetNumberRe accepts both written forms. The XXXXXX form is the XX_XXXX
// form with an empty separator, so a single pattern covers both.
var (
	sheetNumberRe = regexp.MustCompile(`^(?P<High>\d{2})\D?(?P<Low>\d{4})(?:\D|$)`)
	digitRunRe    = regexp.MustCompile(`\d+`)
)

// Parse extracts the seam id and 6-digit sheet number from a map filename.
func Parse(filename string) (*Sheet, error) {
	name := stripExtension(filename)

	if !strings.Contains(name, "_") {
		return nil, &FormatError{Filename: filename, reason: noUnderscore}
	}

	parts := strings.SplitN(name, "_", 2)
	if parts[0] == "" {
		return nil, &FormatError{Filename: filename, reason: noSeamID}
	}
	if len(parts) < 2 || parts[1] == "" {
		return nil, &FormatError{Filename: filename, reason: noSheetPart}
	}

	seamID := parts[0]
	sheetPart := parts[1]

	if res := sheetNumberRe.FindStringSubmatch(sheetPart); res != nil {
		number := res[sheetNumberRe.SubexpIndex("High")] + res[sheetNumberRe.SubexpIndex("Low")]
		return &Sheet{SeamID: seamID, Number: number}, nil
	}

	return nil, diagnose(filename, sheetPart)
}

// diagnose builds a FormatError explaining which grammar rule failed.
func diagnose(filename string, sheetPart string) *FormatError {
	digitRuns := digitRunRe.FindAllString(sheetPart, -1)
	if digitRuns == nil {
		return &FormatError{Filename: filename, reason: noDigits}
	}

	total := 0
	for _, run := range digitRuns {
		total += len(run)
	}
	if total != 6 {
		return &FormatError{Filename: filename, reason: wrongDigitCount, digitCount: total}
	}

	return &FormatError{Filename: filename, reason: wrongPosition}
}

// stripExtension removes the final extension only, so names with embedded
// dots keep everything up to the last one.
func stripExtension(filename string) string {
	if idx := strings.LastIndex(filename, "."); idx >= 0 {
		return filename[:idx]
	}
	return filename
}
