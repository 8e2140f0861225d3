package zipcheck

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// jpegDimensions reads width and height from the JPEG SOF header without
// decoding the image.
func jpegDimensions(r io.Reader) (width int, height int, err error) {
	br := bufio.NewReader(r)

	soi := make([]byte, 2)
	if _, err := io.ReadFull(br, soi); err != nil {
		return 0, 0, fmt.Errorf("unexpected end of JPEG file")
	}
	if soi[0] != 0xff || soi[1] != 0xd8 {
		return 0, 0, fmt.Errorf("not a valid JPEG file")
	}

	marker := make([]byte, 2)
	seg := make([]byte, 2)
	for {
		if _, err := io.ReadFull(br, marker); err != nil {
			return 0, 0, fmt.Errorf("unexpected end of JPEG file")
		}
		if marker[0] != 0xff {
			return 0, 0, fmt.Errorf("invalid JPEG marker")
		}

		// SOF0/SOF1/SOF2 carry the frame dimensions.
		if marker[1] == 0xc0 || marker[1] == 0xc1 || marker[1] == 0xc2 {
			// Skip segment length and sample precision.
			if _, err := io.CopyN(io.Discard, br, 3); err != nil {
				return 0, 0, fmt.Errorf("unexpected end of JPEG file")
			}
			dims := make([]byte, 4)
			if _, err := io.ReadFull(br, dims); err != nil {
				return 0, 0, fmt.Errorf("unexpected end of JPEG file")
			}
			height = int(binary.BigEndian.Uint16(dims[0:2]))
			width = int(binary.BigEndian.Uint16(dims[2:4]))
			return width, height, nil
		}

		if _, err := io.ReadFull(br, seg); err != nil {
			return 0, 0, fmt.Errorf("unexpected end of JPEG file")
		}
		segLen := int64(binary.BigEndian.Uint16(seg))
		if segLen < 2 {
			return 0, 0, fmt.Errorf("invalid JPEG segment length")
		}
		if _, err := io.CopyN(io.Discard, br, segLen-2); err != nil {
			return 0, 0, fmt.Errorf("unexpected end of JPEG file")
		}
	}
}
