package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"strings"
)

var ErrArchive = errors.New("archive error")

// maxEntrySize bounds the decompressed size of a single extracted entry.
const maxEntrySize = 16 << 20

// MissingEntriesError is returned together with the entries that could be
// read when some of the requested entries are not part of the archive.
type MissingEntriesError struct {
	Names []string
}

func (e *MissingEntriesError) Error() string {
	return fmt.Sprintf("archive entries missing: %s", strings.Join(e.Names, ", "))
}

// Extract reads the named entries of the zip archive in r. Names are matched
// case-insensitively and the result is keyed by the requested name.
func Extract(r io.ReaderAt, size int64, names ...string) (map[string][]byte, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: could not open archive: %w", ErrArchive, err)
	}

	wanted := make(map[string]string, len(names))
	for _, n := range names {
		wanted[strings.ToLower(n)] = n
	}

	ret := make(map[string][]byte, len(names))
	for _, f := range zr.File {
		name, ok := wanted[strings.ToLower(f.Name)]
		if !ok {
			continue
		}
		if _, done := ret[name]; done {
			continue
		}
		content, err := readEntry(f)
		if err != nil {
			return nil, fmt.Errorf("%w: could not read %s: %w", ErrArchive, f.Name, err)
		}
		ret[name] = content
	}

	var missing []string
	for _, n := range names {
		if _, ok := ret[n]; !ok {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return ret, &MissingEntriesError{Names: missing}
	}
	return ret, nil
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	content, err := io.ReadAll(io.LimitReader(rc, maxEntrySize+1))
	if err != nil {
		return nil, err
	}
	if len(content) > maxEntrySize {
		return nil, fmt.Errorf("entry exceeds %d bytes", maxEntrySize)
	}
	return content, nil
}
