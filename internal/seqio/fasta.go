// Package seqio reads input sequences from FASTA or raw text.
package seqio

import (
	"bufio"
	"compress/gzip"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
)

// Record is one input sequence.
type Record struct {
	ID       string
	Residues string
}

// Read parses FASTA records from r. Input without any header line is read
// as a single record with the given default id. Whitespace inside sequence
// lines is dropped; case is preserved for the validator to normalize.
func Read(r io.Reader, defaultID string) ([]Record, error) {
	br := bufio.NewReader(r)
	var (
		out    []Record
		cur    *Record
		buf    strings.Builder
		lineNo int
	)
	flush := func() {
		if cur == nil {
			return
		}
		cur.Residues = buf.String()
		out = append(out, *cur)
		buf.Reset()
	}

	for {
		line, err := br.ReadString('\n')
		if err != nil && err != io.EOF {
			return nil, eris.Wrapf(err, "seqio: read line %d", lineNo+1)
		}
		eof := err == io.EOF
		if line == "" && eof {
			break
		}
		lineNo++
		line = strings.TrimRight(line, "\r\n")

		switch {
		case strings.HasPrefix(line, ">"):
			flush()
			fields := strings.Fields(line[1:])
			if len(fields) == 0 {
				return nil, eris.Errorf("seqio: line %d: empty FASTA header", lineNo)
			}
			cur = &Record{ID: fields[0]}
		case strings.HasPrefix(line, ";"):
			// comment
		default:
			chunk := strings.Join(strings.Fields(line), "")
			if chunk == "" {
				break
			}
			if cur == nil {
				cur = &Record{ID: defaultID}
			}
			buf.WriteString(chunk)
		}
		if eof {
			break
		}
	}
	flush()
	return out, nil
}

// ReadFile reads records from path. "-" reads standard input and a ".gz"
// suffix is decompressed.
func ReadFile(path, defaultID string) ([]Record, error) {
	rc, err := open(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close() //nolint:errcheck
	return Read(rc, defaultID)
}

func open(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	fh, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "seqio: open %s", path)
	}
	if !strings.HasSuffix(path, ".gz") {
		return fh, nil
	}
	gr, err := gzip.NewReader(fh)
	if err != nil {
		fh.Close() //nolint:errcheck
		return nil, eris.Wrapf(err, "seqio: gzip %s", path)
	}
	return struct {
		io.Reader
		io.Closer
	}{Reader: gr, Closer: fh}, nil
}
