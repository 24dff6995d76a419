package ingest

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// Text encodings reported in Result.Encoding.
const (
	EncodingUTF8   = "utf-8"
	EncodingLatin1 = "latin-1"
)

// CSVOptions configures the streaming CSV parser.
type CSVOptions struct {
	Delimiter  rune // default ','
	Comment    rune // comment character (0 = none)
	LazyQuotes bool
}

// StreamCSV reads CSV rows from r and sends them to a channel, header
// included. Both channels are closed when processing completes.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		reader := csv.NewReader(r)
		if opts.Delimiter != 0 {
			reader.Comma = opts.Delimiter
		}
		if opts.Comment != 0 {
			reader.Comment = opts.Comment
		}
		reader.LazyQuotes = opts.LazyQuotes
		reader.FieldsPerRecord = -1
		reader.ReuseRecord = false

		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}

			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "csv: read row")
				return
			}

			select {
			case rowCh <- record:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}

// decodeText returns data as UTF-8. Input that is not valid UTF-8 is
// decoded as ISO-8859-1, which accepts every byte sequence.
func decodeText(data []byte) ([]byte, string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if utf8.Valid(data) {
		return data, EncodingUTF8, nil
	}
	out, _, err := transform.Bytes(charmap.ISO8859_1.NewDecoder(), data)
	if err != nil {
		return nil, "", eris.Wrap(err, "csv: decode latin-1")
	}
	return out, EncodingLatin1, nil
}

// ReadCSV parses a transaction CSV.
func ReadCSV(ctx context.Context, r io.Reader, opts Options) (*Result, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrap(err, "csv: read input")
	}
	text, enc, err := decodeText(data)
	if err != nil {
		return nil, err
	}

	rowCh, errCh := StreamCSV(ctx, bytes.NewReader(text), CSVOptions{LazyQuotes: true})
	res, err := collect(ctx, rowCh, opts)
	if err != nil {
		drain(rowCh)
		return nil, err
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	res.Format = FormatCSV
	res.Encoding = enc
	return res, nil
}

func drain(ch <-chan []string) {
	for range ch { //nolint:revive
	}
}
