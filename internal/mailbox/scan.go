package mailbox

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
)

// Record pairs a decoded log line with its parse error, if any. Readers log
// and skip records with a non-nil Err instead of halting the whole scan.
type Record struct {
	Event Event
	Err   error
}

// ReadNew returns every complete event line appended at or after offset,
// along with the offset of the first unconsumed byte. A trailing partial
// line (a writer mid-append) is left for the next call. If the log shrank
// below the offset the cursor resets to the start: logs are append-only, so
// a shorter file means it was recreated.
func (m *Mailbox) ReadNew(offset int64) ([]Record, int64, error) {
	f, err := os.Open(m.path(eventsFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, offset, nil
		}
		return nil, offset, fmt.Errorf("opening event log: %w", err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, offset, fmt.Errorf("checking event log: %w", err)
	}
	if fi.Size() < offset {
		offset = 0
	}
	if fi.Size() == offset {
		return nil, offset, nil
	}

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, offset, fmt.Errorf("seeking event log: %w", err)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, offset, fmt.Errorf("reading event log: %w", err)
	}

	var records []Record
	var consumed int64
	for {
		idx := bytes.IndexByte(data[consumed:], '\n')
		if idx < 0 {
			break
		}
		line := data[consumed : consumed+int64(idx)]
		consumed += int64(idx) + 1
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		ev, err := ParseEvent(line)
		records = append(records, Record{Event: ev, Err: err})
	}
	return records, offset + consumed, nil
}
