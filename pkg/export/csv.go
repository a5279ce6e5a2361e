// Package export serializes captured records for download.
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/objones25/go-traffic-monitor/pkg/capture"
)

// Filename is the suggested name for a CSV download.
const Filename = "captured_packets.csv"

// ContentType is the MIME type of the CSV export.
const ContentType = "text/csv"

// Header lists the CSV columns in order.
var Header = []string{
	"timestamp",
	"source",
	"destination",
	"protocol",
	"size",
	"time_relative",
	"src_port",
	"dst_port",
	"tcp_flags",
}

// WriteCSV writes a header row followed by one row per record, preserving
// order. Absent ports and flags are written as empty cells.
func WriteCSV(w io.Writer, records []capture.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("error writing csv header: %w", err)
	}

	row := make([]string, len(Header))
	for i, r := range records {
		row[0] = r.Timestamp.Format(time.RFC3339Nano)
		row[1] = r.Source
		row[2] = r.Destination
		row[3] = string(r.Protocol)
		row[4] = strconv.Itoa(r.Size)
		row[5] = strconv.FormatFloat(r.RelativeTime, 'f', -1, 64)
		row[6], row[7], row[8] = "", "", ""
		if src, dst, ok := r.Ports(); ok {
			row[6] = strconv.Itoa(int(src))
			row[7] = strconv.Itoa(int(dst))
		}
		if flags, ok := r.Flags(); ok {
			row[8] = flags
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("error writing csv row %d: %w", i+1, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// ReadCSV parses a document produced by WriteCSV.
func ReadCSV(r io.Reader) ([]capture.Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(Header)

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("csv is empty")
		}
		return nil, fmt.Errorf("error reading csv header: %w", err)
	}
	for i, name := range Header {
		if header[i] != name {
			return nil, fmt.Errorf("unexpected csv column %d: got %q, want %q", i+1, header[i], name)
		}
	}

	records := make([]capture.Record, 0)
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return nil, fmt.Errorf("error reading csv line %d: %w", line, err)
		}
		record, err := parseRow(row)
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		records = append(records, record)
	}
}

func parseRow(row []string) (capture.Record, error) {
	var r capture.Record
	var err error

	if r.Timestamp, err = time.Parse(time.RFC3339Nano, row[0]); err != nil {
		return r, fmt.Errorf("invalid timestamp: %w", err)
	}
	r.Source = row[1]
	r.Destination = row[2]
	r.Protocol = capture.ProtocolLabel(row[3])
	if r.Size, err = strconv.Atoi(row[4]); err != nil {
		return r, fmt.Errorf("invalid size: %w", err)
	}
	if r.RelativeTime, err = strconv.ParseFloat(row[5], 64); err != nil {
		return r, fmt.Errorf("invalid time_relative: %w", err)
	}

	if row[6] != "" || row[7] != "" {
		src, err := strconv.ParseUint(row[6], 10, 16)
		if err != nil {
			return r, fmt.Errorf("invalid src_port: %w", err)
		}
		dst, err := strconv.ParseUint(row[7], 10, 16)
		if err != nil {
			return r, fmt.Errorf("invalid dst_port: %w", err)
		}
		r.SrcPort, r.DstPort, r.HasPorts = uint16(src), uint16(dst), true
	}

	// TCP rows always carry flags, possibly empty.
	if r.Protocol == capture.ProtocolTCP {
		r.TCPFlags, r.HasTCPFlags = row[8], true
	}
	return r, nil
}
