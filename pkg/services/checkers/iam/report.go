package iam

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
)

const RootUser = "<root_account>"

// Row is one credential report line keyed by column header.
type Row map[string]string

func (r Row) IsRoot() bool {
	return r["user"] == RootUser
}

// ParseReport decodes the CSV credential report. The first line is the header.
func ParseReport(content []byte) ([]Row, error) {
	reader := csv.NewReader(bytes.NewReader(content))
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credential report header: %w", err)
	}

	var rows []Row
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read credential report: %w", err)
		}

		row := make(Row, len(header))
		for i, column := range header {
			if i < len(record) {
				row[column] = record[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
