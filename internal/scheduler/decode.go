package scheduler

import (
	"bufio"
	"bytes"
	"encoding/json"

	"github.com/siftengine/sift/internal/errors"
	"github.com/siftengine/sift/internal/index"
)

// decodeDocuments parses an update file's newline-delimited JSON payload
// into documents, skipping blank lines.
func decodeDocuments(data []byte) ([]index.Document, error) {
	var docs []index.Document
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var doc index.Document
		if err := json.Unmarshal(line, &doc); err != nil {
			return nil, errors.New(errors.CodeMalformedPayload, "malformed update file payload", err)
		}
		docs = append(docs, doc)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.New(errors.CodeMalformedPayload, "malformed update file payload", err)
	}
	return docs, nil
}

// decodeIDs parses an update file holding a JSON array of external
// document ids, used by document-deletion tasks.
func decodeIDs(data []byte) ([]string, error) {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, errors.New(errors.CodeMalformedPayload, "malformed update file payload", err)
	}
	return ids, nil
}
