package network

import (
	"fmt"
	"net/http"
	"strconv"
)

// Proxy header names, bit-exact per spec.md §6. Origin headers accompany a
// request sent by the node that first created the task; import headers
// accompany the document payload an origin sends to a remote during an
// export.
const (
	HeaderOriginRemote         = "Meili-Proxy-Origin-Remote"
	HeaderOriginTaskUID        = "Meili-Proxy-Origin-Task-Uid"
	HeaderOriginNetworkVersion = "Meili-Proxy-Origin-Network-Version"

	HeaderImportRemote         = "Meili-Proxy-Import-Remote"
	HeaderImportIndex          = "Meili-Proxy-Import-Index"
	HeaderImportDocs           = "Meili-Proxy-Import-Docs"
	HeaderImportIndexCount     = "Meili-Proxy-Import-Index-Count"
	HeaderImportTaskKey        = "Meili-Proxy-Import-Task-Key"
	HeaderImportTotalIndexDocs = "Meili-Proxy-Import-Total-Index-Docs"
)

// Origin identifies the node and task that first created a piece of work,
// threaded through an export so the recipient's own task can attribute
// itself back to the originating task.
type Origin struct {
	Remote         string
	TaskUID        uint64
	NetworkVersion int64
}

// SetOriginHeaders stamps req with this export's origin headers.
func (o Origin) SetOriginHeaders(h http.Header) {
	h.Set(HeaderOriginRemote, o.Remote)
	h.Set(HeaderOriginTaskUID, strconv.FormatUint(o.TaskUID, 10))
	h.Set(HeaderOriginNetworkVersion, strconv.FormatInt(o.NetworkVersion, 10))
}

// OriginFromHeaders parses the origin headers from an incoming request. It
// returns (zero, false, nil) when none of the three headers are present
// (not a proxied request at all), and an error naming the missing member
// when only some are present.
func OriginFromHeaders(h http.Header) (Origin, bool, error) {
	remote := h.Get(HeaderOriginRemote)
	taskUIDStr := h.Get(HeaderOriginTaskUID)
	versionStr := h.Get(HeaderOriginNetworkVersion)

	present := 0
	if remote != "" {
		present++
	}
	if taskUIDStr != "" {
		present++
	}
	if versionStr != "" {
		present++
	}
	if present == 0 {
		return Origin{}, false, nil
	}
	if present != 3 {
		return Origin{}, false, &InconsistentHeadersError{
			Kind:           "origin",
			MissingRemote:  remote == "",
			MissingTaskUID: taskUIDStr == "",
			MissingVersion: versionStr == "",
		}
	}

	taskUID, err := strconv.ParseUint(taskUIDStr, 10, 64)
	if err != nil {
		return Origin{}, false, fmt.Errorf("network: invalid %s header: %w", HeaderOriginTaskUID, err)
	}
	version, err := strconv.ParseInt(versionStr, 10, 64)
	if err != nil {
		return Origin{}, false, fmt.Errorf("network: invalid %s header: %w", HeaderOriginNetworkVersion, err)
	}
	return Origin{Remote: remote, TaskUID: taskUID, NetworkVersion: version}, true, nil
}

// ImportMetadata describes one export's document payload, stamped on the
// request the origin sends to a remote so the remote's recipient task can
// report progress without re-deriving it from the body.
type ImportMetadata struct {
	Remote         string
	Index          string
	Docs           int64
	IndexCount     int
	TaskKey        string
	TotalIndexDocs int64
}

// SetImportHeaders stamps h with this export's import-metadata headers.
func (m ImportMetadata) SetImportHeaders(h http.Header) {
	h.Set(HeaderImportRemote, m.Remote)
	h.Set(HeaderImportIndex, m.Index)
	h.Set(HeaderImportDocs, strconv.FormatInt(m.Docs, 10))
	h.Set(HeaderImportIndexCount, strconv.Itoa(m.IndexCount))
	h.Set(HeaderImportTaskKey, m.TaskKey)
	h.Set(HeaderImportTotalIndexDocs, strconv.FormatInt(m.TotalIndexDocs, 10))
}

// ImportMetadataFromHeaders parses the import-metadata headers from an
// incoming export request. Like OriginFromHeaders, it returns
// (zero, false, nil) when absent and an error when only some are present.
func ImportMetadataFromHeaders(h http.Header) (ImportMetadata, bool, error) {
	fields := map[string]string{
		HeaderImportRemote:         h.Get(HeaderImportRemote),
		HeaderImportIndex:          h.Get(HeaderImportIndex),
		HeaderImportDocs:           h.Get(HeaderImportDocs),
		HeaderImportIndexCount:     h.Get(HeaderImportIndexCount),
		HeaderImportTaskKey:        h.Get(HeaderImportTaskKey),
		HeaderImportTotalIndexDocs: h.Get(HeaderImportTotalIndexDocs),
	}
	present := 0
	for _, v := range fields {
		if v != "" {
			present++
		}
	}
	if present == 0 {
		return ImportMetadata{}, false, nil
	}
	if present != len(fields) {
		missing := make([]string, 0, len(fields))
		for k, v := range fields {
			if v == "" {
				missing = append(missing, k)
			}
		}
		return ImportMetadata{}, false, &InconsistentHeadersError{Kind: "import", Missing: missing}
	}

	docs, err := strconv.ParseInt(fields[HeaderImportDocs], 10, 64)
	if err != nil {
		return ImportMetadata{}, false, fmt.Errorf("network: invalid %s header: %w", HeaderImportDocs, err)
	}
	indexCount, err := strconv.Atoi(fields[HeaderImportIndexCount])
	if err != nil {
		return ImportMetadata{}, false, fmt.Errorf("network: invalid %s header: %w", HeaderImportIndexCount, err)
	}
	totalDocs, err := strconv.ParseInt(fields[HeaderImportTotalIndexDocs], 10, 64)
	if err != nil {
		return ImportMetadata{}, false, fmt.Errorf("network: invalid %s header: %w", HeaderImportTotalIndexDocs, err)
	}

	return ImportMetadata{
		Remote:         fields[HeaderImportRemote],
		Index:          fields[HeaderImportIndex],
		Docs:           docs,
		IndexCount:     indexCount,
		TaskKey:        fields[HeaderImportTaskKey],
		TotalIndexDocs: totalDocs,
	}, true, nil
}

// InconsistentHeadersError is returned when a proxied request carries only
// some of a header group, per spec.md §6's
// InconsistentOriginHeaders/InconsistentImportHeaders error pair.
type InconsistentHeadersError struct {
	Kind           string // "origin" or "import"
	MissingRemote  bool
	MissingTaskUID bool
	MissingVersion bool
	Missing        []string // populated for Kind == "import"
}

func (e *InconsistentHeadersError) Error() string {
	if e.Kind == "import" {
		return fmt.Sprintf("network: inconsistent import headers, missing: %v", e.Missing)
	}
	var missing []string
	if e.MissingRemote {
		missing = append(missing, HeaderOriginRemote)
	}
	if e.MissingTaskUID {
		missing = append(missing, HeaderOriginTaskUID)
	}
	if e.MissingVersion {
		missing = append(missing, HeaderOriginNetworkVersion)
	}
	return fmt.Sprintf("network: inconsistent origin headers, missing: %v", missing)
}
