package sink

import (
	"bytes"
	"fmt"
	"time"

	"shardconsumer/internal/lease"
)

// BuildBulkBuffer serializes a batch of records into the newline-delimited
// bulk-indexing wire format (§6.3): for each record, an index action line
// followed by the record's raw UTF-8 bytes, with a trailing newline.
//
// now is passed in explicitly (rather than read from time.Now() here) so
// callers control the hour bucket used in the index name and so tests can
// assert on a fixed value.
func BuildBulkBuffer(indexPrefix string, records []lease.Record, now time.Time) []byte {
	indexName := fmt.Sprintf("%s_%s", indexPrefix, now.UTC().Format("2006_01_02_15"))

	var buf bytes.Buffer
	for _, r := range records {
		fmt.Fprintf(&buf, `{"index": {"_index": "%s", "_type": "_doc"} }`+"\n", indexName)
		buf.Write(r.Data)
		buf.WriteByte('\n')
	}

	return buf.Bytes()
}

// archivalKey builds the time-partitioned object key (§6.4):
// YYYY/MM/DD/HH/MM/SS/<uuid>.json.
func archivalKey(now time.Time, uuidStr string) string {
	return fmt.Sprintf("%s/%s.json", now.UTC().Format("2006/01/02/15/04/05"), uuidStr)
}
