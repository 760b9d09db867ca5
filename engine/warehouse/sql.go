package warehouse

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// vectorLiteral renders an embedding as "[0.1,0.2,...]". The same text is
// a pgvector input literal and, bracket for bracket, a BigQuery array
// literal.
func vectorLiteral(v []float32) string {
	if len(v) == 0 {
		return "[]"
	}
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// formatBQTimestamp renders a time for BigQuery's TIMESTAMP() constructor.
func formatBQTimestamp(t time.Time) string {
	return t.UTC().Truncate(time.Microsecond).Format("2006-01-02 15:04:05.999999")
}

func buildSchema(driver, table string, dims int) []string {
	if driver == DriverBigQuery {
		return []string{fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	law_no STRING NOT NULL,
	law_name STRING,
	chunk_index INT64 NOT NULL,
	law_content STRING,
	embedding ARRAY<FLOAT64>,
	embedded_at TIMESTAMP
)`, table)}
	}
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	law_no TEXT NOT NULL,
	law_name TEXT NOT NULL DEFAULT '',
	chunk_index BIGINT NOT NULL,
	law_content TEXT NOT NULL DEFAULT '',
	embedding vector(%d) NOT NULL,
	embedded_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (law_no, chunk_index)
)`, table, dims),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_law_no ON %s(law_no)", table, table),
	}
}

// buildUpsertBigQuery merges records through a UNION ALL source table.
// Embeddings and timestamps do not bind as parameters through the
// BigQuery driver, so they are inlined as an array literal and a
// TIMESTAMP() expression.
func buildUpsertBigQuery(table string, records []Record) (string, []any) {
	selects := make([]string, 0, len(records))
	args := make([]any, 0, len(records)*5)
	for _, r := range records {
		selects = append(selects,
			"SELECT ? AS law_no, ? AS law_name, ? AS chunk_index, ? AS law_content, "+
				vectorLiteral(r.Embedding)+" AS embedding, TIMESTAMP(?) AS embedded_at")
		args = append(args, r.LawNo, r.LawName, r.ChunkIndex, r.Content, formatBQTimestamp(r.EmbeddedAt))
	}
	query := "MERGE " + table + ` T
USING (` + strings.Join(selects, " UNION ALL ") + `) S
ON T.law_no = S.law_no AND T.chunk_index = S.chunk_index
WHEN MATCHED THEN UPDATE SET law_name = S.law_name, law_content = S.law_content, embedding = S.embedding, embedded_at = S.embedded_at
WHEN NOT MATCHED THEN INSERT (law_no, law_name, chunk_index, law_content, embedding, embedded_at)
VALUES (S.law_no, S.law_name, S.chunk_index, S.law_content, S.embedding, S.embedded_at)`
	return query, args
}

func buildUpsertPostgres(table string, records []Record) (string, []any) {
	values := make([]string, 0, len(records))
	args := make([]any, 0, len(records)*6)
	for i, r := range records {
		base := i * 6
		values = append(values, fmt.Sprintf("($%d,$%d,$%d,$%d,$%d::vector,$%d)",
			base+1, base+2, base+3, base+4, base+5, base+6))
		args = append(args, r.LawNo, r.LawName, r.ChunkIndex, r.Content,
			vectorLiteral(r.Embedding), r.EmbeddedAt)
	}
	query := "INSERT INTO " + table + ` (law_no, law_name, chunk_index, law_content, embedding, embedded_at)
VALUES ` + strings.Join(values, ",") + `
ON CONFLICT (law_no, chunk_index) DO UPDATE SET
	law_name = EXCLUDED.law_name,
	law_content = EXCLUDED.law_content,
	embedding = EXCLUDED.embedding,
	embedded_at = EXCLUDED.embedded_at`
	return query, args
}

// buildSearchBigQuery scores every row against the inlined query vector,
// then filters and orders by similarity. Args: minSimilarity, topK.
func buildSearchBigQuery(table string, embedding []float32) string {
	return `WITH scored AS (
	SELECT law_no, law_name, chunk_index, law_content,
		1 - ML.DISTANCE(embedding, ` + vectorLiteral(embedding) + `, 'COSINE') AS similarity
	FROM ` + table + `
)
SELECT law_no, law_name, chunk_index, law_content, similarity
FROM scored
WHERE similarity > ?
ORDER BY similarity DESC
LIMIT ?`
}

// buildSearchPostgres uses the pgvector cosine distance operator.
// Args: vector literal, minSimilarity, topK.
func buildSearchPostgres(table string) string {
	return `SELECT law_no, law_name, chunk_index, law_content,
	1 - (embedding <=> $1::vector) AS similarity
FROM ` + table + `
WHERE 1 - (embedding <=> $1::vector) > $2
ORDER BY embedding <=> $1::vector
LIMIT $3`
}
