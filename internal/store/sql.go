package store

import (
	"fmt"

	"github.com/AdeAdecodes/short/internal"
)

// GroupCountQuery builds the grouped-count statement shared by the SQL stores.
// dim is checked against the known columns before it is spliced in; the link
// id (and limit, when positive) are bound as "?" arguments.
func GroupCountQuery(dim internal.Dimension, limit int) (string, error) {
	if !dim.Valid() {
		return "", fmt.Errorf("count visits by %q: %w", dim, internal.ErrInvalidInput)
	}
	col := string(dim)
	q := "SELECT " + col + " AS value, COUNT(*) AS count, MIN(id) AS first_id" +
		" FROM visits WHERE short_link_id = ? AND " + col + " IS NOT NULL AND " + col + " <> ''" +
		" GROUP BY " + col +
		" ORDER BY count DESC, first_id ASC"
	if limit > 0 {
		q += " LIMIT ?"
	}
	return q, nil
}
