package sql

// ScanMaps reads every remaining row of the scanner into a column-keyed map.
// Raw []byte cells are copied (database/sql reuses the buffer between rows)
// so a returned map stays valid after the next row is read.
func ScanMaps(rows ColumnScanner) ([]map[string]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(columns))
		for i, c := range columns {
			if raw, ok := values[i].([]byte); ok {
				cp := make([]byte, len(raw))
				copy(cp, raw)
				row[c] = cp
				continue
			}
			row[c] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// ScanValue reads a single-row, single-column result. It returns nil when
// the result set is empty.
func ScanValue(rows ColumnScanner) (any, error) {
	if !rows.Next() {
		return nil, rows.Err()
	}
	var v any
	if err := rows.Scan(&v); err != nil {
		return nil, err
	}
	return v, rows.Err()
}

// ScanInt64 reads a single-row, single-column integer result (COUNT and
// friends). An empty result set yields zero.
func ScanInt64(rows ColumnScanner) (int64, error) {
	if !rows.Next() {
		return 0, rows.Err()
	}
	var n int64
	if err := rows.Scan(&n); err != nil {
		return 0, err
	}
	return n, rows.Err()
}

// ScanNullFloat reads a single-row, single-column nullable float result
// (AVG over zero rows is NULL, not zero).
func ScanNullFloat(rows ColumnScanner) (NullFloat64, error) {
	var f NullFloat64
	if !rows.Next() {
		return f, rows.Err()
	}
	if err := rows.Scan(&f); err != nil {
		return f, err
	}
	return f, rows.Err()
}
