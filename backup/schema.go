package backup

import (
	"strings"

	"github.com/cobalt-tools/sigback/signal"
)

// ColumnType is the declared SQLite type affinity of a table column. It
// only matters for disambiguating a NULL parameter; a present value
// always carries its own type from the wire.
type ColumnType int

const (
	ColumnNone ColumnType = iota
	ColumnText
	ColumnInteger
	ColumnReal
	ColumnBlob
)

// unwrap strips one layer of delim's opening and closing characters from
// around s, if present (e.g. unwrap(`"foo"`, `""`) == "foo").
func unwrap(s, delim string) string {
	s = strings.TrimSpace(s)
	if len(delim) != 2 {
		return s
	}
	if len(s) >= 2 && s[0] == delim[0] && s[len(s)-1] == delim[1] {
		return s[1 : len(s)-1]
	}
	return s
}

// parameterValue converts a decoded SQL parameter into the Go value bound
// into a database/sql query. IntegerParameter is carried as int64 rather
// than the wire's uint64, since the backup format stores signed SQLite
// integers (including -1) in it and the driver rejects uint64 values with
// the high bit set.
func parameterValue(p *signal.SqlParameter, typ ColumnType) interface{} {
	switch p.Kind {
	case signal.ParamString:
		return p.Str
	case signal.ParamInteger:
		return p.Int
	case signal.ParamDouble:
		return p.Dbl
	case signal.ParamBlob:
		return p.Blob
	}

	switch typ {
	case ColumnText:
		return (*string)(nil)
	case ColumnInteger:
		return (*int64)(nil)
	case ColumnReal:
		return (*float64)(nil)
	case ColumnBlob:
		return ([]byte)(nil)
	}
	return nil
}
