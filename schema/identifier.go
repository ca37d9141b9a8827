package schema

import (
	"strings"

	"github.com/entitymapper/entitymapper/dialect"
)

// normalizeIdentifier folds name the way each dialect's catalog reports
// unquoted identifiers, so the table/view/column/index checkers can compare
// a declared name against a live one without a false mismatch from case
// alone (§4.6's column/index matching steps).
func normalizeIdentifier(name string, kind dialect.Kind) string {
	switch kind {
	case dialect.FirebirdServer, dialect.FirebirdEmbedded:
		// Firebird folds and stores unquoted identifiers upper-case.
		return strings.ToUpper(name)
	default:
		// information_schema rows come back lower-case for unquoted
		// identifiers on every other dialect this mapper supports.
		return strings.ToLower(name)
	}
}
