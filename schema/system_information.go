package schema

import (
	"context"
	"database/sql"
)

const systemInformationTable = "system_information"

// ensureSystemInformationTable creates the bookkeeping table that stores
// each entity's last-converged declared_version, if it does not already
// exist. Unlike declared entity tables this one is not itself registered —
// the schema engine owns its lifecycle directly.
func (e *Engine) ensureSystemInformationTable(ctx context.Context) error {
	exists, err := e.tableExists(ctx, systemInformationTable)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	quoted := e.translator.QuoteIdentifier(systemInformationTable)
	ddl := "CREATE TABLE " + quoted + " (" +
		e.translator.QuoteIdentifier("entity_name") + " VARCHAR(200) NOT NULL PRIMARY KEY, " +
		e.translator.QuoteIdentifier("declared_version") + " INTEGER NOT NULL)"
	return e.exec(ctx, ddl)
}

// loadVersion returns the stored declared_version for entityName, or
// ok=false if no row exists yet.
func (e *Engine) loadVersion(ctx context.Context, entityName string) (version int, ok bool, err error) {
	quoted := e.translator.QuoteIdentifier(systemInformationTable)
	nameCol := e.translator.QuoteIdentifier("entity_name")
	verCol := e.translator.QuoteIdentifier("declared_version")

	row := e.db.QueryRowContext(ctx, "SELECT "+verCol+" FROM "+quoted+" WHERE "+nameCol+" = "+e.placeholder(0), entityName)
	err = row.Scan(&version)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return version, true, nil
}

// storeVersion upserts entityName's declared_version after a successful
// convergence.
func (e *Engine) storeVersion(ctx context.Context, entityName string, version int) error {
	_, ok, err := e.loadVersion(ctx, entityName)
	if err != nil {
		return err
	}

	quoted := e.translator.QuoteIdentifier(systemInformationTable)
	nameCol := e.translator.QuoteIdentifier("entity_name")
	verCol := e.translator.QuoteIdentifier("declared_version")

	if ok {
		_, err := e.db.ExecContext(ctx, "UPDATE "+quoted+" SET "+verCol+" = "+e.placeholder(0)+" WHERE "+nameCol+" = "+e.placeholder(1), version, entityName)
		return err
	}
	_, err = e.db.ExecContext(ctx, "INSERT INTO "+quoted+" ( "+nameCol+", "+verCol+" ) VALUES ( "+e.placeholder(0)+", "+e.placeholder(1)+" )", entityName, version)
	return err
}

func (e *Engine) tableExists(ctx context.Context, tableName string) (bool, error) {
	row := e.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_NAME = "+e.placeholder(0), tableName)
	var n int
	if err := row.Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}
