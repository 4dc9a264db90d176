package migrations

import (
	"context"
	"path"
	"testing"

	"github.com/bloomnetwork/bloombridge/db"
	"github.com/stretchr/testify/require"
)

func Test001(t *testing.T) {
	dbPath := path.Join(t.TempDir(), "relayerTest001.sqlite")

	err := RunMigrations(dbPath)
	require.NoError(t, err)
	db, err := db.NewSQLiteDB(dbPath)
	require.NoError(t, err)

	ctx := context.Background()
	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)

	_, err = tx.Exec(`
		INSERT INTO cursor (id, last_event_id) VALUES (1, 42);

		INSERT INTO pending_unlock (transaction_id, user_address, amount, leaf, settled)
		VALUES ('0x0000', '0x0000', 100, '0x0000', FALSE);
	`)
	require.NoError(t, err)
	err = tx.Commit()
	require.NoError(t, err)
}
