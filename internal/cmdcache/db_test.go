package cmdcache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

var testScope = Scope{Organization: "acme", Region: "aws-us-east-1"}

func insert(t *testing.T, db *DB, scope Scope, text string) {
	t.Helper()
	err := db.InsertCommand(context.Background(), &Command{
		SubmittedAt:  time.Now(),
		Organization: scope.Organization,
		Region:       scope.Region,
		CommandText:  text,
	})
	require.NoError(t, err)
}

func TestInsertAndRecent(t *testing.T) {
	db := testDB(t)
	insert(t, db, testScope, "SELECT 1")
	insert(t, db, testScope, "SELECT 2")

	cmds, err := db.RecentCommands(context.Background(), testScope, 10)
	require.NoError(t, err)
	require.Len(t, cmds, 2)
	// Newest first.
	assert.Equal(t, "SELECT 2", cmds[0].CommandText)
	assert.Equal(t, "SELECT 1", cmds[1].CommandText)
}

func TestCapEvictsOldest(t *testing.T) {
	db := testDB(t)
	for i := 0; i < DefaultCap+10; i++ {
		insert(t, db, testScope, fmt.Sprintf("SELECT %d", i))
	}

	cmds, err := db.RecentCommands(context.Background(), testScope, DefaultCap*2)
	require.NoError(t, err)
	require.Len(t, cmds, DefaultCap)

	// The newest survive; the oldest were evicted.
	assert.Equal(t, fmt.Sprintf("SELECT %d", DefaultCap+9), cmds[0].CommandText)
	assert.Equal(t, "SELECT 10", cmds[len(cmds)-1].CommandText)
}

func TestCapIsPerScope(t *testing.T) {
	db := testDB(t)
	other := Scope{Organization: "acme", Region: "aws-eu-west-1"}

	for i := 0; i < DefaultCap; i++ {
		insert(t, db, testScope, fmt.Sprintf("SELECT %d", i))
	}
	insert(t, db, other, "SELECT 'other region'")

	// Filling one scope does not evict another's entries.
	cmds, err := db.RecentCommands(context.Background(), other, 10)
	require.NoError(t, err)
	require.Len(t, cmds, 1)

	mine, err := db.RecentCommands(context.Background(), testScope, DefaultCap*2)
	require.NoError(t, err)
	require.Len(t, mine, DefaultCap)
}

func TestSearchByPrefix(t *testing.T) {
	db := testDB(t)
	insert(t, db, testScope, "SELECT * FROM orders")
	insert(t, db, testScope, "SHOW SOURCES")
	insert(t, db, testScope, "SELECT count(*) FROM orders")

	cmds, err := db.SearchCommands(context.Background(), testScope, "SELECT", 10)
	require.NoError(t, err)
	require.Len(t, cmds, 2)

	cmds, err = db.SearchCommands(context.Background(), testScope, "SHOW", 10)
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.Equal(t, "SHOW SOURCES", cmds[0].CommandText)
}

func TestSearchScoped(t *testing.T) {
	db := testDB(t)
	other := Scope{Organization: "globex", Region: "aws-us-east-1"}
	insert(t, db, testScope, "SELECT 1")
	insert(t, db, other, "SELECT 1")

	cmds, err := db.SearchCommands(context.Background(), testScope, "SELECT", 10)
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.Equal(t, "acme", cmds[0].Organization)
}

func TestRecorderSyncWrite(t *testing.T) {
	db := testDB(t)
	rec := NewRecorder(db, logrus.New())
	t.Cleanup(func() { rec.Close() })

	require.NoError(t, rec.RecordSync(testScope, "  SELECT 1  "))

	cmds, err := rec.Recent(context.Background(), testScope, 10)
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	// Recorded text is trimmed.
	assert.Equal(t, "SELECT 1", cmds[0].CommandText)
}

func TestRecorderSkipsBlankCommands(t *testing.T) {
	db := testDB(t)
	rec := NewRecorder(db, logrus.New())
	t.Cleanup(func() { rec.Close() })

	require.NoError(t, rec.RecordSync(testScope, "   "))

	cmds, err := rec.Recent(context.Background(), testScope, 10)
	require.NoError(t, err)
	assert.Empty(t, cmds)
}

func TestRecorderAsyncDrainsOnClose(t *testing.T) {
	db := testDB(t)
	rec := NewRecorder(db, logrus.New())

	rec.Record(testScope, "SELECT 1")
	rec.Record(testScope, "SELECT 2")
	require.NoError(t, rec.Close())

	cmds, err := db.RecentCommands(context.Background(), testScope, 10)
	require.NoError(t, err)
	assert.Len(t, cmds, 2)
}
