package integration

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zakazai/ulin-mvcc/internal/engine"
	"github.com/zakazai/ulin-mvcc/internal/storage"
	"github.com/zakazai/ulin-mvcc/internal/types"
)

// backends returns one engine factory per storage engine. The disk factory
// reopens the same directory on every call.
func backends(t *testing.T) map[string]func() *engine.Engine {
	dir := t.TempDir()
	open := func(config storage.Config) func() *engine.Engine {
		return func() *engine.Engine {
			e, err := engine.Open(config, engine.WithLogger(types.Discard()))
			require.NoError(t, err)
			return e
		}
	}
	return map[string]func() *engine.Engine{
		"memory": open(storage.Config{Engine: storage.MemoryEngine}),
		"disk":   open(storage.Config{Engine: storage.DiskEngine, Path: dir, SyncOnCommit: true}),
	}
}

func exec(t *testing.T, e *engine.Engine, sql string) []types.Row {
	t.Helper()
	res, err := e.Exec(sql)
	require.NoError(t, err, sql)
	rows, err := res.All()
	require.NoError(t, err, sql)
	return rows
}

func TestUsersScenario(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			e := open()
			defer e.Close()

			exec(t, e, "CREATE TABLE users (id INT PRIMARY KEY, name TEXT NOT NULL, age INT, active BOOLEAN DEFAULT TRUE)")
			exec(t, e, "INSERT INTO users (id, name, age) VALUES (1, 'alice', 30), (2, 'bob', 25), (3, 'carol', NULL)")

			assert.Equal(t, []types.Row{{types.TextValue("bob")}}, exec(t, e, "SELECT name FROM users WHERE id = 2"))
			assert.Equal(t, []types.Row{
				{types.IntValue(1), types.TextValue("alice"), types.IntValue(30), types.BoolValue(true)},
				{types.IntValue(2), types.TextValue("bob"), types.IntValue(25), types.BoolValue(true)},
				{types.IntValue(3), types.TextValue("carol"), types.NullValue(), types.BoolValue(true)},
			}, exec(t, e, "SELECT * FROM users"))

			exec(t, e, "UPDATE users SET active = FALSE, age = age + 1 WHERE age > 26")
			assert.Equal(t, []types.Row{
				{types.TextValue("alice"), types.IntValue(31)},
			}, exec(t, e, "SELECT name, age FROM users WHERE NOT active"))

			exec(t, e, "DELETE FROM users WHERE age IS NULL")
			assert.Equal(t, []types.Row{
				{types.TextValue("alice")},
				{types.TextValue("bob")},
			}, exec(t, e, "SELECT name FROM users ORDER BY age DESC"))

			assert.Equal(t, []types.Row{{types.IntValue(2)}},
				exec(t, e, "SELECT id FROM users ORDER BY name LIMIT 1 OFFSET 1"))
		})
	}
}

// TestConcurrentTransfers moves money between accounts from many
// goroutines, retrying on conflict. Snapshot reads of the total must never
// see a transfer half applied.
func TestConcurrentTransfers(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			e := open()
			defer e.Close()

			const accounts, workers, transfers = 5, 4, 25
			exec(t, e, "CREATE TABLE accounts (id INT PRIMARY KEY, balance INT NOT NULL)")
			for i := 0; i < accounts; i++ {
				exec(t, e, fmt.Sprintf("INSERT INTO accounts VALUES (%d, 100)", i))
			}

			transfer := func(from, to int) error {
				s := e.Begin()
				for _, sql := range []string{
					fmt.Sprintf("UPDATE accounts SET balance = balance - 1 WHERE id = %d", from),
					fmt.Sprintf("UPDATE accounts SET balance = balance + 1 WHERE id = %d", to),
				} {
					if _, err := e.Execute(s, sql); err != nil {
						e.Rollback(s)
						return err
					}
				}
				return e.Commit(s)
			}

			var wg sync.WaitGroup
			errs := make(chan error, workers)
			for w := 0; w < workers; w++ {
				wg.Add(1)
				go func(w int) {
					defer wg.Done()
					for i := 0; i < transfers; i++ {
						from, to := (w+i)%accounts, (w+i+1)%accounts
						for {
							err := transfer(from, to)
							if err == nil {
								break
							}
							if !engine.IsRetryable(err) {
								errs <- err
								return
							}
						}
					}
				}(w)
			}

			// Readers check the invariant while writers run.
			for i := 0; i < 20; i++ {
				assert.Equal(t, int64(accounts*100), total(t, e))
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				t.Fatal(err)
			}
			assert.Equal(t, int64(accounts*100), total(t, e))
		})
	}
}

func total(t *testing.T, e *engine.Engine) int64 {
	var sum int64
	for _, row := range exec(t, e, "SELECT balance FROM accounts") {
		sum += row[0].I64
	}
	return sum
}

func TestRestartKeepsCommittedState(t *testing.T) {
	open := backends(t)["disk"]

	e := open()
	exec(t, e, "CREATE TABLE kv (k TEXT PRIMARY KEY, v INT)")
	for i := 0; i < 50; i++ {
		exec(t, e, fmt.Sprintf("INSERT INTO kv VALUES ('key%02d', %d)", i, i))
	}
	exec(t, e, "UPDATE kv SET v = v * 10 WHERE v < 10")
	exec(t, e, "DELETE FROM kv WHERE v >= 40")
	open1 := e.Begin()
	_, err := e.Execute(open1, "INSERT INTO kv VALUES ('uncommitted', 1)")
	require.NoError(t, err)
	require.NoError(t, e.Rollback(open1))
	before := exec(t, e, "SELECT * FROM kv")
	require.NoError(t, e.Close())

	e = open()
	assert.Equal(t, before, exec(t, e, "SELECT * FROM kv"))
	require.NoError(t, e.Compact())
	require.NoError(t, e.Close())

	e = open()
	defer e.Close()
	rows := exec(t, e, "SELECT * FROM kv")
	assert.Equal(t, before, rows)
	assert.Len(t, rows, 34)
	assert.Equal(t, []types.Row{{types.IntValue(30)}}, exec(t, e, "SELECT v FROM kv WHERE k = 'key03'"))
}
