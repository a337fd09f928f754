package postgres

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/couchcryptid/weather-grid-etl/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- Mock Tx ---

type mockTx struct {
	mock.Mock
	copied [][]any
}

func (m *mockTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	args := m.Called(ctx, tableName, columnNames)
	if err := args.Error(1); err != nil {
		return 0, err
	}
	for rowSrc.Next() {
		vals, err := rowSrc.Values()
		if err != nil {
			return 0, err
		}
		m.copied = append(m.copied, vals)
	}
	return int64(len(m.copied)), rowSrc.Err()
}

func (m *mockTx) Commit(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockTx) Rollback(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type mockExecer struct {
	mock.Mock
}

func (m *mockExecer) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

var ingestedAt = time.Date(2024, 1, 1, 5, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testGrid() domain.CycleGrid {
	key := domain.CycleKey{Source: "gfs", Date: "20240101", Hour: 0}
	lats, lons := []float64{60, 59.75}, []float64{10, 10.25}
	g := domain.CycleGrid{Key: key, InitTime: key.InitTime(), Lats: lats, Lons: lons}
	for step := 1; step <= 2; step++ {
		ts := key.InitTime().Add(time.Duration(step*3) * time.Hour)
		f := domain.Frame{Time: ts, Lats: lats, Lons: lons}
		f.Layers.Set(domain.Temperature2m, []float64{280, 281, math.NaN(), 283})
		g.Times = append(g.Times, ts)
		g.Frames = append(g.Frames, f)
	}
	return g
}

func newTestStore(tx *mockTx, beginErr error) *Store {
	begin := func(context.Context) (Tx, error) {
		if beginErr != nil {
			return nil, beginErr
		}
		return tx, nil
	}
	return newStore(&mockExecer{}, begin, "weather", discardLogger())
}

func useFakeClock(t *testing.T) {
	t.Helper()
	domain.SetClock(clockwork.NewFakeClockAt(ingestedAt))
	t.Cleanup(func() { domain.SetClock(nil) })
}

func TestStore_Write(t *testing.T) {
	useFakeClock(t)
	tx := new(mockTx)
	grid := testGrid()

	tx.On("Exec", mock.Anything, "SELECT pg_advisory_xact_lock(hashtext($1))", []any{`"weather"."grid_points"`}).
		Return(pgconn.NewCommandTag("SELECT 1"), nil)
	tx.On("Exec", mock.Anything, `DELETE FROM "weather"."grid_points" WHERE source = $1 AND init_time = $2`, []any{"gfs", grid.InitTime}).
		Return(pgconn.NewCommandTag("DELETE 8"), nil)
	tx.On("CopyFrom", mock.Anything, pgx.Identifier{"weather", "grid_points"}, Columns()).Return(int64(0), nil)
	tx.On("Commit", mock.Anything).Return(nil)

	ack, err := newTestStore(tx, nil).Write(context.Background(), grid)
	require.NoError(t, err)
	tx.AssertExpectations(t)
	tx.AssertNotCalled(t, "Rollback", mock.Anything)

	assert.Equal(t, domain.ModeReplace, ack.Mode)
	assert.Equal(t, 8, ack.Records)
	assert.Equal(t, `"weather"."grid_points"`, ack.Target)

	require.Len(t, tx.copied, 8)
	cols := Columns()
	first := tx.copied[0]
	require.Len(t, first, len(cols))
	assert.Equal(t, "gfs", first[0])
	assert.Equal(t, grid.InitTime, first[1])
	assert.Equal(t, grid.Times[0], first[2])
	assert.Equal(t, 60.0, first[3])
	assert.Equal(t, 10.0, first[4])
	assert.Equal(t, 280.0, first[5+int(domain.Temperature2m)])
	assert.Nil(t, first[5+int(domain.UWind10m)])
	assert.Equal(t, ingestedAt, first[len(cols)-1])

	// NaN cells are written as NULL.
	third := tx.copied[2]
	assert.Equal(t, 59.75, third[3])
	assert.Equal(t, 10.0, third[4])
	assert.Nil(t, third[5+int(domain.Temperature2m)])

	assert.Equal(t, grid.Times[1], tx.copied[4][2])
}

func TestStore_WriteCopyFailureRollsBack(t *testing.T) {
	tx := new(mockTx)
	tx.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("DELETE 0"), nil)
	tx.On("CopyFrom", mock.Anything, mock.Anything, mock.Anything).Return(int64(0), errors.New("connection reset"))
	tx.On("Rollback", mock.Anything).Return(nil)

	_, err := newTestStore(tx, nil).Write(context.Background(), testGrid())
	require.Error(t, err)

	var se *domain.StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "copy", se.Op)
	tx.AssertCalled(t, "Rollback", mock.Anything)
	tx.AssertNotCalled(t, "Commit", mock.Anything)
}

func TestStore_WriteBeginFailure(t *testing.T) {
	_, err := newTestStore(nil, errors.New("pool closed")).Write(context.Background(), testGrid())
	assert.ErrorContains(t, err, "pool closed")
}

func TestStore_WriteEmptyGrid(t *testing.T) {
	tx := new(mockTx)
	_, err := newTestStore(tx, nil).Write(context.Background(), domain.CycleGrid{})
	assert.ErrorIs(t, err, domain.ErrNoValidFrames)
	tx.AssertNotCalled(t, "Exec", mock.Anything, mock.Anything, mock.Anything)
}

func TestStore_EnsureSchema(t *testing.T) {
	db := new(mockExecer)
	var stmts []string
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) { stmts = append(stmts, args.String(1)) }).
		Return(pgconn.NewCommandTag("CREATE TABLE"), nil)

	s := newStore(db, nil, "weather", discardLogger())
	require.NoError(t, s.EnsureSchema(context.Background()))

	require.Len(t, stmts, 3)
	assert.Equal(t, `CREATE SCHEMA IF NOT EXISTS "weather"`, stmts[0])
	assert.Contains(t, stmts[1], `CREATE TABLE IF NOT EXISTS "weather"."grid_points"`)
	assert.Contains(t, stmts[1], `"wind_power_density" double precision`)
	assert.Contains(t, stmts[2], "(source, init_time, time)")
}

func TestColumns(t *testing.T) {
	cols := Columns()
	assert.Equal(t, "source", cols[0])
	assert.Equal(t, "u_wind_10m", cols[5])
	assert.Equal(t, "ingested_at", cols[len(cols)-1])
	assert.Len(t, cols, 6+int(domain.NumVariables))
}

func TestRowSource_ProjectedGridUsesCellCoordinates(t *testing.T) {
	g := testGrid()
	g.Frames = g.Frames[:1]
	g.Times = g.Times[:1]
	g.Lats, g.Lons = []float64{-500, 500}, []float64{-500, 500}
	g.Projected = domain.Some(domain.Projected{
		Lats: []float64{59.1, 59.2, 60.1, 60.2},
		Lons: []float64{9.1, 10.1, 9.3, 10.3},
	})
	ingested := time.Date(2024, 1, 1, 5, 0, 0, 0, time.UTC)

	rows := newRowSource(g, ingested)
	var coords [][2]float64
	for rows.Next() {
		vals, err := rows.Values()
		require.NoError(t, err)
		coords = append(coords, [2]float64{vals[3].(float64), vals[4].(float64)})
	}

	assert.Equal(t, [][2]float64{{59.1, 9.1}, {59.2, 10.1}, {60.1, 9.3}, {60.2, 10.3}}, coords)
}
