package app

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moexbonds/moexbonds/internal/config"
	"github.com/moexbonds/moexbonds/internal/datasource"
	"github.com/moexbonds/moexbonds/internal/store"
	"github.com/moexbonds/moexbonds/pkg/models"
)

type fakeKeyRates struct {
	rate datasource.KeyRate
	err  error
}

func (f fakeKeyRates) KeyRate(context.Context) (datasource.KeyRate, error) {
	return f.rate, f.err
}

func newTestApp(t *testing.T) *App {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "state.yaml"))
	require.NoError(t, err)
	return &App{
		Config: &config.Config{Macro: config.MacroConfig{KeyRate: 16, Inflation: 7.5}},
		Store:  st,
	}
}

func TestMacroDefaults(t *testing.T) {
	a := newTestApp(t)
	m := a.Macro(context.Background())
	assert.Equal(t, 16.0, m.KeyRate)
	assert.Equal(t, 7.5, m.Inflation)
	assert.Equal(t, "default", m.Source)
}

func TestMacroScraped(t *testing.T) {
	a := newTestApp(t)
	date := civil.Date{Year: 2026, Month: time.September, Day: 12}
	a.KeyRates = fakeKeyRates{rate: datasource.KeyRate{Rate: 17, Date: date}}

	m := a.Macro(context.Background())
	assert.Equal(t, 17.0, m.KeyRate)
	assert.Equal(t, 7.5, m.Inflation, "inflation is not scraped")
	assert.Equal(t, date, m.Date)
	assert.Equal(t, "cbr", m.Source)
}

func TestMacroScrapeFailureFallsBack(t *testing.T) {
	a := newTestApp(t)
	a.KeyRates = fakeKeyRates{err: errors.New("page layout changed")}

	m := a.Macro(context.Background())
	assert.Equal(t, 16.0, m.KeyRate)
	assert.Equal(t, "default", m.Source)
}

func TestMacroStoredWins(t *testing.T) {
	a := newTestApp(t)
	a.KeyRates = fakeKeyRates{rate: datasource.KeyRate{Rate: 17}}
	stored := models.MacroContext{
		KeyRate:   18,
		Inflation: 8,
		Date:      civil.Date{Year: 2026, Month: time.October, Day: 1},
		Source:    "manual",
	}
	require.NoError(t, a.Store.SaveMacro(stored))

	assert.Equal(t, stored, a.Macro(context.Background()))
}

func TestCloseJoinsErrors(t *testing.T) {
	a := newTestApp(t)
	assert.NoError(t, a.Close())

	boom := errors.New("boom")
	a.closers = []func() error{func() error { return nil }, func() error { return boom }}
	assert.ErrorIs(t, a.Close(), boom)
}
