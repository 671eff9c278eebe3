package filters

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/satfetch/satfetch/internal/catalog"
)

func product(id string, t time.Time) catalog.Product {
	return catalog.Product{ID: id, SensingTime: t}
}

func TestSampleIntervalKeepsOnePerBucket(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	products := []catalog.Product{
		product("A", base),
		product("B", base.Add(30*time.Minute)),
		product("C", base.Add(4*time.Hour)),
		product("D", base.Add(4*time.Hour+10*time.Minute)),
	}

	fn, err := Build("sample_interval", map[string]any{"interval_hours": 3.0})
	require.NoError(t, err)

	out := fn(products)
	require.Len(t, out, 2)
	require.Equal(t, "A", out[0].ID)
	require.Equal(t, "C", out[1].ID)
}

func TestSampleIntervalEmptyInput(t *testing.T) {
	fn, err := Build("sample_interval", map[string]any{"interval_hours": 1.0})
	require.NoError(t, err)
	require.Empty(t, fn(nil))
}

func TestSampleIntervalRequiresIntervalHours(t *testing.T) {
	_, err := Build("sample_interval", map[string]any{})
	require.Error(t, err)
}

func TestSampleIntervalRejectsNonPositive(t *testing.T) {
	_, err := Build("sample_interval", map[string]any{"interval_hours": -1.0})
	require.Error(t, err)
}

func TestBuildUnknownTypeErrors(t *testing.T) {
	_, err := Build("nonexistent", nil)
	require.Error(t, err)
}

func TestRegisterCustomFilter(t *testing.T) {
	Register("keep_first_two", func(params map[string]any) (Func, error) {
		return func(products []catalog.Product) []catalog.Product {
			if len(products) > 2 {
				return products[:2]
			}
			return products
		}, nil
	})

	fn, err := Build("keep_first_two", nil)
	require.NoError(t, err)

	base := time.Now()
	out := fn([]catalog.Product{product("A", base), product("B", base), product("C", base)})
	require.Len(t, out, 2)
}
