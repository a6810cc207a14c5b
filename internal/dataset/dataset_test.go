package dataset

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// grid builds a (model, lat, lon) dataset whose cell values encode their
// position as model*100 + lat*10 + lon.
func grid(t *testing.T, models []string, lats, lons []float64) *Dataset {
	t.Helper()
	data := make([]float64, 0, len(models)*len(lats)*len(lons))
	for m := range models {
		for y := range lats {
			for x := range lons {
				data = append(data, float64(m*100+y*10+x))
			}
		}
	}
	src, err := NewMemSource([]int{len(models), len(lats), len(lons)}, data)
	require.NoError(t, err)
	v, err := NewVariable("tas", []string{"model", "lat", "lon"}, src, Attrs{"units": "K"})
	require.NoError(t, err)

	ds := New()
	require.NoError(t, ds.AddCoord(LabelCoord("model", models, nil)))
	require.NoError(t, ds.AddCoord(NumericCoord("lat", lats, nil)))
	require.NoError(t, ds.AddCoord(NumericCoord("lon", lons, Attrs{"units": "degrees_east"})))
	require.NoError(t, ds.AddVariable(v))
	return ds
}

func readAll(t *testing.T, ds *Dataset, name string) []float64 {
	t.Helper()
	v, ok := ds.Variable(name)
	require.True(t, ok, "variable %s", name)
	vals, err := v.ReadAll(context.Background())
	require.NoError(t, err)
	return vals
}

func TestNewMemSource_ShapeMismatch(t *testing.T) {
	_, err := NewMemSource([]int{2, 3}, make([]float64, 5))
	assert.Error(t, err)
}

func TestNewVariable_RankMismatch(t *testing.T) {
	src, _ := NewMemSource([]int{2}, []float64{1, 2})
	_, err := NewVariable("x", []string{"a", "b"}, src, nil)
	assert.Error(t, err)
}

func TestAddVariable_ConflictingLength(t *testing.T) {
	ds := grid(t, []string{"A"}, []float64{0, 1}, []float64{0, 1, 2})
	src, _ := NewMemSource([]int{4}, make([]float64, 4))
	v, _ := NewVariable("bad", []string{"lon"}, src, nil)
	assert.Error(t, ds.AddVariable(v))
}

func TestIsel(t *testing.T) {
	ds := grid(t, []string{"A", "B", "C"}, []float64{0, 1}, []float64{0, 1, 2})

	out, err := ds.Isel("model", []int{2, 0})
	require.NoError(t, err)

	c, _ := out.Coord("model")
	assert.Equal(t, []string{"C", "A"}, c.Labels)
	n, _ := out.Size("model")
	assert.Equal(t, 2, n)
	assert.Equal(t, []float64{200, 201, 202, 210, 211, 212, 0, 1, 2, 10, 11, 12}, readAll(t, out, "tas"))

	// Input untouched.
	n, _ = ds.Size("model")
	assert.Equal(t, 3, n)
}

func TestIsel_Nested(t *testing.T) {
	ds := grid(t, []string{"A"}, []float64{0, 1, 2}, []float64{0, 1, 2, 3})
	a, err := ds.Isel("lon", []int{3, 2, 1})
	require.NoError(t, err)
	b, err := a.Isel("lon", []int{0, 2})
	require.NoError(t, err)
	c, err := b.Isel("lat", []int{1})
	require.NoError(t, err)
	assert.Equal(t, []float64{13, 11}, readAll(t, c, "tas"))
}

func TestIsel_OutOfRange(t *testing.T) {
	ds := grid(t, []string{"A"}, []float64{0}, []float64{0})
	_, err := ds.Isel("lon", []int{1})
	assert.Error(t, err)
	_, err = ds.Isel("depth", []int{0})
	assert.Error(t, err)
}

func TestRoll(t *testing.T) {
	ds := grid(t, []string{"A"}, []float64{0}, []float64{0, 1, 2, 3, 4})

	out, err := ds.Roll("lon", 2)
	require.NoError(t, err)
	c, _ := out.Coord("lon")
	assert.Equal(t, []float64{3, 4, 0, 1, 2}, c.Values)
	assert.Equal(t, []float64{3, 4, 0, 1, 2}, readAll(t, out, "tas"))

	back, err := out.Roll("lon", -2)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 2, 3, 4}, readAll(t, back, "tas"))
}

func TestAssignCoord(t *testing.T) {
	ds := grid(t, []string{"A"}, []float64{0}, []float64{0, 1})
	out, err := ds.AssignCoord(NumericCoord("lon", []float64{10, 11}, nil))
	require.NoError(t, err)
	c, _ := out.Coord("lon")
	assert.Equal(t, []float64{10, 11}, c.Values)

	_, err = ds.AssignCoord(NumericCoord("lon", []float64{1}, nil))
	assert.Error(t, err)
}

func TestExpandDims(t *testing.T) {
	ds := grid(t, []string{"A"}, []float64{0}, []float64{0, 1})
	out, err := ds.ExpandDims("scenario", "historical")
	require.NoError(t, err)

	assert.Equal(t, "scenario", out.Dims()[0])
	v, _ := out.Variable("tas")
	assert.Equal(t, []string{"scenario", "model", "lat", "lon"}, v.Dims)
	assert.Equal(t, []int{1, 1, 1, 2}, v.Shape())

	vals, err := v.Read(context.Background(), [][]int{{0, 0}, {0}, {0}, {1}})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1}, vals)

	_, err = out.ExpandDims("scenario", "again")
	assert.Error(t, err)
}

func TestMaskGrid(t *testing.T) {
	ds := grid(t, []string{"A", "B"}, []float64{0, 1}, []float64{0, 1})
	out, err := ds.MaskGrid("lat", "lon", [][]bool{{true, false}, {false, true}})
	require.NoError(t, err)

	vals := readAll(t, out, "tas")
	assert.Equal(t, 0.0, vals[0])
	assert.True(t, math.IsNaN(vals[1]))
	assert.True(t, math.IsNaN(vals[2]))
	assert.Equal(t, 11.0, vals[3])
	assert.Equal(t, 100.0, vals[4])
	assert.True(t, math.IsNaN(vals[5]))

	_, err = ds.MaskGrid("lat", "lon", [][]bool{{true}})
	assert.Error(t, err)
}

func TestSetSpatialDims(t *testing.T) {
	ds := grid(t, []string{"A"}, []float64{0}, []float64{0})
	_, _, ok := ds.SpatialDims()
	assert.False(t, ok)

	require.NoError(t, ds.SetSpatialDims("lon", "lat"))
	x, y, ok := ds.SpatialDims()
	assert.True(t, ok)
	assert.Equal(t, "lon", x)
	assert.Equal(t, "lat", y)

	assert.Error(t, ds.SetSpatialDims("model", "lat"))
	assert.Error(t, ds.SetSpatialDims("lon", "depth"))
}

func TestReadBlocks(t *testing.T) {
	ds := grid(t, []string{"A"}, []float64{0, 1, 2}, []float64{0, 1, 2, 3, 4})
	v, _ := ds.Variable("tas")

	var blocks int
	got := make([]float64, v.Size())
	err := v.ReadBlocks(context.Background(), ChunkLayout{"lat": 2, "lon": 2}, func(index [][]int, values []float64) error {
		blocks++
		k := 0
		for _, y := range index[1] {
			for _, x := range index[2] {
				got[y*5+x] = values[k]
				k++
			}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 6, blocks)
	assert.Equal(t, readAll(t, ds, "tas"), got)
}

func TestRead_Canceled(t *testing.T) {
	ds := grid(t, []string{"A"}, []float64{0}, []float64{0})
	v, _ := ds.Variable("tas")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := v.ReadAll(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCombine_SharedGrid(t *testing.T) {
	a := grid(t, []string{"A"}, []float64{0, 1}, []float64{0, 1})
	b := grid(t, []string{"A"}, []float64{0, 1}, []float64{0, 1})
	bv, _ := b.Variable("tas")
	bv.Name = "pr"
	b.vars = map[string]*Variable{"pr": bv}
	a.Attrs["crs"] = "EPSG:4326"

	out, err := Combine(a, b)
	require.NoError(t, err)
	assert.Equal(t, []string{"pr", "tas"}, out.VariableNames())
	assert.Equal(t, "EPSG:4326", out.Attrs["crs"])
	assert.Equal(t, readAll(t, a, "tas"), readAll(t, out, "pr"))
}

func TestCombine_OuterJoin(t *testing.T) {
	hist := grid(t, []string{"A", "B"}, []float64{0}, []float64{0, 1})
	hist, _ = hist.ExpandDims("scenario", "historical")
	proj := grid(t, []string{"B", "C"}, []float64{0}, []float64{0, 1})
	proj, _ = proj.ExpandDims("scenario", "projection")

	out, err := Combine(hist, proj)
	require.NoError(t, err)

	sc, _ := out.Coord("scenario")
	assert.Equal(t, []string{"historical", "projection"}, sc.Labels)
	mc, _ := out.Coord("model")
	assert.Equal(t, []string{"A", "B", "C"}, mc.Labels)

	v, _ := out.Variable("tas")
	assert.Equal(t, []int{2, 3, 1, 2}, v.Shape())
	vals := readAll(t, out, "tas")

	// historical: A, B present; C missing.
	assert.Equal(t, []float64{0, 1, 100, 101}, vals[0:4])
	assert.True(t, math.IsNaN(vals[4]) && math.IsNaN(vals[5]))
	// projection: A missing; B is first proj model, C second.
	assert.True(t, math.IsNaN(vals[6]) && math.IsNaN(vals[7]))
	assert.Equal(t, []float64{0, 1, 100, 101}, vals[8:12])
}

func TestCombine_Errors(t *testing.T) {
	_, err := Combine()
	assert.Error(t, err)

	a := grid(t, []string{"A"}, []float64{0}, []float64{0})
	b := New()
	require.NoError(t, b.AddCoord(NumericCoord("model", []float64{1}, nil)))
	_, err = Combine(a, b)
	assert.Error(t, err)
}

func TestCoord_Helpers(t *testing.T) {
	c := NumericCoord("lon", []float64{-1, 0.5, 3}, nil)
	i, err := c.Nearest(0.4)
	require.NoError(t, err)
	assert.Equal(t, 1, i)
	lo, hi, ok := c.Range()
	assert.True(t, ok)
	assert.Equal(t, -1.0, lo)
	assert.Equal(t, 3.0, hi)

	labels := LabelCoord("model", []string{"A", "B"}, nil)
	j, ok := labels.IndexOf("B")
	assert.True(t, ok)
	assert.Equal(t, 1, j)
	_, err = labels.Nearest(1)
	assert.Error(t, err)
}

func TestAttrs_Float(t *testing.T) {
	a := Attrs{"f": 1.5, "i": 3, "nan": "NaN", "s": "x"}
	f, ok := a.Float("f")
	assert.True(t, ok)
	assert.Equal(t, 1.5, f)
	f, _ = a.Float("i")
	assert.Equal(t, 3.0, f)
	f, ok = a.Float("nan")
	assert.True(t, ok)
	assert.True(t, math.IsNaN(f))
	_, ok = a.Float("s")
	assert.False(t, ok)
}

func TestDecodeTime(t *testing.T) {
	c := NumericCoord("time", []float64{0, 1, 365.5}, Attrs{
		"units":    "days since 1950-01-01",
		"calendar": "proleptic_gregorian",
	})
	got, err := DecodeTime(c)
	require.NoError(t, err)
	assert.Equal(t, time.Date(1950, 1, 1, 0, 0, 0, 0, time.UTC), got[0])
	assert.Equal(t, time.Date(1950, 1, 2, 0, 0, 0, 0, time.UTC), got[1])
	assert.Equal(t, time.Date(1951, 1, 1, 12, 0, 0, 0, time.UTC), got[2])
}

func TestDecodeTime_Errors(t *testing.T) {
	_, err := DecodeTime(NumericCoord("time", []float64{0}, nil))
	assert.Error(t, err)

	_, err = DecodeTime(NumericCoord("time", []float64{0}, Attrs{"units": "days since 1950-01-01", "calendar": "360_day"}))
	assert.ErrorContains(t, err, "unsupported calendar")

	_, err = DecodeTime(NumericCoord("time", []float64{0}, Attrs{"units": "fortnights since 1950-01-01"}))
	assert.Error(t, err)
}

func TestDecodeTime_NoLeap(t *testing.T) {
	values := []float64{-1, 0, 58, 424, 1460}
	c := NumericCoord("time", values, Attrs{"units": "days since 2015-01-01", "calendar": "365_day"})
	got, err := DecodeTime(c)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{
		time.Date(2014, 12, 31, 0, 0, 0, 0, time.UTC),
		time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2015, 2, 28, 0, 0, 0, 0, time.UTC),
		time.Date(2016, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC),
	}, got)

	back, err := EncodeTime(got, "days since 2015-01-01", CalendarNoLeap)
	require.NoError(t, err)
	assert.Equal(t, values, back)

	hours := NumericCoord("time", []float64{12, 36}, Attrs{"units": "hours since 2016-02-28 12:00:00", "calendar": "noleap"})
	got, err = DecodeTime(hours)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2016, 3, 1, 0, 0, 0, 0, time.UTC), got[0])
	assert.Equal(t, time.Date(2016, 3, 2, 0, 0, 0, 0, time.UTC), got[1])
}

func TestEncodeTime(t *testing.T) {
	times := []time.Time{
		time.Date(1950, 1, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2015, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	got, err := EncodeTime(times, "days since 1950-01-01", CalendarStandard)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 23741.5}, got)

	_, err = EncodeTime([]time.Time{time.Date(2016, 2, 29, 0, 0, 0, 0, time.UTC)}, "days since 2015-01-01", CalendarNoLeap)
	assert.ErrorContains(t, err, "noleap")
	_, err = EncodeTime(times, "days since 1950-01-01", "julian")
	assert.Error(t, err)
}

func TestCalendar(t *testing.T) {
	tests := []struct {
		attrs Attrs
		want  string
	}{
		{nil, CalendarStandard},
		{Attrs{"calendar": "gregorian"}, CalendarStandard},
		{Attrs{"calendar": "Proleptic_Gregorian"}, CalendarStandard},
		{Attrs{"calendar": "noleap"}, CalendarNoLeap},
		{Attrs{"calendar": "365_day"}, CalendarNoLeap},
	}
	for _, tt := range tests {
		got, err := Calendar(NumericCoord("time", nil, tt.attrs))
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%v", tt.attrs)
	}
	_, err := Calendar(NumericCoord("time", nil, Attrs{"calendar": "all_leap"}))
	assert.Error(t, err)
}

func TestParseTimeUnits(t *testing.T) {
	step, epoch, err := ParseTimeUnits("hours since 2015-01-01 00:00:00")
	require.NoError(t, err)
	assert.Equal(t, time.Hour, step)
	assert.Equal(t, time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC), epoch)
}
