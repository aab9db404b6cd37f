package stats

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/pyrohost/prometheus/lib/codec"
	"github.com/pyrohost/prometheus/lib/docstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const guild = uint64(5)

func newHandler(t *testing.T, c codec.ICodec) *Handler {
	t.Helper()
	opts := docstore.DefaultOptions()
	opts.Codec = c
	s, err := docstore.Open[Database](filepath.Join(t.TempDir(), "stats.db"), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return NewHandler(s)
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		dt    DataType
		value float64
		want  string
	}{
		{Integer, 123.9, "123"},
		{Float, 123.456, "123.46"},
		{Percentage, 12.345, "12.3%"},
		{Bytes, 512, "512.0 B"},
		{Bytes, 1536, "1.5 KB"},
		{Bytes, 1.5 * 1024 * 1024 * 1024, "1.5 GB"},
		{Bytes, 3 * 1024 * 1024 * 1024 * 1024 * 1024, "3072.0 TB"},
		{Duration, 90061, "1d 1h"},
		{Duration, 7260, "2h 1m"},
		{Duration, 59, "0m"},
		{Temperature, 23.44, "23.4°C"},
		{Speed, 999, "999.0 B/s"},
		{Speed, 123_400_000, "123.4 MB/s"},
		{Speed, 2e9, "2.0 GB/s"},
		{Currency, 9.5, "$9.50"},
		{Scientific, 12340, "1.234e4"},
		{Scientific, 0.00012, "1.2e-4"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.dt.FormatValue(tt.value), "%s(%v)", tt.dt, tt.value)
	}
}

func TestParseDataType(t *testing.T) {
	for _, dt := range DataTypes() {
		parsed, err := ParseDataType(dt.String())
		require.NoError(t, err)
		assert.Equal(t, dt, parsed)
	}
	parsed, err := ParseDataType(" Bytes ")
	require.NoError(t, err)
	assert.Equal(t, Bytes, parsed)

	_, err = ParseDataType("kelvin")
	assert.Error(t, err)

	b, err := json.Marshal(StatBar{DataType: Speed})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"data_type":"speed"`)
}

func TestStatBars(t *testing.T) {
	for _, c := range []codec.ICodec{codec.NewGOBCodec(), codec.NewJSONCodec(), codec.NewYAMLCodec()} {
		t.Run(c.Name(), func(t *testing.T) {
			h := newHandler(t, c)

			assert.ErrorIs(t, h.UpdateStatBar(guild, StatBar{ChannelID: 1, Format: "x"}), ErrEmptyQuery)
			assert.ErrorIs(t, h.UpdateStatBar(guild, StatBar{ChannelID: 1, Query: "up"}), ErrMissingValue)

			require.NoError(t, h.UpdateStatBar(guild, StatBar{ChannelID: 2, Query: "sum(players)", Format: "Players: {value}", DataType: Integer}))
			require.NoError(t, h.UpdateStatBar(guild, StatBar{ChannelID: 1, Query: "node_load1", Format: "Load {value}", DataType: Float}))

			bars := h.GetStatBars(guild)
			require.Len(t, bars, 2)
			assert.Equal(t, uint64(1), bars[0].ChannelID)
			_, ok := bars[0].Current()
			assert.False(t, ok)

			at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
			bar, err := h.RecordValue(guild, 2, 1234.7, at)
			require.NoError(t, err)
			name, ok := bar.Current()
			assert.True(t, ok)
			assert.Equal(t, "Players: 1234", name)

			stored, ok := h.GetStatBar(guild, 2)
			require.True(t, ok)
			assert.Equal(t, 1234.7, *stored.LastValue)
			assert.True(t, at.Equal(stored.LastUpdate))

			_, err = h.RecordValue(guild, 99, 1, at)
			assert.ErrorIs(t, err, ErrStatBarNotFound)

			require.NoError(t, h.RemoveStatBar(guild, 2))
			assert.ErrorIs(t, h.RemoveStatBar(guild, 2), ErrStatBarNotFound)
			assert.Len(t, h.GetStatBars(guild), 1)
		})
	}
}

func TestSettings(t *testing.T) {
	h := newHandler(t, codec.NewGOBCodec())
	assert.Equal(t, DefaultGuildSettings(), h.GetSettings(guild))

	s, err := h.UpdateSettings(guild, func(s *GuildSettings) error {
		s.PrometheusURL = " http://prometheus:9090/ "
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "http://prometheus:9090", s.PrometheusURL)

	_, err = h.UpdateSettings(guild, func(s *GuildSettings) error {
		s.UpdateDelay = 1
		return nil
	})
	assert.ErrorIs(t, err, ErrUpdateDelay)
	assert.Equal(t, uint64(60), h.GetSettings(guild).UpdateDelay)

	ensured, err := h.EnsureSettings(guild + 1)
	require.NoError(t, err)
	assert.Equal(t, DefaultGuildSettings(), ensured)
	assert.Equal(t, []uint64{guild, guild + 1}, h.GuildIDs())
}

type fakeQuerier struct {
	values map[string]float64
	calls  int
}

func (f *fakeQuerier) Query(_ context.Context, _, query string) (float64, error) {
	f.calls++
	v, ok := f.values[query]
	if !ok {
		return 0, errors.New("no data")
	}
	return v, nil
}

type fakeRenamer map[uint64]string

func (f fakeRenamer) RenameChannel(_ context.Context, channelID uint64, name string) error {
	f[channelID] = name
	return nil
}

func TestUpdateTask(t *testing.T) {
	h := newHandler(t, codec.NewGOBCodec())
	_, err := h.UpdateSettings(guild, func(s *GuildSettings) error {
		s.PrometheusURL = "http://prom"
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, h.UpdateStatBar(guild, StatBar{ChannelID: 1, Query: "players", Format: "Players: {value}"}))
	require.NoError(t, h.UpdateStatBar(guild, StatBar{ChannelID: 2, Query: "players", Format: "Online {value}"}))
	require.NoError(t, h.UpdateStatBar(guild, StatBar{ChannelID: 3, Query: "missing", Format: "{value}"}))

	querier := &fakeQuerier{values: map[string]float64{"players": 42}}
	renamer := fakeRenamer{}
	task := NewUpdateTask(h, querier, renamer)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	task.now = func() time.Time { return now }

	err = task.Execute(context.Background())
	assert.Error(t, err, "the missing query is reported")
	assert.Equal(t, fakeRenamer{1: "Players: 42", 2: "Online 42"}, renamer)
	assert.Equal(t, 2, querier.calls, "players is cached across bars")

	// within the update delay nothing is refreshed
	delete(renamer, 1)
	now = now.Add(30 * time.Second)
	_ = task.Execute(context.Background())
	assert.NotContains(t, renamer, uint64(1))

	// unchanged values do not rename
	now = now.Add(2 * time.Minute)
	_ = task.Execute(context.Background())
	assert.NotContains(t, renamer, uint64(1))
	bar, _ := h.GetStatBar(guild, 1)
	assert.True(t, now.Equal(bar.LastUpdate))
}
