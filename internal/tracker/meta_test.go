package tracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfgrab/shelfgrab/internal/models"
)

func TestToMeta(t *testing.T) {
	item := CandidateItem{
		ID:           42,
		Title:        "Dune (40th Anniversary Edition)",
		Authors:      map[string]string{"20": "Brian Herbert", "3": "Frank Herbert"},
		Narrators:    map[string]string{"5": "Scott Brick"},
		Series:       map[string]SeriesRef{"1": {Name: "Dune", Number: "1"}},
		Filetypes:    []string{"M4B", ".mp3", "m4b"},
		Size:         "900 MiB",
		NumFiles:     2,
		MainCat:      13,
		CategoryName: "Audiobooks - Science Fiction",
		Language:     "ENG",
		Tags:         "classic, desert ,",
		Description:  "<p>Spice&nbsp;must flow</p>",
		Added:        "2024-01-02 03:04:05",
		ISBN:         "ASIN: B00B7NPRY8",
		BrowseFlags:  int(models.FlagViolence | models.FlagAbridged),
		Vip:          true,
		VipExpire:    1735689600,
	}

	meta, err := ToMeta(item)
	require.NoError(t, err)

	assert.Equal(t, "Dune", meta.Title)
	assert.Equal(t, &models.Edition{Name: "Anniversary Edition", Number: 40}, meta.Edition)
	assert.Equal(t, []string{"Frank Herbert", "Brian Herbert"}, meta.Authors)
	assert.Equal(t, []string{"Scott Brick"}, meta.Narrators)
	assert.Equal(t, []models.Series{{Name: "Dune", Entries: "1"}}, meta.Series)
	assert.Equal(t, []string{"m4b", "mp3"}, meta.Filetypes)
	assert.Equal(t, int64(900<<20), meta.Size)
	assert.Equal(t, models.MediaTypeAudiobook, meta.MediaType)
	assert.Equal(t, models.MainCatAudio, meta.MainCat)
	assert.Equal(t, []string{"Science Fiction"}, meta.Categories)
	assert.Equal(t, []string{"classic", "desert"}, meta.Tags)
	assert.Equal(t, "Spice must flow", meta.Description)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), meta.UploadedAt)
	assert.Equal(t, "42", meta.MamID())
	assert.Equal(t, "B00B7NPRY8", meta.IDs[models.IDASIN])
	assert.True(t, meta.Flags.Has(models.FlagViolence|models.FlagAbridged))
	assert.False(t, meta.Flags.Has(models.FlagExplicit))
	assert.True(t, meta.Vip.Expiring())
	assert.Equal(t, models.SourceTracker, meta.Source)
}

func TestToMeta_UnknownMediaType(t *testing.T) {
	_, err := ToMeta(CandidateItem{ID: 1, MainCat: 99, Title: "x"})
	assert.ErrorIs(t, err, ErrUnknownMediaType)
}

func TestToMeta_MalformedFields(t *testing.T) {
	_, err := ToMeta(CandidateItem{ID: 1, MainCat: 14, Size: "lots"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnknownMediaType)

	_, err = ToMeta(CandidateItem{ID: 1, MainCat: 14, Series: map[string]SeriesRef{"1": {Name: " "}}})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnknownMediaType)
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		input   string
		want    int64
		wantErr bool
	}{
		{input: "1.5 GiB", want: 1610612736},
		{input: "900 MiB", want: 943718400},
		{input: "1,024 KiB", want: 1048576},
		{input: "512 B", want: 512},
		{input: "12345", want: 12345},
		{input: "", want: 0},
		{input: "12 parsecs", wantErr: true},
		{input: "GiB", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseSize(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
