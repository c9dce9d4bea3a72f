package finder

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mito-hcs/internal/config"
)

func defaultPatterns() config.FindFileParams {
	return config.Default().FindFiles
}

func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}
}

func TestGroupCompleteFieldsOfView(t *testing.T) {
	t.Parallel()

	indir := t.TempDir()
	touch(t, indir,
		"r01c01f01ch1.tif", "r01c01f01ch2.tif", "r01c01f01ch3.tif",
		"r01c01f02ch1.tif", "r01c01f02ch2.tif", "r01c01f02ch3.tif",
	)

	ff, err := New(defaultPatterns())
	require.NoError(t, err)
	groups, err := ff.Group(indir, "/out")
	require.NoError(t, err)
	require.Len(t, groups, 2)

	// Sorted by prefix.
	assert.Equal(t, "r01c01f01", groups[0].Prefix)
	assert.Equal(t, "r01c01f02", groups[1].Prefix)

	g := groups[0]
	assert.Equal(t, filepath.Join(indir, "r01c01f01ch1.tif"), g.CellImage)
	assert.Equal(t, filepath.Join(indir, "r01c01f01ch2.tif"), g.NucleiImage)
	assert.Equal(t, filepath.Join(indir, "r01c01f01ch3.tif"), g.MitochondriaImage)
	assert.Equal(t, filepath.Join("/out", "r01c01f01", "nuclei_labels.tif"), g.SegmentationPath("nuclei"))
	assert.Equal(t, filepath.Join("/out", "r01c01f01", "spot_feature.tif"), g.FeaturePath("spot"))
	assert.Equal(t, filepath.Join("/out", "r01c01f01", "mitochondria_stats.csv"), g.StatsPath("mitochondria"))
}

func TestGroupSkipsIncompleteAndHiddenFiles(t *testing.T) {
	t.Parallel()

	indir := t.TempDir()
	touch(t, indir,
		// Complete group.
		"r02c03f01ch1.tif", "r02c03f01ch2.tif", "r02c03f01ch3.tif",
		// Missing the mitochondria channel.
		"r02c03f02ch1.tif", "r02c03f02ch2.tif",
		// Hidden, temp, and non-image files never match.
		".r02c03f03ch1.tif", "~r02c03f03ch2.tif", "$r02c03f03ch3.tif",
		"r02c03f04ch1.txt",
	)

	ff, err := New(defaultPatterns())
	require.NoError(t, err)
	groups, err := ff.Group(indir, "/out")
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "r02c03f01", groups[0].Prefix)
}

func TestGroupMatchesCaseInsensitive(t *testing.T) {
	t.Parallel()

	indir := t.TempDir()
	touch(t, indir, "R05C01F01CH1.TIF", "R05C01F01CH2.TIF", "R05C01F01CH3.TIF")

	ff, err := New(defaultPatterns())
	require.NoError(t, err)
	groups, err := ff.Group(indir, "/out")
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "R05C01F01", groups[0].Prefix)
}

func TestGroupRejectsDuplicateChannelMatch(t *testing.T) {
	t.Parallel()

	indir := t.TempDir()
	// Both stems match the cell pattern with the same prefix.
	touch(t, indir, "r01c01f01ch1.tif", "r01c01f01ch1copy.tif")

	ff, err := New(defaultPatterns())
	require.NoError(t, err)
	_, err = ff.Group(indir, "/out")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestNewRejectsBadPatterns(t *testing.T) {
	t.Parallel()

	t.Run("invalid regex", func(t *testing.T) {
		t.Parallel()
		params := defaultPatterns()
		params.NucleiPattern = "("
		_, err := New(params)
		require.Error(t, err)
		var verr *config.ValidationError
		assert.ErrorAs(t, err, &verr)
	})

	t.Run("no capture group", func(t *testing.T) {
		t.Parallel()
		params := defaultPatterns()
		params.CellPattern = "r[0-9]+ch1"
		_, err := New(params)
		require.Error(t, err)
		var verr *config.ValidationError
		assert.ErrorAs(t, err, &verr)
	})
}
