package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opendataspace/commons/internal/config"
	"github.com/opendataspace/commons/internal/transmission"
)

func TestDirectionFlag(t *testing.T) {
	var d directionFlag
	assert.Equal(t, "download", d.String())

	require.NoError(t, d.Set("upload"))
	assert.True(t, d.upload)
	assert.Equal(t, "upload", d.String())

	require.NoError(t, d.Set("download"))
	assert.False(t, d.upload)

	assert.Error(t, d.Set("sideways"))
}

func TestApplyConfigDefaults(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	opts := options{interval: 2 * time.Second}
	flags.StringVar(&opts.bwLimitStr, "bwlimit", "", "")
	flags.StringVar(&opts.totalLimitStr, "total-bwlimit", "", "")
	flags.StringVar(&opts.bufferSizeStr, "buffer-size", "", "")
	flags.BoolVar(&opts.verify, "verify", false, "")
	flags.DurationVar(&opts.interval, "interval", 2*time.Second, "")
	require.NoError(t, flags.Parse([]string{"--bwlimit", "1M"}))

	bw, total, verify := "10M", "100M", true
	defaults := config.TransferConfig{
		BWLimit:       &bw,
		TotalBWLimit:  &total,
		Verify:        &verify,
		StallInterval: &config.Duration{Duration: 500 * time.Millisecond},
	}
	applyConfigDefaults(flags, defaults, &opts)

	assert.Equal(t, "1M", opts.bwLimitStr, "explicit flag wins")
	assert.Equal(t, "100M", opts.totalLimitStr)
	assert.True(t, opts.verify)
	assert.Equal(t, 500*time.Millisecond, opts.interval)
	assert.Empty(t, opts.bufferSizeStr)
}

func TestParseOptionalSize(t *testing.T) {
	n, err := parseOptionalSize("--bwlimit", "")
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = parseOptionalSize("--bwlimit", "2K")
	require.NoError(t, err)
	assert.Equal(t, int64(2048), n)

	_, err = parseOptionalSize("--bwlimit", "lots")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--bwlimit")
}

func TestPlanJobs(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(src, []byte("a"), 0o644))
	out := filepath.Join(dir, "out")
	require.NoError(t, os.Mkdir(out, 0o755))

	t.Run("download to new file", func(t *testing.T) {
		jobs, err := planJobs([]string{src}, filepath.Join(dir, "b.txt"), false)
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, transmission.DownloadNewFile, jobs[0].typ)
		assert.Equal(t, filepath.Join(dir, "b.txt"), jobs[0].path)
	})

	t.Run("upload over existing file", func(t *testing.T) {
		jobs, err := planJobs([]string{src}, src, true)
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, transmission.UploadModifiedFile, jobs[0].typ)
		assert.Equal(t, src, jobs[0].path)
	})

	t.Run("into directory", func(t *testing.T) {
		jobs, err := planJobs([]string{src, src}, out, false)
		require.NoError(t, err)
		require.Len(t, jobs, 2)
		assert.Equal(t, filepath.Join(out, "a.txt"), jobs[0].dst)
	})

	t.Run("multiple sources need a directory", func(t *testing.T) {
		_, err := planJobs([]string{src, src}, filepath.Join(dir, "c.txt"), false)
		assert.Error(t, err)
	})

	t.Run("stdin to stdout", func(t *testing.T) {
		jobs, err := planJobs([]string{"-"}, "-", true)
		require.NoError(t, err)
		assert.Equal(t, transmission.UploadNewFile, jobs[0].typ)
	})

	t.Run("stdin into directory", func(t *testing.T) {
		_, err := planJobs([]string{"-"}, out, true)
		assert.Error(t, err)
	})
}
