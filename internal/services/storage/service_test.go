package storage

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fgeck/goswitch-backup/internal/models"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const root = "/srv/configs"

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func newService(t *testing.T, fsys afero.Fs) *Impl {
	t.Helper()
	svc := NewWithFs(testLogger(), fsys, root, func() time.Time { return fixedNow })
	require.NoError(t, svc.Init())
	return svc
}

func device(name string) models.DeviceInfo {
	return models.DeviceInfo{Name: name, Host: "10.0.0.1", DeviceType: "cisco_ios"}
}

func runningConfig(text string) models.NormalizedConfig {
	return models.NormalizedConfig{Kind: models.ConfigRunning, Text: text}
}

// failingWriteFs fails writes to staged temp files after writing half the data.
type failingWriteFs struct {
	afero.Fs
	failOn string
}

func (f *failingWriteFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	file, err := f.Fs.OpenFile(name, flag, perm)
	if err != nil || !strings.Contains(filepath.Base(name), f.failOn) {
		return file, err
	}
	return &failingFile{File: file}, nil
}

type failingFile struct {
	afero.File
}

func (f *failingFile) Write(p []byte) (int, error) {
	n, _ := f.File.Write(p[:len(p)/2])
	return n, errors.New("no space left on device")
}

// failingRenameFs fails renames whose target has the given base name.
type failingRenameFs struct {
	afero.Fs
	target string
}

func (f *failingRenameFs) Rename(oldname, newname string) error {
	if filepath.Base(newname) == f.target {
		return errors.New("rename: input/output error")
	}
	return f.Fs.Rename(oldname, newname)
}

func tempFiles(t *testing.T, fsys afero.Fs, dir string) []string {
	t.Helper()
	entries, err := afero.ReadDir(fsys, dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			names = append(names, e.Name())
		}
	}
	return names
}

func TestInit(t *testing.T) {
	fsys := afero.NewMemMapFs()
	newService(t, fsys)

	ok, err := afero.DirExists(fsys, filepath.Join(root, SwitchesDir))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestInit_Failure(t *testing.T) {
	svc := NewWithFs(testLogger(), afero.NewReadOnlyFs(afero.NewMemMapFs()), root, time.Now)

	err := svc.Init()
	require.Error(t, err)
	assert.Equal(t, models.KindStorage, models.KindOf(err))
}

func TestSave_FirstTime(t *testing.T) {
	fsys := afero.NewMemMapFs()
	svc := newService(t, fsys)

	changed, err := svc.Save(device("core-sw1"), runningConfig("hostname core-sw1\n"))
	require.NoError(t, err)
	assert.True(t, changed)

	text, err := svc.Load("core-sw1", models.ConfigRunning)
	require.NoError(t, err)
	assert.Equal(t, "hostname core-sw1\n", text)

	meta, err := svc.Metadata("core-sw1")
	require.NoError(t, err)
	assert.Equal(t, "core-sw1", meta.Device)
	assert.Equal(t, "10.0.0.1", meta.Host)
	assert.Equal(t, "cisco_ios", meta.DeviceType)
	rec := meta.Configs[models.ConfigRunning]
	assert.Equal(t, Hash("hostname core-sw1\n"), rec.Hash)
	assert.Equal(t, len("hostname core-sw1\n"), rec.Size)
	assert.True(t, fixedNow.Equal(rec.LastChanged))

	info, err := fsys.Stat(filepath.Join(root, ConfigFile("core-sw1", models.ConfigRunning)))
	require.NoError(t, err)
	assert.Equal(t, fileMode, info.Mode().Perm())
	assert.Empty(t, tempFiles(t, fsys, filepath.Join(root, DeviceDir("core-sw1"))))
}

func TestSave_UnchangedWritesNothing(t *testing.T) {
	fsys := afero.NewMemMapFs()
	svc := newService(t, fsys)

	_, err := svc.Save(device("core-sw1"), runningConfig("hostname core-sw1\n"))
	require.NoError(t, err)

	path := filepath.Join(root, ConfigFile("core-sw1", models.ConfigRunning))
	before, err := fsys.Stat(path)
	require.NoError(t, err)

	svc.now = func() time.Time { return fixedNow.Add(time.Hour) }
	changed, err := svc.Save(device("core-sw1"), runningConfig("hostname core-sw1\n"))
	require.NoError(t, err)
	assert.False(t, changed)

	after, err := fsys.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, before.ModTime(), after.ModTime())

	meta, err := svc.Metadata("core-sw1")
	require.NoError(t, err)
	assert.True(t, fixedNow.Equal(meta.Configs[models.ConfigRunning].LastChanged))
}

func TestSave_ChangedContent(t *testing.T) {
	svc := newService(t, afero.NewMemMapFs())

	_, err := svc.Save(device("core-sw1"), runningConfig("vlan 10\n"))
	require.NoError(t, err)
	changed, err := svc.Save(device("core-sw1"), runningConfig("vlan 20\n"))
	require.NoError(t, err)
	assert.True(t, changed)

	text, err := svc.Load("core-sw1", models.ConfigRunning)
	require.NoError(t, err)
	assert.Equal(t, "vlan 20\n", text)
}

func TestSave_KindsTrackedSeparately(t *testing.T) {
	svc := newService(t, afero.NewMemMapFs())

	_, err := svc.Save(device("core-sw1"), runningConfig("hostname a\n"))
	require.NoError(t, err)
	changed, err := svc.Save(device("core-sw1"), models.NormalizedConfig{Kind: models.ConfigStartup, Text: "hostname a\n"})
	require.NoError(t, err)
	assert.True(t, changed)

	meta, err := svc.Metadata("core-sw1")
	require.NoError(t, err)
	assert.Len(t, meta.Configs, 2)
}

func TestSave_MissingFileIsRewritten(t *testing.T) {
	fsys := afero.NewMemMapFs()
	svc := newService(t, fsys)

	_, err := svc.Save(device("core-sw1"), runningConfig("hostname a\n"))
	require.NoError(t, err)
	require.NoError(t, fsys.Remove(filepath.Join(root, ConfigFile("core-sw1", models.ConfigRunning))))

	changed, err := svc.Save(device("core-sw1"), runningConfig("hostname a\n"))
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestSave_WriteFailureKeepsPreviousFiles(t *testing.T) {
	mem := afero.NewMemMapFs()
	svc := newService(t, mem)

	_, err := svc.Save(device("core-sw1"), runningConfig("hostname old\n"))
	require.NoError(t, err)
	metaBefore, err := afero.ReadFile(mem, filepath.Join(root, DeviceDir("core-sw1"), MetadataFile))
	require.NoError(t, err)

	for _, failOn := range []string{".running-config.txt.tmp-", "." + MetadataFile + ".tmp-"} {
		t.Run(failOn, func(t *testing.T) {
			svc.fs = &failingWriteFs{Fs: mem, failOn: failOn}

			changed, err := svc.Save(device("core-sw1"), runningConfig("hostname new\n"))
			require.Error(t, err)
			assert.False(t, changed)
			assert.Equal(t, models.KindStorage, models.KindOf(err))

			svc.fs = mem
			text, err := svc.Load("core-sw1", models.ConfigRunning)
			require.NoError(t, err)
			assert.Equal(t, "hostname old\n", text)

			metaAfter, err := afero.ReadFile(mem, filepath.Join(root, DeviceDir("core-sw1"), MetadataFile))
			require.NoError(t, err)
			assert.Equal(t, metaBefore, metaAfter)
			assert.Empty(t, tempFiles(t, mem, filepath.Join(root, DeviceDir("core-sw1"))))
		})
	}
}

func TestSave_RenameFailureKeepsPreviousConfig(t *testing.T) {
	for _, target := range []string{"running-config.txt", MetadataFile} {
		t.Run(target, func(t *testing.T) {
			mem := afero.NewMemMapFs()
			svc := newService(t, mem)

			_, err := svc.Save(device("core-sw1"), runningConfig("hostname old\n"))
			require.NoError(t, err)
			metaBefore, err := afero.ReadFile(mem, filepath.Join(root, DeviceDir("core-sw1"), MetadataFile))
			require.NoError(t, err)

			svc.fs = &failingRenameFs{Fs: mem, target: target}
			changed, err := svc.Save(device("core-sw1"), runningConfig("hostname new\n"))
			require.Error(t, err)
			assert.False(t, changed)
			assert.Equal(t, models.KindStorage, models.KindOf(err))

			svc.fs = mem
			text, err := svc.Load("core-sw1", models.ConfigRunning)
			require.NoError(t, err)
			assert.Equal(t, "hostname old\n", text)
			metaAfter, err := afero.ReadFile(mem, filepath.Join(root, DeviceDir("core-sw1"), MetadataFile))
			require.NoError(t, err)
			assert.Equal(t, metaBefore, metaAfter)
			assert.Empty(t, tempFiles(t, mem, filepath.Join(root, DeviceDir("core-sw1"))))

			changed, err = svc.Changed("core-sw1", runningConfig("hostname new\n"))
			require.NoError(t, err)
			assert.True(t, changed)
		})
	}
}

func TestSave_FirstMetadataFailureLeavesNoConfig(t *testing.T) {
	mem := afero.NewMemMapFs()
	svc := newService(t, mem)
	svc.fs = &failingRenameFs{Fs: mem, target: MetadataFile}

	_, err := svc.Save(device("core-sw1"), runningConfig("hostname new\n"))
	require.Error(t, err)

	svc.fs = mem
	exists, err := afero.Exists(mem, filepath.Join(root, ConfigFile("core-sw1", models.ConfigRunning)))
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Empty(t, tempFiles(t, mem, filepath.Join(root, DeviceDir("core-sw1"))))
}

func TestSave_InvalidName(t *testing.T) {
	svc := newService(t, afero.NewMemMapFs())

	_, err := svc.Save(device("../escape"), runningConfig("x\n"))
	require.Error(t, err)
	assert.Equal(t, models.KindStorage, models.KindOf(err))
}

func TestChanged_DoesNotWrite(t *testing.T) {
	fsys := afero.NewMemMapFs()
	svc := newService(t, fsys)

	changed, err := svc.Changed("core-sw1", runningConfig("hostname a\n"))
	require.NoError(t, err)
	assert.True(t, changed)

	exists, err := afero.DirExists(fsys, filepath.Join(root, DeviceDir("core-sw1")))
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = svc.Save(device("core-sw1"), runningConfig("hostname a\n"))
	require.NoError(t, err)
	changed, err = svc.Changed("core-sw1", runningConfig("hostname a\n"))
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestLoad_NotFound(t *testing.T) {
	svc := newService(t, afero.NewMemMapFs())

	_, err := svc.Load("core-sw1", models.ConfigStartup)
	require.Error(t, err)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestMetadata_Corrupt(t *testing.T) {
	fsys := afero.NewMemMapFs()
	svc := newService(t, fsys)
	require.NoError(t, afero.WriteFile(fsys, filepath.Join(root, DeviceDir("core-sw1"), MetadataFile), []byte("configs: [oops"), 0o600))

	_, err := svc.Metadata("core-sw1")
	require.Error(t, err)
	assert.Equal(t, models.KindStorage, models.KindOf(err))
}

func TestList(t *testing.T) {
	fsys := afero.NewMemMapFs()
	svc := newService(t, fsys)

	names, err := svc.List()
	require.NoError(t, err)
	assert.Empty(t, names)

	for _, name := range []string{"sw-b", "sw-a"} {
		_, err := svc.Save(device(name), runningConfig("hostname "+name+"\n"))
		require.NoError(t, err)
	}
	require.NoError(t, afero.WriteFile(fsys, filepath.Join(root, SwitchesDir, "README"), []byte("x"), 0o600))

	names, err = svc.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"sw-a", "sw-b"}, names)
}

func TestHash(t *testing.T) {
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", Hash(""))
	assert.NotEqual(t, Hash("a\n"), Hash("b\n"))
}
