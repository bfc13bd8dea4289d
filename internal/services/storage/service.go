package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fgeck/goswitch-backup/internal/models"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

const (
	// SwitchesDir is the directory below the root holding one directory per switch.
	SwitchesDir = "switches"
	// MetadataFile is the per-switch metadata file name.
	MetadataFile = "metadata.yaml"
	// TempPattern matches the temporary files staged during a save.
	TempPattern = ".*.tmp-*"

	fileMode os.FileMode = 0o600
	dirMode  os.FileMode = 0o750
)

// Service defines the interface for configuration storage.
type Service interface {
	Init() error
	Save(device models.DeviceInfo, cfg models.NormalizedConfig) (bool, error)
	Changed(name string, cfg models.NormalizedConfig) (bool, error)
	Load(name string, kind models.ConfigKind) (string, error)
	Metadata(name string) (*models.StoredMetadata, error)
	List() ([]string, error)
	Root() string
}

// Impl implements the storage Service interface.
type Impl struct {
	fs     afero.Fs
	root   string
	now    func() time.Time
	logger zerolog.Logger
}

// New creates a storage service rooted at root on the local filesystem.
func New(logger zerolog.Logger, root string) *Impl {
	return NewWithFs(logger, afero.NewOsFs(), root, time.Now)
}

// NewWithFs creates a storage service with a custom filesystem and clock (for testing).
func NewWithFs(logger zerolog.Logger, fs afero.Fs, root string, now func() time.Time) *Impl {
	return &Impl{
		fs:     fs,
		root:   root,
		now:    now,
		logger: logger,
	}
}

// Hash returns the hex sha256 of a normalized configuration.
func Hash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// DeviceDir returns a switch's directory relative to the storage root.
func DeviceDir(name string) string {
	return filepath.Join(SwitchesDir, name)
}

// ConfigFile returns a config file's path relative to the storage root.
func ConfigFile(name string, kind models.ConfigKind) string {
	return filepath.Join(DeviceDir(name), string(kind)+".txt")
}

// Root returns the storage root directory.
func (s *Impl) Root() string {
	return s.root
}

// Init creates the storage root.
func (s *Impl) Init() error {
	if err := s.fs.MkdirAll(filepath.Join(s.root, SwitchesDir), dirMode); err != nil {
		return models.NewError(models.KindStorage, "", "init", fmt.Errorf("failed to create %s: %w", s.root, err))
	}
	return nil
}

// Changed reports whether cfg differs from what is stored, without writing anything.
func (s *Impl) Changed(name string, cfg models.NormalizedConfig) (bool, error) {
	if err := models.ValidateDeviceName(name); err != nil {
		return false, models.NewError(models.KindStorage, name, "compare "+string(cfg.Kind), err)
	}
	meta, err := s.Metadata(name)
	if err != nil {
		return false, err
	}
	return s.differs(name, meta, cfg)
}

func (s *Impl) differs(name string, meta *models.StoredMetadata, cfg models.NormalizedConfig) (bool, error) {
	rec, ok := meta.Configs[cfg.Kind]
	if !ok || rec.Hash != Hash(cfg.Text) {
		return true, nil
	}
	exists, err := afero.Exists(s.fs, s.abs(ConfigFile(name, cfg.Kind)))
	if err != nil {
		return false, models.NewError(models.KindStorage, name, "compare "+string(cfg.Kind), err)
	}
	return !exists, nil
}

// Save stores cfg if it differs from the stored copy and reports whether it did.
// The config file and metadata are staged as temp files and renamed into place.
// When the metadata cannot be replaced the previous config is restored, so a
// failure leaves the previous files intact.
func (s *Impl) Save(device models.DeviceInfo, cfg models.NormalizedConfig) (bool, error) {
	name := device.Name
	op := "save " + string(cfg.Kind)
	if err := models.ValidateDeviceName(name); err != nil {
		return false, models.NewError(models.KindStorage, name, op, err)
	}

	meta, err := s.Metadata(name)
	if err != nil {
		return false, err
	}
	changed, err := s.differs(name, meta, cfg)
	if err != nil || !changed {
		return false, err
	}

	dir := s.abs(DeviceDir(name))
	if err := s.fs.MkdirAll(dir, dirMode); err != nil {
		return false, models.NewError(models.KindStorage, name, op, err)
	}

	meta.Device = name
	meta.Host = device.Host
	meta.DeviceType = device.DeviceType
	meta.Configs[cfg.Kind] = models.StoredConfigRecord{
		Hash:        Hash(cfg.Text),
		Size:        len(cfg.Text),
		LastChanged: s.now().UTC(),
	}
	metaData, err := yaml.Marshal(meta)
	if err != nil {
		return false, models.NewError(models.KindStorage, name, op, fmt.Errorf("failed to encode metadata: %w", err))
	}

	configPath := s.abs(ConfigFile(name, cfg.Kind))
	backup, err := s.backup(dir, configPath)
	if err != nil {
		return false, models.NewError(models.KindStorage, name, op, err)
	}
	configTmp, err := s.stage(dir, string(cfg.Kind)+".txt", []byte(cfg.Text))
	if err != nil {
		s.remove(backup)
		return false, models.NewError(models.KindStorage, name, op, err)
	}
	metaTmp, err := s.stage(dir, MetadataFile, metaData)
	if err != nil {
		s.remove(backup)
		s.remove(configTmp)
		return false, models.NewError(models.KindStorage, name, op, err)
	}

	if err := s.fs.Rename(configTmp, configPath); err != nil {
		s.remove(backup)
		s.remove(configTmp)
		s.remove(metaTmp)
		return false, models.NewError(models.KindStorage, name, op, fmt.Errorf("failed to replace config: %w", err))
	}
	if err := s.fs.Rename(metaTmp, filepath.Join(dir, MetadataFile)); err != nil {
		s.remove(metaTmp)
		s.restore(backup, configPath)
		return false, models.NewError(models.KindStorage, name, op, fmt.Errorf("failed to replace metadata: %w", err))
	}
	s.remove(backup)

	s.logger.Debug().
		Str("device", name).
		Str("kind", string(cfg.Kind)).
		Int("bytes", len(cfg.Text)).
		Msg("stored configuration")

	return true, nil
}

// backup copies the current file at path to a temp file in dir. It returns ""
// when there is no current file.
func (s *Impl) backup(dir, path string) (string, error) {
	data, err := afero.ReadFile(s.fs, path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	return s.stage(dir, filepath.Base(path)+".prev", data)
}

// restore puts backup back at path, or removes path when there was no previous file.
func (s *Impl) restore(backup, path string) {
	if backup == "" {
		s.remove(path)
		return
	}
	if err := s.fs.Rename(backup, path); err != nil {
		s.logger.Error().Err(err).Str("path", path).Str("backup", backup).Msg("failed to restore previous config")
	}
}

// stage writes data to a synced temp file in dir and returns its path.
func (s *Impl) stage(dir, name string, data []byte) (string, error) {
	f, err := afero.TempFile(s.fs, dir, "."+name+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file for %s: %w", name, err)
	}
	path := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		s.remove(path)
		return "", fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		s.remove(path)
		return "", fmt.Errorf("failed to sync %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		s.remove(path)
		return "", fmt.Errorf("failed to close %s: %w", name, err)
	}
	if err := s.fs.Chmod(path, fileMode); err != nil {
		s.remove(path)
		return "", fmt.Errorf("failed to set mode on %s: %w", name, err)
	}
	return path, nil
}

func (s *Impl) remove(path string) {
	if path == "" {
		return
	}
	if err := s.fs.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn().Err(err).Str("path", path).Msg("failed to remove temp file")
	}
}

// Load returns the stored config text. The error wraps fs.ErrNotExist if none is stored.
func (s *Impl) Load(name string, kind models.ConfigKind) (string, error) {
	if err := models.ValidateDeviceName(name); err != nil {
		return "", models.NewError(models.KindStorage, name, "load "+string(kind), err)
	}
	data, err := afero.ReadFile(s.fs, s.abs(ConfigFile(name, kind)))
	if err != nil {
		return "", models.NewError(models.KindStorage, name, "load "+string(kind), err)
	}
	return string(data), nil
}

// Metadata returns the stored metadata of a switch, empty if it has none yet.
func (s *Impl) Metadata(name string) (*models.StoredMetadata, error) {
	meta := &models.StoredMetadata{Device: name}

	data, err := afero.ReadFile(s.fs, s.abs(filepath.Join(DeviceDir(name), MetadataFile)))
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, models.NewError(models.KindStorage, name, "read metadata", err)
	default:
		if err := yaml.Unmarshal(data, meta); err != nil {
			return nil, models.NewError(models.KindStorage, name, "read metadata", fmt.Errorf("failed to decode %s: %w", MetadataFile, err))
		}
	}

	if meta.Configs == nil {
		meta.Configs = make(map[models.ConfigKind]models.StoredConfigRecord)
	}
	return meta, nil
}

// List returns the names of all switches with stored data, sorted.
func (s *Impl) List() ([]string, error) {
	entries, err := afero.ReadDir(s.fs, s.abs(SwitchesDir))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, models.NewError(models.KindStorage, "", "list", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() && models.ValidateDeviceName(e.Name()) == nil {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func (s *Impl) abs(rel string) string {
	return filepath.Join(s.root, rel)
}
