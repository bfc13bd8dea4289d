package models

import "time"

// StoredMetadata is the metadata.yaml record kept next to a switch's configs.
type StoredMetadata struct {
	Device     string                            `yaml:"device"`
	Host       string                            `yaml:"host,omitempty"`
	DeviceType string                            `yaml:"device_type,omitempty"`
	Configs    map[ConfigKind]StoredConfigRecord `yaml:"configs"`
}

// DeviceInfo identifies the switch a stored configuration belongs to.
type DeviceInfo struct {
	Name       string
	Host       string
	DeviceType string
}

// StoredConfigRecord describes one stored configuration file.
type StoredConfigRecord struct {
	Hash        string    `yaml:"sha256"`
	Size        int       `yaml:"size"`
	LastChanged time.Time `yaml:"last_changed"`
}

// Commit is one entry of the repository history.
type Commit struct {
	ID      string
	Author  string
	Time    time.Time
	Subject string
}

// ShortID returns the abbreviated commit id.
func (c Commit) ShortID() string {
	if len(c.ID) > 7 {
		return c.ID[:7]
	}
	return c.ID
}
