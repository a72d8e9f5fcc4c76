/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package daemon

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/srediag/shmipc-core/internal/validate"
	"github.com/srediag/shmipc-core/pkg/filelock"
	"github.com/srediag/shmipc-core/pkg/shm"
)

const (
	defaultLockName      = "shmd"
	defaultLockWait      = 5 * time.Second
	defaultListenAddress = "127.0.0.1:9464"
	defaultWorkers       = 4
	defaultPermissions   = Permissions(0o600)
)

// Permissions is a file mode written in octal in the config file ("0600", "0o600" or "600").
type Permissions os.FileMode

func (p *Permissions) UnmarshalYAML(value *yaml.Node) error {
	s := strings.TrimPrefix(strings.TrimPrefix(value.Value, "0o"), "0O")
	v, err := strconv.ParseUint(s, 8, 32)
	if err != nil || v > 0o777 {
		return fmt.Errorf("invalid permissions %q at line %d, want an octal mode like 0600", value.Value, value.Line)
	}
	*p = Permissions(v)
	return nil
}

func (p Permissions) MarshalYAML() (interface{}, error) {
	return fmt.Sprintf("%#o", uint32(p)), nil
}

// SegmentConfig describes one shared memory segment owned by the daemon.
type SegmentConfig struct {
	Name string `yaml:"name"`

	// Size of the segment; 0 means exactly what Pools require.
	Size          uint64           `yaml:"size"`
	Permissions   Permissions      `yaml:"permissions"`
	OpenMode      shm.OpenMode     `yaml:"openMode"`
	UnlinkOnClose bool             `yaml:"unlinkOnClose"`
	Pools         []shm.PoolConfig `yaml:"pools"`
}

// UnmarshalYAML fills unset fields from DefaultSegmentConfig.
func (c *SegmentConfig) UnmarshalYAML(value *yaml.Node) error {
	type plain SegmentConfig
	seg := plain(DefaultSegmentConfig(""))
	if err := value.Decode(&seg); err != nil {
		return err
	}
	*c = SegmentConfig(seg)
	return nil
}

// Config is used to tune the daemon
type Config struct {
	// LockDirectory and LockName locate the file lock that keeps a second daemon away.
	LockDirectory string `yaml:"lockDirectory"`
	LockName      string `yaml:"lockName"`

	// LockWait bounds how long Start polls a lock held by another process. 0 tries once.
	LockWait time.Duration `yaml:"lockWait"`

	// ListenAddress serves /live, /ready and /metrics. Empty disables the HTTP server.
	ListenAddress string `yaml:"listenAddress"`

	// Workers is the number of segments created concurrently.
	Workers int `yaml:"workers"`

	Segments []SegmentConfig `yaml:"segments"`
}

// DefaultConfig is used to return a default configuration
func DefaultConfig() *Config {
	return &Config{
		LockDirectory: filelock.DefaultPath,
		LockName:      defaultLockName,
		LockWait:      defaultLockWait,
		ListenAddress: defaultListenAddress,
		Workers:       defaultWorkers,
	}
}

// DefaultSegmentConfig returns a segment that is created exclusively after purging a stale one.
func DefaultSegmentConfig(name string) SegmentConfig {
	return SegmentConfig{
		Name:          name,
		Permissions:   defaultPermissions,
		OpenMode:      shm.PurgeAndCreate,
		UnlinkOnClose: true,
	}
}

// LoadConfig reads a YAML config over DefaultConfig and verifies it.
// Segment entries start from DefaultSegmentConfig.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	conf := DefaultConfig()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(conf); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := VerifyConfig(conf); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return conf, nil
}

// SegmentSize returns the configured size, or the size the pools require when unset.
func (c *SegmentConfig) SegmentSize() (uint64, error) {
	required, err := shm.RequiredSize(c.Pools)
	if err != nil {
		return 0, err
	}
	if c.Size == 0 {
		return required, nil
	}
	if c.Size < required {
		return 0, fmt.Errorf("size %d is smaller than the %d bytes its pools require", c.Size, required)
	}
	return c.Size, nil
}

// VerifyConfig is used to verify the sanity of configuration
func VerifyConfig(config *Config) error {
	if !validate.IsValidFileName(config.LockName) {
		return fmt.Errorf("lockName %q is not a valid file name", config.LockName)
	}
	if !validate.IsValidPathToDirectory(config.LockDirectory) {
		return fmt.Errorf("lockDirectory %q is not a valid directory path", config.LockDirectory)
	}
	if config.LockWait < 0 {
		return errors.New("lockWait must not be negative")
	}
	if config.Workers <= 0 {
		return errors.New("workers must be positive")
	}

	seen := make(map[string]struct{}, len(config.Segments))
	for i := range config.Segments {
		seg := &config.Segments[i]
		if len(seg.Name) > shm.MaxNameLength || !validate.IsValidFileName(seg.Name) {
			return fmt.Errorf("segment %d: name %q is not a valid shared memory name", i, seg.Name)
		}
		if _, dup := seen[seg.Name]; dup {
			return fmt.Errorf("segment %q is configured twice", seg.Name)
		}
		seen[seg.Name] = struct{}{}
		if seg.OpenMode == shm.OpenExisting {
			return fmt.Errorf("segment %q: open mode %s does not create the segment", seg.Name, seg.OpenMode)
		}
		if seg.Permissions&0o600 != 0o600 {
			return fmt.Errorf("segment %q: permissions %#o must grant the owner read and write", seg.Name, uint32(seg.Permissions))
		}
		size, err := seg.SegmentSize()
		if err != nil {
			return fmt.Errorf("segment %q: %w", seg.Name, err)
		}
		if size == 0 {
			return fmt.Errorf("segment %q: neither size nor pools are configured", seg.Name)
		}
	}
	return nil
}
