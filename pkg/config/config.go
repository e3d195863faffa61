/*
 Licensed under the Apache License, Version 2.0 (the "License");
 you may not use this file except in compliance with the License.
 You may obtain a copy of the License at

     https://www.apache.org/licenses/LICENSE-2.0

 Unless required by applicable law or agreed to in writing, software
 distributed under the License is distributed on an "AS IS" BASIS,
 WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 See the License for the specific language governing permissions and
 limitations under the License.
*/

package config

import (
	"io/ioutil"
	"os"
	"path/filepath"

	"sigs.k8s.io/yaml"
)

type ApiConfig struct {
	Address string `json:"address,omitempty"`
	Port    int    `json:"port,omitempty"`
}

// BoardConfig selects the hardware collaborator implementation
type BoardConfig struct {
	Type string `json:"type"`
	// ReplayFile is the pcap capture played by the replay board
	ReplayFile string `json:"replayFile,omitempty"`
	// ListenAddress and ListenPort are used by the udp board
	ListenAddress string `json:"listenAddress,omitempty"`
	ListenPort    int    `json:"listenPort,omitempty"`
	// BoardCount is the number of boards the sim variant pretends to have
	BoardCount int `json:"boardCount,omitempty"`
}

type CaptureConfig struct {
	DBPath string `json:"dbPath,omitempty"`
	// RecordFile, when set, receives every raw packet buffer as a pcap record
	RecordFile string `json:"recordFile,omitempty"`
	Placement  string `json:"placement,omitempty"`
}

type Config struct {
	*ApiConfig     `json:"api,omitempty"`
	*BoardConfig   `json:"board,omitempty"`
	*CaptureConfig `json:"capture,omitempty"`
	*Settings      `json:"settings,omitempty"`
	LogLevel       string `json:"logLevel,omitempty"`
	filepath       string
}

func (c *Config) Path() string {
	return c.filepath
}

func (c *Config) Persist(overwrite bool) error {
	if _, err := os.Stat(c.filepath); err == nil && !overwrite {
		return ErrConfigFileExists{Path: c.filepath}
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	dir := filepath.Dir(c.filepath)
	err = os.MkdirAll(dir, 0755)
	if err != nil {
		return err
	}

	return ioutil.WriteFile(c.filepath, data, 0644)
}

// Load reads the config file over the current values.
// A missing file is not an error, defaults stay in place.
func (c *Config) Load() error {
	data, err := ioutil.ReadFile(c.filepath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if err = yaml.Unmarshal(data, c); err != nil {
		return err
	}
	c.Settings.Sanitize()
	return nil
}

func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}
	return filepath.Join(home, ConfigDir, ConfigFile)
}

func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}
	return filepath.Join(home, ConfigDir, DBFile)
}

// NewConfig returns the default config bound to the given file path
func NewConfig(path string) *Config {
	return &Config{
		ApiConfig: &ApiConfig{
			Address: DefaultApiAddress,
			Port:    DefaultApiPort,
		},
		BoardConfig: &BoardConfig{
			Type:          DefaultBoardType,
			ListenAddress: DefaultUDPListenAddress,
			ListenPort:    DefaultUDPListenPort,
			BoardCount:    1,
		},
		CaptureConfig: &CaptureConfig{
			DBPath:    DefaultDBPath(),
			Placement: DefaultPlacement,
		},
		Settings: NewDefaultSettings(),
		LogLevel: DefaultLogLevel,
		filepath: path,
	}
}

func NewDefaultConfig() *Config {
	return NewConfig(DefaultConfigPath())
}
