package config

import (
	"fmt"
	"os"
	"os/user"
	"path"

	"gopkg.in/yaml.v2"
)

const (
	configDir  string = ".kview"
	configFile string = "config.yml"
)

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Commands aliases.
	Aliases map[string][]string `yaml:"aliases"`

	// LayoutFile is the structure layout file used when --layout is not
	// specified.
	LayoutFile string `yaml:"layout-file,omitempty"`

	// BaseVA is the lowest kernel virtual address. Register frames are
	// not decoded unless it is set.
	BaseVA *uint64 `yaml:"base-va,omitempty"`

	// MaxHandles is the size of the per process handle table. If unset
	// the size of process.handles in the layout file is used.
	MaxHandles *int `yaml:"max-handles,omitempty"`

	// TidTreeRoot is the name of the variable pointing to the root of the
	// tid tree.
	TidTreeRoot string `yaml:"tid-tree-root,omitempty"`

	// ReentryRoutine is the kernel routine that saves register frames
	// without the stack segment.
	ReentryRoutine string `yaml:"reentry-routine,omitempty"`

	// MaxRenderDepth is the maximum nesting of rendered objects.
	MaxRenderDepth *int `yaml:"max-render-depth,omitempty"`
	// MaxWaitDepth is the maximum nesting of multi object waiters.
	MaxWaitDepth *int `yaml:"max-wait-depth,omitempty"`

	// MaxStringLen is the maximum length of strings read from the image.
	MaxStringLen *int `yaml:"max-string-len,omitempty"`

	// If Disassemble is true register frames include the instruction at
	// eip.
	Disassemble bool `yaml:"disassemble"`

	// Identity color (3/4 bit color codes as defined
	// here: https://en.wikipedia.org/wiki/ANSI_escape_code#Colors)
	IdentityColor int `yaml:"identity-color"`
}

// LoadConfig attempts to populate a Config object from the config.yml file.
func LoadConfig() *Config {
	err := createConfigPath()
	if err != nil {
		fmt.Printf("Could not create config directory: %v.", err)
		return &Config{}
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		fmt.Printf("Unable to get config file path: %v.", err)
		return &Config{}
	}

	if _, err := os.Stat(fullConfigFile); os.IsNotExist(err) {
		if err := createDefaultConfig(fullConfigFile); err != nil {
			fmt.Printf("Error creating default config file: %v", err)
			return &Config{}
		}
	}

	c, err := LoadConfigFrom(fullConfigFile)
	if err != nil {
		fmt.Printf("%v.", err)
		return &Config{}
	}
	return c
}

// LoadConfigFrom reads the configuration file at path.
func LoadConfigFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read config data: %w", err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("unable to decode config file: %w", err)
	}
	return &c, nil
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config) error {
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}
	return saveConfigTo(conf, fullConfigFile)
}

func saveConfigTo(conf *Config, path string) error {
	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0600)
}

func createDefaultConfig(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("unable to create config file: %v", err)
	}
	defer f.Close()
	if err := writeDefaultConfig(f); err != nil {
		return fmt.Errorf("unable to write default configuration: %v", err)
	}
	return nil
}

func writeDefaultConfig(f *os.File) error {
	_, err := f.WriteString(
		`# Configuration file for kview.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Provided aliases will be added to the default aliases for a given command.
aliases:
  # command: ["alias1", "alias2"]

# Structure layout file used when --layout is not given.
# layout-file: /usr/share/kview/i386.yml

# Lowest kernel virtual address. Register frames are not decoded without it.
# base-va: 0xc0000000

# Size of the per process handle table (defaults to the size in the layout file).
# max-handles: 16

# Name of the variable holding the root of the tid tree.
# tid-tree-root: tree_by_tid_root

# Kernel routine saving register frames without the stack segment.
# reentry-routine: asm_save_regs_and_schedule

# Maximum nesting of rendered objects and of multi object waiters.
# max-render-depth: 4
# max-wait-depth: 2

# Maximum length of strings read from the image.
# max-string-len: 256

# Uncomment the following line to show the instruction at eip in register frames.
# disassemble: true

# Uncomment the following line and set your preferred ANSI foreground color
# for object identities (if unset, default is 36, cyan).
# identity-color: 36
`)
	return err
}

// createConfigPath creates the directory structure at which all config files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {
	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	return path.Join(userHomeDir, configDir, file), nil
}
