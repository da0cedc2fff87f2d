package config

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v3/mem"
	"gopkg.in/ini.v1"
)

var ConfigPath string

// CommandLineArgs mirrors the flags the cmd/blockscheduler harness parses.
type CommandLineArgs struct {
	ConfigPath          string
	MemoryBudgetBytesMB uint64 // -m, 0 means "use the ini file / auto-detected default"
	DataDir             string
}

/*
[scheduler]
memory_budget_bytes = 0
block_size          = 1024
elem_size           = 8
stripe_count        = 4
allocator_strategy  = striping
data_dir            = ./data
compression_enabled = false
log_level           = info
error_log           = ./logs/error.log
info_log            = ./logs/info.log
*/
type Cfg struct {
	Raw *ini.File

	// MemoryBudgetBytes is the total resident memory the scheduler may use;
	// the pool holds MemoryBudgetBytes / (BlockSize*ElemSize) buffers.
	MemoryBudgetBytes uint64
	BlockSize         uint32
	ElemSize          uint32
	StripeCount       int
	AllocatorStrategy string
	DataDir           string
	CompressionEnabled bool

	LogLevel string
	LogError string
	LogInfos string
}

// NewCfg returns a Cfg seeded with the defaults a fresh install should have.
func NewCfg() *Cfg {
	return &Cfg{
		Raw:               ini.Empty(),
		BlockSize:         1024,
		ElemSize:          8,
		StripeCount:       4,
		AllocatorStrategy: "striping",
		DataDir:           "./data",
		LogLevel:          "info",
		LogError:          "./logs/error.log",
		LogInfos:          "./logs/info.log",
	}
}

// Load reads an optional ini file and layers command-line overrides on top,
// the way server/conf.Cfg.Load does for the MySQL-server configuration.
func (cfg *Cfg) Load(args *CommandLineArgs) (*Cfg, error) {
	setHomePath(args)

	if args.ConfigPath != "" {
		iniFile, err := ini.Load(args.ConfigPath)
		if err != nil {
			return nil, errors.Wrapf(err, "loading config file %s", args.ConfigPath)
		}
		cfg.Raw = iniFile
		if err := cfg.parseSchedulerSection(cfg.Raw.Section("scheduler")); err != nil {
			return nil, errors.Wrap(err, "parsing [scheduler] section")
		}
	}

	if args.DataDir != "" {
		cfg.DataDir = args.DataDir
	}

	if args.MemoryBudgetBytesMB > 0 {
		cfg.MemoryBudgetBytes = args.MemoryBudgetBytesMB * 1024 * 1024
	}

	if cfg.MemoryBudgetBytes == 0 {
		cfg.MemoryBudgetBytes = defaultMemoryBudget()
	}

	return cfg, nil
}

func setHomePath(args *CommandLineArgs) {
	if args.ConfigPath != "" {
		ConfigPath = args.ConfigPath
		return
	}
	ConfigPath, _ = filepath.Abs(".")
}

func (cfg *Cfg) parseSchedulerSection(section *ini.Section) error {
	if section == nil {
		return nil
	}

	if key, err := section.GetKey("memory_budget_bytes"); err == nil {
		if v, err := key.Uint64(); err == nil {
			cfg.MemoryBudgetBytes = v
		}
	}
	if key, err := section.GetKey("block_size"); err == nil {
		if v, err := key.Uint(); err == nil {
			cfg.BlockSize = uint32(v)
		}
	}
	if key, err := section.GetKey("elem_size"); err == nil {
		if v, err := key.Uint(); err == nil {
			cfg.ElemSize = uint32(v)
		}
	}
	if key, err := section.GetKey("stripe_count"); err == nil {
		if v, err := key.Int(); err == nil {
			cfg.StripeCount = v
		}
	}
	if key, err := section.GetKey("allocator_strategy"); err == nil {
		cfg.AllocatorStrategy = key.Value()
	}
	if key, err := section.GetKey("data_dir"); err == nil {
		cfg.DataDir = key.Value()
	}
	if key, err := section.GetKey("compression_enabled"); err == nil {
		cfg.CompressionEnabled = key.MustBool(false)
	}
	if key, err := section.GetKey("log_level"); err == nil {
		cfg.LogLevel = key.Value()
	}
	if key, err := section.GetKey("error_log"); err == nil {
		cfg.LogError = key.Value()
	}
	if key, err := section.GetKey("info_log"); err == nil {
		cfg.LogInfos = key.Value()
	}

	return nil
}

// defaultMemoryBudget sizes the scheduler's budget off the host's RAM when
// neither the ini file nor -m supplies one, the way a production cache
// auto-sizes instead of failing closed.
func defaultMemoryBudget() uint64 {
	const fraction = 0.05
	const fallback = 64 * 1024 * 1024

	v, err := mem.VirtualMemory()
	if err != nil || v.Total == 0 {
		return fallback
	}

	budget := uint64(float64(v.Total) * fraction)
	if budget == 0 {
		return fallback
	}
	return budget
}

// EnsureDataDir creates DataDir if it doesn't exist yet.
func (cfg *Cfg) EnsureDataDir() error {
	return os.MkdirAll(cfg.DataDir, 0755)
}
